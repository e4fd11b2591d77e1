package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Challenge classification types.
const (
	ChallengeNone       = ""
	ChallengeEmptyShell = "empty-shell"
	ChallengeCloudflare = "cloudflare"
	ChallengePerimeterX = "perimeterx"
	ChallengeDataDome   = "datadome"
	ChallengeCaptcha    = "captcha"
	ChallengeUnknown    = "unknown"
)

// ChallengeConfidenceThreshold is the minimum confidence at which the
// escalator treats a detection as a block.
const ChallengeConfidenceThreshold = 0.6

// Challenge is the result of classifying a response.
type Challenge struct {
	IsChallenge bool
	Type        string
	Confidence  float64
}

type challengeSignature struct {
	typ        string
	confidence float64
	markers    []string
}

// Marker lists are matched case-insensitively against the raw HTML. Any
// single marker hit classifies the page.
var challengeSignatures = []challengeSignature{
	{ChallengeCloudflare, 0.95, []string{
		"cf-browser-verification",
		"cf_chl_opt",
		"challenge-platform",
		"cdn-cgi/challenge-platform",
		"just a moment...",
		"checking your browser before accessing",
		"attention required! | cloudflare",
	}},
	{ChallengePerimeterX, 0.9, []string{
		"_pxhd", "px-captcha", "perimeterx", "press & hold",
	}},
	{ChallengeDataDome, 0.9, []string{
		"datadome", "geo.captcha-delivery.com",
	}},
	{ChallengeCaptcha, 0.85, []string{
		"hcaptcha.com", "h-captcha", "g-recaptcha", "recaptcha/api.js",
		"verify you are human",
	}},
}

var reNoscriptJS = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)

// DetectChallenge classifies a response body. empty-shell means an SPA
// that served its pre-hydration shell; the escalator upgrades those to
// browser rendering rather than treating them as blocks.
func DetectChallenge(body string, statusCode int) Challenge {
	lower := strings.ToLower(body)

	for _, sig := range challengeSignatures {
		for _, m := range sig.markers {
			if strings.Contains(lower, m) {
				conf := sig.confidence
				// A 403/503 carrying vendor markers is conclusive.
				if statusCode == 403 || statusCode == 503 {
					conf = 1.0
				}
				return Challenge{IsChallenge: true, Type: sig.typ, Confidence: conf}
			}
		}
	}

	if statusCode == 403 || statusCode == 503 {
		return Challenge{IsChallenge: true, Type: ChallengeUnknown, Confidence: 0.7}
	}

	if looksLikeEmptyShell(body, lower) {
		return Challenge{IsChallenge: true, Type: ChallengeEmptyShell, Confidence: 0.8}
	}

	return Challenge{}
}

// looksLikeEmptyShell applies the SPA pre-hydration heuristics: almost no
// visible body text, an empty root container, a JS-required noscript
// warning, or many scripts with little text.
func looksLikeEmptyShell(body, lower string) bool {
	text := visibleText(body)

	if len(text) < 200 && strings.Contains(lower, "<script") {
		return true
	}
	for _, root := range []string{`<div id="root"></div>`, `<div id="app"></div>`, `<div id="__next"></div>`} {
		if strings.Contains(lower, root) {
			return true
		}
	}
	if reNoscriptJS.MatchString(lower) {
		return true
	}
	if strings.Count(lower, "<script") > 10 && len(text) < 500 {
		return true
	}
	return false
}

// visibleText extracts the text inside <body>, skipping script, style and
// noscript subtrees. Used for heuristics only.
func visibleText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}

// ExtractTitle finds the first <title> element in raw HTML.
func ExtractTitle(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}

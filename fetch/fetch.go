// Package fetch implements the strategy escalation engine: an ordered
// ladder of fetchers (simple HTTP, headless browser, stealth browser,
// TLS-fingerprint client) that each either return a complete result or a
// typed error the escalator can act on.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/urlutil"
)

// MaxBodyBytes caps every response body read anywhere in the pipeline.
const MaxBodyBytes = 10 << 20 // 10 MiB

// MaxRedirects is the longest redirect chain a fetcher will follow.
const MaxRedirects = 10

// Request is the normalized input every fetcher receives.
type Request struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Proxy   string

	// Browser rung knobs.
	Wait           time.Duration
	Stealth        bool
	Screenshot     bool
	FullPage       bool
	ViewportWidth  int
	ViewportHeight int
	Device         string
	Actions        []models.Action
	WaitUntil      string
	WaitSelector   string
	BlockResources []string
	RemoveOverlays bool
	Languages      []string
}

// Fetcher is one rung of the escalation ladder. Implementations return a
// complete FetchResult or a typed error; a KindBlocked error (or an
// empty-shell detection by the escalator) advances the ladder.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req *Request) (*models.FetchResult, error)
}

// doGet follows a redirect chain by hand: every intermediate URL is
// re-validated against the SSRF policy, cycles abort, and the chain is
// capped at MaxRedirects. The supplied client must not follow redirects
// itself (CheckRedirect returning http.ErrUseLastResponse).
func doGet(ctx context.Context, client *http.Client, rawURL string, setHeaders func(*http.Request)) (*http.Response, string, error) {
	current := rawURL
	seen := map[string]struct{}{}

	for hop := 0; ; hop++ {
		if hop > MaxRedirects {
			return nil, "", models.NewNetworkError("too many redirects", nil)
		}
		if _, dup := seen[current]; dup {
			return nil, "", models.NewNetworkError("redirect loop detected", nil)
		}
		seen[current] = struct{}{}

		u, err := urlutil.ParseAndValidate(current)
		if err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, "", models.NewNetworkError("build request failed", err)
		}
		setHeaders(req)

		resp, err := client.Do(req)
		if err != nil {
			return nil, "", classifyTransportError(err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, "", models.NewNetworkError("redirect without Location header", nil)
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, "", models.NewNetworkError("unresolvable redirect target", err)
			}
			current = next.String()
			continue
		}

		return resp, current, nil
	}
}

// classifyTransportError maps transport failures onto the error taxonomy.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError("request deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return models.NewTimeoutError("request canceled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.NewTimeoutError("request timed out", err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return models.NewNetworkError("request failed", ue.Err)
	}
	return models.NewNetworkError("request failed", err)
}

// readBody reads the response body under the global size cap. A body that
// exceeds the cap aborts with a validation error, never partial bytes.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, models.NewNetworkError("read body failed", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, models.NewValidationError(models.ErrCodeTooLarge, "Response too large")
	}
	return body, nil
}

// Accepted text content types (substring match on the media type).
var allowedTextTypes = []string{
	"text/html", "application/xhtml+xml", "text/plain", "text/markdown",
	"text/csv", "application/json", "application/xml", "text/xml",
	"application/rss+xml", "application/atom+xml",
	"application/javascript", "text/javascript", "text/css",
}

// Binary document types the distiller can parse.
var allowedDocTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// AcceptableContentType reports whether the fetchers may return a body of
// this content type. Binary types outside the document allowlist are
// accepted only when the URL suffix agrees it is a supported document.
func AcceptableContentType(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return true // servers that omit the header get the HTML treatment
	}
	for _, t := range allowedTextTypes {
		if strings.Contains(ct, t) {
			return true
		}
	}
	for _, t := range allowedDocTypes {
		if ct == t {
			return true
		}
	}
	return IsDocumentURL(rawURL)
}

// IsDocumentURL reports whether the URL path names a supported binary
// document (PDF or DOCX).
func IsDocumentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// IsDocumentType reports whether the content type is a supported binary
// document type.
func IsDocumentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, t := range allowedDocTypes {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

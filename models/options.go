package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Output formats accepted by the distillation pipeline.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatHTML     = "html"
	FormatClean    = "clean"
)

// DefaultBudget is the automatic token budget applied on the API and MCP
// paths unless the caller opts out (lite=true or budget=0).
const DefaultBudget = 4000

// PeelOptions is the full option surface of a fetch request. The set is
// large but closed: the API layer rejects unknown JSON keys.
type PeelOptions struct {
	// Output
	Format string `json:"format,omitempty"` // markdown (default) | text | html | clean

	// Strategy selection
	Render  bool `json:"render,omitempty"`  // force the browser rung
	Stealth bool `json:"stealth,omitempty"` // force the stealth rung
	Cloaked bool `json:"cloaked,omitempty"` // opt into the TLS-fingerprint rung directly

	// Timing
	Wait    int `json:"wait,omitempty"`    // post-navigation delay, 0-60000 ms
	Timeout int `json:"timeout,omitempty"` // per-request deadline in seconds; default 30, max 120

	// DOM subsetting
	Selector        string   `json:"selector,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
	IncludeTags     []string `json:"include_tags,omitempty"`
	ExcludeTags     []string `json:"exclude_tags,omitempty"`
	OnlyMainContent bool     `json:"only_main_content,omitempty"`
	RemoveOverlays  bool     `json:"remove_overlays,omitempty"`

	// Browser interaction
	Actions []Action `json:"actions,omitempty"` // auto-enables rendering

	// Screenshot
	Screenshot     bool   `json:"screenshot,omitempty"`
	FullPage       bool   `json:"full_page,omitempty"`
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
	Device         string `json:"device,omitempty"` // "desktop" (default) | "mobile"

	// Content shaping
	Images    bool   `json:"images,omitempty"` // extract image URLs
	Budget    *int   `json:"budget,omitempty"` // nil = path default, 0 = off
	MaxTokens int    `json:"max_tokens,omitempty"`
	Lite      bool   `json:"lite,omitempty"` // opts out of the automatic budget
	Raw       bool   `json:"raw,omitempty"`  // skip distillation entirely
	Question  string `json:"question,omitempty"`
	Readable  bool   `json:"readable,omitempty"`
	Chunk     int    `json:"chunk,omitempty"` // RAG chunk size in tokens, 0 = off

	// Structured extraction
	Schema      json.RawMessage `json:"schema,omitempty"` // template name or field->question map
	Extract     string          `json:"extract,omitempty"`
	LLMProvider string          `json:"llm_provider,omitempty"`
	LLMAPIKey   string          `json:"llm_api_key,omitempty"`
	LLMModel    string          `json:"llm_model,omitempty"`

	// Locale hints
	Location  string   `json:"location,omitempty"`
	Languages []string `json:"languages,omitempty"`

	// Browser / transport tuning
	Proxies        []string          `json:"proxies,omitempty"`
	BlockResources []string          `json:"block_resources,omitempty"`
	WaitUntil      string            `json:"wait_until,omitempty"` // domcontentloaded (default) | networkidle
	WaitSelector   string            `json:"wait_selector,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`

	// Cache control
	NoCache      bool  `json:"no_cache,omitempty"`
	CacheTTL     int   `json:"cache_ttl,omitempty"` // seconds
	StoreInCache *bool `json:"store_in_cache,omitempty"`
	MaxAge       int   `json:"max_age,omitempty"` // ms; 0 = cache default

	// SoftLimited is set by the quota layer, never by clients. A soft-limited
	// request degrades silently to the simple HTTP rung only.
	SoftLimited bool `json:"-"`
}

// Normalize applies defaults and folds aliases (max_tokens into budget).
func (o *PeelOptions) Normalize() {
	if o.Format == "" {
		o.Format = FormatMarkdown
	}
	if o.Timeout == 0 {
		o.Timeout = 30
	}
	if o.Timeout > 120 {
		o.Timeout = 120
	}
	if o.Budget == nil && o.MaxTokens > 0 {
		b := o.MaxTokens
		o.Budget = &b
	}
	if len(o.Actions) > 0 || o.Screenshot {
		o.Render = true
	}
	if o.WaitUntil == "" {
		o.WaitUntil = "domcontentloaded"
	}
}

// ApplyAutoBudget installs the 4000-token default used by the API and MCP
// paths. Lite, raw, and an explicit budget=0 all opt out.
func (o *PeelOptions) ApplyAutoBudget() {
	if o.Budget != nil || o.Lite || o.Raw {
		return
	}
	b := DefaultBudget
	o.Budget = &b
}

// EffectiveBudget returns the token budget, or 0 when budgeting is off.
func (o *PeelOptions) EffectiveBudget() int {
	if o.Raw || o.Lite || o.Budget == nil || *o.Budget <= 0 {
		return 0
	}
	return *o.Budget
}

// Validate rejects out-of-range and contradictory option values.
func (o *PeelOptions) Validate() error {
	switch o.Format {
	case FormatMarkdown, FormatText, FormatHTML, FormatClean:
	default:
		return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("unknown format: %s", o.Format))
	}
	if o.Wait < 0 || o.Wait > 60000 {
		return NewValidationError(ErrCodeInvalidOpt, "wait must be between 0 and 60000 ms")
	}
	if o.Timeout < 0 {
		return NewValidationError(ErrCodeInvalidOpt, "timeout must be positive")
	}
	for name := range o.Headers {
		if strings.EqualFold(name, "Host") {
			return NewValidationError(ErrCodeInvalidOpt, "Host header override is not allowed")
		}
	}
	switch o.WaitUntil {
	case "", "domcontentloaded", "networkidle", "load":
	default:
		return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("unknown wait_until: %s", o.WaitUntil))
	}
	for i := range o.Actions {
		if err := o.Actions[i].Normalize(); err != nil {
			return err
		}
	}
	return nil
}

// Hash returns a stable digest of the options that affect the fetched and
// distilled output. Cache-control knobs are deliberately excluded so that
// no_cache / max_age variants share one cache slot.
func (o *PeelOptions) Hash() string {
	parts := []string{
		"format=" + o.Format,
		fmt.Sprintf("render=%t", o.Render),
		fmt.Sprintf("stealth=%t", o.Stealth),
		fmt.Sprintf("cloaked=%t", o.Cloaked),
		fmt.Sprintf("wait=%d", o.Wait),
		"selector=" + o.Selector,
		"exclude=" + strings.Join(o.Exclude, ","),
		"include_tags=" + strings.Join(o.IncludeTags, ","),
		"exclude_tags=" + strings.Join(o.ExcludeTags, ","),
		fmt.Sprintf("main=%t", o.OnlyMainContent),
		fmt.Sprintf("readable=%t", o.Readable),
		fmt.Sprintf("raw=%t", o.Raw),
		fmt.Sprintf("lite=%t", o.Lite),
		fmt.Sprintf("budget=%d", o.EffectiveBudget()),
		"question=" + o.Question,
		"schema=" + string(o.Schema),
		fmt.Sprintf("screenshot=%t", o.Screenshot),
		fmt.Sprintf("images=%t", o.Images),
		fmt.Sprintf("actions=%d", len(o.Actions)),
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

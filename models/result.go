package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Fetch methods recorded on results, identifying which rung (or shortcut)
// produced the content.
const (
	MethodSimple            = "simple"
	MethodBrowser           = "browser"
	MethodStealth           = "stealth"
	MethodTLS               = "tls"
	MethodDomainAPI         = "domain-api"
	MethodDomainAPIFallback = "domain-api-fallback"
)

// ResponseHeaders carries the subset of response headers the pipeline
// cares about (conditional-request validators and cache directives).
type ResponseHeaders struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
}

// FetchResult is the raw output of a single fetcher rung, before any
// distillation. A fetcher either returns a complete result or a typed
// error — never partial bytes.
type FetchResult struct {
	Body        []byte
	FinalURL    string
	StatusCode  int
	ContentType string
	Title       string
	Screenshot  []byte
	Headers     ResponseHeaders
	Method      string

	// Structured carries the domain shortcut's typed payload (story,
	// thread, repository, post) through to the final result.
	Structured any
}

// IsHTML reports whether the result body should be treated as HTML.
func (r *FetchResult) IsHTML() bool {
	ct := strings.ToLower(r.ContentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// Metadata holds page-level information extracted during distillation.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
	Published   string `json:"published,omitempty"`
	SourceURL   string `json:"source_url"`

	// Open Graph tags.
	OGTitle       string `json:"og_title,omitempty"`
	OGDescription string `json:"og_description,omitempty"`
	OGImage       string `json:"og_image,omitempty"`
	OGType        string `json:"og_type,omitempty"`

	// Raw schema.org JSON-LD blocks found in the page, if any.
	SchemaOrg []json.RawMessage `json:"schema_org,omitempty"`
}

// Link represents a hyperlink extracted from the page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Image represents an image element extracted from the page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	TotalMs   int64 `json:"total_ms"`
	FetchMs   int64 `json:"fetch_ms"`
	DistillMs int64 `json:"distill_ms"`
}

// Chunk is one RAG chunk of the distilled content.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// PeelResult is the public output of a fetch: clean, token-budgeted
// content plus everything a language-model consumer needs to cite it.
type PeelResult struct {
	URL      string   `json:"url"`
	FinalURL string   `json:"final_url,omitempty"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Format   string   `json:"format"`
	Tokens   int      `json:"tokens"`
	Words    int      `json:"words"`
	// ReadingTimeMin is the estimated reading time in minutes.
	ReadingTimeMin int      `json:"reading_time_min"`
	Metadata       Metadata `json:"metadata"`

	// Structured is the domain-extractor payload when a shortcut handled
	// the request (story, thread, repository, post).
	Structured any `json:"structured,omitempty"`

	// Extracted is schema-template or LLM extraction output.
	Extracted json.RawMessage `json:"extracted,omitempty"`

	Links  []Link  `json:"links,omitempty"`
	Images []Image `json:"images,omitempty"`
	Chunks []Chunk `json:"chunks,omitempty"`

	// Screenshot is base64-encoded PNG/JPEG bytes when one was captured.
	Screenshot string `json:"screenshot,omitempty"`

	// Fingerprint is the SHA-256 of the distilled content, stable across
	// repeated fetches of byte-identical content.
	Fingerprint string `json:"fingerprint"`
	// Simhash is a 64-bit locality-sensitive hash of the distilled text,
	// used for change tracking across fetches.
	Simhash uint64 `json:"simhash,omitempty"`

	// RequestFingerprint is the normalized request hash used as cache key.
	RequestFingerprint string `json:"request_fingerprint,omitempty"`

	StatusCode  int        `json:"status_code,omitempty"`
	Method      string     `json:"method"`
	CacheStatus string     `json:"cache_status,omitempty"` // hit-memory | hit-redis | miss | bypass
	Timing      TimingInfo `json:"timing"`

	// FetchedAt is when the content was actually fetched; cache hits keep
	// the original stamp so max_age can judge staleness.
	FetchedAt time.Time `json:"fetched_at,omitempty"`

	// Error is populated only in batch results whose item failed.
	Error *ErrorDetail `json:"error,omitempty"`
}

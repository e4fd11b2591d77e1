// Package peel is the core of the gateway: it turns a URL and options
// into clean, token-budgeted content by running the full pipeline —
// cache probe, domain-API shortcut, strategy escalation, challenge
// detection, distillation, cache write.
package peel

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/webpeel/webpeel/browser"
	"github.com/webpeel/webpeel/cache"
	"github.com/webpeel/webpeel/distill"
	"github.com/webpeel/webpeel/domains"
	"github.com/webpeel/webpeel/fetch"
	"github.com/webpeel/webpeel/llm"
	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/urlutil"
)

// Core owns the shared machinery: the fetch rungs, the shortcut
// registry, the distiller and the cache. One Core serves all requests.
type Core struct {
	cache     *cache.Store
	registry  *domains.Registry
	distiller *distill.Distiller
	logger    *slog.Logger

	// Ladder rungs in escalation order. Browser rungs are nil when the
	// host has no Chromium; the ladder simply skips them.
	simple      fetch.Fetcher
	browserRung fetch.Fetcher
	stealthRung fetch.Fetcher
	tlsRung     fetch.Fetcher
}

// CoreOptions configures a Core.
type CoreOptions struct {
	// Cache is optional; nil disables both tiers.
	Cache *cache.Store

	// Browser is optional; nil disables the rendering rungs.
	Browser *browser.Manager

	// TLSPreset selects the spoofed ClientHello family ("chrome",
	// "firefox", "safari"). Empty means Chrome.
	TLSPreset string

	// Registry overrides the built-in shortcut set; nil uses the default.
	Registry *domains.Registry

	Logger *slog.Logger
}

// New wires a Core from its parts.
func New(opts CoreOptions) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = domains.NewRegistry()
	}
	c := &Core{
		cache:     opts.Cache,
		registry:  registry,
		distiller: distill.New(),
		logger:    logger,
		simple:    fetch.NewSimpleFetcher(),
		tlsRung:   fetch.NewTLSFetcher(opts.TLSPreset),
	}
	if opts.Browser != nil {
		c.browserRung = browser.NewFetcher(opts.Browser)
		c.stealthRung = browser.NewStealthFetcher(opts.Browser)
	}
	return c
}

// Fetch runs the whole pipeline for one URL.
func (c *Core) Fetch(ctx context.Context, rawURL string, opts *models.PeelOptions) (*models.PeelResult, error) {
	started := time.Now()

	if opts == nil {
		opts = &models.PeelOptions{}
	}
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := urlutil.ParseAndValidate(rawURL); err != nil {
		return nil, err
	}

	fingerprint := urlutil.Fingerprint(rawURL, opts.Hash())

	if c.cache != nil && !opts.NoCache {
		if cached, tier := c.cache.Get(ctx, fingerprint); cached != nil && freshEnough(cached, opts) {
			cached.CacheStatus = tier
			cached.Timing.TotalMs = time.Since(started).Milliseconds()
			return cached, nil
		}
		if detail := c.cache.GetError(ctx, fingerprint); detail != nil {
			return nil, errorFromDetail(detail)
		}
	}

	fetchStart := time.Now()
	fetched, err := c.acquire(ctx, rawURL, opts)
	if err != nil {
		if c.cache != nil && models.KindOf(err) != models.KindValidation {
			c.cache.SetError(ctx, fingerprint, models.DetailFor(err, ""))
		}
		return nil, err
	}
	fetchMs := time.Since(fetchStart).Milliseconds()

	distilled, err := c.distiller.Distill(ctx, fetched, opts)
	if err != nil {
		return nil, err
	}

	result := c.assemble(rawURL, fetched, distilled, opts)
	result.RequestFingerprint = fingerprint
	if opts.NoCache {
		result.CacheStatus = cache.StatusBypass
	}
	result.Timing = models.TimingInfo{
		TotalMs:   time.Since(started).Milliseconds(),
		FetchMs:   fetchMs,
		DistillMs: distilled.ElapsedMs,
	}

	if opts.Extract != "" && opts.LLMAPIKey != "" {
		if err := c.llmExtract(ctx, result, distilled.Content, opts); err != nil {
			return nil, err
		}
	}

	if c.cache != nil && shouldStore(opts) {
		ttl := time.Duration(opts.CacheTTL) * time.Second
		c.cache.Set(ctx, fingerprint, result, ttl)
	}
	return result, nil
}

// acquire produces the raw FetchResult: domain shortcut first, then the
// escalation ladder with the shortcut as consolation fallback.
func (c *Core) acquire(ctx context.Context, rawURL string, opts *models.PeelOptions) (*models.FetchResult, error) {
	handler := c.registry.Lookup(rawURL)

	// The shortcut can never render or screenshot, so explicit browser
	// work goes straight to the ladder.
	wantsBrowser := opts.Render || opts.Screenshot || len(opts.Actions) > 0
	if handler != nil && !wantsBrowser {
		if result, _ := c.registry.Fetch(ctx, rawURL); result != nil {
			return result, nil
		}
	}

	req := c.buildRequest(rawURL, opts)
	esc := fetch.NewEscalator(c.logger, c.rungs(opts)...)
	if handler != nil {
		esc.Fallback = &registryFetcher{registry: c.registry}
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	return esc.Run(runCtx, req)
}

// rungs picks the escalation ladder for the request. Options can start
// the ladder higher but never bypass the later rungs.
func (c *Core) rungs(opts *models.PeelOptions) []fetch.Fetcher {
	switch {
	case opts.SoftLimited:
		return compact(c.simple)
	case opts.Cloaked:
		return compact(c.tlsRung)
	case opts.Stealth:
		return compact(c.stealthRung, c.tlsRung)
	case opts.Render || opts.Screenshot || len(opts.Actions) > 0:
		return compact(c.browserRung, c.stealthRung, c.tlsRung)
	default:
		return compact(c.simple, c.browserRung, c.stealthRung, c.tlsRung)
	}
}

func compact(fetchers ...fetch.Fetcher) []fetch.Fetcher {
	out := make([]fetch.Fetcher, 0, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (c *Core) buildRequest(rawURL string, opts *models.PeelOptions) *fetch.Request {
	req := &fetch.Request{
		URL:            rawURL,
		Headers:        opts.Headers,
		Timeout:        time.Duration(opts.Timeout) * time.Second,
		Wait:           time.Duration(opts.Wait) * time.Millisecond,
		Stealth:        opts.Stealth,
		Screenshot:     opts.Screenshot,
		FullPage:       opts.FullPage,
		ViewportWidth:  opts.ViewportWidth,
		ViewportHeight: opts.ViewportHeight,
		Device:         opts.Device,
		Actions:        opts.Actions,
		WaitUntil:      opts.WaitUntil,
		WaitSelector:   opts.WaitSelector,
		BlockResources: opts.BlockResources,
		RemoveOverlays: opts.RemoveOverlays,
		Languages:      opts.Languages,
	}
	if len(opts.Proxies) > 0 {
		req.Proxy = opts.Proxies[rand.IntN(len(opts.Proxies))]
	}
	return req
}

func (c *Core) assemble(rawURL string, fetched *models.FetchResult, distilled *distill.Result, opts *models.PeelOptions) *models.PeelResult {
	result := &models.PeelResult{
		URL:            rawURL,
		FinalURL:       fetched.FinalURL,
		Title:          distilled.Title,
		Content:        distilled.Content,
		Format:         distilled.Format,
		Tokens:         distilled.Tokens,
		Words:          distilled.Words,
		ReadingTimeMin: distilled.ReadingTimeMin,
		Metadata:       distilled.Metadata,
		Structured:     fetched.Structured,
		Extracted:      distilled.Extracted,
		Links:          distilled.Links,
		Images:         distilled.Images,
		Chunks:         distilled.Chunks,
		Fingerprint:    distilled.Fingerprint,
		Simhash:        distilled.Simhash,
		StatusCode:     fetched.StatusCode,
		Method:         fetched.Method,
		CacheStatus:    cache.StatusMiss,
		FetchedAt:      time.Now().UTC(),
	}
	if result.Title == "" {
		result.Title = fetched.Title
	}
	if result.Metadata.SourceURL == "" {
		result.Metadata.SourceURL = fetched.FinalURL
	}
	if result.Metadata.Title == "" {
		result.Metadata.Title = result.Title
	}
	if len(fetched.Screenshot) > 0 {
		result.Screenshot = base64.StdEncoding.EncodeToString(fetched.Screenshot)
	}
	return result
}

// llmExtract replaces the BM25 schema answer with a provider completion
// when the caller supplied a key.
func (c *Core) llmExtract(ctx context.Context, result *models.PeelResult, content string, opts *models.PeelOptions) error {
	client, err := llm.NewClient(opts.LLMProvider, opts.LLMAPIKey, opts.LLMModel)
	if err != nil {
		return err
	}
	data, usage, err := llm.Extract(ctx, client, content, opts.Extract, opts.Schema)
	if err != nil {
		return err
	}
	result.Extracted = data
	if usage != nil {
		c.logger.Debug("llm extraction",
			"url", result.URL, "model", opts.LLMModel, "tokens", usage.TotalTokens)
	}
	return nil
}

// freshEnough honors max_age: with it set, a cached result older than
// the window is treated as a miss and refetched.
func freshEnough(cached *models.PeelResult, opts *models.PeelOptions) bool {
	if opts.MaxAge <= 0 {
		return true
	}
	if cached.FetchedAt.IsZero() {
		return false
	}
	return time.Since(cached.FetchedAt) <= time.Duration(opts.MaxAge)*time.Millisecond
}

func shouldStore(opts *models.PeelOptions) bool {
	if opts.StoreInCache != nil {
		return *opts.StoreInCache
	}
	return true
}

// errorFromDetail rebuilds a typed error from a cached failure so the
// cooldown surfaces with the original code.
func errorFromDetail(detail *models.ErrorDetail) error {
	kind := models.KindNetwork
	switch detail.Type {
	case models.ErrCodeTimeout:
		kind = models.KindTimeout
	case models.ErrCodeBlocked:
		kind = models.KindBlocked
	}
	return &models.PeelError{
		Kind:    kind,
		Code:    detail.Type,
		Message: detail.Message,
		Hint:    "a recent fetch of this url failed; in cooldown",
	}
}

// registryFetcher adapts the shortcut registry to the Fetcher interface
// for the post-ladder fallback.
type registryFetcher struct {
	registry *domains.Registry
}

func (r *registryFetcher) Name() string { return models.MethodDomainAPIFallback }

func (r *registryFetcher) Fetch(ctx context.Context, req *fetch.Request) (*models.FetchResult, error) {
	result, _ := r.registry.Fetch(ctx, req.URL)
	if result == nil {
		return nil, models.NewNetworkError("domain api returned nothing", nil)
	}
	return result, nil
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/webpeel/webpeel/fetch"
	"github.com/webpeel/webpeel/models"
)

// Fetcher is the rendering rung: it borrows a pooled tab, navigates,
// waits for the page to settle, optionally runs actions and captures a
// screenshot, and returns the rendered DOM. With Stealth set it is the
// stealth rung: fingerprint masking plus a humanized pre-navigation
// delay.
type Fetcher struct {
	manager *Manager
	stealth bool
}

// NewFetcher returns the plain rendering rung.
func NewFetcher(m *Manager) *Fetcher {
	return &Fetcher{manager: m}
}

// NewStealthFetcher returns the stealth rendering rung.
func NewStealthFetcher(m *Manager) *Fetcher {
	return &Fetcher{manager: m, stealth: true}
}

func (f *Fetcher) Name() string {
	if f.stealth {
		return models.MethodStealth
	}
	return models.MethodBrowser
}

func (f *Fetcher) Fetch(ctx context.Context, req *fetch.Request) (*models.FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	page, err := f.manager.acquire(ctx)
	if err != nil {
		return nil, err
	}
	// A tab whose request context expired is retired rather than reused;
	// release decides based on ctx.
	defer f.manager.release(ctx, page)

	// Binary documents never go through the DOM: Chrome would render its
	// viewer shell and HTML() would return that instead of the payload.
	if isDocumentURL(req.URL) {
		return f.fetchDocumentBytes(ctx, page, req)
	}

	stealthOn := f.stealth || req.Stealth
	if stealthOn {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without", "error", err)
		}
	}

	if err := f.emulate(page, req); err != nil {
		return nil, models.NewNetworkError("viewport emulation failed", err)
	}

	f.applyHeaders(page, req)

	// Screenshot renders need the full asset set; everything else blocks
	// heavy resources. Hijack conflicts with stealth's Fetch-domain usage,
	// so the stealth rung renders unfiltered too.
	var router *rod.HijackRouter
	if !req.Screenshot && !stealthOn {
		blockTypes := req.BlockResources
		if blockTypes == nil {
			blockTypes = defaultBlockedTypes
		}
		router = setupHijack(page, blockTypes, true)
		if router != nil {
			defer func() { _ = router.Stop() }()
		}
	}

	p := page.Context(ctx)

	if stealthOn {
		// Humans do not navigate the instant a tab opens.
		delay := time.Duration(500+rand.Intn(1500)) * time.Millisecond
		if err := execSleep(ctx, delay); err != nil {
			return nil, categorizeError(err, "stealth delay interrupted")
		}
	}

	if err := p.Navigate(req.URL); err != nil {
		return nil, categorizeError(err, "navigation failed")
	}

	f.waitSettled(p, req, router != nil)

	if req.WaitSelector != "" {
		if err := p.WaitElementsMoreThan(req.WaitSelector, 0); err != nil {
			return nil, categorizeError(err, "wait selector never appeared")
		}
	}
	if req.Wait > 0 {
		if err := execSleep(ctx, req.Wait); err != nil {
			return nil, categorizeError(err, "wait interrupted")
		}
	}

	// Chromium 145+ breaks Network-domain listeners alongside hijack, so
	// the status code comes from the navigation timing entry instead.
	statusCode := 200
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		if sc := res.Value.Int(); sc > 0 {
			statusCode = sc
		}
	}
	if statusCode == 403 || statusCode == 503 {
		return nil, models.NewBlockedError("blocked during rendered navigation")
	}

	if req.RemoveOverlays {
		removeOverlays(p)
	}

	var screenshot []byte
	if len(req.Actions) > 0 {
		shot, err := executeActions(ctx, page, req.Actions)
		if err != nil {
			return nil, err
		}
		screenshot = shot
	}

	if req.Screenshot && screenshot == nil {
		shot, err := p.Screenshot(req.FullPage, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return nil, categorizeError(err, "screenshot capture failed")
		}
		screenshot = shot
	}

	rawHTML, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract rendered DOM")
	}

	if ch := fetch.DetectChallenge(rawHTML, statusCode); ch.IsChallenge && ch.Type != fetch.ChallengeEmptyShell &&
		ch.Confidence >= fetch.ChallengeConfidenceThreshold {
		return nil, models.NewBlockedError("challenge page detected: " + ch.Type)
	}

	title := evalString(p, `() => document.title`)
	finalURL := evalString(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	return &models.FetchResult{
		Body:        []byte(rawHTML),
		FinalURL:    finalURL,
		StatusCode:  statusCode,
		ContentType: "text/html",
		Title:       title,
		Screenshot:  screenshot,
		Method:      f.Name(),
	}, nil
}

// documentExtensions marks navigations Chrome would swallow into a viewer
// page instead of handing the bytes to the DOM.
var documentExtensions = []string{".pdf", ".docx"}

// isDocumentURL reports whether the URL path names a binary document.
func isDocumentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range documentExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// documentCapture is what the hijack handler observed for the main document.
type documentCapture struct {
	body        []byte
	contentType string
	statusCode  int
	finalURL    string
}

// fetchDocumentBytes navigates with a document-level hijack mounted, so the
// raw response bytes are captured before Chrome decides how to display
// them. The navigation itself is allowed to fail: the payload comes from
// the hijack, not the DOM.
func (f *Fetcher) fetchDocumentBytes(ctx context.Context, page *rod.Page, req *fetch.Request) (*models.FetchResult, error) {
	captured := make(chan documentCapture, 1)

	router := page.HijackRequests()
	err := router.Add("*", proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		if lerr := h.LoadResponse(http.DefaultClient, true); lerr != nil {
			h.Response.Fail(proto.NetworkErrorReasonConnectionFailed)
			return
		}
		doc := documentCapture{
			body:        []byte(h.Response.Body()),
			contentType: h.Response.Headers().Get("Content-Type"),
			statusCode:  h.Response.Payload().ResponseCode,
			finalURL:    h.Request.URL().String(),
		}
		select {
		case captured <- doc:
		default:
		}
	})
	if err != nil {
		return nil, models.NewNetworkError("document capture setup failed", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	p := page.Context(ctx)
	_ = p.Navigate(req.URL)

	select {
	case doc := <-captured:
		if doc.statusCode == 403 || doc.statusCode == 503 {
			return nil, models.NewBlockedError(fmt.Sprintf("HTTP %d from origin", doc.statusCode))
		}
		if doc.statusCode >= 400 {
			return nil, models.NewNetworkError(fmt.Sprintf("HTTP %d from origin", doc.statusCode), nil)
		}
		finalURL := doc.finalURL
		if finalURL == "" {
			finalURL = req.URL
		}
		return &models.FetchResult{
			Body:        doc.body,
			FinalURL:    finalURL,
			StatusCode:  doc.statusCode,
			ContentType: doc.contentType,
			Method:      f.Name(),
		}, nil
	case <-ctx.Done():
		return nil, models.NewTimeoutError("document download timed out", ctx.Err())
	}
}

// emulate applies device or viewport overrides before navigation.
func (f *Fetcher) emulate(page *rod.Page, req *fetch.Request) error {
	if req.Device != "" {
		if d, ok := deviceByName(req.Device); ok {
			return page.Emulate(d)
		}
	}
	if req.ViewportWidth > 0 && req.ViewportHeight > 0 {
		return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             req.ViewportWidth,
			Height:            req.ViewportHeight,
			DeviceScaleFactor: 1,
		})
	}
	return nil
}

func deviceByName(name string) (devices.Device, bool) {
	switch strings.ToLower(name) {
	case "mobile", "iphone":
		return devices.IPhoneX, true
	case "tablet", "ipad":
		return devices.IPad, true
	case "pixel":
		return devices.Pixel2XL, true
	}
	return devices.Device{}, false
}

// applyHeaders installs custom headers plus a plausible search-engine
// Referer when the caller did not set one.
func (f *Fetcher) applyHeaders(page *rod.Page, req *fetch.Request) {
	extra := make(map[string]string, len(req.Headers)+2)
	if _, has := req.Headers["Referer"]; !has {
		if u, err := url.Parse(req.URL); err == nil {
			extra["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	if len(req.Languages) > 0 {
		extra["Accept-Language"] = strings.Join(req.Languages, ",")
	}
	for k, v := range req.Headers {
		extra[k] = v
	}
	if len(extra) == 0 {
		return
	}

	m := make(proto.NetworkHeaders, len(extra))
	for k, v := range extra {
		m[k] = gson.New(v)
	}
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: m}.Call(page)
}

// waitSettled applies the requested load strategy. Network-idle waiting
// uses the Fetch domain and conflicts with the hijack router, so it only
// applies when no router is mounted; DOM stability is the fallback.
func (f *Fetcher) waitSettled(p *rod.Page, req *fetch.Request, hijacked bool) {
	switch req.WaitUntil {
	case "load":
		if err := p.WaitLoad(); err != nil {
			slog.Debug("load event wait failed, proceeding", "error", err)
		}
	case "networkidle":
		if req.Screenshot {
			wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
			wait()
			return
		}
		fallthrough
	default: // domcontentloaded
		if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("DOM never stabilised, proceeding with current state", "error", err)
		}
		// A near-empty body right after DOM stability usually means data is
		// still in flight; give the network a short window to catch up.
		if !hijacked && bodyTextLength(p) < thinBodyThreshold {
			p.Timeout(2 * time.Second).WaitRequestIdle(300*time.Millisecond, nil, nil, nil)()
		}
	}
}

// thinBodyThreshold is the body text length below which a just-stabilised
// page is suspected of still loading its content.
const thinBodyThreshold = 500

// bodyTextLength measures the rendered body text. Measurement failures
// report the threshold so the caller skips the extra wait.
func bodyTextLength(p *rod.Page) int {
	res, err := p.Eval(`() => (document.body && document.body.innerText || "").length`)
	if err != nil {
		return thinBodyThreshold
	}
	return res.Value.Int()
}

// removeOverlays strips fixed and sticky elements with modal-grade
// z-indexes plus the usual consent banner selectors, then restores page
// scrolling.
func removeOverlays(p *rod.Page) {
	const js = `() => {
		const els = document.querySelectorAll('*');
		for (const el of els) {
			const style = window.getComputedStyle(el);
			const pos = style.position;
			if (pos === 'fixed' || pos === 'sticky') {
				const z = parseInt(style.zIndex, 10);
				if (z >= 900 || style.zIndex === 'auto') {
					el.remove();
				}
			}
		}
		const selectors = [
			'[class*="cookie"]', '[class*="consent"]', '[class*="overlay"]',
			'[id*="cookie"]', '[id*="consent"]', '[id*="overlay"]',
			'[class*="popup"]', '[id*="popup"]',
			'[class*="gdpr"]', '[id*="gdpr"]',
		];
		for (const sel of selectors) {
			document.querySelectorAll(sel).forEach(el => {
				const style = window.getComputedStyle(el);
				if (style.position === 'fixed' || style.position === 'sticky' || style.position === 'absolute') {
					el.remove();
				}
			});
		}
		document.documentElement.style.overflow = '';
		document.body.style.overflow = '';
	}`
	_, _ = p.Eval(js)
}

func evalString(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func categorizeError(err error, msg string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError(msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewTimeoutError("request canceled", err)
	default:
		return models.NewNetworkError(msg, err)
	}
}

// Package browser owns the headless Chrome lifecycle: one shared browser
// process, a bounded page pool with warm tabs, and the two rendering
// rungs (plain and stealth) built on top of it.
package browser

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/webpeel/webpeel/models"
)

// Config controls the browser process and page pool.
type Config struct {
	Headless  bool
	NoSandbox bool
	Bin       string
	Proxy     string

	// MaxPages caps concurrent tabs; WarmPages are created at startup so
	// the first requests skip tab creation.
	MaxPages  int
	WarmPages int

	// QueueTimeout bounds how long a request waits for a free tab before
	// failing with a timeout error.
	QueueTimeout time.Duration
}

// DefaultConfig returns the production pool sizing.
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		NoSandbox:    true,
		MaxPages:     5,
		WarmPages:    3,
		QueueTimeout: 30 * time.Second,
	}
}

// Manager launches the browser once and hands out pooled pages.
// Safe for concurrent use.
type Manager struct {
	browser     *rod.Browser
	pool        *pagePool
	cfg         Config
	activePages atomic.Int32
	startTime   time.Time
}

// NewManager launches headless Chrome with anti-detection flags and
// pre-warms the page pool.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 30 * time.Second
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewNetworkError("failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewNetworkError("failed to connect to browser", err)
	}

	m := &Manager{
		browser:   b,
		pool:      newPagePool(cfg.MaxPages),
		cfg:       cfg,
		startTime: time.Now(),
	}

	for i := 0; i < cfg.WarmPages && i < cfg.MaxPages; i++ {
		if err := m.warmPage(); err != nil {
			slog.Warn("failed to pre-warm page", "error", err)
			break
		}
	}
	slog.Info("page pool ready", "maxPages", cfg.MaxPages, "warm", cfg.WarmPages)

	return m, nil
}

func (m *Manager) warmPage() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	page, err := m.pool.get(ctx, m.newPage)
	if err != nil {
		return err
	}
	m.pool.put(page)
	return nil
}

func (m *Manager) newPage() (*rod.Page, error) {
	return m.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// acquire borrows a tab, waiting up to QueueTimeout for a free slot.
func (m *Manager) acquire(ctx context.Context) (*rod.Page, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.QueueTimeout)
	defer cancel()

	page, err := m.pool.get(waitCtx, m.newPage)
	if err != nil {
		return nil, err
	}
	m.activePages.Add(1)
	return page, nil
}

// release sanitizes the tab and returns it to the pool. A tab that cannot
// be reset is closed and its slot recycled, so the pool never shrinks.
// When the request context was cancelled the tab is retired outright:
// CDP calls on it may hang or leave half-applied state behind.
func (m *Manager) release(ctx context.Context, page *rod.Page) {
	m.activePages.Add(-1)
	if ctx.Err() != nil {
		if page != nil {
			_ = page.Close()
		}
		m.pool.discard()
		return
	}
	if err := sanitizePage(page); err != nil {
		slog.Warn("page reset failed, discarding tab", "error", err)
		_ = page.Close()
		m.pool.discard()
		return
	}
	m.pool.put(page)
}

// sanitizePage strips per-request state so the next borrower starts clean:
// blank navigation drops the DOM, cookies, extra headers, and any device
// emulation are cleared.
func sanitizePage(page *rod.Page) error {
	if err := page.Navigate("about:blank"); err != nil {
		return err
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
		return err
	}
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: proto.NetworkHeaders{}}.Call(page)
	_ = (proto.EmulationClearDeviceMetricsOverride{}).Call(page)
	return nil
}

// Stats reports current pool utilisation.
func (m *Manager) Stats() (active, max int) {
	return int(m.activePages.Load()), m.cfg.MaxPages
}

// Uptime reports how long the browser process has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Close drains the pool and kills the browser process. Call on graceful
// shutdown to prevent zombie Chrome processes.
func (m *Manager) Close() {
	slog.Info("browser shutting down: draining page pool")
	m.pool.drain(func(p *rod.Page) {
		_ = p.Close()
	})
	m.browser.MustClose()
	slog.Info("browser shutdown complete")
}

// pagePool is a fixed-size slot pool. Empty slots hold nil; the borrower
// creates the page lazily. Unlike a plain blocking pool, get honours a
// context so queue waits can time out.
type pagePool struct {
	slots chan *rod.Page
}

func newPagePool(size int) *pagePool {
	p := &pagePool{slots: make(chan *rod.Page, size)}
	for i := 0; i < size; i++ {
		p.slots <- nil
	}
	return p
}

func (p *pagePool) get(ctx context.Context, create func() (*rod.Page, error)) (*rod.Page, error) {
	select {
	case page := <-p.slots:
		if page != nil {
			return page, nil
		}
		page, err := create()
		if err != nil {
			p.slots <- nil // give the slot back
			return nil, models.NewNetworkError("failed to create browser page", err)
		}
		return page, nil
	case <-ctx.Done():
		return nil, models.NewTimeoutError("timed out waiting for a free browser page", ctx.Err())
	}
}

func (p *pagePool) put(page *rod.Page) {
	p.slots <- page
}

// discard recycles a slot after its page was closed.
func (p *pagePool) discard() {
	p.slots <- nil
}

func (p *pagePool) drain(close func(*rod.Page)) {
	for i := 0; i < cap(p.slots); i++ {
		select {
		case page := <-p.slots:
			if page != nil {
				close(page)
			}
		default:
			return
		}
	}
}

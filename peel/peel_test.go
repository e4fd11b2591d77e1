package peel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webpeel/webpeel/cache"
	"github.com/webpeel/webpeel/domains"
	"github.com/webpeel/webpeel/fetch"
	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/urlutil"
)

func TestMain(m *testing.M) {
	urlutil.AllowLocal = true
	os.Exit(m.Run())
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>Test Article</title></head>
<body><article>
<h1>Test Article</h1>
<p>This is a reasonably long paragraph of article content so the fetched
page does not trip the thin-body heuristics. It keeps going for a while
to make sure there is plenty of visible text on the page.</p>
<p>A second paragraph follows with more words, because real articles have
more than one paragraph and the challenge detector knows that.</p>
</article></body></html>`

func newTestCore(t *testing.T, withCache bool) *Core {
	t.Helper()
	var store *cache.Store
	if withCache {
		var err error
		store, err = cache.New(cache.Options{}, nil)
		if err != nil {
			t.Fatalf("cache: %v", err)
		}
	}
	c := New(CoreOptions{Cache: store})
	c.tlsRung = nil // keep ladders deterministic against plain-HTTP test servers
	return c
}

func TestFetchEndToEnd(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	c := newTestCore(t, false)
	result, err := c.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if result.Method != models.MethodSimple {
		t.Errorf("method = %q", result.Method)
	}
	if result.Format != "markdown" {
		t.Errorf("format = %q", result.Format)
	}
	if result.Title != "Test Article" {
		t.Errorf("title = %q", result.Title)
	}
	if result.Tokens <= 0 {
		t.Errorf("tokens = %d", result.Tokens)
	}
	if result.CacheStatus != cache.StatusMiss {
		t.Errorf("cache status = %q", result.CacheStatus)
	}
	if result.RequestFingerprint == "" || result.Fingerprint == "" {
		t.Error("fingerprints missing")
	}
	if result.FetchedAt.IsZero() {
		t.Error("fetchedAt not stamped")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d", hits.Load())
	}
}

func TestFetchCacheHit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	c := newTestCore(t, true)
	ctx := context.Background()

	first, err := c.Fetch(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.Fetch(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if second.CacheStatus != cache.StatusHitMemory {
		t.Errorf("cache status = %q", second.CacheStatus)
	}
	if second.Method != first.Method {
		t.Errorf("cache hit changed method: %q vs %q", second.Method, first.Method)
	}
	if second.Content != first.Content {
		t.Error("cached content differs")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	// no_cache bypasses the probe and refetches.
	third, err := c.Fetch(ctx, srv.URL, &models.PeelOptions{NoCache: true})
	if err != nil {
		t.Fatalf("no_cache fetch: %v", err)
	}
	if third.CacheStatus != cache.StatusBypass {
		t.Errorf("no_cache status = %q", third.CacheStatus)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestFetchErrorCooldown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestCore(t, true)
	ctx := context.Background()

	_, err := c.Fetch(ctx, srv.URL, nil)
	if models.KindOf(err) != models.KindBlocked {
		t.Fatalf("first error = %v, want blocked", err)
	}
	firstHits := hits.Load()

	_, err = c.Fetch(ctx, srv.URL, nil)
	if err == nil {
		t.Fatal("cooldown did not surface an error")
	}
	if models.KindOf(err) != models.KindBlocked {
		t.Errorf("cooldown error = %v, want blocked kind", err)
	}
	if hits.Load() != firstHits {
		t.Errorf("cooldown still hit the server: %d -> %d", firstHits, hits.Load())
	}
}

func TestFetchValidation(t *testing.T) {
	c := newTestCore(t, true)

	_, err := c.Fetch(context.Background(), "ftp://example.com/file", nil)
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}

	_, err = c.Fetch(context.Background(), "https://example.com", &models.PeelOptions{Format: "pptx"})
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("bad format error = %v, want validation", err)
	}
}

// shortcutHandler is a scripted domain handler: each call consumes the
// next canned outcome.
type shortcutHandler struct {
	host    string
	outcome []func() (*models.FetchResult, error)
	calls   int
}

func (h *shortcutHandler) Match(u *url.URL) bool { return u.Hostname() == h.host }

func (h *shortcutHandler) Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error) {
	i := h.calls
	if i >= len(h.outcome) {
		i = len(h.outcome) - 1
	}
	h.calls++
	return h.outcome[i]()
}

func storyResult(rawURL string) (*models.FetchResult, error) {
	return &models.FetchResult{
		Body: []byte("# Story Title\n\nA domain API rendered this, comfortably past the " +
			"minimum length threshold for shortcut output."),
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "text/markdown",
		Title:       "Story Title",
		Method:      models.MethodDomainAPI,
		Structured:  domains.Story{Title: "Story Title", Score: 42, Author: "alice"},
	}, nil
}

func TestFetchDomainShortcut(t *testing.T) {
	rawURL := "https://shortcut.test/item/1"
	handler := &shortcutHandler{
		host:    "shortcut.test",
		outcome: []func() (*models.FetchResult, error){func() (*models.FetchResult, error) { return storyResult(rawURL) }},
	}

	c := New(CoreOptions{Registry: domains.NewRegistryWith(handler)})
	c.tlsRung = nil

	result, err := c.Fetch(context.Background(), rawURL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Method != models.MethodDomainAPI {
		t.Errorf("method = %q", result.Method)
	}
	story, ok := result.Structured.(domains.Story)
	if !ok {
		t.Fatalf("structured = %T", result.Structured)
	}
	if story.Score != 42 || story.Author != "alice" {
		t.Errorf("structured payload = %+v", story)
	}
	if handler.calls != 1 {
		t.Errorf("handler calls = %d", handler.calls)
	}
}

func TestFetchDomainAPIFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	handler := &shortcutHandler{
		host: u.Hostname(),
		outcome: []func() (*models.FetchResult, error){
			func() (*models.FetchResult, error) { return nil, fmt.Errorf("api down") },
			func() (*models.FetchResult, error) { return storyResult(srv.URL) },
		},
	}

	c := New(CoreOptions{Registry: domains.NewRegistryWith(handler)})
	c.tlsRung = nil

	result, err := c.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Method != models.MethodDomainAPIFallback {
		t.Errorf("method = %q", result.Method)
	}
	if handler.calls != 2 {
		t.Errorf("handler calls = %d, want shortcut try + fallback", handler.calls)
	}
}

type namedFetcher struct{ name string }

func (f *namedFetcher) Name() string { return f.name }
func (f *namedFetcher) Fetch(ctx context.Context, req *fetch.Request) (*models.FetchResult, error) {
	return nil, models.NewNetworkError("unused", nil)
}

func TestRungSelection(t *testing.T) {
	c := New(CoreOptions{})
	c.simple = &namedFetcher{name: "simple"}
	c.browserRung = &namedFetcher{name: "browser"}
	c.stealthRung = &namedFetcher{name: "stealth"}
	c.tlsRung = &namedFetcher{name: "tls"}

	cases := []struct {
		name string
		opts models.PeelOptions
		want []string
	}{
		{"default", models.PeelOptions{}, []string{"simple", "browser", "stealth", "tls"}},
		{"render", models.PeelOptions{Render: true}, []string{"browser", "stealth", "tls"}},
		{"screenshot", models.PeelOptions{Screenshot: true}, []string{"browser", "stealth", "tls"}},
		{"stealth", models.PeelOptions{Stealth: true}, []string{"stealth", "tls"}},
		{"cloaked", models.PeelOptions{Cloaked: true}, []string{"tls"}},
		{"soft-limited", models.PeelOptions{SoftLimited: true}, []string{"simple"}},
	}
	for _, tc := range cases {
		got := c.rungs(&tc.opts)
		if len(got) != len(tc.want) {
			t.Errorf("%s: %d rungs, want %d", tc.name, len(got), len(tc.want))
			continue
		}
		for i := range got {
			if got[i].Name() != tc.want[i] {
				t.Errorf("%s: rung %d = %q, want %q", tc.name, i, got[i].Name(), tc.want[i])
			}
		}
	}

	// Without a browser the rendering rungs vanish from the ladder.
	c.browserRung = nil
	c.stealthRung = nil
	got := c.rungs(&models.PeelOptions{})
	if len(got) != 2 || got[0].Name() != "simple" || got[1].Name() != "tls" {
		t.Errorf("browserless ladder = %v", names(got))
	}
}

func names(fetchers []fetch.Fetcher) []string {
	out := make([]string, len(fetchers))
	for i, f := range fetchers {
		out[i] = f.Name()
	}
	return out
}

func TestFetchMany(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	c := newTestCore(t, false)
	urls := []string{srv.URL + "/a", "not a url at all", srv.URL + "/b"}

	results := c.FetchMany(context.Background(), urls, nil, 2)
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Error != nil || results[2].Error != nil {
		t.Errorf("good urls failed: %v / %v", results[0].Error, results[2].Error)
	}
	if results[1].Error == nil {
		t.Error("bad url did not carry an error")
	}
	if results[1].URL != urls[1] {
		t.Errorf("results not index-aligned: %q", results[1].URL)
	}
	if results[0].Tokens <= 0 {
		t.Errorf("batch item has no content: %+v", results[0])
	}
}

func TestFreshEnough(t *testing.T) {
	now := time.Now().UTC()
	recent := &models.PeelResult{FetchedAt: now.Add(-10 * time.Second)}
	old := &models.PeelResult{FetchedAt: now.Add(-10 * time.Minute)}
	unstamped := &models.PeelResult{}

	noLimit := &models.PeelOptions{}
	if !freshEnough(old, noLimit) {
		t.Error("without max_age every cached result is fresh")
	}

	window := &models.PeelOptions{MaxAge: 60_000} // 1 minute
	if !freshEnough(recent, window) {
		t.Error("recent result rejected")
	}
	if freshEnough(old, window) {
		t.Error("stale result accepted")
	}
	if freshEnough(unstamped, window) {
		t.Error("unstamped result accepted under max_age")
	}
}

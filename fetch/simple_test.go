package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/urlutil"
)

func TestMain(m *testing.M) {
	urlutil.AllowLocal = true // httptest servers bind to loopback
	os.Exit(m.Run())
}

const articleHTML = `<html><head><title>Test Article</title></head><body><article><p>
This is a perfectly ordinary article body with enough visible text that the
empty shell heuristics leave it alone. It keeps going for a while so the
length checks are comfortably satisfied and nothing here resembles a
challenge page in any way whatsoever.
</p></article></body></html>`

func fetchURL(t *testing.T, f *SimpleFetcher, url string) (*models.FetchResult, error) {
	t.Helper()
	return f.Fetch(context.Background(), &Request{URL: url, Timeout: 10 * time.Second})
}

func TestSimpleFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	result, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.StatusCode != 200 {
		t.Errorf("status = %d", result.StatusCode)
	}
	if result.Title != "Test Article" {
		t.Errorf("title = %q", result.Title)
	}
	if result.Method != models.MethodSimple {
		t.Errorf("method = %q", result.Method)
	}
}

func TestSimpleFetchSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	if _, err := fetchURL(t, NewSimpleFetcher(), srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(gotUA, "Chrome/") {
		t.Errorf("user agent %q does not look like Chrome", gotUA)
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Errorf("accept = %q", gotAccept)
	}
}

func TestSimpleFetchRedirectChain(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, srv.URL+"/middle", http.StatusFound)
		case "/middle":
			http.Redirect(w, r, srv.URL+"/end", http.StatusMovedPermanently)
		case "/end":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, articleHTML)
		}
	}))
	defer srv.Close()

	result, err := fetchURL(t, NewSimpleFetcher(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.FinalURL != srv.URL+"/end" {
		t.Errorf("final url = %q, want %q", result.FinalURL, srv.URL+"/end")
	}
}

func TestSimpleFetchTooManyRedirects(t *testing.T) {
	var srv *httptest.Server
	hop := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("%s/hop/%d", srv.URL, hop), http.StatusFound)
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	if err == nil {
		t.Fatal("expected error for endless redirects")
	}
	if !strings.Contains(err.Error(), "too many redirects") {
		t.Errorf("error = %v", err)
	}
}

func TestSimpleFetchRedirectLoop(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a" {
			http.Redirect(w, r, srv.URL+"/b", http.StatusFound)
			return
		}
		http.Redirect(w, r, srv.URL+"/a", http.StatusFound)
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL+"/a")
	if err == nil || !strings.Contains(err.Error(), "redirect loop") {
		t.Fatalf("error = %v, want redirect loop", err)
	}
}

func TestSimpleFetchBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		chunk := strings.Repeat("x", 1<<20)
		for i := 0; i < 11; i++ {
			fmt.Fprint(w, chunk)
		}
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	var pe *models.PeelError
	if !errors.As(err, &pe) || pe.Code != models.ErrCodeTooLarge {
		t.Fatalf("error = %v, want %s", err, models.ErrCodeTooLarge)
	}
}

func TestSimpleFetchBlockedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<html><body>Access denied</body></html>")
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	if models.KindOf(err) != models.KindBlocked {
		t.Fatalf("error kind = %v, want blocked (err=%v)", models.KindOf(err), err)
	}
}

func TestSimpleFetchTinyHTMLBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	if models.KindOf(err) != models.KindBlocked {
		t.Fatalf("error = %v, want blocked for tiny body", err)
	}
}

func TestSimpleFetchUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	_, err := fetchURL(t, NewSimpleFetcher(), srv.URL)
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestSimpleFetchConditionalRevalidation(t *testing.T) {
	const etag = `"v1"`
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f := NewSimpleFetcher()

	first, err := fetchURL(t, f, srv.URL)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.Headers.ETag != etag {
		t.Fatalf("etag not recorded: %q", first.Headers.ETag)
	}

	second, err := fetchURL(t, f, srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second.StatusCode != http.StatusNotModified {
		t.Errorf("second status = %d, want 304", second.StatusCode)
	}
	if string(second.Body) != articleHTML {
		t.Error("304 response did not substitute the cached body")
	}
	if second.Title != "Test Article" {
		t.Errorf("title after 304 = %q", second.Title)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2", requests)
	}
}

func TestSimpleFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	_, err := NewSimpleFetcher().Fetch(context.Background(), &Request{
		URL:     srv.URL,
		Timeout: 100 * time.Millisecond,
	})
	if models.KindOf(err) != models.KindTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
}

func TestAcceptableContentType(t *testing.T) {
	cases := []struct {
		ct   string
		url  string
		want bool
	}{
		{"text/html; charset=utf-8", "https://example.com", true},
		{"application/json", "https://example.com/api", true},
		{"application/pdf", "https://example.com/report", true},
		{"image/png", "https://example.com/logo.png", false},
		{"application/octet-stream", "https://example.com/file.pdf", true},
		{"application/octet-stream", "https://example.com/file.bin", false},
		{"", "https://example.com", true},
	}
	for _, tc := range cases {
		if got := AcceptableContentType(tc.ct, tc.url); got != tc.want {
			t.Errorf("AcceptableContentType(%q, %q) = %v, want %v", tc.ct, tc.url, got, tc.want)
		}
	}
}

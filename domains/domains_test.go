package domains

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		url   string
		match bool
	}{
		{"https://news.ycombinator.com/item?id=12345", true},
		{"https://news.ycombinator.com/newest", false},
		{"https://www.reddit.com/r/golang/comments/abc123/title/", true},
		{"https://www.reddit.com/r/golang/", false},
		{"https://github.com/golang/go", true},
		{"https://github.com/golang/go/issues/1", false},
		{"https://x.com/someone/status/1234567890", true},
		{"https://x.com/someone", false},
		{"https://example.com/article", false},
	}
	for _, tc := range cases {
		got := r.Lookup(tc.url) != nil
		if got != tc.match {
			t.Errorf("Lookup(%q) matched=%v, want %v", tc.url, got, tc.match)
		}
	}
}

func TestHackerNewsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/8863" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"id": 8863,
			"author": "dhouston",
			"title": "My YC app: Dropbox",
			"url": "http://www.getdropbox.com/u/2/screencast.html",
			"points": 111,
			"type": "story",
			"children": [
				{"author": "brett", "text": "<p>This looks genuinely useful.</p>", "children": [
					{"author": "dhouston", "text": "Thanks!", "children": []}
				]}
			]
		}`)
	}))
	defer srv.Close()

	h := NewHackerNews(srv.Client())
	h.baseURL = srv.URL

	result, err := h.Fetch(context.Background(), mustParse(t, "https://news.ycombinator.com/item?id=8863"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	content := string(result.Body)
	for _, want := range []string{
		"# My YC app: Dropbox",
		"111 points by dhouston",
		"## Comments",
		"**brett**: This looks genuinely useful.",
		"  - **dhouston**: Thanks!",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
	if result.Title != "My YC app: Dropbox" {
		t.Errorf("title = %q", result.Title)
	}
}

func TestRedditFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".json") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"data": {"children": [{"data": {
				"title": "Go 1.25 released",
				"author": "gopher",
				"selftext": "The release notes are worth a read.",
				"score": 512,
				"subreddit": "golang"
			}}]}},
			{"data": {"children": [
				{"data": {"author": "critic", "body": "Finally generics settle down.", "score": 40}},
				{"data": {"author": "fan", "body": "Great release.", "score": 12}}
			]}}
		]`)
	}))
	defer srv.Close()

	rd := NewReddit(srv.Client())
	rd.baseURL = srv.URL

	result, err := rd.Fetch(context.Background(), mustParse(t, "https://www.reddit.com/r/golang/comments/xyz/go_125/"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	content := string(result.Body)
	for _, want := range []string{
		"# Go 1.25 released",
		"r/golang · 512 points · by u/gopher",
		"The release notes are worth a read.",
		"**u/critic** (40): Finally generics settle down.",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
}

func TestGitHubFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/golang/go":
			fmt.Fprint(w, `{
				"full_name": "golang/go",
				"description": "The Go programming language",
				"language": "Go",
				"stargazers_count": 120000,
				"forks_count": 17000,
				"open_issues_count": 9000,
				"license": {"name": "BSD 3-Clause"},
				"topics": ["go", "language"]
			}`)
		case "/repos/golang/go/readme":
			if r.Header.Get("Accept") != "application/vnd.github.raw+json" {
				t.Errorf("readme accept header = %q", r.Header.Get("Accept"))
			}
			fmt.Fprint(w, "# The Go Programming Language\n\nGo is an open source language.")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGitHub(srv.Client())
	g.baseURL = srv.URL

	result, err := g.Fetch(context.Background(), mustParse(t, "https://github.com/golang/go"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	content := string(result.Body)
	for _, want := range []string{
		"# golang/go",
		"The Go programming language",
		"120000 stars",
		"BSD 3-Clause",
		"Topics: go, language",
		"Go is an open source language.",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q", want)
		}
	}
}

func TestTwitterFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tweet-result" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("id") != "1234567890123456789" {
			t.Errorf("id = %q", r.URL.Query().Get("id"))
		}
		if r.URL.Query().Get("token") == "" {
			t.Error("token missing")
		}
		fmt.Fprint(w, `{
			"text": "Shipping a new release today. Fingers crossed for the deploy pipeline.",
			"user": {"name": "Some Dev", "screen_name": "somedev"},
			"created_at": "2026-08-01T12:00:00.000Z",
			"favorite_count": 42
		}`)
	}))
	defer srv.Close()

	tw := NewTwitter(srv.Client())
	tw.baseURL = srv.URL

	result, err := tw.Fetch(context.Background(), mustParse(t, "https://x.com/somedev/status/1234567890123456789"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	content := string(result.Body)
	if !strings.Contains(content, "Shipping a new release today") {
		t.Errorf("content missing tweet text:\n%s", content)
	}
	if !strings.Contains(result.Title, "@somedev") {
		t.Errorf("title = %q", result.Title)
	}
}

func TestRegistryFetchThinResultFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "author": "x", "title": "", "points": 0, "children": []}`)
	}))
	defer srv.Close()

	h := NewHackerNews(srv.Client())
	h.baseURL = srv.URL
	r := &Registry{handlers: []Handler{h}}

	result, err := r.Fetch(context.Background(), "https://news.ycombinator.com/item?id=1")
	if err != nil {
		t.Fatalf("thin results must not error: %v", err)
	}
	if result != nil {
		t.Error("thin result should fall through to scraping")
	}
}

func TestSyndicationToken(t *testing.T) {
	tok := syndicationToken("1234567890123456789")
	if tok == "" {
		t.Fatal("empty token")
	}
	if strings.ContainsAny(tok, "0.") {
		t.Errorf("token %q contains stripped characters", tok)
	}
}

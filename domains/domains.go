// Package domains implements API shortcuts for sites whose official or
// semi-official JSON endpoints yield better content than scraping their
// HTML: Hacker News, Reddit, GitHub, and Twitter/X. A shortcut returns
// ready markdown, so the distiller passes it through untouched.
package domains

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webpeel/webpeel/models"
)

// Structured payloads travel inside cached results, which are gob-encoded.
func init() {
	gob.Register(Story{})
	gob.Register(Thread{})
	gob.Register(Repository{})
	gob.Register(Post{})
}

// apiTimeout bounds every shortcut call. Shortcuts are a fast path; a
// slow API is worse than scraping.
const apiTimeout = 15 * time.Second

// minContent is the threshold below which a shortcut result is judged
// useless and the caller falls back to the regular ladder.
const minContent = 50

// Handler is one site's shortcut.
type Handler interface {
	// Match reports whether this handler can serve the URL.
	Match(u *url.URL) bool
	// Fetch returns markdown content for the URL, or an error when the
	// API path does not work out and scraping should proceed.
	Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error)
}

// Registry holds the registered handlers in match order.
type Registry struct {
	handlers []Handler
}

// NewRegistry returns a registry with all built-in shortcuts.
func NewRegistry() *Registry {
	client := &http.Client{Timeout: apiTimeout}
	return NewRegistryWith(
		NewHackerNews(client),
		NewReddit(client),
		NewGitHub(client),
		NewTwitter(client),
	)
}

// NewRegistryWith builds a registry over an explicit handler list.
func NewRegistryWith(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

// Lookup returns the handler for a URL, or nil when no shortcut applies.
func (r *Registry) Lookup(rawURL string) Handler {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	for _, h := range r.handlers {
		if h.Match(u) {
			return h
		}
	}
	return nil
}

// Fetch runs the matching handler. It returns (nil, nil) when no handler
// matches, when the API fails, or when the result is too thin to be
// useful, so the caller can fall through to scraping without branching on
// error kinds.
func (r *Registry) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil
	}
	for _, h := range r.handlers {
		if !h.Match(u) {
			continue
		}
		result, err := h.Fetch(ctx, u)
		if err != nil || result == nil || len(strings.TrimSpace(string(result.Body))) < minContent {
			return nil, nil
		}
		return result, nil
	}
	return nil, nil
}

// apiResult builds the markdown FetchResult every handler returns.
func apiResult(rawURL, title, markdown string) *models.FetchResult {
	return &models.FetchResult{
		Body:        []byte(markdown),
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "text/markdown",
		Title:       title,
		Method:      models.MethodDomainAPI,
	}
}

// getJSON fetches and decodes one API response.
func getJSON(ctx context.Context, client *http.Client, apiURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "webpeel/1.0")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

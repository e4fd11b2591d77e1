package domains

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/webpeel/webpeel/distill"
	"github.com/webpeel/webpeel/models"
)

// HackerNews serves news.ycombinator.com item pages from the Algolia
// mirror, which includes the full comment tree in one call.
type HackerNews struct {
	client  *http.Client
	baseURL string
}

func NewHackerNews(client *http.Client) *HackerNews {
	return &HackerNews{client: client, baseURL: "https://hn.algolia.com/api/v1"}
}

func (h *HackerNews) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host != "news.ycombinator.com" {
		return false
	}
	return u.Path == "/item" && u.Query().Get("id") != ""
}

type hnItem struct {
	ID       int      `json:"id"`
	Author   string   `json:"author"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Text     string   `json:"text"`
	Points   int      `json:"points"`
	Type     string   `json:"type"`
	Children []hnItem `json:"children"`
}

func (h *HackerNews) Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error) {
	id := u.Query().Get("id")

	var item hnItem
	if err := getJSON(ctx, h.client, fmt.Sprintf("%s/items/%s", h.baseURL, id), nil, &item); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	if item.URL != "" {
		fmt.Fprintf(&b, "Link: %s\n\n", item.URL)
	}
	fmt.Fprintf(&b, "%d points by %s\n\n", item.Points, item.Author)
	if item.Text != "" {
		b.WriteString(distill.HTMLToText(item.Text) + "\n\n")
	}

	if len(item.Children) > 0 {
		b.WriteString("## Comments\n\n")
		writeHNComments(&b, item.Children, 0)
	}

	result := apiResult(u.String(), item.Title, b.String())
	result.Structured = Story{
		ID:       item.ID,
		Title:    item.Title,
		URL:      item.URL,
		Score:    item.Points,
		Author:   item.Author,
		Comments: countHNComments(item.Children),
	}
	return result, nil
}

// Story is the structured payload for an aggregator item.
type Story struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Score    int    `json:"score"`
	Author   string `json:"author"`
	Comments int    `json:"comments"`
}

func countHNComments(comments []hnItem) int {
	n := 0
	for _, c := range comments {
		if c.Text != "" {
			n++
		}
		n += countHNComments(c.Children)
	}
	return n
}

// writeHNComments renders the comment tree as nested blockquote-free
// markdown, indenting replies and capping depth to keep output bounded.
func writeHNComments(b *strings.Builder, comments []hnItem, depth int) {
	const maxDepth = 3
	if depth > maxDepth {
		return
	}
	indent := strings.Repeat("  ", depth)
	for _, c := range comments {
		if c.Text == "" {
			continue
		}
		text := strings.ReplaceAll(distill.HTMLToText(c.Text), "\n", " ")
		fmt.Fprintf(b, "%s- **%s**: %s\n", indent, c.Author, text)
		writeHNComments(b, c.Children, depth+1)
	}
	if depth == 0 {
		b.WriteString("\n")
	}
}

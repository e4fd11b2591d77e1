package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/webpeel/webpeel/models"
)

// Reddit serves post pages through the public .json mirror every listing
// and comments page exposes.
type Reddit struct {
	client  *http.Client
	baseURL string
}

func NewReddit(client *http.Client) *Reddit {
	return &Reddit{client: client, baseURL: "https://www.reddit.com"}
}

func (r *Reddit) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	switch host {
	case "reddit.com", "www.reddit.com", "old.reddit.com", "np.reddit.com":
	default:
		return false
	}
	return strings.Contains(u.Path, "/comments/")
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Selftext  string `json:"selftext"`
	URL       string `json:"url"`
	Score     int    `json:"score"`
	Subreddit string `json:"subreddit"`
	Body      string `json:"body"`
	Replies   json.RawMessage `json:"replies"`
}

func (r *Reddit) Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error) {
	path := strings.TrimSuffix(u.Path, "/")
	apiURL := r.baseURL + path + ".json?limit=30"

	var listings []redditListing
	if err := getJSON(ctx, r.client, apiURL, nil, &listings); err != nil {
		return nil, err
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return nil, fmt.Errorf("empty reddit listing")
	}

	post := listings[0].Data.Children[0].Data

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", post.Title)
	fmt.Fprintf(&b, "r/%s · %d points · by u/%s\n\n", post.Subreddit, post.Score, post.Author)
	if post.Selftext != "" {
		b.WriteString(post.Selftext + "\n\n")
	} else if post.URL != "" && !strings.Contains(post.URL, u.Hostname()) {
		fmt.Fprintf(&b, "Link: %s\n\n", post.URL)
	}

	if len(listings) > 1 {
		comments := listings[1].Data.Children
		if len(comments) > 0 {
			b.WriteString("## Comments\n\n")
			count := 0
			for _, c := range comments {
				if c.Data.Body == "" {
					continue
				}
				body := strings.ReplaceAll(c.Data.Body, "\n", " ")
				fmt.Fprintf(&b, "- **u/%s** (%d): %s\n", c.Data.Author, c.Data.Score, body)
				count++
				if count >= 20 {
					break
				}
			}
		}
	}

	result := apiResult(u.String(), post.Title, b.String())
	result.Structured = Thread{
		Title:     post.Title,
		Subreddit: post.Subreddit,
		Score:     post.Score,
		Author:    post.Author,
		URL:       post.URL,
	}
	return result, nil
}

// Thread is the structured payload for a forum post.
type Thread struct {
	Title     string `json:"title"`
	Subreddit string `json:"subreddit"`
	Score     int    `json:"score"`
	Author    string `json:"author"`
	URL       string `json:"url,omitempty"`
}

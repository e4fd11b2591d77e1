package domains

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/webpeel/webpeel/models"
)

// Twitter serves individual tweet pages from the syndication endpoint
// that powers embedded tweets. It needs no credentials, only the token
// derived from the tweet id.
type Twitter struct {
	client  *http.Client
	baseURL string
}

func NewTwitter(client *http.Client) *Twitter {
	return &Twitter{client: client, baseURL: "https://cdn.syndication.twimg.com"}
}

var tweetPath = regexp.MustCompile(`^/[A-Za-z0-9_]+/status/(\d+)`)

func (t *Twitter) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	switch host {
	case "twitter.com", "www.twitter.com", "x.com", "www.x.com", "mobile.twitter.com":
	default:
		return false
	}
	return tweetPath.MatchString(u.Path)
}

type tweet struct {
	Text string `json:"text"`
	User struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	CreatedAt     string  `json:"created_at"`
	FavoriteCount int     `json:"favorite_count"`
	Parent        *tweet  `json:"parent"`
	QuotedTweet   *tweet  `json:"quoted_tweet"`
	Photos        []photo `json:"photos"`
}

type photo struct {
	URL string `json:"url"`
}

func (t *Twitter) Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error) {
	m := tweetPath.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, fmt.Errorf("not a tweet url")
	}
	id := m[1]

	apiURL := fmt.Sprintf("%s/tweet-result?id=%s&token=%s", t.baseURL, id, syndicationToken(id))
	var tw tweet
	if err := getJSON(ctx, t.client, apiURL, nil, &tw); err != nil {
		return nil, err
	}
	if tw.Text == "" {
		return nil, fmt.Errorf("empty tweet payload")
	}

	var b strings.Builder
	title := fmt.Sprintf("%s (@%s) on X", tw.User.Name, tw.User.ScreenName)
	fmt.Fprintf(&b, "# %s\n\n", title)
	if tw.Parent != nil {
		fmt.Fprintf(&b, "Replying to @%s: %s\n\n", tw.Parent.User.ScreenName, tw.Parent.Text)
	}
	b.WriteString(tw.Text + "\n\n")
	if tw.QuotedTweet != nil {
		fmt.Fprintf(&b, "> @%s: %s\n\n", tw.QuotedTweet.User.ScreenName, tw.QuotedTweet.Text)
	}
	for _, p := range tw.Photos {
		fmt.Fprintf(&b, "![photo](%s)\n", p.URL)
	}
	if tw.CreatedAt != "" {
		fmt.Fprintf(&b, "\n%s · %d likes\n", tw.CreatedAt, tw.FavoriteCount)
	}

	result := apiResult(u.String(), title, b.String())
	result.Structured = Post{
		Author:   tw.User.Name,
		Handle:   tw.User.ScreenName,
		Text:     tw.Text,
		Likes:    tw.FavoriteCount,
		PostedAt: tw.CreatedAt,
	}
	return result, nil
}

// Post is the structured payload for a social media post.
type Post struct {
	Author   string `json:"author"`
	Handle   string `json:"handle"`
	Text     string `json:"text"`
	Likes    int    `json:"likes"`
	PostedAt string `json:"posted_at,omitempty"`
}

// syndicationToken derives the access token the endpoint expects from
// the numeric tweet id: (id / 1e15) * pi rendered in base 36, zeros and
// the radix point stripped.
func syndicationToken(id string) string {
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return ""
	}
	v := n / 1e15 * math.Pi

	intPart := int64(v)
	frac := v - float64(intPart)

	var b strings.Builder
	b.WriteString(strconv.FormatInt(intPart, 36))
	// 9 fractional base-36 digits match the precision the endpoint checks.
	for i := 0; i < 9 && frac > 0; i++ {
		frac *= 36
		d := int64(frac)
		b.WriteByte("0123456789abcdefghijklmnopqrstuvwxyz"[d])
		frac -= float64(d)
	}
	return strings.ReplaceAll(b.String(), "0", "")
}

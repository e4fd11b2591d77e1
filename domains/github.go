package domains

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/webpeel/webpeel/models"
)

// GitHub serves repository root pages from the REST API: repo metadata
// plus the rendered-source README, which is markdown already.
type GitHub struct {
	client  *http.Client
	baseURL string
}

func NewGitHub(client *http.Client) *GitHub {
	return &GitHub{client: client, baseURL: "https://api.github.com"}
}

func (g *GitHub) Match(u *url.URL) bool {
	if strings.ToLower(u.Hostname()) != "github.com" {
		return false
	}
	owner, repo, ok := splitRepoPath(u.Path)
	return ok && owner != "" && repo != ""
}

// splitRepoPath accepts exactly /owner/repo; deeper paths (issues, PRs,
// blobs) render better through the regular ladder.
func splitRepoPath(path string) (owner, repo string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type githubRepo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stargazers_count"`
	Forks       int    `json:"forks_count"`
	OpenIssues  int    `json:"open_issues_count"`
	License     struct {
		Name string `json:"name"`
	} `json:"license"`
	Homepage string   `json:"homepage"`
	Topics   []string `json:"topics"`
}

func (g *GitHub) Fetch(ctx context.Context, u *url.URL) (*models.FetchResult, error) {
	owner, repo, _ := splitRepoPath(u.Path)

	var meta githubRepo
	if err := getJSON(ctx, g.client, fmt.Sprintf("%s/repos/%s/%s", g.baseURL, owner, repo), nil, &meta); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", meta.FullName)
	if meta.Description != "" {
		b.WriteString(meta.Description + "\n\n")
	}
	fmt.Fprintf(&b, "⭐ %d stars · %d forks · %d open issues", meta.Stars, meta.Forks, meta.OpenIssues)
	if meta.Language != "" {
		fmt.Fprintf(&b, " · %s", meta.Language)
	}
	if meta.License.Name != "" {
		fmt.Fprintf(&b, " · %s", meta.License.Name)
	}
	b.WriteString("\n\n")
	if meta.Homepage != "" {
		fmt.Fprintf(&b, "Homepage: %s\n\n", meta.Homepage)
	}
	if len(meta.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n\n", strings.Join(meta.Topics, ", "))
	}

	if readme := g.fetchReadme(ctx, owner, repo); readme != "" {
		b.WriteString("---\n\n" + readme + "\n")
	}

	result := apiResult(u.String(), meta.FullName, b.String())
	result.Structured = Repository{
		FullName:    meta.FullName,
		Description: meta.Description,
		Language:    meta.Language,
		Stars:       meta.Stars,
		Forks:       meta.Forks,
		OpenIssues:  meta.OpenIssues,
		Topics:      meta.Topics,
	}
	return result, nil
}

// Repository is the structured payload for a code-host repo page.
type Repository struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Stars       int      `json:"stars"`
	Forks       int      `json:"forks"`
	OpenIssues  int      `json:"open_issues"`
	Topics      []string `json:"topics,omitempty"`
}

// fetchReadme pulls the raw README. Best effort: a repo without one still
// gets the metadata card.
func (g *GitHub) fetchReadme(ctx context.Context, owner, repo string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/%s/readme", g.baseURL, owner, repo), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "webpeel/1.0")
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	return string(body)
}

// Package checkpoint persists crawl progress so an interrupted crawl can
// resume instead of refetching every page. Checkpoints are plain JSON
// files under ~/.webpeel/checkpoints, keyed by a job id derived from the
// crawl parameters: the same crawl always maps to the same file.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CrawlOptions are the parameters that identify a crawl job.
type CrawlOptions struct {
	MaxPages int      `json:"maxPages"`
	MaxDepth int      `json:"maxDepth"`
	Includes []string `json:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
}

// JobID derives the stable job identifier: the first 16 hex characters of
// the SHA-256 over the crawl parameters.
func JobID(startURL string, opts CrawlOptions) string {
	key := strings.Join([]string{
		startURL,
		fmt.Sprintf("%d", opts.MaxPages),
		fmt.Sprintf("%d", opts.MaxDepth),
		strings.Join(opts.Includes, ","),
		strings.Join(opts.Excludes, ","),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// PageStatus records one completed URL.
type PageStatus struct {
	Status        string    `json:"status"`
	ContentLength int       `json:"contentLength"`
	Timestamp     time.Time `json:"timestamp"`
}

// Checkpoint is the full resumable state of one crawl.
type Checkpoint struct {
	JobID          string                `json:"jobId"`
	StartURL       string                `json:"startUrl"`
	Completed      map[string]PageStatus `json:"completed"`
	Pending        []string              `json:"pending"`
	Discovered     []string              `json:"discovered"`
	Options        CrawlOptions          `json:"options"`
	StartedAt      time.Time             `json:"startedAt"`
	LastCheckpoint time.Time             `json:"lastCheckpoint"`
	MaxPages       int                   `json:"maxPages"`
}

// New starts a fresh checkpoint with the start URL queued.
func New(startURL string, opts CrawlOptions) *Checkpoint {
	return &Checkpoint{
		JobID:     JobID(startURL, opts),
		StartURL:  startURL,
		Completed: make(map[string]PageStatus),
		Pending:   []string{startURL},
		Options:   opts,
		StartedAt: time.Now().UTC(),
		MaxPages:  opts.MaxPages,
	}
}

// MarkCompleted moves a URL from pending to completed.
func (c *Checkpoint) MarkCompleted(url, status string, contentLength int) {
	c.Completed[url] = PageStatus{
		Status:        status,
		ContentLength: contentLength,
		Timestamp:     time.Now().UTC(),
	}
	for i, p := range c.Pending {
		if p == url {
			c.Pending = append(c.Pending[:i], c.Pending[i+1:]...)
			break
		}
	}
}

// Discover queues a newly found URL unless it is already known.
func (c *Checkpoint) Discover(url string) {
	if _, done := c.Completed[url]; done {
		return
	}
	for _, p := range c.Pending {
		if p == url {
			return
		}
	}
	c.Pending = append(c.Pending, url)
	c.Discovered = append(c.Discovered, url)
}

// Next returns the next pending URL, or "" when the crawl is drained or
// has hit its page budget.
func (c *Checkpoint) Next() string {
	if len(c.Pending) == 0 {
		return ""
	}
	if c.MaxPages > 0 && len(c.Completed) >= c.MaxPages {
		return ""
	}
	return c.Pending[0]
}

// Store reads and writes checkpoint files in one directory.
type Store struct {
	dir string
}

// NewStore uses the given directory, creating it on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultStore resolves ~/.webpeel/checkpoints.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return NewStore(filepath.Join(home, ".webpeel", "checkpoints")), nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Load reads a checkpoint by job id. A missing file returns (nil, nil):
// there is simply nothing to resume.
func (s *Store) Load(jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", jobID, err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically (temp file + rename) so a crash
// mid-write never corrupts the resumable state.
func (s *Store) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	cp.LastCheckpoint = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, cp.JobID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(cp.JobID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Delete removes a finished job's checkpoint.
func (s *Store) Delete(jobID string) error {
	err := os.Remove(s.path(jobID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

package peel

import (
	"context"
	"sync"

	"github.com/webpeel/webpeel/models"
)

// Batch concurrency bounds. The ceiling protects the browser pool: more
// than maxConcurrency parallel renders just queue on pages anyway.
const (
	defaultConcurrency = 3
	maxConcurrency     = 10
)

// FetchMany fetches a set of URLs with bounded concurrency. The returned
// slice is index-aligned with the input; a failed item carries its error
// detail instead of content, and one bad URL never fails the batch.
func (c *Core) FetchMany(ctx context.Context, urls []string, opts *models.PeelOptions, concurrency int) []*models.PeelResult {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	results := make([]*models.PeelResult, len(urls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Each item gets its own options copy: normalization mutates.
			var itemOpts *models.PeelOptions
			if opts != nil {
				o := *opts
				itemOpts = &o
			}

			result, err := c.Fetch(ctx, rawURL, itemOpts)
			if err != nil {
				result = &models.PeelResult{
					URL:   rawURL,
					Error: models.DetailFor(err, ""),
				}
			}
			results[i] = result
		}(i, rawURL)
	}
	wg.Wait()
	return results
}

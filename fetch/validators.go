package fetch

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/webpeel/webpeel/urlutil"
)

// validatorEntry records the conditional-request validators last seen for
// a normalized URL, plus the 2xx body they validated. The body is what a
// later 304 substitutes, so the caller never sees a Not Modified response.
type validatorEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	ContentType  string
	FinalURL     string
}

// validatorCache is a bounded LRU of conditional validators keyed by
// normalized URL. Keying uses the original request URL, not the
// post-redirect one, so the next request for the same input hits.
type validatorCache struct {
	lru *lru.LRU[string, *validatorEntry]
}

const (
	validatorCacheSize = 512
	validatorCacheTTL  = 30 * time.Minute
)

func newValidatorCache() *validatorCache {
	return &validatorCache{
		lru: lru.NewLRU[string, *validatorEntry](validatorCacheSize, nil, validatorCacheTTL),
	}
}

func (c *validatorCache) get(rawURL string) (*validatorEntry, bool) {
	return c.lru.Get(urlutil.Normalize(rawURL))
}

// record stores validators after a 2xx. Responses without either
// validator header evict any stale entry instead.
func (c *validatorCache) record(rawURL, etag, lastModified string, body []byte, contentType, finalURL string) {
	key := urlutil.Normalize(rawURL)
	if etag == "" && lastModified == "" {
		c.lru.Remove(key)
		return
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	c.lru.Add(key, &validatorEntry{
		ETag:         etag,
		LastModified: lastModified,
		Body:         stored,
		ContentType:  contentType,
		FinalURL:     finalURL,
	})
}

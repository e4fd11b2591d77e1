package fetch

import (
	"context"
	"log/slog"

	"github.com/webpeel/webpeel/models"
)

// Escalator runs the fetch ladder: each rung is tried in order, and only
// a blocked result (or an empty-shell page) advances to the next rung.
// Network and validation failures abort immediately; a transient timeout
// gets exactly one retry on the same rung before counting as fatal.
type Escalator struct {
	Rungs []Fetcher

	// Fallback runs after every rung has failed, if set. It is the
	// domain-API consolation path: its result is returned as-is and its
	// failure is ignored in favor of the ladder's last error.
	Fallback Fetcher

	Logger *slog.Logger
}

// NewEscalator builds an escalator over the given rungs.
func NewEscalator(logger *slog.Logger, rungs ...Fetcher) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{Rungs: rungs, Logger: logger}
}

// Run walks the ladder until a rung succeeds. The returned result carries
// the name of the rung that produced it.
func (e *Escalator) Run(ctx context.Context, req *Request) (*models.FetchResult, error) {
	if len(e.Rungs) == 0 {
		return nil, models.NewNetworkError("no fetch strategies configured", nil)
	}

	var lastErr error
	for i, rung := range e.Rungs {
		if err := ctx.Err(); err != nil {
			return nil, classifyTransportError(err)
		}

		result, err := e.tryRung(ctx, rung, req)
		if err == nil {
			if shell := e.isEmptyShell(result); shell && i < len(e.Rungs)-1 {
				e.Logger.Debug("empty shell detected, escalating",
					"url", req.URL, "method", rung.Name())
				lastErr = models.NewBlockedError("page served a pre-hydration shell")
				continue
			}
			return result, nil
		}

		lastErr = err
		if models.KindOf(err) != models.KindBlocked {
			return nil, err
		}
		e.Logger.Debug("fetch blocked, escalating",
			"url", req.URL, "method", rung.Name(), "error", err)
	}

	if e.Fallback != nil {
		e.Logger.Debug("all strategies exhausted, trying fallback", "url", req.URL)
		if result, err := e.Fallback.Fetch(ctx, req); err == nil && result != nil {
			result.Method = models.MethodDomainAPIFallback
			return result, nil
		}
	}

	return nil, lastErr
}

// tryRung invokes one fetcher, retrying once if the failure was a
// transient timeout and the overall deadline still has room.
func (e *Escalator) tryRung(ctx context.Context, rung Fetcher, req *Request) (*models.FetchResult, error) {
	result, err := rung.Fetch(ctx, req)
	if err == nil {
		return result, nil
	}
	if models.KindOf(err) == models.KindTimeout && ctx.Err() == nil {
		e.Logger.Debug("timeout, retrying once", "url", req.URL, "method", rung.Name())
		return rung.Fetch(ctx, req)
	}
	return nil, err
}

// isEmptyShell reports whether a successful HTML result is an SPA shell
// worth re-fetching with a rendering rung. Non-HTML bodies never qualify.
func (e *Escalator) isEmptyShell(result *models.FetchResult) bool {
	if result == nil || !result.IsHTML() {
		return false
	}
	ch := DetectChallenge(string(result.Body), result.StatusCode)
	return ch.IsChallenge && ch.Type == ChallengeEmptyShell &&
		ch.Confidence >= ChallengeConfidenceThreshold
}

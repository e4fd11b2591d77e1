package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/webpeel/webpeel/browser"
	"github.com/webpeel/webpeel/cache"
)

// HealthResponse reports service liveness and pool pressure.
type HealthResponse struct {
	Status      string           `json:"status"`
	Uptime      string           `json:"uptime"`
	ActivePages int              `json:"active_pages"`
	MaxPages    int              `json:"max_pages"`
	Cache       map[string]int64 `json:"cache,omitempty"`
	Version     string           `json:"version"`
}

// Health returns the handler for GET /v1/health. Both dependencies are
// optional: a browserless or cacheless deployment still reports healthy.
// Status degrades when more than 80% of browser pages are busy.
func Health(mgr *browser.Manager, store *cache.Store, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:  "healthy",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: "0.1.0",
		}
		if mgr != nil {
			active, max := mgr.Stats()
			resp.ActivePages = active
			resp.MaxPages = max
			if max > 0 && active > int(float64(max)*0.8) {
				resp.Status = "degraded"
			}
		}
		if store != nil {
			resp.Cache = store.Stats()
		}
		c.JSON(http.StatusOK, resp)
	}
}

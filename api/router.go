// Package api assembles the HTTP surface over the peel core.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/webpeel/webpeel/api/handler"
	"github.com/webpeel/webpeel/api/middleware"
	"github.com/webpeel/webpeel/browser"
	"github.com/webpeel/webpeel/cache"
	"github.com/webpeel/webpeel/config"
	"github.com/webpeel/webpeel/peel"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(core *peel.Core, mgr *browser.Manager, store *cache.Store, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())

	v1 := r.Group("/v1")

	v1.GET("/health", handler.Health(mgr, store, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/peel", handler.Peel(core))
	protected.POST("/batch", handler.Batch(core))

	return r
}

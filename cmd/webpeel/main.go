package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webpeel/webpeel/api"
	"github.com/webpeel/webpeel/browser"
	"github.com/webpeel/webpeel/cache"
	"github.com/webpeel/webpeel/config"
	"github.com/webpeel/webpeel/peel"
	"github.com/webpeel/webpeel/urlutil"
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)

	slog.Info("webpeel starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	if cfg.Fetch.AllowLocal {
		urlutil.AllowLocal = true
		slog.Warn("SSRF protection disabled (WEBPEEL_ALLOW_LOCAL): local and private targets are fetchable")
	}

	// Browser is best-effort: a host without Chromium still serves the
	// HTTP and TLS rungs.
	var mgr *browser.Manager
	mgr, err := browser.NewManager(browser.Config{
		Headless:     cfg.Browser.Headless,
		NoSandbox:    cfg.Browser.NoSandbox,
		Bin:          cfg.Browser.Bin,
		Proxy:        cfg.Browser.Proxy,
		MaxPages:     cfg.Browser.MaxPages,
		WarmPages:    cfg.Browser.WarmPages,
		QueueTimeout: cfg.Browser.QueueTimeout,
	})
	if err != nil {
		slog.Warn("browser unavailable, rendering rungs disabled", "error", err)
		mgr = nil
	} else {
		defer mgr.Close()
	}

	store, err := cache.New(cache.Options{
		RedisURL:      cfg.Cache.RedisURL,
		MemoryItems:   cfg.Cache.MaxEntries,
		MemoryBytes:   cfg.Cache.MaxBytes,
		MemoryTTL:     cfg.Cache.MemoryTTL,
		RedisTTL:      cfg.Cache.RedisTTL,
		ErrorCooldown: cfg.Cache.ErrorCooldown,
	}, slog.Default())
	if err != nil {
		slog.Error("cache initialization failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Cache.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, running on memory tier only", "error", err)
		}
		cancel()
	}

	core := peel.New(peel.CoreOptions{
		Cache:   store,
		Browser: mgr,
		Logger:  slog.Default(),
	})

	startTime := time.Now()
	router := api.NewRouter(core, mgr, store, cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// mgr.Close() and store.Close() run via defer: the page pool drains
	// and Chromium exits before the process does.
	slog.Info("webpeel stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

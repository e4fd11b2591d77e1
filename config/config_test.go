package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.Browser.Headless {
		t.Error("headless should default to true")
	}
	if cfg.Browser.MaxPages != 5 || cfg.Browser.WarmPages != 3 {
		t.Errorf("pool sizing = %d/%d", cfg.Browser.MaxPages, cfg.Browser.WarmPages)
	}
	if cfg.Cache.ErrorCooldown != 30*time.Second {
		t.Errorf("error cooldown = %v", cfg.Cache.ErrorCooldown)
	}
	if cfg.Fetch.AllowLocal {
		t.Error("allow_local must default to off")
	}
	if cfg.Cache.MaxBytes != 256<<20 {
		t.Errorf("cache bytes = %d", cfg.Cache.MaxBytes)
	}
	if cfg.Auth.Enabled {
		t.Error("auth should be off with no keys configured")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBPEEL_PORT", "9090")
	t.Setenv("WEBPEEL_HEADLESS", "false")
	t.Setenv("WEBPEEL_API_KEYS", "key-a, key-b,")
	t.Setenv("WEBPEEL_QUEUE_TIMEOUT", "10s")
	t.Setenv("DEBUG", "1")

	cfg := Load()

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Browser.Headless {
		t.Error("headless override ignored")
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1] != "key-b" {
		t.Errorf("api keys = %v", cfg.Auth.APIKeys)
	}
	if !cfg.Auth.Enabled {
		t.Error("auth should enable itself when keys are present")
	}
	if cfg.Browser.QueueTimeout != 10*time.Second {
		t.Errorf("queue timeout = %v", cfg.Browser.QueueTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("DEBUG=1 should force debug level, got %q", cfg.Log.Level)
	}
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("WEBPEEL_PORT", "not-a-number")
	t.Setenv("WEBPEEL_HEADLESS", "maybe")
	t.Setenv("WEBPEEL_QUEUE_TIMEOUT", "soon")

	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("bad int should fall back, got %d", cfg.Server.Port)
	}
	if !cfg.Browser.Headless {
		t.Error("bad bool should fall back")
	}
	if cfg.Browser.QueueTimeout != 30*time.Second {
		t.Errorf("bad duration should fall back, got %v", cfg.Browser.QueueTimeout)
	}
}

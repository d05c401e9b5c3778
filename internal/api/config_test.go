package api

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.ListenAddr != ":8080" || cfg.RateLimitWrite != 120 || cfg.LogFormat != "json" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TILL_SYNC_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("TILL_SYNC_DB_PATH", "/tmp/x.db")
	t.Setenv("TILL_SYNC_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("TILL_SYNC_RATE_LIMIT", "7")
	t.Setenv("TILL_SYNC_RATE_LIMIT_EVENT_RETENTION", "3d")
	t.Setenv("TILL_SYNC_CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test")

	cfg := LoadConfig()
	if cfg.ListenAddr != "127.0.0.1:9999" || cfg.DBPath != "/tmp/x.db" {
		t.Errorf("addr/db = %q %q", cfg.ListenAddr, cfg.DBPath)
	}
	if cfg.ShutdownTimeout != 5*time.Second || cfg.RateLimitWrite != 7 {
		t.Errorf("timeout/limit = %v %d", cfg.ShutdownTimeout, cfg.RateLimitWrite)
	}
	if cfg.RateLimitEventRetention != 72*time.Hour {
		t.Errorf("retention = %v", cfg.RateLimitEventRetention)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.test" {
		t.Errorf("origins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestParseDaysDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"90d": 90 * 24 * time.Hour,
		"2h":  2 * time.Hour,
		"bad": 0,
		"0d":  0,
	}
	for in, want := range tests {
		if got := parseDaysDuration(in); got != want {
			t.Errorf("parseDaysDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.CORSAllowedOrigins = []string{"https://office.test"} })

	req, _ := http.NewRequest("OPTIONS", h.BaseURL+"/v1/products", nil)
	req.Header.Set("Origin", "https://office.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "https://office.test" {
		t.Errorf("allow-origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest("GET", h.BaseURL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS headers")
	}
}

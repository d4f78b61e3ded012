package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.json"))

	if cfg.ListenPort != 8080 {
		t.Errorf("ListenPort %d, want 8080", cfg.ListenPort)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel %q, want INFO", cfg.LogLevel)
	}
	if !cfg.CacheEnabled {
		t.Error("Cache should default to enabled")
	}
	if cfg.ResolveCacheTTL != 10*time.Minute {
		t.Errorf("ResolveCacheTTL %s, want 10m", cfg.ResolveCacheTTL)
	}
	if cfg.UpstreamTimeout >= cfg.GatewayTimeout {
		t.Errorf("Per-attempt timeout %s must sit inside the gateway ceiling %s", cfg.UpstreamTimeout, cfg.GatewayTimeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent must never be empty")
	}
	if cfg.WorkerThreads <= 0 || cfg.ProviderRate <= 0 {
		t.Errorf("Pool sizing defaults missing: threads=%d rate=%d", cfg.WorkerThreads, cfg.ProviderRate)
	}
	if cfg.RelayAddr() != "" {
		t.Errorf("No relay host configured, got addr %q", cfg.RelayAddr())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"baseURL": "https://gate.example",
		"listenPort": 9090,
		"logLevel": "DEBUG",
		"relayHost": "relay.internal",
		"relayPort": 9050,
		"relayBlocklist": ["blocked-cdn.example"],
		"embedAllowHosts": ["trusted.example"],
		"cacheEnabled": true,
		"resolveCacheTTL": "30m",
		"resolveTimeout": "5s"
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Write config: %v", err)
	}

	cfg := Load(path)

	if cfg.BaseURL != "https://gate.example" {
		t.Errorf("BaseURL %q", cfg.BaseURL)
	}
	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort %d", cfg.ListenPort)
	}
	if cfg.RelayAddr() != "relay.internal:9050" {
		t.Errorf("RelayAddr %q", cfg.RelayAddr())
	}
	if len(cfg.RelayBlocklist) != 1 || cfg.RelayBlocklist[0] != "blocked-cdn.example" {
		t.Errorf("RelayBlocklist %v", cfg.RelayBlocklist)
	}
	if cfg.ResolveCacheTTL != 30*time.Minute {
		t.Errorf("ResolveCacheTTL %s, want parsed 30m", cfg.ResolveCacheTTL)
	}
	if cfg.ResolveTimeout != 5*time.Second {
		t.Errorf("ResolveTimeout %s, want parsed 5s", cfg.ResolveTimeout)
	}
	// unset durations still get backfilled
	if cfg.UpstreamTimeout != 15*time.Second {
		t.Errorf("UpstreamTimeout %s, want default 15s", cfg.UpstreamTimeout)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"listenPort": 1234, "resolveCacheTTL": "soon"}`), 0644); err != nil {
		t.Fatalf("Write config: %v", err)
	}

	cfg := Load(path)

	// the whole file is rejected, not just the bad field
	if cfg.ListenPort != 8080 {
		t.Errorf("ListenPort %d, want default after invalid file", cfg.ListenPort)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STREAMGATE_BASE_URL", "https://env.example")
	t.Setenv("STREAMGATE_RELAY_HOST", "10.0.0.5")
	t.Setenv("STREAMGATE_RELAY_PORT", "1081")
	t.Setenv("STREAMGATE_RESOLVE_CACHE_TTL", "45m")

	cfg := Load("")

	if cfg.BaseURL != "https://env.example" {
		t.Errorf("BaseURL %q", cfg.BaseURL)
	}
	if cfg.RelayAddr() != "10.0.0.5:1081" {
		t.Errorf("RelayAddr %q", cfg.RelayAddr())
	}
	if cfg.ResolveCacheTTL != 45*time.Minute {
		t.Errorf("ResolveCacheTTL %s", cfg.ResolveCacheTTL)
	}
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	if err := CreateExampleConfig(path); err != nil {
		t.Fatalf("CreateExampleConfig: %v", err)
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("Example config does not load: %v", err)
	}
	if cfg.BaseURL == "" || cfg.ResolveCacheTTL != 10*time.Minute {
		t.Errorf("Example config parsed oddly: %+v", cfg)
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration values for the stream gateway.
// It covers the relay egress, cache backends, resolver behavior, and the HTTP
// surface. A Config is constructed once by Load and passed by reference to
// whatever needs it; there is no package-level cached instance.
type Config struct {
	BaseURL         string        // Public base URL of this service, used when rewriting manifests to absolute proxy URLs
	ListenPort      int           // Port the HTTP server binds to
	LogLevel        string        // Log level: DEBUG, INFO, WARN, ERROR
	Debug           bool          // Enable debug logging
	ObfuscateUrls   bool          // Obfuscate upstream URLs in logs
	UserAgent       string        // User-Agent presented to upstream hosts
	RelayHost       string        // SOCKS5 relay host; empty disables the relay egress
	RelayPort       int           // SOCKS5 relay port
	RelayBlocklist  []string      // Hostname fragments that must always egress through the relay
	EmbedAllowHosts []string      // Hosts known to impose no embedding restriction (CSP-bypass passthrough)
	RedisURL        string        // Shared cache store URL; empty falls back to the in-process cache
	CacheEnabled    bool          // Whether caching is enabled globally
	ResolveCacheTTL time.Duration // Lifetime for memoized resolver results
	SearchBaseURL   string        // Upstream listing site base URL (collaborator-facing)
	SearchBaseTTL   time.Duration // Refresh interval for the search base URL
	ResolveTimeout  time.Duration // Per network call timeout during resolution
	UpstreamTimeout time.Duration // Per attempt timeout for gateway upstream fetches
	GatewayTimeout  time.Duration // Hard ceiling on a full gateway request including the escalation retry
	WorkerThreads   int           // Size of the resolver worker pool
	ProviderRate    int           // Upstream requests per second allowed per provider
}

// ConfigFile mirrors Config for JSON marshaling; duration fields are strings
// (e.g. "30m") parsed into time.Duration during conversion.
type ConfigFile struct {
	BaseURL         string   `json:"baseURL"`
	ListenPort      int      `json:"listenPort"`
	LogLevel        string   `json:"logLevel"`
	Debug           bool     `json:"debug"`
	ObfuscateUrls   bool     `json:"obfuscateUrls"`
	UserAgent       string   `json:"userAgent"`
	RelayHost       string   `json:"relayHost"`
	RelayPort       int      `json:"relayPort"`
	RelayBlocklist  []string `json:"relayBlocklist"`
	EmbedAllowHosts []string `json:"embedAllowHosts"`
	RedisURL        string   `json:"redisURL"`
	CacheEnabled    bool     `json:"cacheEnabled"`
	ResolveCacheTTL string   `json:"resolveCacheTTL"`  // Duration as string (e.g., "10m")
	SearchBaseURL   string   `json:"searchBaseURL"`
	SearchBaseTTL   string   `json:"searchBaseTTL"`    // Duration as string (e.g., "1h")
	ResolveTimeout  string   `json:"resolveTimeout"`   // Duration as string (e.g., "10s")
	UpstreamTimeout string   `json:"upstreamTimeout"`  // Duration as string (e.g., "15s")
	GatewayTimeout  string   `json:"gatewayTimeout"`   // Duration as string (e.g., "30s")
	WorkerThreads   int      `json:"workerThreads"`
	ProviderRate    int      `json:"providerRate"`
}

// Load builds the configuration from the JSON file at path, falling back to
// defaults when the file is missing or invalid, then applies environment
// overrides and validation. It never fails; a misconfigured deployment still
// comes up with safe defaults and logs what happened.
func Load(path string) *Config {
	cfg, err := loadFromFile(path)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", path, err)
		log.Printf("Falling back to default configuration...")
		cfg = defaultConfig()
	}

	applyEnvOverrides(cfg)
	validateAndSetDefaults(cfg)

	return cfg
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left zero so validation can backfill defaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		BaseURL:         cf.BaseURL,
		ListenPort:      cf.ListenPort,
		LogLevel:        cf.LogLevel,
		Debug:           cf.Debug,
		ObfuscateUrls:   cf.ObfuscateUrls,
		UserAgent:       cf.UserAgent,
		RelayHost:       cf.RelayHost,
		RelayPort:       cf.RelayPort,
		RelayBlocklist:  cf.RelayBlocklist,
		EmbedAllowHosts: cf.EmbedAllowHosts,
		RedisURL:        cf.RedisURL,
		CacheEnabled:    cf.CacheEnabled,
		SearchBaseURL:   cf.SearchBaseURL,
		WorkerThreads:   cf.WorkerThreads,
		ProviderRate:    cf.ProviderRate,
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cf.ResolveCacheTTL, &cfg.ResolveCacheTTL, "resolveCacheTTL"},
		{cf.SearchBaseTTL, &cfg.SearchBaseTTL, "searchBaseTTL"},
		{cf.ResolveTimeout, &cfg.ResolveTimeout, "resolveTimeout"},
		{cf.UpstreamTimeout, &cfg.UpstreamTimeout, "upstreamTimeout"},
		{cf.GatewayTimeout, &cfg.GatewayTimeout, "gatewayTimeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the knobs that are
// conventionally injected through the process environment rather than the
// config file: relay endpoint, shared store, and upstream base URLs.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STREAMGATE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STREAMGATE_RELAY_HOST"); v != "" {
		cfg.RelayHost = v
	}
	if v := os.Getenv("STREAMGATE_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.RelayPort = port
		}
	}
	if v := os.Getenv("STREAMGATE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("STREAMGATE_SEARCH_BASE_URL"); v != "" {
		cfg.SearchBaseURL = v
	}
	if v := os.Getenv("STREAMGATE_RESOLVE_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.ResolveCacheTTL = ttl
		}
	}
}

// defaultConfig returns a baseline configuration with sensible defaults when
// no file is present.
func defaultConfig() *Config {
	return &Config{
		BaseURL:         "",
		ListenPort:      8080,
		LogLevel:        "INFO",
		Debug:           false,
		ObfuscateUrls:   false,
		CacheEnabled:    true,
		ResolveCacheTTL: 10 * time.Minute,
		SearchBaseTTL:   time.Hour,
		ResolveTimeout:  10 * time.Second,
		UpstreamTimeout: 15 * time.Second,
		GatewayTimeout:  30 * time.Second,
		WorkerThreads:   8,
		ProviderRate:    5,
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(cfg *Config) {
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if cfg.RelayPort <= 0 {
		cfg.RelayPort = 1080
	}
	if cfg.ResolveCacheTTL <= 0 {
		cfg.ResolveCacheTTL = 10 * time.Minute
	}
	if cfg.SearchBaseTTL <= 0 {
		cfg.SearchBaseTTL = time.Hour
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 10 * time.Second
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 15 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 8
	}
	if cfg.ProviderRate <= 0 {
		cfg.ProviderRate = 5
	}
}

// RelayAddr returns the host:port of the SOCKS5 relay, or an empty string
// when no relay is configured.
func (c *Config) RelayAddr() string {
	if c.RelayHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RelayHost, c.RelayPort)
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:         "http://localhost:8080",
		ListenPort:      8080,
		LogLevel:        "INFO",
		Debug:           false,
		ObfuscateUrls:   true,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		RelayHost:       "127.0.0.1",
		RelayPort:       1080,
		RelayBlocklist:  []string{"cloudfront.net", "akamaized.net", "vmeas.cloud"},
		EmbedAllowHosts: []string{"megacloud.tv", "rabbitstream.net"},
		RedisURL:        "redis://localhost:6379/0",
		CacheEnabled:    true,
		ResolveCacheTTL: "10m",
		SearchBaseURL:   "https://example-listing.site",
		SearchBaseTTL:   "1h",
		ResolveTimeout:  "10s",
		UpstreamTimeout: "15s",
		GatewayTimeout:  "30s",
		WorkerThreads:   8,
		ProviderRate:    5,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

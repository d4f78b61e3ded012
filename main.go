package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamgate/work/cache"
	"streamgate/work/client"
	"streamgate/work/config"
	"streamgate/work/gateway"
	"streamgate/work/handlers"
	"streamgate/work/logger"
	"streamgate/work/middleware"
	"streamgate/work/relay"
	"streamgate/work/resolver"
	"streamgate/work/rewrite"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	configPath := os.Getenv("STREAMGATE_CONFIG")
	if configPath == "" {
		configPath = "/config/config.json"
	}
	cfg := config.Load(configPath)

	// set up logging
	logger.SetLogLevel(cfg.LogLevel)

	// initialize the cache layer
	cacheInstance := cache.New(cfg.RedisURL, cfg.CacheEnabled)
	defer cacheInstance.Close()

	// initialize the HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// relay routing policy
	policy := relay.NewPolicy(cfg.RelayBlocklist)

	// manifest rewriter, anchored at our public base URL
	rewriter := rewrite.NewRewriter(strings.TrimRight(cfg.BaseURL, "/"))

	// create the resolver and gateway instances
	resolverInstance := resolver.New(cfg, httpClient, cacheInstance, workerPool)
	gatewayInstance := gateway.New(cfg, httpClient, policy, rewriter)

	// setup HTTP routes
	router := mux.NewRouter()

	// proxied media fetches
	router.HandleFunc("/proxy", handlers.HandleProxy(gatewayInstance)).Methods("GET", "OPTIONS")

	// batch stream resolution
	router.HandleFunc("/api/resolve", middleware.Gzip(handlers.HandleResolve(resolverInstance))).Methods("POST")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// liveness probe
	router.HandleFunc("/health", handlers.HandleHealth()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting StreamGate %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Relay: %s", relayInfo(cfg))
	logger.Info("  - Relay Blocklist Entries: %d", len(cfg.RelayBlocklist))
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Resolve Cache TTL: %s", cfg.ResolveCacheTTL)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}

// relayInfo renders the relay endpoint for the startup banner without
// pretending one exists when none is configured.
func relayInfo(cfg *config.Config) string {
	if addr := cfg.RelayAddr(); addr != "" {
		return "socks5://" + addr
	}
	return "disabled"
}

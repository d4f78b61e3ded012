package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyRequests counts gateway requests by final status class (2xx, 4xx, ...).
// This metric is a counter and only increases.
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_proxy_requests_total",
	Help: "Number of proxy gateway requests",
}, []string{"status_class"})

// RelayEscalations counts 403 responses that triggered the forced-relay retry.
var RelayEscalations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "streamgate_relay_escalations_total",
	Help: "Number of blocked upstream responses retried through the relay",
})

// UpstreamErrors counts upstream fetch failures per stage: "transport"
// (dial/read failed), "status" (upstream answered >= 400), "body" (manifest
// body read failed).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_upstream_errors_total",
	Help: "Number of upstream fetch failures",
}, []string{"stage"})

// ResolveOutcomes counts resolver results per provider and outcome kind
// ("hls", "embed", "suppressed").
var ResolveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_resolve_outcomes_total",
	Help: "Number of resolved embed sources by outcome",
}, []string{"provider", "kind"})

// CacheLookups counts cache lookups per backend and result ("hit"/"miss").
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_cache_lookups_total",
	Help: "Number of cache lookups",
}, []string{"backend", "result"})

// ManifestRewrites counts rewritten playlists by kind ("master"/"media").
var ManifestRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamgate_manifest_rewrites_total",
	Help: "Number of HLS playlists rewritten by the gateway",
}, []string{"kind"})

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"streamgate/work/client"
	"streamgate/work/config"
	"streamgate/work/logger"
	"streamgate/work/metrics"
	"streamgate/work/relay"
	"streamgate/work/rewrite"
	"streamgate/work/utils"
)

// maxManifestBytes bounds how much of a playlist response is buffered for
// rewriting. Real manifests are a few KB; anything near this limit is not a
// playlist no matter what the headers claim.
const maxManifestBytes = 10 << 20

// forcedRelayTTL is how long a host stays on the forced-relay memo after a
// direct fetch came back 403. Blocks are per-network and sticky, so probing
// again on every request just burns a round trip.
const forcedRelayTTL = time.Hour

// Gateway fronts upstream CDNs for media collaborators. It fetches segments
// and manifests on their behalf with the right identity headers, decides per
// host whether egress goes direct or through the relay, and rewrites
// manifests so every URL inside them points back at this gateway.
type Gateway struct {
	Config     *config.Config
	HttpClient *client.HeaderSettingClient
	Policy     *relay.Policy
	Rewriter   *rewrite.Rewriter

	// hosts that answered 403 on direct egress, value is memo expiry
	forcedRelay *xsync.MapOf[string, time.Time]
}

// New creates a Gateway wired to the shared client and relay policy.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, policy *relay.Policy, rewriter *rewrite.Rewriter) *Gateway {
	return &Gateway{
		Config:      cfg,
		HttpClient:  httpClient,
		Policy:      policy,
		Rewriter:    rewriter,
		forcedRelay: xsync.NewMapOf[string, time.Time](),
	}
}

// ServeProxy handles one proxied fetch. Query parameters: url (required,
// the upstream target) and referer (optional, forwarded upstream and
// propagated into rewritten manifest URLs).
func (g *Gateway) ServeProxy(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		metrics.ProxyRequests.WithLabelValues("4xx").Inc()
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Host == "" || (targetURL.Scheme != "http" && targetURL.Scheme != "https") {
		metrics.ProxyRequests.WithLabelValues("4xx").Inc()
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	referer := r.URL.Query().Get("referer")

	ctx, cancel := context.WithTimeout(r.Context(), g.Config.GatewayTimeout)
	defer cancel()

	resp, err := g.fetchUpstream(ctx, targetURL, referer)
	if err != nil {
		logger.Warn("{gateway - ServeProxy} Upstream fetch failed for %s: %v",
			utils.LogURL(g.Config, target), err)
		metrics.ProxyRequests.WithLabelValues("5xx").Inc()
		metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// mirror upstream errors with a short body and none of the upstream
	// headers; leaking their Set-Cookie or WWW-Authenticate helps nobody
	if resp.StatusCode >= 400 {
		metrics.ProxyRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
		http.Error(w, fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode), resp.StatusCode)
		return
	}

	// redirects may have moved us; relative manifest entries resolve
	// against where the bytes actually came from
	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	contentType := utils.GuessContentType(finalURL, resp.Header.Get("Content-Type"))

	if utils.IsPlaylistResponse(contentType, finalURL) {
		g.servePlaylist(w, resp, finalURL, referer, contentType)
		return
	}

	w.Header().Set("Content-Type", contentType)
	// segments are immutable once published, let intermediaries reuse them
	w.Header().Set("Cache-Control", "public, max-age=300")
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// collaborator players tear down connections constantly, not an error worth more than debug
		logger.Debug("{gateway - ServeProxy} Copy interrupted for %s: %v",
			utils.LogURL(g.Config, target), err)
	}

	metrics.ProxyRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
}

// fetchUpstream performs the upstream request, choosing egress from the
// relay policy and the forced-relay memo, and escalating once on a 403:
// rebuild headers, synthesizing a referer from the target's own origin when
// the caller supplied none, and force the retry through the relay. The only
// 403 that is final on the first attempt is one where the retry would repeat
// the identical request (already relayed, referer already present).
func (g *Gateway) fetchUpstream(ctx context.Context, targetURL *url.URL, referer string) (*http.Response, error) {
	target := targetURL.String()
	relayed := g.Policy.ShouldRelay(target) || g.hostForcedToRelay(targetURL.Hostname())

	resp, err := g.attempt(ctx, target, relayed, referer)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if relayed && referer != "" {
		// nothing left to change on a retry
		return resp, nil
	}

	// a 403 usually means a geo or referer wall; retry once through the
	// relay with a referer synthesized from the target's own origin when
	// the caller supplied none
	resp.Body.Close()

	retryReferer := referer
	if retryReferer == "" {
		retryReferer = targetURL.Scheme + "://" + targetURL.Host + "/"
	}

	logger.Info("{gateway - fetchUpstream} Fetch of %s returned 403, escalating through relay",
		utils.LogURL(g.Config, target))
	metrics.RelayEscalations.Inc()
	if !relayed {
		// direct egress is what this host rejects; relayed 403s say
		// nothing about direct reachability
		g.forcedRelay.Store(targetURL.Hostname(), time.Now().Add(forcedRelayTTL))
	}

	return g.attempt(ctx, target, true, retryReferer)
}

// attempt performs a single upstream fetch with the per-attempt timeout.
func (g *Gateway) attempt(ctx context.Context, target string, relayed bool, referer string) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.Config.UpstreamTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := g.HttpClient.DoVia(req, relayed, originOf(referer), referer)
	if err != nil {
		cancel()
		return nil, err
	}

	// tie the context's lifetime to the body so streaming copies outlive
	// this call but still stop at the gateway ceiling
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// servePlaylist buffers a manifest response, rewrites every URL in it to
// point back through the gateway, and serves the result with a cache policy
// suited to the playlist kind.
func (g *Gateway) servePlaylist(w http.ResponseWriter, resp *http.Response, finalURL, referer, contentType string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		logger.Warn("{gateway - servePlaylist} Reading manifest %s failed: %v",
			utils.LogURL(g.Config, finalURL), err)
		metrics.ProxyRequests.WithLabelValues("5xx").Inc()
		metrics.UpstreamErrors.WithLabelValues("body").Inc()
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	rewritten := g.Rewriter.Rewrite(string(body), finalURL, referer)

	kind := rewrite.PlaylistKind(body)
	metrics.ManifestRewrites.WithLabelValues(kind).Inc()

	// media playlists describe a sliding live window and go stale in
	// seconds; master playlists are near-static
	if kind == "master" {
		w.Header().Set("Cache-Control", "public, max-age=60")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=2")
	}

	// upstreams routinely label manifests text/html or octet-stream; the
	// player needs the HLS type regardless
	if !strings.Contains(strings.ToLower(contentType), "mpegurl") {
		contentType = "application/vnd.apple.mpegurl"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rewritten)); err != nil {
		logger.Debug("{gateway - servePlaylist} Writing manifest response failed: %v", err)
	}

	metrics.ProxyRequests.WithLabelValues("2xx").Inc()
}

// hostForcedToRelay reports whether host has an unexpired forced-relay memo,
// clearing expired entries as a side effect.
func (g *Gateway) hostForcedToRelay(host string) bool {
	expiry, ok := g.forcedRelay.Load(host)
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		g.forcedRelay.Delete(host)
		return false
	}
	return true
}

// setCORSHeaders marks responses as usable from any collaborator origin.
// The gateway serves media to browser players, so this applies to every
// response including errors.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

// originOf derives the Origin header value from a referer URL, returning
// empty when there is no referer to derive from.
func originOf(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// statusClass collapses a status code into its class label for metrics.
func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// cancelReadCloser releases a request context when the body closes.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"streamgate/work/cache"
	"streamgate/work/client"
	"streamgate/work/config"
	"streamgate/work/logger"
	"streamgate/work/metrics"
	"streamgate/work/types"
	"streamgate/work/utils"
)

// maxEmbedPageBytes bounds how much of an embed page is read. Hostile hosts
// occasionally answer with unbounded junk.
const maxEmbedPageBytes = 2 << 20

// Resolver turns collaborator-supplied embed sources into playable stream
// descriptors. Each source is resolved independently and concurrently through
// a bounded worker pool; one provider being slow or broken never delays or
// aborts the others. Results are memoized through the shared cache layer so
// repeated lookups for the same episode don't re-scrape the provider.
type Resolver struct {
	Config     *config.Config
	HttpClient *client.HeaderSettingClient
	Cache      *cache.Cache
	WorkerPool *ants.Pool

	registry map[string]Strategy
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// resolveRecord is the cached envelope for one source's outcome. Suppressed
// results (known-unembeddable providers) need an explicit marker so a cached
// suppression isn't mistaken for a miss.
type resolveRecord struct {
	Suppressed bool                  `json:"suppressed"`
	Stream     *types.ResolvedStream `json:"stream,omitempty"`
}

// New creates a Resolver with the default provider strategy table. Additional
// providers register through Register without touching dispatch logic.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, cacheInstance *cache.Cache, workerPool *ants.Pool) *Resolver {
	r := &Resolver{
		Config:     cfg,
		HttpClient: httpClient,
		Cache:      cacheInstance,
		WorkerPool: workerPool,
		registry:   make(map[string]Strategy),
		limiters:   xsync.NewMapOf[string, ratelimit.Limiter](),
	}

	r.Register("FILEMOON", &tokenStrategy{})
	r.Register("STREAMWISH", &scrapeStrategy{})
	r.Register("CAST", &castStrategy{allowHosts: cfg.EmbedAllowHosts})
	r.Register("VOE", &unembeddableStrategy{})

	return r
}

// Register binds a provider key (matched case-insensitively) to a strategy.
func (r *Resolver) Register(provider string, s Strategy) {
	r.registry[strings.ToUpper(provider)] = s
}

// Resolve resolves every source concurrently and joins all outcomes. The
// returned slice preserves input order and contains at most one entry per
// source; entries are absent only for sources a strategy explicitly
// suppressed. Resolve never returns an error: every failure degrades the one
// affected source to its embed fallback.
func (r *Resolver) Resolve(ctx context.Context, sources []types.EmbedSource) []types.ResolvedStream {
	logger.Debug("{resolver - Resolve} Resolving %d embed sources", len(sources))

	// one result slot per source so no task's outcome can clobber another's
	results := make([]*types.ResolvedStream, len(sources))
	var wg sync.WaitGroup

	for i := range sources {
		wg.Add(1)
		idx, src := i, sources[i]

		task := func() {
			defer wg.Done()
			results[idx] = r.resolveOne(ctx, src)
		}

		if err := r.WorkerPool.Submit(task); err != nil {
			// pool released during shutdown; resolve inline rather than drop
			logger.Warn("{resolver - Resolve} Worker pool submit failed, resolving inline: %v", err)
			task()
		}
	}

	wg.Wait()

	out := make([]types.ResolvedStream, 0, len(sources))
	for _, rs := range results {
		if rs != nil {
			out = append(out, *rs)
		}
	}

	logger.Debug("{resolver - Resolve} Resolved %d of %d sources", len(out), len(sources))
	return out
}

// resolveOne resolves a single source, consulting the cache first. Failed
// extractions degrade to the embed fallback WITHOUT entering the cache, so a
// provider hiccup never pins a degraded result for the memoization TTL; only
// definitive outcomes are stored. A nil return means the source was
// explicitly suppressed.
func (r *Resolver) resolveOne(ctx context.Context, src types.EmbedSource) *types.ResolvedStream {
	key := "resolve:" + strings.ToUpper(src.Provider) + ":" + src.URL

	var record resolveRecord
	err := r.Cache.FetchJSON(ctx, key, r.Config.ResolveCacheTTL, &record, func(ctx context.Context) (interface{}, error) {
		return r.extract(ctx, src)
	})
	if err != nil {
		logger.Debug("{resolver - resolveOne} Resolution of %s (%s) failed, degrading uncached: %v",
			src.Provider, utils.LogURL(r.Config, src.URL), err)
		metrics.ResolveOutcomes.WithLabelValues(strings.ToLower(src.Provider), types.KindEmbed.String()).Inc()
		return &types.ResolvedStream{
			Provider: src.Provider,
			URL:      src.URL,
			Kind:     types.KindEmbed,
		}
	}

	if record.Suppressed || record.Stream == nil {
		metrics.ResolveOutcomes.WithLabelValues(strings.ToLower(src.Provider), "suppressed").Inc()
		return nil
	}

	metrics.ResolveOutcomes.WithLabelValues(strings.ToLower(src.Provider), record.Stream.Kind.String()).Inc()
	return record.Stream
}

// extract performs the actual two-step resolution: pull the inner player URL
// out of the embed page, then hand it to the provider's strategy. Transient
// failures (unreachable embed page, broken strategy fetch) return an error so
// the cache layer stores nothing for them; definitive outcomes (a resolved
// stream, a suppression, a provider with no handler) return a record.
func (r *Resolver) extract(ctx context.Context, src types.EmbedSource) (resolveRecord, error) {
	fallback := resolveRecord{Stream: &types.ResolvedStream{
		Provider: src.Provider,
		URL:      src.URL,
		Kind:     types.KindEmbed,
	}}

	r.limiterFor(src.Provider).Take()

	innerURL, err := r.fetchInnerURL(ctx, src.URL)
	if err != nil {
		return resolveRecord{}, fmt.Errorf("inner URL extraction: %w", err)
	}

	strategy, ok := r.registry[strings.ToUpper(src.Provider)]
	if !ok {
		// no specific handler for this provider
		return fallback, nil
	}

	ec := &ExtractContext{
		Source:   src,
		InnerURL: innerURL,
		Client:   r.HttpClient,
		Config:   r.Config,
	}

	stream, err := strategy.Extract(ctx, ec)
	if err != nil {
		return resolveRecord{}, fmt.Errorf("strategy %s: %w", strings.ToUpper(src.Provider), err)
	}
	if stream == nil {
		return resolveRecord{Suppressed: true}, nil
	}

	// an HLS claim without a manifest URL is a broken descriptor
	if stream.Kind == types.KindHLS && stream.DirectURL == "" {
		logger.Warn("{resolver - extract} Strategy for %s produced HLS kind without a direct URL, demoting", src.Provider)
		return fallback, nil
	}

	return resolveRecord{Stream: stream}, nil
}

// fetchInnerURL fetches the embed page and extracts the inner iframe/player
// URL from it, resolving relative references against the page URL.
func (r *Resolver) fetchInnerURL(ctx context.Context, embedURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.Config.ResolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, embedURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.HttpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("embed page returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxEmbedPageBytes))
	if err != nil {
		return "", err
	}

	src, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("no iframe found in embed page")
	}

	return absoluteURL(embedURL, strings.TrimSpace(src))
}

// limiterFor returns the provider's rate limiter, creating it on first use.
func (r *Resolver) limiterFor(provider string) ratelimit.Limiter {
	key := strings.ToUpper(provider)
	limiter, _ := r.limiters.LoadOrCompute(key, func() ratelimit.Limiter {
		return ratelimit.New(r.Config.ProviderRate)
	})
	return limiter
}

// absoluteURL resolves ref against base, handling scheme-relative and
// path-relative iframe sources.
func absoluteURL(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

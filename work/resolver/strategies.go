package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	jsoniter "github.com/json-iterator/go"

	"streamgate/work/client"
	"streamgate/work/config"
	"streamgate/work/types"
)

// let's use a faster json processor
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExtractContext carries everything a strategy needs for one resolution:
// the original source, the inner player URL pulled from the embed page, and
// the shared HTTP client.
type ExtractContext struct {
	Source   types.EmbedSource
	InnerURL string
	Client   *client.HeaderSettingClient
	Config   *config.Config
}

// Strategy resolves one provider's inner player URL into a stream
// descriptor. Returning (nil, nil) suppresses the source entirely; returning
// an error degrades it to the embed fallback. Strategies never decide the
// fallback themselves, the dispatcher owns that.
type Strategy interface {
	Extract(ctx context.Context, ec *ExtractContext) (*types.ResolvedStream, error)
}

// inline-player assignment patterns, tried in order
var (
	fileAssignPattern    = regexp.MustCompile(`file\s*:\s*"((?:https?:)?//[^"]+?\.m3u8[^"]*)"`)
	sourcesAssignPattern = regexp.MustCompile(`sources\s*[:=]\s*\[\s*"((?:https?:)?//[^"]+?\.m3u8[^"]*)"`)
)

// tokenStrategy handles providers whose player exposes an id in the inner
// URL's query string and serves the real sources from an api endpoint on the
// same host. The endpoint wants the original embed URL echoed back as a
// referer pair or it answers with decoys.
type tokenStrategy struct{}

// sourceAPIResponse is the shape of the sibling endpoint's answer.
type sourceAPIResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		File  string `json:"file"`
		Label string `json:"label"`
		Type  string `json:"type"`
	} `json:"data"`
}

func (s *tokenStrategy) Extract(ctx context.Context, ec *ExtractContext) (*types.ResolvedStream, error) {
	inner, err := url.Parse(ec.InnerURL)
	if err != nil {
		return nil, err
	}

	id := inner.Query().Get("id")
	if id == "" {
		return nil, fmt.Errorf("inner URL carries no id parameter")
	}

	apiURL := fmt.Sprintf("%s://%s/api/source/%s", inner.Scheme, inner.Host, id)
	form := url.Values{
		"r": {ec.Source.URL},
		"d": {inner.Host},
	}

	reqCtx, cancel := context.WithTimeout(ctx, ec.Config.ResolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	origin := inner.Scheme + "://" + inner.Host
	resp, err := ec.Client.DoWithHeaders(req, origin, ec.Source.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source api returned HTTP %d", resp.StatusCode)
	}

	var parsed sourceAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxEmbedPageBytes)).Decode(&parsed); err != nil {
		return nil, err
	}
	if !parsed.Success || len(parsed.Data) == 0 {
		return nil, fmt.Errorf("source api returned no usable entries")
	}

	// only accept real manifest URLs; the api pads results with mp4 decoys
	for _, entry := range parsed.Data {
		if isManifestURL(entry.File) {
			return &types.ResolvedStream{
				Provider:  ec.Source.Provider,
				URL:       ec.InnerURL,
				DirectURL: entry.File,
				Kind:      types.KindHLS,
			}, nil
		}
	}

	return nil, fmt.Errorf("source api returned no manifest entries")
}

// scrapeStrategy handles providers that write the manifest URL straight into
// an inline script on the player page. The inner page only answers when the
// outer embed URL comes along as the referer.
type scrapeStrategy struct{}

func (s *scrapeStrategy) Extract(ctx context.Context, ec *ExtractContext) (*types.ResolvedStream, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ec.Config.ResolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ec.InnerURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := ec.Client.DoWithHeaders(req, "", ec.Source.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player page returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedPageBytes))
	if err != nil {
		return nil, err
	}

	manifest, ok := extractManifestAssignment(body)
	if !ok {
		return nil, fmt.Errorf("no manifest assignment found in player page")
	}

	return &types.ResolvedStream{
		Provider:  ec.Source.Provider,
		URL:       ec.InnerURL,
		DirectURL: manifest,
		Kind:      types.KindHLS,
	}, nil
}

// castStrategy handles providers whose inner player sits on a host that
// imposes no framing restriction. The inner URL itself is the deliverable;
// anything off the allow list falls back to the original embed.
type castStrategy struct {
	allowHosts []string
}

func (s *castStrategy) Extract(_ context.Context, ec *ExtractContext) (*types.ResolvedStream, error) {
	inner, err := url.Parse(ec.InnerURL)
	if err != nil {
		return nil, err
	}

	host := strings.ToLower(inner.Hostname())
	for _, allowed := range s.allowHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return &types.ResolvedStream{
				Provider: ec.Source.Provider,
				URL:      ec.InnerURL,
				Kind:     types.KindEmbed,
			}, nil
		}
	}

	return nil, fmt.Errorf("inner host %s is not on the embeddable allow list", host)
}

// unembeddableStrategy suppresses providers whose players refuse framing
// outright. Surfacing them would hand collaborators a guaranteed-broken
// entry.
type unembeddableStrategy struct{}

func (s *unembeddableStrategy) Extract(_ context.Context, _ *ExtractContext) (*types.ResolvedStream, error) {
	return nil, nil
}

// extractManifestAssignment pulls a manifest URL out of inline player
// script, normalizing scheme-relative references.
func extractManifestAssignment(body []byte) (string, bool) {
	for _, pattern := range []*regexp.Regexp{fileAssignPattern, sourcesAssignPattern} {
		if m := pattern.FindSubmatch(body); m != nil {
			return normalizeScheme(string(m[1])), true
		}
	}
	return "", false
}

// normalizeScheme upgrades scheme-relative URLs to https.
func normalizeScheme(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// isManifestURL reports whether raw's path ends in a recognizable streaming
// manifest extension.
func isManifestURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

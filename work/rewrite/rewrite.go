package rewrite

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

// uriAttrPattern matches the URI attribute carried by #EXT-X-KEY and
// #EXT-X-MAP tags.
var uriAttrPattern = regexp.MustCompile(`URI="([^"]+)"`)

// Rewriter turns HLS playlists into self-contained documents whose every URI
// points back at the proxy gateway, so a player that only ever talks to the
// gateway can play a full stream, encryption keys and nested variant
// playlists included, without contacting the origin CDN.
type Rewriter struct {
	proxyBase string // prefix for generated proxy URLs, empty for relative /proxy paths
}

// NewRewriter creates a Rewriter. proxyBase is prepended to generated
// /proxy URLs; leave it empty to emit relative URLs served by this process.
func NewRewriter(proxyBase string) *Rewriter {
	return &Rewriter{proxyBase: strings.TrimSuffix(proxyBase, "/")}
}

// Rewrite transforms playlist text fetched from manifestURL. Three classes of
// reference are re-pointed at the gateway, in order: #EXT-X-KEY URI
// attributes, #EXT-X-MAP URI attributes, and every non-comment line (media
// segments and nested playlists). Relative URIs are resolved against the
// manifest's own URL first. All other tags pass through verbatim and line
// order is preserved.
//
// Rewrite must be applied exactly once per fetch. Running it over an already
// rewritten playlist wraps the proxy URLs a second time and double-encodes
// the targets; callers must never persist or re-feed rewritten output.
func (rw *Rewriter) Rewrite(playlist, manifestURL, referer string) string {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return playlist
	}

	lines := strings.Split(playlist, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if tagCarriesURI(trimmed) {
				lines[i] = rw.rewriteURIAttr(line, base, referer)
			}
			continue
		}

		// media segment or nested sub-playlist reference
		lines[i] = rw.proxyURL(resolveRef(base, trimmed), referer)
	}

	return strings.Join(lines, "\n")
}

// tagCarriesURI reports whether the tag references an external resource
// through a URI attribute the player will fetch.
func tagCarriesURI(line string) bool {
	return (strings.HasPrefix(line, "#EXT-X-KEY") || strings.HasPrefix(line, "#EXT-X-MAP")) &&
		strings.Contains(line, "URI=")
}

// rewriteURIAttr replaces the URI="..." attribute value on a tag line with a
// proxy URL, leaving the rest of the tag untouched.
func (rw *Rewriter) rewriteURIAttr(line string, base *url.URL, referer string) string {
	matches := uriAttrPattern.FindStringSubmatch(line)
	if len(matches) < 2 {
		return line
	}

	original := matches[1]
	proxied := rw.proxyURL(resolveRef(base, original), referer)
	return strings.Replace(line, original, proxied, 1)
}

// resolveRef resolves ref against the manifest URL, passing absolute URLs
// through unchanged.
func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// proxyURL builds the gateway call URL for an absolute target, carrying the
// referer forward so sub-resource fetches spoof the same embedding page.
func (rw *Rewriter) proxyURL(target, referer string) string {
	u := rw.proxyBase + "/proxy?url=" + url.QueryEscape(target)
	if referer != "" {
		u += "&referer=" + url.QueryEscape(referer)
	}
	return u
}

// PlaylistKind classifies playlist bytes as "master" or "media" so callers
// can pick cache lifetimes: master playlists are stable, media playlists of
// live streams churn every few seconds. Unparseable bodies classify as
// "media", the conservative choice.
func PlaylistKind(body []byte) string {
	_, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return "media"
	}

	if listType == m3u8.MASTER {
		return "master"
	}
	return "media"
}

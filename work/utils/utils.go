package utils

import (
	"net/url"
	"strings"

	"streamgate/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the configured obfuscation setting. Upstream embed and CDN URLs
// frequently carry signed tokens that should not land in log files.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query, and fragment of a URL while keeping the
// scheme and host visible, so logs stay diagnosable without leaking tokens.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// GuessContentType maps a target URL to the content type the gateway should
// serve when the upstream is silent or needs overriding. Subtitle files get
// explicit overrides because upstream CDNs routinely mislabel them.
func GuessContentType(urlStr, upstream string) string {
	lower := strings.ToLower(urlStr)

	// strip query/fragment so extension checks see the real path
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}

	switch {
	case strings.HasSuffix(lower, ".vtt"):
		return "text/vtt"
	case strings.HasSuffix(lower, ".srt"):
		return "text/plain"
	}

	if upstream != "" {
		return upstream
	}
	return "application/octet-stream"
}

// IsPlaylistResponse reports whether a fetched body should be treated as an
// HLS playlist, judged from the upstream content type and the target URL.
func IsPlaylistResponse(contentType, urlStr string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") || strings.Contains(ct, "m3u8") {
		return true
	}

	lower := strings.ToLower(urlStr)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".m3u8")
}

package types

import (
	"encoding/json"
	"fmt"
)

// StreamKind classifies what a resolved stream actually is, which determines
// how the player consumes it: an HLS manifest it can hand to the proxy
// gateway, or an opaque page it can only iframe.
type StreamKind int

const (
	KindEmbed StreamKind = iota // embeddable page, best-effort fallback
	KindHLS                     // direct playable HLS manifest URL
)

// String returns the wire representation used in resolver JSON responses.
func (k StreamKind) String() string {
	if k == KindHLS {
		return "hls"
	}
	return "embed"
}

// MarshalJSON encodes the kind as its string form so API consumers see
// "hls"/"embed" rather than enum ordinals.
func (k StreamKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (k *StreamKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "hls":
		*k = KindHLS
	case "embed":
		*k = KindEmbed
	default:
		return fmt.Errorf("unknown stream kind %q", s)
	}
	return nil
}

// EmbedSource is one raw, untrusted (provider, url) pair handed to the
// resolver by a collaborator scraper. Immutable once produced.
type EmbedSource struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// ResolvedStream is the resolver's verdict for a single EmbedSource.
//
// DirectURL is set only when extraction succeeded and points at a playable
// HLS manifest; in that case Kind is KindHLS and callers must not attempt to
// re-resolve it. Otherwise Kind is KindEmbed and URL carries the best-effort
// fallback, often the original embed URL. Never mutated after creation.
type ResolvedStream struct {
	Provider  string     `json:"provider"`
	URL       string     `json:"url"`
	DirectURL string     `json:"directUrl,omitempty"`
	Kind      StreamKind `json:"type"`
}

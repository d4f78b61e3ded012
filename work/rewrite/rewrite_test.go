package rewrite

import (
	"net/url"
	"strings"
	"testing"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin",IV=0x00000000000000000000000000000001
#EXTINF:6.000,
seg/0001.ts
#EXTINF:6.000,
https://other-cdn.example/seg/0002.ts
#EXT-X-ENDLIST`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1280x720
high/index.m3u8`

func TestRewriteMediaPlaylist(t *testing.T) {
	rw := NewRewriter("")
	out := rw.Rewrite(mediaPlaylist, "https://cdn.example/hls/master.m3u8", "https://embed.example/e/abc")
	lines := strings.Split(out, "\n")

	t.Run("line order and tag lines survive", func(t *testing.T) {
		if len(lines) != len(strings.Split(mediaPlaylist, "\n")) {
			t.Fatalf("Line count changed: got %d", len(lines))
		}
		if lines[0] != "#EXTM3U" || lines[1] != "#EXT-X-VERSION:3" || lines[2] != "#EXT-X-TARGETDURATION:6" {
			t.Errorf("Header tags altered: %q", lines[:3])
		}
		if lines[len(lines)-1] != "#EXT-X-ENDLIST" {
			t.Errorf("Trailing tag altered: %q", lines[len(lines)-1])
		}
	})

	t.Run("relative segment resolves against manifest URL", func(t *testing.T) {
		target := proxiedTarget(t, lines[5])
		if target != "https://cdn.example/hls/seg/0001.ts" {
			t.Errorf("Relative segment resolved to %q", target)
		}
	})

	t.Run("absolute segment passes through the proxy unchanged", func(t *testing.T) {
		target := proxiedTarget(t, lines[7])
		if target != "https://other-cdn.example/seg/0002.ts" {
			t.Errorf("Absolute segment resolved to %q", target)
		}
	})

	t.Run("key URI is rewritten in place", func(t *testing.T) {
		keyLine := lines[3]
		if !strings.HasPrefix(keyLine, "#EXT-X-KEY:METHOD=AES-128,URI=\"/proxy?url=") {
			t.Fatalf("Key line not rewritten: %q", keyLine)
		}
		if !strings.HasSuffix(keyLine, `,IV=0x00000000000000000000000000000001`) {
			t.Errorf("Key attributes after URI lost: %q", keyLine)
		}
		if strings.Contains(keyLine, `URI="keys/k1.bin"`) {
			t.Errorf("Original key URI survived: %q", keyLine)
		}
	})

	t.Run("referer propagates to every rewritten URL", func(t *testing.T) {
		want := "referer=" + url.QueryEscape("https://embed.example/e/abc")
		for _, i := range []int{5, 7} {
			if !strings.Contains(lines[i], want) {
				t.Errorf("Line %d missing referer: %q", i, lines[i])
			}
		}
	})

	t.Run("no raw upstream URL survives outside tags", func(t *testing.T) {
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "#") || strings.TrimSpace(line) == "" {
				continue
			}
			if !strings.HasPrefix(line, "/proxy?url=") {
				t.Errorf("Line %d not proxied: %q", i, line)
			}
		}
	})
}

func TestRewriteMasterPlaylist(t *testing.T) {
	rw := NewRewriter("https://gate.example")
	out := rw.Rewrite(masterPlaylist, "https://cdn.example/hls/master.m3u8", "")
	lines := strings.Split(out, "\n")

	if !strings.HasPrefix(lines[2], "https://gate.example/proxy?url=") {
		t.Fatalf("Variant URL not anchored at proxy base: %q", lines[2])
	}
	if target := proxiedTarget(t, strings.TrimPrefix(lines[2], "https://gate.example")); target != "https://cdn.example/hls/low/index.m3u8" {
		t.Errorf("Variant resolved to %q", target)
	}
	if strings.Contains(out, "referer=") {
		t.Error("Empty referer must not be emitted")
	}
}

func TestRewriteMapURI(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:4.0,\nseg1.m4s"
	rw := NewRewriter("")
	out := rw.Rewrite(playlist, "https://cdn.example/v/media.m3u8", "")

	mapLine := strings.Split(out, "\n")[1]
	if !strings.Contains(mapLine, url.QueryEscape("https://cdn.example/v/init.mp4")) {
		t.Errorf("Map URI not resolved and proxied: %q", mapLine)
	}
}

func TestRewriteLeavesBlankLines(t *testing.T) {
	playlist := "#EXTM3U\n\nseg.ts\n"
	rw := NewRewriter("")
	out := rw.Rewrite(playlist, "https://cdn.example/x.m3u8", "")

	lines := strings.Split(out, "\n")
	if lines[1] != "" || lines[3] != "" {
		t.Errorf("Blank lines altered: %q", lines)
	}
}

func TestPlaylistKind(t *testing.T) {
	t.Run("master", func(t *testing.T) {
		if kind := PlaylistKind([]byte(masterPlaylist)); kind != "master" {
			t.Errorf("Got %q, want master", kind)
		}
	})

	t.Run("media", func(t *testing.T) {
		if kind := PlaylistKind([]byte(mediaPlaylist)); kind != "media" {
			t.Errorf("Got %q, want media", kind)
		}
	})

	t.Run("garbage classifies as media", func(t *testing.T) {
		if kind := PlaylistKind([]byte("not a playlist")); kind != "media" {
			t.Errorf("Got %q, want media", kind)
		}
	})
}

// proxiedTarget extracts and decodes the url parameter from a rewritten
// /proxy line.
func proxiedTarget(t *testing.T, line string) string {
	t.Helper()

	u, err := url.Parse(line)
	if err != nil {
		t.Fatalf("Rewritten line is not a URL: %q", line)
	}
	target := u.Query().Get("url")
	if target == "" {
		t.Fatalf("Rewritten line carries no url parameter: %q", line)
	}
	return target
}

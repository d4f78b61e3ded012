package types

import (
	"encoding/json"
	"testing"
)

func TestStreamKindJSON(t *testing.T) {
	t.Run("marshals as label", func(t *testing.T) {
		data, err := json.Marshal(KindHLS)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(data) != `"hls"` {
			t.Errorf("Got %s, want \"hls\"", data)
		}
	})

	t.Run("unmarshals from label", func(t *testing.T) {
		var k StreamKind
		if err := json.Unmarshal([]byte(`"embed"`), &k); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if k != KindEmbed {
			t.Errorf("Got %v, want embed", k)
		}
	})

	t.Run("round trips through a descriptor", func(t *testing.T) {
		in := ResolvedStream{Provider: "FILEMOON", URL: "https://x", DirectURL: "https://y.m3u8", Kind: KindHLS}
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}

		var out ResolvedStream
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if out != in {
			t.Errorf("Round trip changed descriptor: %+v != %+v", out, in)
		}
	})

	t.Run("unknown label rejected", func(t *testing.T) {
		var k StreamKind
		if err := json.Unmarshal([]byte(`"dash"`), &k); err == nil {
			t.Error("Expected error for unknown kind label")
		}
	})
}

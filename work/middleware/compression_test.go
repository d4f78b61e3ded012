package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func helloHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"sources":[]}`))
}

func TestGzipCompressesWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/resolve", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()

	Gzip(helloHandler)(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding %q, want gzip", enc)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("Response is not valid gzip: %v", err)
	}
	defer gz.Close()

	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(body) != `{"sources":[]}` {
		t.Errorf("Decompressed body %q", body)
	}
}

func TestGzipPassesThroughWhenNotAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/resolve", nil)
	rec := httptest.NewRecorder()

	Gzip(helloHandler)(rec, req)

	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding %q on passthrough", enc)
	}
	if rec.Body.String() != `{"sources":[]}` {
		t.Errorf("Body %q altered on passthrough", rec.Body.String())
	}
	if rec.Header().Get("Vary") != "Accept-Encoding" {
		t.Errorf("Vary %q, want Accept-Encoding on every response", rec.Header().Get("Vary"))
	}
}

func TestAcceptsGzipNegotiation(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   bool
	}{
		{"plain", "gzip", true},
		{"listed with others", "br, gzip, deflate", true},
		{"with quality", "gzip;q=0.8", true},
		{"disabled by quality", "gzip;q=0", false},
		{"disabled with decimals", "gzip; q=0.000", false},
		{"absent", "br, deflate", false},
		{"substring of another coding", "xgzipx", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/resolve", nil)
			if tc.header != "" {
				req.Header.Set("Accept-Encoding", tc.header)
			}
			if got := acceptsGzip(req); got != tc.want {
				t.Errorf("acceptsGzip(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/panjf2000/ants/v2"

	"streamgate/work/cache"
	"streamgate/work/client"
	"streamgate/work/config"
	"streamgate/work/resolver"
)

func newResolveHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	cfg := config.Load("")
	cfg.CacheEnabled = false

	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("Worker pool: %v", err)
	}
	t.Cleanup(pool.Release)

	c := cache.New("", false)
	t.Cleanup(c.Close)

	return HandleResolve(resolver.New(cfg, client.NewHeaderSettingClient(cfg), c, pool))
}

func TestHandleResolveRejectsBadRequests(t *testing.T) {
	h := newResolveHandler(t)

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/resolve", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Got HTTP %d, want 405", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader("{not json")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Got HTTP %d, want 400", rec.Code)
		}
	})
}

func TestHandleResolveEmptyBatch(t *testing.T) {
	h := newResolveHandler(t)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"sources":[]}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Got HTTP %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type %q", ct)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"sources":[]}` {
		t.Errorf("Body %q, want empty sources array, never null", body)
	}
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Got HTTP %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("Body %q", rec.Body.String())
	}
}

package handlers

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"streamgate/work/gateway"
	"streamgate/work/logger"
	"streamgate/work/resolver"
	"streamgate/work/types"
)

// let's use a faster json processor
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResolveBodyBytes bounds the resolve request body. A batch is a handful
// of sources, not megabytes.
const maxResolveBodyBytes = 1 << 20

// resolveRequest is the body of POST /api/resolve.
type resolveRequest struct {
	Sources []types.EmbedSource `json:"sources"`
}

// resolveResponse mirrors the request shape with resolved descriptors.
type resolveResponse struct {
	Sources []types.ResolvedStream `json:"sources"`
}

// HandleProxy returns the handler for GET /proxy.
func HandleProxy(gw *gateway.Gateway) http.HandlerFunc {
	return gw.ServeProxy
}

// HandleResolve returns the handler for POST /api/resolve. It accepts a
// batch of embed sources and answers with the resolved stream descriptors.
// Per-source failures are absorbed by the resolver; the endpoint itself only
// fails on malformed input.
func HandleResolve(r *resolver.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var in resolveRequest
		if err := json.NewDecoder(io.LimitReader(req.Body, maxResolveBodyBytes)).Decode(&in); err != nil {
			logger.Debug("{handlers - HandleResolve} Rejecting malformed body: %v", err)
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resolved := r.Resolve(req.Context(), in.Sources)

		out := resolveResponse{Sources: resolved}
		if out.Sources == nil {
			out.Sources = []types.ResolvedStream{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Debug("{handlers - HandleResolve} Writing response failed: %v", err)
		}
	}
}

// HandleHealth returns a trivial liveness check handler.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

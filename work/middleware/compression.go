package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"streamgate/work/logger"
)

// gzipWriterPool recycles gzip writers across requests so every compressed
// response doesn't pay the allocation cost of a fresh writer. BestSpeed is
// the right trade for manifest and API payloads that go stale in seconds.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter so body writes pass
// through a gzip writer while headers still reach the original writer.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

// WriteHeader forwards the status code and records that headers went out so
// Write doesn't emit a duplicate implicit 200.
func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b into the response, defaulting the status to 200 OK if
// the handler never called WriteHeader.
func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush drains the gzip buffer and then the underlying writer, keeping
// incremental delivery working for handlers that stream.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// acceptsGzip inspects Accept-Encoding token by token: gzip must appear as a
// coding of its own (not as a substring of another token) and not be disabled
// with q=0. Player libraries in the wild send both forms.
func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		q, ok := strings.CutPrefix(strings.ReplaceAll(params, " ", ""), "q=")
		if ok && (q == "0" || strings.HasPrefix(q, "0.0")) {
			return false
		}
		return true
	}
	return false
}

// Gzip wraps a handler with transparent response compression for clients
// that advertise gzip support in Accept-Encoding. Clients that don't get
// the response unmodified. The pooled writer is always closed and returned,
// even when the wrapped handler fails.
func Gzip(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		// the response differs per Accept-Encoding either way
		w.Header().Add("Vary", "Accept-Encoding")

		if !acceptsGzip(r) {
			next(w, r)
			return
		}

		// compressed size is unknowable up front
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{compression - Gzip} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		gzw := &gzipResponseWriter{
			Writer:         gz,
			ResponseWriter: w,
		}

		next(gzw, r)
	}
}

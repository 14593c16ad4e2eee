package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxBodyBytes is the request-body cap of spec §4.8: 10 MiB exactly is
// accepted, 10 MiB + 1 byte is rejected with 413.
const maxBodyBytes = 10 << 20

type requestIDKey struct{}

// requestID assigns every inbound request a UUID, carried in the
// X-Request-Id response header and in the request context for the
// access-log middleware below. This replaces the teacher's hand-rolled
// timestamp-based ID scheme with google/uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// accessLog emits one line per request per spec §4.8: method, uri,
// status, duration_ms, request_id. Wraps the ResponseWriter to capture
// the status code, the same pattern the teacher builds around chi's
// middleware.Logger.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("method=%s uri=%s status=%d duration_ms=%d request_id=%s",
			r.Method, r.RequestURI, sw.status, time.Since(start).Milliseconds(), requestIDFromContext(r.Context()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// bodyCap rejects request bodies over maxBodyBytes with 413, per spec §8
// invariant #7. http.MaxBytesReader lets the body read up to the limit
// and errors on the next read past it; we additionally reject eagerly
// when Content-Length already says the body is too large.
func bodyCap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// inboundThrottle backs a per-process token-bucket limiter protecting a
// configured upstream from bursts of caller traffic, independent of the
// adapter's own 429 retry/backoff. Additive: it never changes the
// deterministic retry timing spec §8 S6 depends on, since it only gates
// admission, not the adapter's own request pacing.
func inboundThrottle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

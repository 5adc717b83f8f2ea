package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/monitor"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// requestIDShape bounds what a caller-supplied X-Request-ID may look like
// before we echo it back into headers and logs.
var requestIDShape = regexp.MustCompile(`^[a-zA-Z0-9\-]{1,64}$`)

// RequestIDFromContext returns the request ID attached by
// RequestIDMiddleware, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// RequestIDMiddleware accepts a well-formed caller-supplied X-Request-ID
// or mints a fresh UUID, and makes the ID available to every downstream
// handler and log line.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !requestIDShape.MatchString(id) {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

// SecurityHeadersMiddleware sets the browser-facing hardening headers on
// every response. The API serves JSON to programs, so the CSP and frame
// policy are simply "nothing".
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// responseMeta wraps a ResponseWriter to capture the status code and the
// number of body bytes written, for the access log.
type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (m *responseMeta) WriteHeader(code int) {
	m.status = code
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeta) Write(p []byte) (int, error) {
	n, err := m.ResponseWriter.Write(p)
	m.bytes += int64(n)
	return n, err
}

// Flush passes through so SSE responses still stream under the wrapper.
func (m *responseMeta) Flush() {
	if f, ok := m.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware emits one structured access-log line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta := &responseMeta{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(meta, r)

		log.Info().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", meta.status).
			Int64("bytes", meta.bytes).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request completed")
	})
}

// AuthMiddleware gates every route behind an API key presented via
// X-API-Key or a bearer token. With no keys configured the server runs
// open only when the caller opted in explicitly (local development); a
// misconfigured empty key list otherwise fails closed.
func AuthMiddleware(allowedKeys []string, allowUnauthenticated bool) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(allowedKeys))
	for _, k := range allowedKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				if allowUnauthenticated {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if !keyMatches(presented, keys) {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// keyMatches compares the presented key against every configured key in
// constant time, so response timing doesn't narrow the search space.
func keyMatches(presented string, keys [][]byte) bool {
	if presented == "" {
		return false
	}
	p := []byte(presented)
	matched := false
	for _, k := range keys {
		if len(k) == len(p) && subtle.ConstantTimeCompare(k, p) == 1 {
			matched = true
		}
	}
	return matched
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	http.Error(w, `{"error":"unauthorized","code":"AUTH_REQUIRED"}`, http.StatusUnauthorized)
}

// bucketLimiter is a per-client-IP token bucket. Stale buckets are pruned
// lazily on the request path once the map grows past pruneThreshold — no
// background goroutine to leak.
type bucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     float64
	burst   float64
}

type bucket struct {
	tokens float64
	seen   time.Time
}

const (
	pruneThreshold = 4096
	bucketIdle     = 5 * time.Minute
)

func newBucketLimiter(rps float64, burst int) *bucketLimiter {
	return &bucketLimiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   float64(burst),
	}
}

func (l *bucketLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > pruneThreshold {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > bucketIdle {
				delete(l.buckets, k)
			}
		}
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[ip] = b
	}

	b.tokens += now.Sub(b.seen).Seconds() * l.rps
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimitMiddleware applies a per-client-IP token bucket to every route.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := newBucketLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// One bucket per IP, not per TCP connection.
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}

			if !limiter.allow(ip) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware tracks the in-flight request gauge.
func MetricsMiddleware(metrics *monitor.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.RequestsInFlight.Inc()
			defer metrics.RequestsInFlight.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware converts a handler panic into a 500, logging the
// panic value, request ID and path, instead of tearing down the connection.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("request_id", RequestIDFromContext(r.Context())).
					Str("path", r.URL.Path).
					Msg("panic recovered")
				http.Error(w, `{"error":"internal server error","code":"INTERNAL"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// MaxBodyMiddleware caps the request body; executor code and docker args
// are small, so anything past the cap is abuse, not payload.
func MaxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

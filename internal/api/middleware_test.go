package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthFailsClosedWithNoKeys(t *testing.T) {
	handler := AuthMiddleware(nil, false)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no keys + no explicit opt-in should 401, got %d", rec.Code)
	}
}

func TestAuthExplicitUnauthenticatedOptIn(t *testing.T) {
	handler := AuthMiddleware(nil, true)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("explicit opt-in should pass through, got %d", rec.Code)
	}
}

func TestAuthAcceptsKeyViaHeaderOrBearer(t *testing.T) {
	handler := AuthMiddleware([]string{"k-123"}, false)(okHandler())

	viaHeader := httptest.NewRequest(http.MethodPost, "/v1/execute", nil)
	viaHeader.Header.Set("X-API-Key", "k-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viaHeader)
	if rec.Code != http.StatusOK {
		t.Errorf("X-API-Key: got %d, want 200", rec.Code)
	}

	viaBearer := httptest.NewRequest(http.MethodPost, "/v1/execute", nil)
	viaBearer.Header.Set("Authorization", "Bearer k-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, viaBearer)
	if rec.Code != http.StatusOK {
		t.Errorf("Bearer: got %d, want 200", rec.Code)
	}
}

func TestAuthRejectsWrongKey(t *testing.T) {
	handler := AuthMiddleware([]string{"k-123"}, false)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/execute", nil)
	req.Header.Set("X-API-Key", "k-124")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key should 401, got %d", rec.Code)
	}
}

func TestRequestIDMintedWhenMissingOrMalformed(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "has spaces\nand newlines")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" || seen == "has spaces\nand newlines" {
		t.Errorf("malformed caller ID should be replaced with a minted one, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("response header should carry the same ID the handler saw")
	}
}

func TestRateLimiterExhaustsAndRefills(t *testing.T) {
	l := newBucketLimiter(1000, 2)

	if !l.allow("10.0.0.1") || !l.allow("10.0.0.1") {
		t.Fatal("burst of 2 should admit the first two calls")
	}
	if l.allow("10.0.0.1") {
		t.Error("third immediate call should be limited")
	}
	// At 1000 tokens/s, 5ms refills the bucket past one token.
	time.Sleep(5 * time.Millisecond)
	if !l.allow("10.0.0.1") {
		t.Error("bucket should refill after waiting")
	}
	// A different IP has its own bucket.
	if !l.allow("10.0.0.2") {
		t.Error("distinct IP should not share a bucket")
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	handler := SecurityHeadersMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got %d, want 500", rec.Code)
	}
}

package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gatekit.org/internal/audit"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, 1, 1)

	first := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	first.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	second.RemoteAddr = "10.0.0.1:4001"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	other.RemoteAddr = "10.0.0.2:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client = %d, buckets must be per IP", rec.Code)
	}
}

func TestRateLimitConcurrentClients(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, 100, 100)

	// Many distinct IPs hammering the limiter at once; run with the
	// race detector to cover the shared bucket map.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
				req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4000", n, j%4)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK && rec.Code != http.StatusTooManyRequests {
					t.Errorf("unexpected status %d", rec.Code)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RequestID(base).ServeHTTP(rec, req)
	if seen == "" {
		t.Fatal("expected a generated request id on the context")
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("header = %q, ctx = %q", rec.Header().Get("X-Request-Id"), seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	RequestID(base).ServeHTTP(rec, req)
	if seen != "caller-supplied" {
		t.Fatalf("request id = %q, caller value must win", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	SecurityHeaders(base).ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing frame options header")
	}
}

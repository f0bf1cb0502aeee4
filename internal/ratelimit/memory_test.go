package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("close limiter: %v", err)
	}
}

func TestMemoryLimiter_AllowsWithinBurst(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer closeLimiter(t, m)

	for i := range 3 {
		ok, err := m.Allow(context.Background(), "client-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}

	ok, err := m.Allow(context.Background(), "client-a")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request beyond burst should be limited")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	if ok, _ := m.Allow(context.Background(), "client-a"); !ok {
		t.Fatal("first request for client-a should be allowed")
	}
	if ok, _ := m.Allow(context.Background(), "client-a"); ok {
		t.Fatal("second request for client-a should be limited")
	}
	if ok, _ := m.Allow(context.Background(), "client-b"); !ok {
		t.Fatal("client-b has its own bucket")
	}
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	if err := m.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for range 100 {
		ok, err := l.Allow(context.Background(), "anything")
		if err != nil || !ok {
			t.Fatal("noop limiter must always allow")
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMiddleware_Limits(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer closeLimiter(t, m)

	var hits int
	handler := Middleware(m, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response should carry Retry-After")
	}
	if hits != 1 {
		t.Fatalf("handler hit %d times, want 1", hits)
	}
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	var hits int
	handler := Middleware(nil, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	for range 10 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d", rec.Code)
		}
	}
	if hits != 10 {
		t.Fatalf("handler hit %d times, want 10", hits)
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	if got := IPKeyFunc(r); got != "192.0.2.7" {
		t.Fatalf("got %q", got)
	}

	r.RemoteAddr = "192.0.2.7"
	if got := IPKeyFunc(r); got != "192.0.2.7" {
		t.Fatalf("got %q", got)
	}
}

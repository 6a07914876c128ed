package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg LimiterConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rl := New(rdb, "intg:rl", cfg)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestKeyByIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := KeyByIP(req); got != "10.0.0.7" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := KeyByUserOrIP(req); got != "ip:10.0.0.7" {
		t.Fatalf("unexpected key %q", got)
	}
	req.RemoteAddr = "no-port"
	if got := KeyByIP(req); got != "no-port" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestKeyByIPIgnoresForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "203.0.113.10")
	if got := KeyByIP(req); got != "10.0.0.7" {
		t.Fatalf("forwarded header changed the key: %q", got)
	}
}

func TestMiddlewareAllowsBurstThenRejects(t *testing.T) {
	rl, now := newTestLimiter(t, LimiterConfig{RPS: 1, Burst: 2})
	h := rl.Middleware(KeyByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	for i := 0; i < 2; i++ {
		if rw := send("10.0.0.7:1000"); rw.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rw.Code)
		}
	}
	rw := send("10.0.0.7:1000")
	if rw.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rw.Code)
	}
	if rw.Header().Get("Retry-After") != "1" {
		t.Fatalf("missing Retry-After header")
	}
	if rw := send("10.0.0.8:1000"); rw.Code != http.StatusNoContent {
		t.Fatalf("other client should have its own bucket, got %d", rw.Code)
	}

	*now = now.Add(time.Second)
	if rw := send("10.0.0.7:1000"); rw.Code != http.StatusNoContent {
		t.Fatalf("expected a refilled token after 1s, got %d", rw.Code)
	}
}

func TestPartialRefillsAccumulate(t *testing.T) {
	rl, now := newTestLimiter(t, LimiterConfig{RPS: 1, Burst: 2})

	allowed := 0
	for i := 0; i < 40; i++ {
		ok, err := rl.allow(context.Background(), "intg:rl:steady")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if ok {
			allowed++
		}
		*now = now.Add(500 * time.Millisecond)
	}
	// Burst of 2, one more from the first second of refill, then one per second.
	if allowed != 21 {
		t.Fatalf("expected 21 of 40 requests allowed at 2 req/s, got %d", allowed)
	}
}

func TestMiddlewareFailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	rl := New(rdb, "intg:rl", LimiterConfig{RPS: 1, Burst: 1})

	called := false
	h := rl.Middleware(KeyByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", nil))
	if !called || rw.Code != http.StatusNoContent {
		t.Fatalf("expected request to pass through, got %d", rw.Code)
	}
}

func TestNewDefaults(t *testing.T) {
	rl := New(nil, "p", LimiterConfig{})
	if rl.cfg.RPS != 1 || rl.cfg.Burst != 1 {
		t.Fatalf("unexpected defaults %+v", rl.cfg)
	}
}

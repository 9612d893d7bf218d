package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{
			name:   "valid",
			config: RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute},
		},
		{
			name:    "zero requests",
			config:  RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero window",
			config:  RateLimitConfig{RequestsPerWindow: 10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInMemoryStoreEnforcesLimit(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if allowed, _ := store.Allow(ctx, "k", config); !allowed {
			t.Fatalf("request %d was blocked under the limit", i+1)
		}
	}

	allowed, retryAfter := store.Allow(ctx, "k", config)
	if allowed {
		t.Fatal("request over the limit was allowed")
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", retryAfter)
	}

	// Other keys are unaffected.
	if allowed, _ := store.Allow(ctx, "other", config); !allowed {
		t.Error("unrelated key was blocked")
	}
}

func TestInMemoryStoreWindowReset(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond}
	ctx := context.Background()

	if allowed, _ := store.Allow(ctx, "k", config); !allowed {
		t.Fatal("first request blocked")
	}
	if allowed, _ := store.Allow(ctx, "k", config); allowed {
		t.Fatal("second request in window allowed")
	}

	time.Sleep(15 * time.Millisecond)
	if allowed, _ := store.Allow(ctx, "k", config); !allowed {
		t.Error("request after window reset blocked")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	handler := RateLimiter(store, config, IPKeyFunc())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "203.0.113.9:1234",
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for chain",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:1234",
			want:       "2001:db8::1",
		},
	}

	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanupRemovesExpiredBuckets(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond}
	store.Allow(context.Background(), "k", config)

	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.buckets) != 0 {
		t.Errorf("buckets = %d, want 0 after cleanup", len(store.buckets))
	}
}

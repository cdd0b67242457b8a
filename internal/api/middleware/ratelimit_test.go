package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/good-yellow-bee/sentinel/internal/ratelimit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := ratelimit.NewMemory(time.Minute)
	defer limiter.Close()

	handler := RateLimit(limiter, RateLimitConfig{Requests: 2, Window: time.Minute}, nil)(okHandler())

	wantCodes := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, want := range wantCodes {
		req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, want)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
		if want == http.StatusTooManyRequests {
			if got := rec.Header().Get("Retry-After"); got != "60" {
				t.Errorf("Retry-After = %q, want 60", got)
			}
			if rec.Header().Get("X-RateLimit-Remaining") != "0" {
				t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
			}
		}
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	limiter := ratelimit.NewMemory(time.Minute)
	defer limiter.Close()

	handler := RateLimit(limiter, RateLimitConfig{Requests: 1, Window: time.Minute}, nil)(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", addr, rec.Code)
		}
	}
}

func TestRateLimit_SkipsHealth(t *testing.T) {
	limiter := ratelimit.NewMemory(time.Minute)
	defer limiter.Close()

	handler := RateLimit(limiter, RateLimitConfig{Requests: 1, Window: time.Minute}, nil)(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("health request %d limited: %d", i+1, rec.Code)
		}
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	handler := RateLimit(failingLimiter{}, RateLimitConfig{Requests: 1}, nil)(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/alerts", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.5:5555", nil, "ip:192.168.1.5"},
		{"forwarded chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "ip:203.0.113.7"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.2"}, "ip:198.51.100.2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientID(req); got != tc.want {
				t.Errorf("ClientID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientID_User(t *testing.T) {
	jwtService := newJWT()
	token, err := jwtService.GenerateToken("u-1", "ops")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got string
	handler := Identity(jwtService, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientID(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "user:u-1" {
		t.Errorf("ClientID = %q, want %q", got, "user:u-1")
	}
}

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/render"
	"github.com/good-yellow-bee/sentinel/internal/metrics"
	"github.com/good-yellow-bee/sentinel/internal/ratelimit"
)

// Rate limit defaults.
const (
	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = 60 * time.Second
)

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// SkipPrefixes are path prefixes that bypass limiting.
	SkipPrefixes []string
}

func (c *RateLimitConfig) setDefaults() {
	if c.Requests <= 0 {
		c.Requests = DefaultRateLimitRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultRateLimitWindow
	}
	if c.SkipPrefixes == nil {
		c.SkipPrefixes = []string{"/health", "/metrics"}
	}
}

// RateLimit returns middleware that limits each caller to cfg.Requests per
// fixed window. Callers are keyed by user id when authenticated, else by
// client IP. Limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter, cfg RateLimitConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ratelimit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range cfg.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			clientID := ClientID(r)
			res, err := limiter.Allow(r.Context(), clientID, cfg.Requests, cfg.Window)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					zap.String("client", clientID),
					zap.Error(err))
				metrics.RateLimitTotal.WithLabelValues("error").Inc()
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				metrics.RateLimitTotal.WithLabelValues("rejected").Inc()
				logger.Debug("rate limited", zap.String("client", clientID))
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				render.JSONError(w, render.ErrRateLimited)
				return
			}

			metrics.RateLimitTotal.WithLabelValues("allowed").Inc()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientID returns the rate-limit identity of the request.
func ClientID(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + getClientIP(r)
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip, _, err := net.SplitHostPort(first); err == nil {
			return ip
		}
		if first != "" {
			return first
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

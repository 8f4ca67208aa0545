// Package ratelimit provides a fixed-window request limiter backed by the
// shared cache, so every server instance counts against the same window
// when Redis is enabled.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/repository"
)

const (
	// DefaultRequests is the number of requests a client may make per window.
	DefaultRequests = 100

	// DefaultWindow is the length of the counting window.
	DefaultWindow = 15 * time.Minute

	// LimitExceededMessage is returned with every 429 response.
	LimitExceededMessage = "Too many requests, please try again later."
)

// Config contains limiter configuration.
type Config struct {
	Requests int
	Window   time.Duration
}

// Limiter counts requests per client in fixed windows.
type Limiter struct {
	cache  repository.Cache
	keys   repository.CacheKey
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a new Limiter.
func NewLimiter(cache repository.Cache, config Config, logger zerolog.Logger) *Limiter {
	if config.Requests <= 0 {
		config.Requests = DefaultRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	return &Limiter{
		cache:  cache,
		config: config,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		now:    time.Now,
	}
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Allow records one request by client and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.config.Window)
	reset := windowStart.Add(l.config.Window)
	key := l.keys.RateLimit(client, windowStart)

	count, err := l.cache.Increment(ctx, key, 1)
	if err != nil {
		return Decision{Allowed: true, Reset: reset}, err
	}
	if count == 1 {
		// Outlive the window slightly so a late increment cannot revive the key
		// without an expiry.
		if err := l.cache.Expire(ctx, key, reset.Sub(now)+time.Second); err != nil {
			return Decision{Allowed: true, Reset: reset}, err
		}
	}

	remaining := l.config.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.config.Requests),
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Middleware rejects clients that exceed the limit with 429.
// Cache failures let the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := l.Allow(r.Context(), ClientIP(r))
		if err != nil {
			l.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.config.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			metrics.RecordRateLimited()
			retryAfter := int(decision.Reset.Sub(l.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":  "error",
				"message": LimitExceededMessage,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of the request's remote address.
// Run behind middleware.RealIP to honour proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/darkodi/shortlink/internal/errors"
	"github.com/darkodi/shortlink/internal/logger"
)

// RouteLimit is the token bucket shape for one route
type RouteLimit struct {
	Rate  int // tokens added per interval
	Burst int // max tokens (bucket size)
}

// RouteMatcher reports the pattern that would serve a request.
// *http.ServeMux satisfies it.
type RouteMatcher interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

// RateLimiter implements a per-client, per-route token bucket rate limiter
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	shared   RouteLimit            // routes without their own budget
	routes   map[string]RouteLimit // mux pattern -> budget
	interval time.Duration         // how often to add tokens
	cleanup  time.Duration         // cleanup old entries
	log      *logger.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// bucketKey is "" for the shared bucket, else the mux pattern
type bucketKey struct {
	route string
	ip    string
}

type bucket struct {
	tokens    int
	lastCheck time.Time
}

// RateLimiterConfig holds rate limiter settings
type RateLimiterConfig struct {
	Rate     int           // Requests per interval
	Burst    int           // Max burst size
	Interval time.Duration // Token refill interval
	Cleanup  time.Duration // Cleanup interval for old clients

	// Routes gives mux patterns such as "POST /api/shorten" their own
	// budget. Every other route draws from the shared Rate/Burst bucket.
	Routes map[string]RouteLimit
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimiterConfig, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		shared:   RouteLimit{Rate: cfg.Rate, Burst: cfg.Burst},
		routes:   make(map[string]RouteLimit, len(cfg.Routes)),
		interval: cfg.Interval,
		cleanup:  cfg.Cleanup,
		log:      log,
		done:     make(chan struct{}),
	}
	for pattern, limit := range cfg.Routes {
		rl.routes[pattern] = limit
	}
	if rl.interval <= 0 {
		rl.interval = time.Second
	}
	if rl.cleanup <= 0 {
		rl.cleanup = 5 * time.Minute
	}

	// Start cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// Allow checks whether a request from ip to the given mux pattern fits
// in its bucket. Patterns without their own budget share one bucket per ip.
func (rl *RateLimiter) Allow(pattern, ip string) bool {
	limit, ok := rl.routes[pattern]
	if !ok {
		pattern, limit = "", rl.shared
	}
	key := bucketKey{route: pattern, ip: ip}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	b, exists := rl.buckets[key]
	if !exists {
		// New client gets a full bucket, minus the current request
		rl.buckets[key] = &bucket{tokens: limit.Burst - 1, lastCheck: now}
		return limit.Burst > 0
	}

	if refill := int(now.Sub(b.lastCheck)/rl.interval) * limit.Rate; refill > 0 {
		b.tokens = min(b.tokens+refill, limit.Burst)
		b.lastCheck = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// cleanupLoop removes idle buckets periodically
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.cleanup)
		for key, b := range rl.buckets {
			if b.lastCheck.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		count := len(rl.buckets)
		rl.mu.Unlock()

		if rl.log != nil {
			rl.log.Debug("rate limiter cleanup", "active_buckets", count)
		}
	}
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Middleware returns the rate limiting middleware. It runs outside the mux,
// so routes asks the mux which pattern will serve the request; nil routes
// puts every request in the shared bucket.
func (rl *RateLimiter) Middleware(routes RouteMatcher) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var pattern string
			if routes != nil {
				_, pattern = routes.Handler(r)
			}
			ip := getClientIP(r)

			if !rl.Allow(pattern, ip) {
				if rl.log != nil {
					rl.log.Warn("rate limit exceeded",
						"request_id", getRequestID(r.Context()),
						"ip", ip,
						"route", pattern,
						"path", r.URL.Path,
					)
				}

				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(rl.interval.Seconds()))))
				errors.RateLimitExceeded().WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr without the port
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

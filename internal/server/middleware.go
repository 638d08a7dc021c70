package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const requestIDKey = "request_id"

// requestID returns the request's correlation ID.
func requestID(c echo.Context) string {
	if id, ok := c.Get(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestID assigns each request a correlation ID, honoring an
// inbound X-Request-ID so callers can trace across services.
func (s *Server) requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(requestIDKey, id)
			c.Response().Header().Set("X-Request-ID", id)
			return next(c)
		}
	}
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			s.logger.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID(c),
				"remote_ip", c.RealIP())
			return err
		}
	}
}

// ipLimiters tracks one token bucket per client IP. Idle entries are
// dropped after an hour to bound memory.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	limit    rate.Limit
	burst    int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(limit float64, burst int) *ipLimiters {
	l := &ipLimiters{
		limiters: map[string]*ipLimiter{},
		limit:    rate.Limit(limit),
		burst:    burst,
	}
	go l.evictLoop()
	return l
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *ipLimiters) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// rateLimiter rejects clients exceeding their per-IP budget with 429.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	limiters := newIPLimiters(s.config.RateLimit, s.config.RateBurst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiters.get(c.RealIP()).Allow() {
				return c.JSON(http.StatusTooManyRequests, errorResponse{
					Error:     "rate limit exceeded, slow down",
					RequestID: requestID(c),
				})
			}
			return next(c)
		}
	}
}

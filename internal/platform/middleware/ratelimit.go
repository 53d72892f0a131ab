package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/womenshealth/planner/internal/platform/auth"
)

// RateLimitConfig holds per-company request limits. Generation starts have
// their own, much lower limit because each one fans out into several model
// calls charged to the company.
type RateLimitConfig struct {
	RequestsPerSecond    float64
	BurstSize            int
	GenerationsPerMinute float64
	GenerationBurst      int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:    50,
		BurstSize:            100,
		GenerationsPerMinute: 6,
		GenerationBurst:      3,
	}
}

// limiterSet keeps one limiter per key.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = l
	}
	return l
}

// admit takes a token for key at now. When none is left it returns how long
// the caller should wait; a limiter that never refills asks for one second.
func (s *limiterSet) admit(key string, now time.Time) (bool, time.Duration) {
	l := s.get(key)
	if s.limit <= 0 {
		if l.AllowN(now, 1) {
			return true, 0
		}
		return false, time.Second
	}
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// retryAfterSeconds rounds up so clients never retry too early.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// rateLimitKey buckets authenticated requests per company so one tenant
// cannot starve the others; anonymous requests are bucketed per client IP.
func rateLimitKey(c echo.Context) string {
	if companyID := auth.CompanyIDFromContext(c.Request().Context()); companyID != uuid.Nil {
		return "company:" + companyID.String()
	}
	return "ip:" + c.RealIP()
}

func isGenerateRoute(c echo.Context) bool {
	return c.Request().Method == http.MethodPost && strings.HasSuffix(c.Path(), "/plans/:id/generate")
}

// RateLimit must run after authentication to key on the company.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	requests := newLimiterSet(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)
	var generations *limiterSet
	if cfg.GenerationsPerMinute > 0 && cfg.GenerationBurst > 0 {
		generations = newLimiterSet(rate.Limit(cfg.GenerationsPerMinute/60), cfg.GenerationBurst)
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateLimitKey(c)
			now := time.Now()
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			if ok, wait := requests.admit(key, now); !ok {
				h.Set("Retry-After", retryAfterSeconds(wait))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if generations != nil && isGenerateRoute(c) {
				if ok, wait := generations.admit(key, now); !ok {
					h.Set("Retry-After", retryAfterSeconds(wait))
					return echo.NewHTTPError(http.StatusTooManyRequests, "too many plan generations, try again later")
				}
			}
			return next(c)
		}
	}
}

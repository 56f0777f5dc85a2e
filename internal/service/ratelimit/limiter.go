package ratelimit

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	xhttp "EpiCast/pkg/http"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Each key starts full at Burst tokens and
// refills at PerSecond.
type Limiter struct {
	Burst     float64
	PerSecond float64

	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New(burst int, perMinute float64) *Limiter {
	return &Limiter{
		Burst:     float64(burst),
		PerSecond: perMinute / 60,
		m:         make(map[string]*bucket),
		now:       time.Now,
	}
}

// Allow reports whether one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.Burst, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.PerSecond
		if b.tokens > l.Burst {
			b.tokens = l.Burst
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsErrorf("too many run requests"))
			}
			return next(c)
		}
	}
}

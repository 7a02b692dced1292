package echoapi

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/monitor"
)

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

const unmatchedRoute = "unmatched"

// metricsMiddleware records every request, once the error handler has set the final status.
// Paths no route is registered for share the "unmatched" label.
func metricsMiddleware(e *echo.Echo, m *monitor.Metrics) echo.MiddlewareFunc {
	var (
		routesOnce sync.Once
		routes     map[string]bool
	)
	routeLabel := func(path string) string {
		routesOnce.Do(func() {
			routes = make(map[string]bool)
			for _, r := range e.Routes() {
				routes[r.Path] = true
			}
		})
		if path == "" || !routes[path] {
			return unmatchedRoute
		}
		return path
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}
			m.ObserveRequest(ctx.Request().Method, routeLabel(ctx.Path()), ctx.Response().Status, time.Since(start))
			return nil
		}
	}
}

const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) limiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > visitorTTL {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *rateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			now := rl.now()
			lim := rl.limiter(ctx.RealIP(), now)

			header := ctx.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))

			res := lim.ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)
				header.Set("X-RateLimit-Remaining", "0")
				header.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				return core.TooManyRequests("too many requests, please try again later")
			}
			remaining := int(lim.TokensAt(now))
			if remaining < 0 {
				remaining = 0
			}
			header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			return next(ctx)
		}
	}
}

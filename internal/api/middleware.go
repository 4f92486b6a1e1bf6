package api

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

const userIDKey = "user_id"

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = apperr.HTTPStatus(err)
			}
		}
		log.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}

// CountRequests records the matched route template and status.
func CountRequests(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = apperr.HTTPStatus(err)
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		m.HTTPRequests.WithLabelValues(c.Route().Path, strconv.Itoa(status)).Inc()
		return err
	}
}

// RequireAuth verifies the bearer token and stores the caller in c.Locals("user_id").
func RequireAuth(v auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return JSONError(c, err)
		}
		userID, err := v.Verify(token)
		if err != nil {
			return JSONError(c, err)
		}
		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

// UserRateLimiter keeps one token bucket per authenticated user.
type UserRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	log      *zap.Logger
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func NewUserRateLimiter(perMinute, burst int, log *zap.Logger) *UserRateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &UserRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		log:   log,
		idle:  5 * time.Minute,
	}
}

func (l *UserRateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()
	if v, ok := l.visitors.Load(key); ok {
		vi := v.(*visitor)
		vi.lastSeen.Store(now.UnixNano())
		return vi.limiter
	}
	vi := &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
	vi.lastSeen.Store(now.UnixNano())
	actual, _ := l.visitors.LoadOrStore(key, vi)
	return actual.(*visitor).limiter
}

// Run drops idle buckets until ctx ends.
func (l *UserRateLimiter) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.sweep(now)
		}
	}
}

func (l *UserRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idle)
	l.visitors.Range(func(k, v any) bool {
		if v.(*visitor).lastSeen.Load() < cutoff.UnixNano() {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := callerID(c)
		if key == "" {
			key = "ip:" + c.IP()
		}
		if !l.limiter(key).Allow() {
			l.log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Path()))
			return JSONError(c, apperr.New(apperr.ErrRateLimited, "rate limit exceeded"))
		}
		return c.Next()
	}
}

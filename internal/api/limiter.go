package api

import (
	"context"
	"sync"

	"salonbook/internal/config"
	"salonbook/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rateLimiter prefers the shared fixed-window counter (Redis) so that all
// instances see the same budget, and falls back to a local token bucket per
// key when the shared counter is not configured or fails.
type rateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
	remote   domain.RateLimiter
	logger   zerolog.Logger
}

func newRateLimiter(cfg config.APIRateLimitConfig, remote domain.RateLimiter, logger *zerolog.Logger) *rateLimiter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "rate_limit").Logger()
	}
	return &rateLimiter{cfg: cfg, remote: remote, logger: l}
}

func (l *rateLimiter) Allow(ctx context.Context, key string) bool {
	if l.remote != nil && l.cfg.Limit > 0 {
		allowed, err := l.remote.CheckRateLimit(ctx, key, l.cfg.Limit, l.cfg.Window)
		if err == nil {
			return allowed
		}
		l.logger.Warn().Err(err).Str("key", key).Msg("shared rate limit unavailable, using local limiter")
	}

	if l.cfg.RPS <= 0 {
		return true
	}
	return l.getLimiter(key).Allow()
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

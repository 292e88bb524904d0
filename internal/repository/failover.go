package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"salonbook/internal/domain"

	"github.com/rs/zerolog"
)

// Cache is the combined slot cache and rate limiter surface.
type Cache interface {
	domain.SlotCache
	domain.RateLimiter
}

// FailoverCache serves from primary (Redis) and switches to fallback (memory)
// on the first error. Primary is retried once per recoverAfter.
type FailoverCache struct {
	primary      Cache
	fallback     Cache
	logger       zerolog.Logger
	recoverAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	// дни, которые не удалось сбросить в primary
	missed map[[2]string]struct{}
}

var _ Cache = (*FailoverCache)(nil)

func NewFailoverCache(primary, fallback Cache, logger *zerolog.Logger) *FailoverCache {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "cache").Logger()
	}
	return &FailoverCache{
		primary:      primary,
		fallback:     fallback,
		logger:       l,
		recoverAfter: time.Minute,
		missed:       make(map[[2]string]struct{}),
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > r.recoverAfter {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

// observe records the outcome of a primary call and reports whether it
// succeeded. recovered is true on the call that brought primary back.
func (r *FailoverCache) observe(ctx context.Context, err error) (ok, recovered bool) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("primary cache recovered")
			r.replayMissed(ctx)
			return true, true
		}
		return true, false
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary cache failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
	return false, false
}

func (r *FailoverCache) GetSlots(ctx context.Context, stylistID, date string, duration int) ([]string, bool, error) {
	if r.usePrimary() {
		slots, hit, err := r.primary.GetSlots(ctx, stylistID, date, duration)
		if ok, recovered := r.observe(ctx, err); ok {
			if recovered {
				// entry may predate a missed invalidation
				return nil, false, nil
			}
			return slots, hit, nil
		}
	}
	return r.fallback.GetSlots(ctx, stylistID, date, duration)
}

func (r *FailoverCache) SetSlots(ctx context.Context, stylistID, date string, duration int, slots []string, ttl time.Duration) error {
	if r.usePrimary() {
		if ok, _ := r.observe(ctx, r.primary.SetSlots(ctx, stylistID, date, duration, slots, ttl)); ok {
			return nil
		}
	}
	return r.fallback.SetSlots(ctx, stylistID, date, duration, slots, ttl)
}

// InvalidateDay clears both layers. A day that could not be cleared in
// primary is remembered and cleared again once primary recovers.
func (r *FailoverCache) InvalidateDay(ctx context.Context, stylistID, date string) error {
	fbErr := r.fallback.InvalidateDay(ctx, stylistID, date)
	if err := r.primary.InvalidateDay(ctx, stylistID, date); err != nil {
		r.mu.Lock()
		r.missed[[2]string{stylistID, date}] = struct{}{}
		r.mu.Unlock()
		r.observe(ctx, err)
	}
	return fbErr
}

func (r *FailoverCache) replayMissed(ctx context.Context) {
	r.mu.Lock()
	days := make([][2]string, 0, len(r.missed))
	for day := range r.missed {
		days = append(days, day)
	}
	r.mu.Unlock()

	for _, day := range days {
		if err := r.primary.InvalidateDay(ctx, day[0], day[1]); err != nil {
			r.logger.Warn().Err(err).Str("stylist_id", day[0]).Str("date", day[1]).Msg("replay invalidation failed")
			continue
		}
		r.mu.Lock()
		delete(r.missed, day)
		r.mu.Unlock()
	}
}

func (r *FailoverCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if ok, _ := r.observe(ctx, err); ok {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

package repository

import (
	"context"
	"sync"
	"time"
)

type slotEntry struct {
	slots     []string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryCache is the single-process counterpart of RedisCache.
type MemoryCache struct {
	mu         sync.Mutex
	days       map[string]map[int]slotEntry
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		days:       make(map[string]map[int]slotEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryCache) GetSlots(_ context.Context, stylistID, date string, duration int) ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.days[slotsKey(stylistID, date)][duration]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.days[slotsKey(stylistID, date)], duration)
		return nil, false, nil
	}
	return append([]string{}, entry.slots...), true, nil
}

func (r *MemoryCache) SetSlots(_ context.Context, stylistID, date string, duration int, slots []string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotsKey(stylistID, date)
	day, ok := r.days[key]
	if !ok {
		day = make(map[int]slotEntry)
		r.days[key] = day
	}
	entry := slotEntry{slots: append([]string{}, slots...)}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	day[duration] = entry
	return nil
}

func (r *MemoryCache) InvalidateDay(_ context.Context, stylistID, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.days, slotsKey(stylistID, date))
	return nil
}

func (r *MemoryCache) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

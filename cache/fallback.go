package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Fallback routes calls to a primary cache and degrades to an in-process
// secondary when the primary returns an error. Errors are logged, never returned.
//
// A key whose primary delete failed is tombstoned: the primary copy is no
// longer trusted and reads go to the secondary until a later delete or set
// against the primary succeeds.
type Fallback struct {
	primary   Cache
	secondary *MemoryCache

	mu         sync.Mutex
	tombstones map[string]struct{}
}

// NewFallback wraps primary (may be nil for memory-only operation)
func NewFallback(primary Cache) *Fallback {
	return &Fallback{
		primary:    primary,
		secondary:  NewMemoryCache(),
		tombstones: make(map[string]struct{}),
	}
}

func (f *Fallback) tombstoned(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tombstones[key]
	return ok
}

func (f *Fallback) setTombstones(on bool, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if on {
			f.tombstones[k] = struct{}{}
		} else {
			delete(f.tombstones, k)
		}
	}
}

// clearPrimary retries the delete of a tombstoned key
func (f *Fallback) clearPrimary(ctx context.Context, key string) {
	if err := f.primary.Delete(ctx, key); err != nil {
		slog.Debug("Cache delete retry failed", "key", key, "error", err)
		return
	}
	f.setTombstones(false, key)
}

func (f *Fallback) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if f.primary != nil && f.tombstoned(key) {
		f.clearPrimary(ctx, key)
	} else if f.primary != nil {
		found, err := f.primary.Get(ctx, key, dest)
		if err == nil {
			return found, nil
		}
		slog.Warn("Cache get failed, falling back to memory", "key", key, "error", err)
	}
	found, err := f.secondary.Get(ctx, key, dest)
	if err != nil {
		slog.Warn("Memory cache get failed", "key", key, "error", err)
		return false, nil
	}
	return found, nil
}

func (f *Fallback) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.primary != nil {
		err := f.primary.Set(ctx, key, value, ttl)
		if err == nil {
			// Drop any copy written while the primary was down
			f.secondary.Delete(ctx, key)
			f.setTombstones(false, key)
			return nil
		}
		slog.Warn("Cache set failed, falling back to memory", "key", key, "error", err)
	}
	if err := f.secondary.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("Memory cache set failed", "key", key, "error", err)
	}
	return nil
}

func (f *Fallback) Delete(ctx context.Context, keys ...string) error {
	if f.primary != nil {
		if err := f.primary.Delete(ctx, keys...); err != nil {
			slog.Warn("Cache delete failed, tombstoning keys", "keys", keys, "error", err)
			f.setTombstones(true, keys...)
		} else {
			f.setTombstones(false, keys...)
		}
	}
	f.secondary.Delete(ctx, keys...)
	return nil
}

func (f *Fallback) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	if f.primary != nil {
		n, err := f.primary.DeletePrefix(ctx, prefix)
		if err != nil {
			slog.Warn("Cache prefix delete failed", "prefix", prefix, "error", err)
		}
		removed += n
	}
	n, _ := f.secondary.DeletePrefix(ctx, prefix)
	return removed + n, nil
}

// Sweep drops expired entries from the in-process fallback
func (f *Fallback) Sweep() int {
	return f.secondary.Sweep()
}

// Status reports which store is serving: "up" when the primary answers a ping,
// "down" when it does not, and "memory" when no pingable primary is configured
func (f *Fallback) Status(ctx context.Context) string {
	p, ok := f.primary.(interface{ Ping(context.Context) error })
	if !ok {
		return "memory"
	}
	if err := p.Ping(ctx); err != nil {
		slog.Warn("Cache ping failed", "error", err)
		return "down"
	}
	return "up"
}

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"lunar-bazi/backend/internal/bazi"
)

// MemoryCache keeps results in process with a fixed TTL. Expired entries are
// dropped on read and swept on write at most once per TTL.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	items sync.Map // map[string]cacheEntry

	sweepMu   sync.Mutex
	lastSweep time.Time
}

type cacheEntry struct {
	at     time.Time
	result bazi.Result
}

// NewMemoryCache constructs an in-process cache; ttl <= 0 defaults to 12h.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (bazi.Result, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return bazi.Result{}, false, nil
	}
	entry, ok := m.items.Load(key)
	if !ok {
		return bazi.Result{}, false, nil
	}
	cached := entry.(cacheEntry)
	if m.now().Sub(cached.at) >= m.ttl {
		m.items.Delete(key)
		return bazi.Result{}, false, nil
	}
	return cached.result, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, result bazi.Result) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	now := m.now()
	m.items.Store(key, cacheEntry{at: now, result: result})
	m.maybeSweep(now)
	return nil
}

func (m *MemoryCache) maybeSweep(now time.Time) {
	m.sweepMu.Lock()
	if m.lastSweep.IsZero() {
		m.lastSweep = now
	}
	if now.Sub(m.lastSweep) < m.ttl {
		m.sweepMu.Unlock()
		return
	}
	m.lastSweep = now
	m.sweepMu.Unlock()

	m.items.Range(func(key, value any) bool {
		if now.Sub(value.(cacheEntry).at) >= m.ttl {
			m.items.Delete(key)
		}
		return true
	})
}

// size counts held entries, expired or not.
func (m *MemoryCache) size() int {
	n := 0
	m.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *MemoryCache) Kind() string { return "memory" }

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const defaultLocalEntries = 4096

type localEntry struct {
	data    []byte
	expires time.Time
}

// LocalCache is a bounded in-process cache used when Redis is not configured.
// Entries round-trip through JSON so callers see the same copy semantics as
// with Redis.
type LocalCache struct {
	entries *lru.Cache[string, localEntry]
	now     func() time.Time
}

func NewLocalCache(size int) (*LocalCache, error) {
	if size <= 0 {
		size = defaultLocalEntries
	}
	entries, err := lru.New[string, localEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &LocalCache{entries: entries, now: time.Now}, nil
}

func (c *LocalCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *LocalCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	e := localEntry{data: data}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

func (c *LocalCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.entries.Remove(k)
	}
	return nil
}

// LocalLocker provides the Locker contract within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("lock %s is held: %w", key, models.ErrConflict)
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key].Equal(until) {
				delete(l.held, key)
			}
		})
	}, nil
}

type LocalBlocklist struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
}

func NewLocalBlocklist() *LocalBlocklist {
	return &LocalBlocklist{numbers: make(map[string]struct{})}
}

func (b *LocalBlocklist) IsBlocked(ctx context.Context, phone string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.numbers[models.MSISDN(phone)]
	return ok, nil
}

func (b *LocalBlocklist) Block(ctx context.Context, phone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numbers[models.MSISDN(phone)] = struct{}{}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// Deduper admits each key once within a TTL. Every API instance sees every
// change event, so the hook claims the membership before notifying.
type Deduper interface {
	// First claims key and reports whether this caller is the first.
	First(ctx context.Context, key string) (bool, error)
	// Release drops a claim whose work failed, so a later delivery retries it.
	Release(ctx context.Context, key string) error
}

// MemoryDeduper tracks keys for a single process.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper constructs a MemoryDeduper holding claims for ttl.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) First(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// DefaultDedupePrefix namespaces the deduper's Redis keys.
const DefaultDedupePrefix = "carpool:notify:"

// RedisDeduper claims keys with SET NX so only one instance wins.
type RedisDeduper struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper constructs a RedisDeduper whose keys expire after ttl.
func NewRedisDeduper(rdb redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, prefix: DefaultDedupePrefix, ttl: ttl}
}

// WithPrefix returns a copy of the deduper namespacing its keys under prefix.
func (d *RedisDeduper) WithPrefix(prefix string) *RedisDeduper {
	return &RedisDeduper{rdb: d.rdb, prefix: prefix, ttl: d.ttl}
}

func (d *RedisDeduper) First(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("notify.RedisDeduper.First: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("notify.RedisDeduper.Release: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

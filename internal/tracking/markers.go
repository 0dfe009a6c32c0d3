package tracking

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// MemoryMarkerStore keeps markers in process memory. Markers do not survive
// a restart, so it suits single-process development and tests.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[int64]Marker
}

// NewMemoryMarkerStore constructs an empty MemoryMarkerStore.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[int64]Marker)}
}

func (s *MemoryMarkerStore) Save(_ context.Context, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[m.SessionID] = m
	return nil
}

func (s *MemoryMarkerStore) Claim(_ context.Context, m Marker, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.markers[m.SessionID]
	if !ok || cur.HeldByOther(m.Owner, now) {
		return false, nil
	}
	s.markers[m.SessionID] = m
	return true, nil
}

func (s *MemoryMarkerStore) Load(_ context.Context, sessionID int64) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[sessionID]
	if !ok {
		return Marker{}, fmt.Errorf("tracking.MemoryMarkerStore.Load: %w", domain.ErrNotFound)
	}
	return m, nil
}

func (s *MemoryMarkerStore) Clear(_ context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, sessionID)
	return nil
}

func (s *MemoryMarkerStore) List(_ context.Context) ([]Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Marker) int { return cmp.Compare(a.SessionID, b.SessionID) })
	return out, nil
}

// DefaultMarkerKey is the Redis hash holding one field per tracked session.
const DefaultMarkerKey = "carpool:tracking:markers"

// claimAttempts bounds the optimistic retries of Claim against concurrent
// writers of the hash.
const claimAttempts = 5

// RedisMarkerStore keeps markers in a Redis hash so they outlive the process
// and are shared by every instance.
type RedisMarkerStore struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisMarkerStore constructs a RedisMarkerStore on DefaultMarkerKey.
func NewRedisMarkerStore(rdb redis.UniversalClient) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: rdb, key: DefaultMarkerKey}
}

// WithKey returns a copy of the store using a different hash key.
func (s *RedisMarkerStore) WithKey(key string) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: s.rdb, key: key}
}

func field(sessionID int64) string { return strconv.FormatInt(sessionID, 10) }

func (s *RedisMarkerStore) Save(ctx context.Context, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("tracking.RedisMarkerStore.Save: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key, field(m.SessionID), data).Err(); err != nil {
		return fmt.Errorf("tracking.RedisMarkerStore.Save: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

// Claim checks and writes inside one WATCH/MULTI transaction, so a Clear or
// another Claim racing with it makes the attempt fail and re-read.
func (s *RedisMarkerStore) Claim(ctx context.Context, m Marker, now time.Time) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("tracking.RedisMarkerStore.Claim: %w", err)
	}
	f := field(m.SessionID)

	var claimed bool
	var decodeErr error
	txf := func(tx *redis.Tx) error {
		claimed, decodeErr = false, nil
		raw, err := tx.HGet(ctx, s.key, f).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var cur Marker
		if decodeErr = json.Unmarshal([]byte(raw), &cur); decodeErr != nil {
			return nil
		}
		if cur.HeldByOther(m.Owner, now) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, f, data)
			return nil
		})
		if err == nil {
			claimed = true
		}
		return err
	}

	for range claimAttempts {
		err = s.rdb.Watch(ctx, txf, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if decodeErr != nil {
		return false, fmt.Errorf("tracking.RedisMarkerStore.Claim: field %s: %w", f, decodeErr)
	}
	if err != nil {
		return false, fmt.Errorf("tracking.RedisMarkerStore.Claim: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return claimed, nil
}

func (s *RedisMarkerStore) Load(ctx context.Context, sessionID int64) (Marker, error) {
	raw, err := s.rdb.HGet(ctx, s.key, field(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Marker{}, fmt.Errorf("tracking.RedisMarkerStore.Load: %w", domain.ErrNotFound)
	}
	if err != nil {
		return Marker{}, fmt.Errorf("tracking.RedisMarkerStore.Load: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	var m Marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Marker{}, fmt.Errorf("tracking.RedisMarkerStore.Load: %w", err)
	}
	return m, nil
}

func (s *RedisMarkerStore) Clear(ctx context.Context, sessionID int64) error {
	if err := s.rdb.HDel(ctx, s.key, field(sessionID)).Err(); err != nil {
		return fmt.Errorf("tracking.RedisMarkerStore.Clear: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

func (s *RedisMarkerStore) List(ctx context.Context) ([]Marker, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("tracking.RedisMarkerStore.List: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	out := make([]Marker, 0, len(all))
	for f, raw := range all {
		var m Marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("tracking.RedisMarkerStore.List: field %s: %w", f, err)
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Marker) int { return cmp.Compare(a.SessionID, b.SessionID) })
	return out, nil
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
)

// DefaultChannelPrefix namespaces the Redis pub/sub channels, one per table.
const DefaultChannelPrefix = "carpool:realtime:"

// RedisBroker fans events out across API instances through Redis pub/sub.
// Each subscription holds its own Redis subscription on the table channel
// and applies the column filter locally.
type RedisBroker struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// NewRedisBroker wraps an existing client. The broker does not close rdb.
func NewRedisBroker(rdb redis.UniversalClient, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{rdb: rdb, prefix: DefaultChannelPrefix, log: log, subs: make(map[*redisSub]struct{})}
}

func (b *RedisBroker) channel(table string) string { return b.prefix + table }

func (b *RedisBroker) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime.RedisBroker.Publish: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("realtime.RedisBroker.Publish: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, b.channel(topic.Table))
	// Receive blocks until Redis confirms, so events published after
	// Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime.RedisBroker.Subscribe: %w: %w", domain.ErrRemoteUnavailable, err)
	}

	s := &redisSub{
		topic:  topic,
		ps:     ps,
		events: make(chan domain.ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.release = func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	observability.RealtimeSubscriptions.Inc()

	go s.pump(ctx, b.log)
	return s, nil
}

func (b *RedisBroker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type redisSub struct {
	topic   Topic
	ps      *redis.PubSub
	events  chan domain.ChangeEvent
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
	release func()
}

func (s *redisSub) Topic() Topic                       { return s.topic }
func (s *redisSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *redisSub) pump(ctx context.Context, log *slog.Logger) {
	defer close(s.exited)
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			go s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				go s.Close()
				return
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("realtime: undecodable redis message", "channel", msg.Channel, "error", err)
				continue
			}
			if !s.topic.Matches(ev) {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			default:
				observability.RealtimeDropped.Inc()
				log.Warn("realtime: subscriber behind, event dropped", "topic", s.topic.String(), "type", ev.Type)
			}
		}
	}
}

func (s *redisSub) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ps.Close()
		<-s.exited
		s.release()
		observability.RealtimeSubscriptions.Dec()
	})
}

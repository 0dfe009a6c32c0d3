package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
)

// MemoryBroker routes events between goroutines of a single process.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
	log    *slog.Logger
}

// NewMemoryBroker returns an empty in-process broker.
func NewMemoryBroker(log *slog.Logger) *MemoryBroker {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBroker{subs: make(map[*memorySub]struct{}), log: log}
}

func (b *MemoryBroker) Publish(_ context.Context, ev domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		if s.topic.Matches(ev) {
			s.deliver(ev, b.log)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySub{
		topic:  topic,
		events: make(chan domain.ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	s.release = func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}
	b.subs[s] = struct{}{}
	observability.RealtimeSubscriptions.Inc()
	go s.closeOnDone(ctx)
	return s, nil
}

func (b *MemoryBroker) Active() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every open subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type memorySub struct {
	topic   Topic
	events  chan domain.ChangeEvent
	done    chan struct{}
	once    sync.Once
	sendMu  sync.Mutex
	release func()
}

func (s *memorySub) Topic() Topic                       { return s.topic }
func (s *memorySub) Events() <-chan domain.ChangeEvent { return s.events }

// deliver never blocks the publisher; a subscriber that falls behind loses
// events and is expected to resync from a refetch.
func (s *memorySub) deliver(ev domain.ChangeEvent, log *slog.Logger) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		observability.RealtimeDropped.Inc()
		log.Warn("realtime: subscriber behind, event dropped", "topic", s.topic.String(), "type", ev.Type)
	}
}

func (s *memorySub) Close() {
	s.once.Do(func() {
		close(s.done)
		s.release()
		s.sendMu.Lock()
		close(s.events)
		s.sendMu.Unlock()
		observability.RealtimeSubscriptions.Dec()
	})
}

func (s *memorySub) closeOnDone(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
}

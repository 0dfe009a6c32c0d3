package tracking

import (
	"context"
	"sync"
)

const feedBuffer = 16

// FeedProvider is a Provider fed by the position-ingest endpoint rather than
// by a local GPS. Positions pushed while nobody watches are rejected.
type FeedProvider struct {
	mu  sync.Mutex
	out chan Position
}

func NewFeedProvider() *FeedProvider { return &FeedProvider{} }

func (f *FeedProvider) Watch(ctx context.Context, _ Options) (<-chan Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out != nil {
		close(f.out)
	}
	f.out = make(chan Position, feedBuffer)
	return f.out, nil
}

// Push hands p to the watcher. When the buffer is full the oldest pending
// position is discarded: only the newest fix matters.
func (f *FeedProvider) Push(p Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return ErrNotRunning
	}
	for {
		select {
		case f.out <- p:
			return nil
		default:
		}
		select {
		case <-f.out:
		default:
		}
	}
}

func (f *FeedProvider) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return ErrNotRunning
	}
	close(f.out)
	f.out = nil
	return nil
}

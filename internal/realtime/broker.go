package realtime

import (
	"context"
	"errors"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// ErrClosed is returned by Subscribe and Publish once a broker is closed.
var ErrClosed = errors.New("realtime: broker closed")

// Broker fans change events out to topic subscriptions.
type Broker interface {
	// Publish routes ev to every subscription whose topic matches.
	Publish(ctx context.Context, ev domain.ChangeEvent) error

	// Subscribe opens a subscription for topic. The caller owns it and must
	// Close it; cancelling ctx closes it too.
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)

	// Active reports the number of open subscriptions.
	Active() int

	Close() error
}

// Subscription is a lazy, unbounded, non-restartable stream of events.
// Events is closed after Close. Close may be called any number of times.
type Subscription interface {
	Topic() Topic
	Events() <-chan domain.ChangeEvent
	Close()
}

const subscriptionBuffer = 64

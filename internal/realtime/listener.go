package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
)

// NotifyChannel is the Postgres NOTIFY channel the realtime triggers use.
const NotifyChannel = "realtime"

// leaderLockKey is the advisory lock an exclusive listener holds while
// publishing.
const leaderLockKey int64 = 0x63617270 // "carp"

// PGListener holds one dedicated connection in LISTEN and republishes every
// notification into a Broker. It reconnects with capped exponential backoff.
type PGListener struct {
	pool       *pgxpool.Pool
	broker     Broker
	log        *slog.Logger
	channel    string
	minBackoff time.Duration
	maxBackoff time.Duration
	exclusive  bool
	lockPoll   time.Duration
}

// NewPGListener builds a listener on NotifyChannel.
func NewPGListener(pool *pgxpool.Pool, broker Broker, log *slog.Logger) *PGListener {
	if log == nil {
		log = slog.Default()
	}
	return &PGListener{
		pool:       pool,
		broker:     broker,
		log:        log,
		channel:    NotifyChannel,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		lockPoll:   5 * time.Second,
	}
}

// Exclusive makes the listener publish only while it holds a Postgres
// advisory lock. With a shared broker every instance runs a listener, and
// only one of them may forward the database's events.
func (l *PGListener) Exclusive() *PGListener {
	l.exclusive = true
	return l
}

// Run listens until ctx is cancelled. It only returns ctx.Err().
func (l *PGListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		listened, err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if listened {
			backoff = l.minBackoff
		}
		l.log.Error("realtime: listener disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// listen reports whether it got as far as LISTEN before failing.
func (l *PGListener) listen(ctx context.Context) (bool, error) {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire: %w", err)
	}
	// A LISTENing connection must not go back into the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if l.exclusive {
		if err := l.awaitLeadership(ctx, conn); err != nil {
			return false, err
		}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.log.Info("realtime: listening", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait: %w", err)
		}
		if err := l.Handle(ctx, n.Payload); err != nil {
			l.log.Warn("realtime: notification skipped", "error", err)
		}
	}
}

// awaitLeadership blocks until this session holds the advisory lock. The
// lock is released when the connection closes.
func (l *PGListener) awaitLeadership(ctx context.Context, conn *pgx.Conn) error {
	for {
		var held bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leaderLockKey).Scan(&held); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		if held {
			l.log.Info("realtime: listener is leader")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.lockPoll):
		}
	}
}

// Handle decodes one NOTIFY payload and publishes it.
func (l *PGListener) Handle(ctx context.Context, payload string) error {
	ev, err := DecodeNotification(payload)
	if err != nil {
		return err
	}
	observability.RealtimeEvents.WithLabelValues(ev.Table).Inc()
	if err := l.broker.Publish(ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("publish %s: %w", ev.Table, err)
	}
	return nil
}

// DecodeNotification parses the JSON the realtime_notify trigger emits.
func DecodeNotification(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("%w: decode notification: %w", domain.ErrValidation, err)
	}
	if ev.Table == "" {
		return ev, fmt.Errorf("%w: notification without table", domain.ErrValidation)
	}
	switch ev.Type {
	case domain.EventInsert, domain.EventUpdate, domain.EventDelete:
	default:
		return ev, fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, ev.Type)
	}
	return ev, nil
}

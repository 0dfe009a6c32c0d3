package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
)

// Config holds a Tracker's collaborators.
type Config struct {
	SessionID int64
	DriverID  uuid.UUID
	Provider  Provider
	Markers   MarkerStore
	Writer    LocationWriter
	Options   Options
	Logger    *slog.Logger
	// Owner and LeaseTTL stamp the marker written by Start. LeaseTTL
	// defaults to DefaultLeaseTTL.
	Owner    string
	LeaseTTL time.Duration
	// Now is used to stamp positions without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Tracker runs the position loop for a single session.
type Tracker struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	running bool
	marker  Marker
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a stopped Tracker.
func New(cfg Config) *Tracker {
	cfg.Options = cfg.Options.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{cfg: cfg, log: log.With("session_id", cfg.SessionID)}
}

// SessionID returns the session the tracker writes for.
func (t *Tracker) SessionID() int64 { return t.cfg.SessionID }

// Running reports whether the position loop is live.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start checks permissions, writes the recovery marker and registers the
// provider. A registration failure removes the marker again and is returned.
func (t *Tracker) Start(ctx context.Context, perms Permissions) error {
	if !perms.Granted() {
		return fmt.Errorf("tracking.Tracker.Start: %w: foreground and background location are both required", domain.ErrPermissionDenied)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("tracking.Tracker.Start: %w: session %d already tracked", domain.ErrConflict, t.cfg.SessionID)
	}

	now := t.cfg.Now().UTC()
	marker := Marker{
		SessionID:  t.cfg.SessionID,
		DriverID:   t.cfg.DriverID,
		StartedAt:  now,
		Owner:      t.cfg.Owner,
		LeaseUntil: now.Add(t.cfg.LeaseTTL),
	}
	if err := t.cfg.Markers.Save(ctx, marker); err != nil {
		return fmt.Errorf("tracking.Tracker.Start: save marker: %w", err)
	}

	return t.run(marker)
}

// Resume restarts the loop for a session whose marker survived a restart.
// Permissions were checked when the marker was written.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	m, err := t.cfg.Markers.Load(ctx, t.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("tracking.Tracker.Resume: %w", err)
	}
	return t.run(m)
}

// run must be called with t.mu held.
func (t *Tracker) run(m Marker) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	positions, err := t.cfg.Provider.Watch(loopCtx, t.cfg.Options)
	if err != nil {
		cancel()
		if clearErr := t.cfg.Markers.Clear(context.Background(), m.SessionID); clearErr != nil {
			t.log.Warn("tracking: clear marker after failed registration", "error", clearErr)
		}
		return fmt.Errorf("tracking.Tracker.Start: register provider: %w", err)
	}

	t.running = true
	t.marker = m
	t.cancel = cancel
	t.done = make(chan struct{})
	observability.TrackersActive.Inc()
	go t.loop(loopCtx, positions, t.done)
	t.log.Info("tracking: started", "driver_id", m.DriverID)
	return nil
}

func (t *Tracker) loop(ctx context.Context, positions <-chan Position, done chan struct{}) {
	defer close(done)
	th := newThrottle(t.cfg.Options)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-positions:
			if !ok {
				return
			}
			if p.RecordedAt.IsZero() {
				p.RecordedAt = t.cfg.Now()
			}
			if !th.admit(p) {
				observability.PositionsThrottled.Inc()
				continue
			}
			t.write(ctx, p)
		}
	}
}

// write upserts the row. One failed write is logged and skipped; the next
// admitted position retries naturally.
func (t *Tracker) write(ctx context.Context, p Position) {
	_, err := t.cfg.Writer.Upsert(ctx, domain.DriverLocation{
		TripSessionID: t.cfg.SessionID,
		DriverID:      t.cfg.DriverID,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		RecordedAt:    p.RecordedAt.UTC(),
	})
	if err != nil {
		observability.PositionWriteErrors.Inc()
		t.log.Warn("tracking: location write failed", "error", err)
		return
	}
	observability.PositionsAccepted.Inc()
}

// Stop cancels the provider, clears the marker and deletes the location row.
// Stopping a stopped tracker still performs the cleanup and is not an error.
func (t *Tracker) Stop(ctx context.Context) error {
	t.halt()

	var errs []error
	if err := t.cfg.Markers.Clear(ctx, t.cfg.SessionID); err != nil {
		errs = append(errs, fmt.Errorf("clear marker: %w", err))
	}
	if err := t.cfg.Writer.Delete(ctx, t.cfg.SessionID); err != nil {
		errs = append(errs, fmt.Errorf("delete location: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tracking.Tracker.Stop: %w", err)
	}
	return nil
}

// Detach stops the loop but leaves the marker and the row in place, so a
// restarted process can resume. It is used on graceful shutdown.
func (t *Tracker) Detach() {
	t.halt()
}

func (t *Tracker) halt() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if err := t.cfg.Provider.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		t.log.Warn("tracking: provider stop", "error", err)
	}
	cancel()
	<-done
	observability.TrackersActive.Dec()
	t.log.Info("tracking: stopped")
}

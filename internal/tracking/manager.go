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
)

// SessionLookup reads the current state of a session during recovery.
type SessionLookup func(ctx context.Context, sessionID int64) (domain.TripSession, error)

// ManagerConfig holds what every tracker of the process shares.
type ManagerConfig struct {
	Markers MarkerStore
	Writer  LocationWriter
	Options Options
	Logger  *slog.Logger
	Now     func() time.Time

	// Owner identifies this process in the markers it holds. Defaults to a
	// random id, which is enough as long as it is unique per process.
	Owner string
	// LeaseTTL is how long a marker stays held without renewal. Run renews
	// at a third of it. Defaults to DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// Manager owns one Tracker, fed by its own FeedProvider, per tracked session.
//
// With a shared MarkerStore several processes cooperate: each marker names
// the process holding it, and only a marker whose lease ran out may be
// resumed elsewhere. Positions for a session must reach the process that
// holds it; Push on any other process returns domain.ErrConflict.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu       sync.Mutex
	trackers map[int64]*managed

	closeOnce sync.Once
	closed    chan struct{}
}

type managed struct {
	tracker *Tracker
	feed    *FeedProvider
	marker  Marker
}

// NewManager constructs a Manager with no trackers. Call Recover once on
// boot and Run for the lifetime of the process.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.With("owner", cfg.Owner),
		trackers: make(map[int64]*managed),
		closed:   make(chan struct{}),
	}
}

// Owner returns the id this process writes into its markers.
func (m *Manager) Owner() string { return m.cfg.Owner }

func (m *Manager) newManaged(sessionID int64, driverID uuid.UUID) *managed {
	feed := NewFeedProvider()
	return &managed{
		feed: feed,
		tracker: New(Config{
			SessionID: sessionID,
			DriverID:  driverID,
			Provider:  feed,
			Markers:   m.cfg.Markers,
			Writer:    m.cfg.Writer,
			Options:   m.cfg.Options,
			Logger:    m.log,
			Owner:     m.cfg.Owner,
			LeaseTTL:  m.cfg.LeaseTTL,
			Now:       m.cfg.Now,
		}),
	}
}

// Start begins tracking sessionID. Starting a session that is already
// tracked returns domain.ErrConflict.
func (m *Manager) Start(ctx context.Context, sessionID int64, driverID uuid.UUID, perms Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[sessionID]; ok {
		return fmt.Errorf("tracking.Manager.Start: %w: session %d already tracked", domain.ErrConflict, sessionID)
	}
	mt := m.newManaged(sessionID, driverID)
	if err := mt.tracker.Start(ctx, perms); err != nil {
		return err
	}
	mt.marker = mt.tracker.marker
	m.trackers[sessionID] = mt
	return nil
}

// Push feeds one device position into the session's tracker.
func (m *Manager) Push(sessionID int64, p Position) error {
	m.mu.Lock()
	mt, ok := m.trackers[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tracking.Manager.Push: %w: session %d is not being tracked", domain.ErrConflict, sessionID)
	}
	if err := mt.feed.Push(p); err != nil {
		return fmt.Errorf("tracking.Manager.Push: %w: %w", domain.ErrConflict, err)
	}
	return nil
}

// Running reports whether this process tracks sessionID.
func (m *Manager) Running(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.trackers[sessionID]
	return ok
}

// Active returns the ids of every tracked session.
func (m *Manager) Active() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	return ids
}

// Stop ends tracking for sessionID. A session without a tracker still has
// its marker and location row removed, so Stop is safe to repeat and
// cleans up after a tracker lost to a crash.
func (m *Manager) Stop(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	mt, ok := m.trackers[sessionID]
	delete(m.trackers, sessionID)
	m.mu.Unlock()

	if !ok {
		mt = m.newManaged(sessionID, uuid.Nil)
	}
	return mt.tracker.Stop(ctx)
}

// Recover applies the restart contract to every surviving marker: sessions
// still active resume tracking, everything else has its marker and location
// row removed. Markers another process still holds are left alone. It
// returns how many trackers were resumed.
func (m *Manager) Recover(ctx context.Context, lookup SessionLookup) (int, error) {
	markers, err := m.cfg.Markers.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("tracking.Manager.Recover: %w", err)
	}

	resumed := 0
	var errs []error
	for _, mk := range markers {
		if m.Running(mk.SessionID) {
			continue
		}
		if mk.HeldByOther(m.cfg.Owner, m.cfg.Now()) {
			m.log.Debug("tracking: marker held elsewhere", "session_id", mk.SessionID, "holder", mk.Owner)
			continue
		}
		s, err := lookup(ctx, mk.SessionID)
		switch {
		case err == nil && s.Status == domain.SessionActive:
			ok, err := m.resume(ctx, mk)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				resumed++
			}
		case err == nil || errors.Is(err, domain.ErrNotFound):
			m.log.Info("tracking: discarding stale marker", "session_id", mk.SessionID, "status", s.Status)
			if err := m.Stop(ctx, mk.SessionID); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("session %d: %w", mk.SessionID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return resumed, fmt.Errorf("tracking.Manager.Recover: %w", err)
	}
	return resumed, nil
}

// resume claims mk for this process and restarts its loop. It reports false
// when the session is already tracked here or another process won the claim.
func (m *Manager) resume(ctx context.Context, mk Marker) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[mk.SessionID]; ok {
		return false, nil
	}
	now := m.cfg.Now()
	mk.Owner = m.cfg.Owner
	mk.LeaseUntil = now.Add(m.cfg.LeaseTTL)
	claimed, err := m.cfg.Markers.Claim(ctx, mk, now)
	if err != nil {
		return false, fmt.Errorf("tracking.Manager.resume: session %d: %w", mk.SessionID, err)
	}
	if !claimed {
		return false, nil
	}
	mt := m.newManaged(mk.SessionID, mk.DriverID)
	if err := mt.tracker.Resume(ctx); err != nil {
		return false, err
	}
	mt.marker = mt.tracker.marker
	m.trackers[mk.SessionID] = mt
	m.log.Info("tracking: resumed", "session_id", mk.SessionID, "driver_id", mk.DriverID)
	return true, nil
}

// Run keeps this process's leases alive and adopts sessions whose holder
// stopped renewing, every LeaseTTL/3 until ctx is done or Shutdown.
func (m *Manager) Run(ctx context.Context, lookup SessionLookup) {
	ticker := time.NewTicker(m.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case <-ticker.C:
			m.renew(ctx)
			if _, err := m.Recover(ctx, lookup); err != nil {
				m.log.Warn("tracking: recovery sweep", "error", err)
			}
		}
	}
}

// renew extends the lease of every local tracker. A tracker whose marker
// was cleared or taken over is detached, since its session is no longer
// this process's to track.
func (m *Manager) renew(ctx context.Context) {
	m.mu.Lock()
	local := make(map[int64]*managed, len(m.trackers))
	leases := make(map[int64]Marker, len(m.trackers))
	for id, mt := range m.trackers {
		local[id] = mt
		leases[id] = mt.marker
	}
	m.mu.Unlock()

	for id, mt := range local {
		now := m.cfg.Now()
		mk := leases[id]
		mk.LeaseUntil = now.Add(m.cfg.LeaseTTL)
		held, err := m.cfg.Markers.Claim(ctx, mk, now)
		if err != nil {
			// Keep tracking; the lease may still be valid and the next tick retries.
			m.log.Warn("tracking: renew lease", "session_id", id, "error", err)
			continue
		}
		if held {
			m.mu.Lock()
			mt.marker = mk
			m.mu.Unlock()
			continue
		}
		m.mu.Lock()
		if m.trackers[id] == mt {
			delete(m.trackers, id)
		}
		m.mu.Unlock()
		mt.tracker.Detach()
		m.log.Info("tracking: marker gone or taken over, detached", "session_id", id)
	}
}

// Shutdown detaches every tracker and expires its lease, keeping markers
// and rows so the next process to recover picks the sessions up at once.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() { close(m.closed) })

	m.mu.Lock()
	all := m.trackers
	m.trackers = make(map[int64]*managed)
	leases := make(map[int64]Marker, len(all))
	for id, mt := range all {
		leases[id] = mt.marker
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := m.cfg.Now()
	for id, mt := range all {
		mt.tracker.Detach()
		mk := leases[id]
		mk.LeaseUntil = now
		if _, err := m.cfg.Markers.Claim(ctx, mk, now); err != nil {
			m.log.Warn("tracking: release lease", "session_id", id, "error", err)
		}
	}
}

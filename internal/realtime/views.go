package realtime

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// tombstones remember when a key was deleted so a late or duplicated write
// from before the delete cannot bring the row back.
type tombstones[K comparable] map[K]time.Time

// bury records a delete of key whose last known version was at.
func (t tombstones[K]) bury(key K, at time.Time) {
	if prev, ok := t[key]; !ok || at.After(prev) {
		t[key] = at
	}
}

// buried reports whether a write at ts predates the delete of key. A newer
// write lifts the tombstone.
func (t tombstones[K]) buried(key K, ts time.Time) bool {
	at, ok := t[key]
	if !ok {
		return false
	}
	if !ts.After(at) {
		return true
	}
	delete(t, key)
	return false
}

// SessionView caches trip sessions by id from their change events.
// A newer updated_at wins; replays and stale events are ignored.
type SessionView struct {
	mu       sync.RWMutex
	sessions map[int64]domain.TripSession
	deleted  tombstones[int64]
}

func NewSessionView() *SessionView {
	return &SessionView{sessions: make(map[int64]domain.TripSession), deleted: tombstones[int64]{}}
}

// Set seeds the view, typically from the initial fetch.
func (v *SessionView) Set(s domain.TripSession) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions[s.ID] = s
}

func (v *SessionView) Get(id int64) (domain.TripSession, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sessions[id]
	return s, ok
}

func (v *SessionView) Apply(_ context.Context, ev domain.ChangeEvent) error {
	_, err := v.Accept(ev)
	return err
}

// Accept folds ev into the view and reports whether it changed anything.
func (v *SessionView) Accept(ev domain.ChangeEvent) (bool, error) {
	rec, err := decodeFor(ev, domain.TableTripSessions)
	if err != nil {
		return false, err
	}
	s := *rec.Session

	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.sessions[s.ID]
	if ev.Type == domain.EventDelete {
		v.deleted.bury(s.ID, latest(s.UpdatedAt, cur.UpdatedAt))
		delete(v.sessions, s.ID)
		return ok, nil
	}
	if v.deleted.buried(s.ID, s.UpdatedAt) {
		return false, nil
	}
	if ok && !s.UpdatedAt.After(cur.UpdatedAt) {
		return false, nil
	}
	v.sessions[s.ID] = s
	return true, nil
}

// MembershipView caches passenger memberships by id, last write wins on
// updated_at.
type MembershipView struct {
	mu      sync.RWMutex
	members map[int64]domain.PassengerTripSession
	deleted tombstones[int64]
}

func NewMembershipView() *MembershipView {
	return &MembershipView{members: make(map[int64]domain.PassengerTripSession), deleted: tombstones[int64]{}}
}

func (v *MembershipView) Set(m domain.PassengerTripSession) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.members[m.ID] = m
}

// List returns the memberships of sessionID ordered by id.
func (v *MembershipView) List(sessionID int64) []domain.PassengerTripSession {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := []domain.PassengerTripSession{}
	for _, m := range v.members {
		if m.TripSessionID == sessionID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.PassengerTripSession) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (v *MembershipView) Apply(_ context.Context, ev domain.ChangeEvent) error {
	_, err := v.Accept(ev)
	return err
}

func (v *MembershipView) Accept(ev domain.ChangeEvent) (bool, error) {
	rec, err := decodeFor(ev, domain.TablePassengerSessions)
	if err != nil {
		return false, err
	}
	m := *rec.Membership

	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.members[m.ID]
	if ev.Type == domain.EventDelete {
		v.deleted.bury(m.ID, latest(m.UpdatedAt, cur.UpdatedAt))
		delete(v.members, m.ID)
		return ok, nil
	}
	if v.deleted.buried(m.ID, m.UpdatedAt) {
		return false, nil
	}
	if ok && !m.UpdatedAt.After(cur.UpdatedAt) {
		return false, nil
	}
	v.members[m.ID] = m
	return true, nil
}

// LocationView holds the latest driver location per session. A DELETE
// clears it: a stopped tracker means the position is no longer meaningful.
// Like the other views it keeps a tombstone per deleted key, so only a fix
// newer than the deleted one shows up again.
type LocationView struct {
	mu        sync.RWMutex
	locations map[int64]domain.DriverLocation
	deleted   tombstones[int64]
}

func NewLocationView() *LocationView {
	return &LocationView{locations: make(map[int64]domain.DriverLocation), deleted: tombstones[int64]{}}
}

func (v *LocationView) Get(sessionID int64) (domain.DriverLocation, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	l, ok := v.locations[sessionID]
	return l, ok
}

func (v *LocationView) Apply(_ context.Context, ev domain.ChangeEvent) error {
	_, err := v.Accept(ev)
	return err
}

func (v *LocationView) Accept(ev domain.ChangeEvent) (bool, error) {
	rec, err := decodeFor(ev, domain.TableDriverLocations)
	if err != nil {
		return false, err
	}
	l := *rec.Location

	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.locations[l.TripSessionID]
	if ev.Type == domain.EventDelete {
		v.deleted.bury(l.TripSessionID, latest(l.RecordedAt, cur.RecordedAt))
		delete(v.locations, l.TripSessionID)
		return ok, nil
	}
	if v.deleted.buried(l.TripSessionID, l.RecordedAt) {
		return false, nil
	}
	if ok && !l.RecordedAt.After(cur.RecordedAt) {
		return false, nil
	}
	v.locations[l.TripSessionID] = l
	return true, nil
}

// AvailableLoader fetches the full list of joinable sessions.
type AvailableLoader func(ctx context.Context) ([]domain.AvailableSession, error)

// AvailableSessionsView is a derived view: any session or membership event
// can change seat counts, so every event triggers a full refetch.
type AvailableSessionsView struct {
	load AvailableLoader

	mu       sync.RWMutex
	sessions []domain.AvailableSession
	loaded   bool
}

func NewAvailableSessionsView(load AvailableLoader) *AvailableSessionsView {
	return &AvailableSessionsView{load: load}
}

// Refresh refetches the view. On failure the previous snapshot is kept.
func (v *AvailableSessionsView) Refresh(ctx context.Context) error {
	sessions, err := v.load(ctx)
	if err != nil {
		return fmt.Errorf("realtime.AvailableSessionsView.Refresh: %w", err)
	}
	v.mu.Lock()
	v.sessions = sessions
	v.loaded = true
	v.mu.Unlock()
	return nil
}

func (v *AvailableSessionsView) Apply(ctx context.Context, ev domain.ChangeEvent) error {
	switch ev.Table {
	case domain.TableTripSessions, domain.TablePassengerSessions:
		return v.Refresh(ctx)
	}
	return nil
}

// Snapshot returns a copy of the last loaded list and whether a load has
// ever succeeded.
func (v *AvailableSessionsView) Snapshot() ([]domain.AvailableSession, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.sessions), v.loaded
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func decodeFor(ev domain.ChangeEvent, table string) (domain.Record, error) {
	if ev.Table != table {
		return domain.Record{}, fmt.Errorf("%w: %s event sent to %s view", domain.ErrValidation, ev.Table, table)
	}
	return ev.Decode()
}

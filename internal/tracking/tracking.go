// Package tracking turns a driver's raw position stream into the single
// DriverLocation row of an active trip session.
//
// A Tracker is an explicit object per session with its collaborators
// injected: the Provider that delivers positions, the MarkerStore that lets a
// restarted process find the sessions it was tracking, and the LocationWriter
// that upserts the row. Manager owns the trackers of a running process.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
)

const (
	DefaultMinInterval = 3 * time.Second
	DefaultMinDistance = 3.0 // meters

	// DefaultLeaseTTL is how long a marker stays owned by its process
	// without renewal.
	DefaultLeaseTTL = 30 * time.Second
)

// ErrNotRunning is returned when feeding or stopping a provider that is not
// watching. Stop paths treat it as success.
var ErrNotRunning = errors.New("tracking: not running")

// Position is one fix reported by the driver device.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Permissions are the location grants the device reported at start.
type Permissions struct {
	Foreground bool `json:"foreground_permission"`
	Background bool `json:"background_permission"`
}

// Granted reports whether both grants are present.
func (p Permissions) Granted() bool { return p.Foreground && p.Background }

// Options configure the position delivery mechanism.
type Options struct {
	MinInterval time.Duration
	MinDistance float64
	// PausesAutomatically lets the provider suspend updates when it thinks
	// the device is stationary. Trackers always turn it off.
	PausesAutomatically bool
}

// DefaultOptions is 3s / 3m with automatic pausing disabled.
func DefaultOptions() Options {
	return Options{MinInterval: DefaultMinInterval, MinDistance: DefaultMinDistance}
}

func (o Options) withDefaults() Options {
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
	if o.MinDistance <= 0 {
		o.MinDistance = DefaultMinDistance
	}
	o.PausesAutomatically = false
	return o
}

// Provider delivers positions until stopped. Watch registers the delivery
// mechanism; an error there means tracking cannot work at all. Stop must
// return nil (or ErrNotRunning) when already stopped.
type Provider interface {
	Watch(ctx context.Context, opts Options) (<-chan Position, error)
	Stop() error
}

// Marker is the durable record of a session being tracked. Owner names the
// process running the tracker, which holds the marker until LeaseUntil.
type Marker struct {
	SessionID  int64     `json:"trip_session_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	StartedAt  time.Time `json:"started_at"`
	Owner      string    `json:"owner,omitempty"`
	LeaseUntil time.Time `json:"lease_until"`
}

// HeldByOther reports whether a live lease of a different owner covers now.
// A marker without an owner is never held.
func (m Marker) HeldByOther(owner string, now time.Time) bool {
	return m.Owner != "" && m.Owner != owner && now.Before(m.LeaseUntil)
}

// MarkerStore persists one marker slot per tracked session.
type MarkerStore interface {
	Save(ctx context.Context, m Marker) error
	// Claim overwrites the stored marker of m.SessionID with m, but only if
	// one exists and it is not HeldByOther(m.Owner, now). It reports whether
	// m was stored.
	Claim(ctx context.Context, m Marker, now time.Time) (bool, error)
	// Load returns domain.ErrNotFound when the session has no marker.
	Load(ctx context.Context, sessionID int64) (Marker, error)
	// Clear is a no-op for a missing marker.
	Clear(ctx context.Context, sessionID int64) error
	List(ctx context.Context) ([]Marker, error)
}

// LocationWriter persists the session's DriverLocation row.
// repo.LocationRepo satisfies it.
type LocationWriter interface {
	Upsert(ctx context.Context, loc domain.DriverLocation) (domain.DriverLocation, error)
	Delete(ctx context.Context, sessionID int64) error
}

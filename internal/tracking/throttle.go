package tracking

import (
	"time"

	"github.com/pkordes/carpool/backend/internal/geofence"
)

// throttle admits the first position and afterwards only positions that
// are both at least interval later and distance meters away from the last
// admitted one.
type throttle struct {
	interval time.Duration
	distance float64

	last Position
	seen bool
}

func newThrottle(o Options) *throttle {
	return &throttle{interval: o.MinInterval, distance: o.MinDistance}
}

func (t *throttle) admit(p Position) bool {
	if !t.seen {
		t.last, t.seen = p, true
		return true
	}
	if p.RecordedAt.Sub(t.last.RecordedAt) < t.interval {
		return false
	}
	moved := geofence.Haversine(
		geofence.Point{Lat: t.last.Latitude, Lon: t.last.Longitude},
		geofence.Point{Lat: p.Latitude, Lon: p.Longitude},
	)
	if moved < t.distance {
		return false
	}
	t.last = p
	return true
}

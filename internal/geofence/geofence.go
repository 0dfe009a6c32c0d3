// Package geofence decides whether a candidate pickup point lies close enough
// to a route's path. Distances are great-circle distances on a spherical Earth.
package geofence

import (
	"math"
	"sort"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// DefaultThresholdMeters is the maximum accepted distance between a meeting
// point and the route line.
const DefaultThresholdMeters = 150.0

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Line is an ordered polyline. A line with fewer than two distinct points has
// no geometry to validate against.
type Line []Point

// RouteLine builds origin → stops (by stop_order) → destination.
func RouteLine(r domain.Route) Line {
	stops := make([]domain.RouteStop, len(r.Stops))
	copy(stops, r.Stops)
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].StopOrder < stops[j].StopOrder })

	line := make(Line, 0, len(stops)+2)
	line = append(line, Point{Lat: r.StartLatitude, Lon: r.StartLongitude})
	for _, s := range stops {
		line = append(line, Point{Lat: s.Latitude, Lon: s.Longitude})
	}
	return append(line, Point{Lat: r.EndLatitude, Lon: r.EndLongitude})
}

// Length is the total great-circle length of the line in meters.
func (l Line) Length() float64 {
	total := 0.0
	for i := 1; i < len(l); i++ {
		total += Haversine(l[i-1], l[i])
	}
	return total
}

// Result is the outcome of a proximity check.
// Evaluated is false when the geometry was missing or zero-length and the
// check failed open.
type Result struct {
	Valid     bool
	Evaluated bool
	Distance  float64
	Overage   float64
}

// Validator applies a distance threshold to a point/line pair.
type Validator struct {
	Threshold float64
}

// NewValidator returns a Validator; a non-positive threshold selects the default.
func NewValidator(threshold float64) Validator {
	if threshold <= 0 {
		threshold = DefaultThresholdMeters
	}
	return Validator{Threshold: threshold}
}

// Check measures p against line. Missing or zero-length geometry is valid so
// that users are never blocked by a route that has not loaded.
func (v Validator) Check(p Point, line Line) Result {
	if len(line) < 2 || line.Length() == 0 {
		return Result{Valid: true}
	}
	d := DistanceToLine(p, line)
	res := Result{Valid: d <= v.Threshold, Evaluated: true, Distance: d}
	if !res.Valid {
		res.Overage = d - v.Threshold
	}
	return res
}

// Validate is Check shaped as an error: nil when valid, a *domain.GeofenceError otherwise.
func (v Validator) Validate(p Point, line Line) error {
	res := v.Check(p, line)
	if res.Valid {
		return nil
	}
	return &domain.GeofenceError{Distance: res.Distance, Threshold: v.Threshold}
}

// DistanceToLine is the minimum distance in meters from p to any segment of line.
func DistanceToLine(p Point, line Line) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(p, line[0])
	}
	best := math.Inf(1)
	for i := 1; i < len(line); i++ {
		if d := DistanceToSegment(p, line[i-1], line[i]); d < best {
			best = d
		}
	}
	return best
}

// DistanceToSegment is the distance from p to the great-circle arc a→b,
// clamped to the arc's endpoints.
func DistanceToSegment(p, a, b Point) float64 {
	d12 := angular(a, b)
	d13 := angular(a, p)
	if d12 == 0 {
		return d13 * earthRadiusMeters
	}
	delta := bearing(a, p) - bearing(a, b)

	// p lies behind a.
	if math.Cos(delta) < 0 {
		return d13 * earthRadiusMeters
	}

	dxt := math.Asin(clamp(math.Sin(d13) * math.Sin(delta)))
	dat := math.Acos(clamp(math.Cos(d13) / math.Cos(dxt)))
	if dat > d12 {
		return Haversine(p, b)
	}
	return math.Abs(dxt) * earthRadiusMeters
}

// Haversine is the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	return angular(a, b) * earthRadiusMeters
}

func angular(a, b Point) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func bearing(a, b Point) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x)
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

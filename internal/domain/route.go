package domain

import "time"

// Route is a reusable template of origin, destination and ordered stops.
type Route struct {
	ID             int64       `json:"id"`
	StartLocation  string      `json:"start_location"`
	EndLocation    string      `json:"end_location"`
	StartLatitude  float64     `json:"start_latitude"`
	StartLongitude float64     `json:"start_longitude"`
	EndLatitude    float64     `json:"end_latitude"`
	EndLongitude   float64     `json:"end_longitude"`
	Stops          []RouteStop `json:"stops"`
}

// RouteStop is a static waypoint of a Route. StopOrder defines a total order.
type RouteStop struct {
	ID        int64   `json:"id"`
	RouteID   int64   `json:"route_id"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	StopOrder int     `json:"stop_order"`
}

// StopStatus is the check-in state of a TripSessionStop.
type StopStatus string

const (
	StopPending StopStatus = "pending"
	StopVisited StopStatus = "visited"
	StopSkipped StopStatus = "skipped"
)

// TripSessionStop is the per-session copy of a RouteStop.
// Location, coordinates and StopOrder are denormalised from the template on read.
type TripSessionStop struct {
	ID            int64      `json:"id"`
	TripSessionID int64      `json:"trip_session_id"`
	StopID        int64      `json:"stop_id"`
	Status        StopStatus `json:"status"`
	VisitTime     *time.Time `json:"visit_time,omitempty"`
	Location      string     `json:"location"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	StopOrder     int        `json:"stop_order"`
}

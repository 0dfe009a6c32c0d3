// Package domain contains the core data types for the carpool service.
// This package has zero external dependencies beyond uuid and is imported by
// every other internal package (repo, service, handler, realtime, tracking).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a TripSession.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Open reports whether the status counts towards the one-open-session-per-driver rule.
func (s SessionStatus) Open() bool {
	return s == SessionPending || s == SessionActive
}

// Terminal reports whether the session has become immutable history.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// TripSession is one journey instance of a driver over a route template.
// EndTime is nil until the session reaches a terminal state.
type TripSession struct {
	ID             int64         `json:"id"`
	RouteID        int64         `json:"route_id"`
	DriverID       uuid.UUID     `json:"driver_id"`
	Status         SessionStatus `json:"status"`
	StartLocation  string        `json:"start_location"`
	EndLocation    string        `json:"end_location"`
	StartLatitude  float64       `json:"start_latitude"`
	StartLongitude float64       `json:"start_longitude"`
	EndLatitude    float64       `json:"end_latitude"`
	EndLongitude   float64       `json:"end_longitude"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AvailableSession is a row of the "available sessions" derived view: an open
// session together with the number of seats still held by members.
type AvailableSession struct {
	Session  TripSession `json:"session"`
	Occupied int         `json:"occupied"`
	Seats    int         `json:"seats"`
}

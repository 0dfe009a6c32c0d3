package domain

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus is the state of a passenger's request against a session.
type MembershipStatus string

const (
	MembershipPendingApproval MembershipStatus = "pending_approval"
	MembershipJoined          MembershipStatus = "joined"
	MembershipRejected        MembershipStatus = "rejected"
	MembershipCompleted       MembershipStatus = "completed"
	MembershipCancelled       MembershipStatus = "cancelled"
)

// Terminal reports whether no further membership transition is possible.
func (s MembershipStatus) Terminal() bool {
	return s == MembershipRejected || s == MembershipCompleted || s == MembershipCancelled
}

// PassengerTripSession links a passenger to a TripSession.
// Rejected is kept separately from Status so a terminal rejection survives
// later status rewrites without discarding the row.
type PassengerTripSession struct {
	ID            int64            `json:"id"`
	TripSessionID int64            `json:"trip_session_id"`
	PassengerID   uuid.UUID        `json:"passenger_id"`
	Status        MembershipStatus `json:"status"`
	Rejected      bool             `json:"rejected"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// OccupiesSeat reports whether the membership counts against the capacity ceiling.
func (m PassengerTripSession) OccupiesSeat() bool {
	if m.Rejected {
		return false
	}
	return m.Status == MembershipJoined || m.Status == MembershipPendingApproval
}

// PassengerMeetingPoint is the pickup coordinate a passenger chose when
// requesting to join. It is never mutated; a new join cycle creates a new point.
type PassengerMeetingPoint struct {
	ID            int64     `json:"id"`
	TripSessionID int64     `json:"trip_session_id"`
	PassengerID   uuid.UUID `json:"passenger_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Location      string    `json:"location"`
	CreatedAt     time.Time `json:"created_at"`
}

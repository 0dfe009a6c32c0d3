package domain

import (
	"time"

	"github.com/google/uuid"
)

// DriverLocation is the single transient row holding a driver's last known
// position for an active session. At most one row exists per TripSessionID.
type DriverLocation struct {
	TripSessionID int64     `json:"trip_session_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Rating is feedback left by one participant about another after completion.
type Rating struct {
	ID            int64     `json:"id"`
	TripSessionID int64     `json:"trip_session_id"`
	RaterID       uuid.UUID `json:"rater_id"`
	RateeID       uuid.UUID `json:"ratee_id"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RatingSummary is the read-side aggregate of all ratings for a user.
type RatingSummary struct {
	UserID  uuid.UUID `json:"user_id"`
	Average float64   `json:"average"`
	Count   int       `json:"count"`
}

// DeviceToken is the push token registered by a user's device.
type DeviceToken struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

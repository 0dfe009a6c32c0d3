package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// PushTypeNewPassenger is sent to a driver when a passenger requests to join.
const PushTypeNewPassenger = "NEW_PASSENGER"

// PushPayload is the structured body of a push notification.
// RecipientID routes the notification; push providers only receive Data().
type PushPayload struct {
	Type          string    `json:"type"`
	TripSessionID int64     `json:"trip_session_id"`
	PassengerID   uuid.UUID `json:"passenger_id"`
	RecipientID   uuid.UUID `json:"recipient_id"`
}

// Data returns the provider-facing key/value form of the payload.
// Push data maps carry strings only.
func (p PushPayload) Data() map[string]string {
	return map[string]string{
		"type":            p.Type,
		"trip_session_id": strconv.FormatInt(p.TripSessionID, 10),
		"passenger_id":    p.PassengerID.String(),
	}
}

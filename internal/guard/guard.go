// Package guard holds the pure eligibility checks evaluated before a
// membership or session write. Callers read fresh state immediately before
// calling and write immediately after; two concurrent callers can both pass
// a check, so these are best-effort guards rather than hard constraints.
package guard

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// DefaultCapacity is the number of seats a session offers.
const DefaultCapacity = 4

// Occupied counts the memberships that hold a seat.
func Occupied(members []domain.PassengerTripSession) int {
	n := 0
	for _, m := range members {
		if m.OccupiesSeat() {
			n++
		}
	}
	return n
}

// CheckJoin decides whether passengerID may request to join a session.
//   - members are the session's current memberships.
//   - joinedElsewhere are the passenger's joined memberships on any session.
//
// Returns domain.ErrCapacityExceeded when capacity seats are already held,
// domain.ErrAlreadyInTrip when the passenger is joined somewhere, and
// domain.ErrConflict for a live duplicate request on the same session.
func CheckJoin(capacity int, passengerID uuid.UUID, members, joinedElsewhere []domain.PassengerTripSession) error {
	for _, m := range joinedElsewhere {
		if m.Status == domain.MembershipJoined && !m.Rejected {
			return fmt.Errorf("%w: passenger is already joined to session %d", domain.ErrAlreadyInTrip, m.TripSessionID)
		}
	}
	for _, m := range members {
		if m.PassengerID == passengerID && m.OccupiesSeat() {
			return fmt.Errorf("%w: passenger already requested this session", domain.ErrConflict)
		}
	}
	if Occupied(members) >= capacity {
		return fmt.Errorf("%w: session has no free seats", domain.ErrCapacityExceeded)
	}
	return nil
}

// CheckApprove decides whether a pending passenger may be moved to joined.
// Approval does not consume a new seat (pending requests already hold one),
// but the one-joined-trip-per-passenger rule is re-checked.
func CheckApprove(sessionID int64, joinedElsewhere []domain.PassengerTripSession) error {
	for _, m := range joinedElsewhere {
		if m.TripSessionID != sessionID && m.Status == domain.MembershipJoined && !m.Rejected {
			return fmt.Errorf("%w: passenger is already joined to session %d", domain.ErrAlreadyInTrip, m.TripSessionID)
		}
	}
	return nil
}

// CheckDriverFree decides whether the driver may create or start a session.
// open are the driver's sessions in {pending, active}; except is the session
// being started (zero when creating).
func CheckDriverFree(open []domain.TripSession, except int64) error {
	for _, s := range open {
		if s.ID != except && s.Status.Open() {
			return fmt.Errorf("%w: driver already has %s session %d", domain.ErrConflict, s.Status, s.ID)
		}
	}
	return nil
}

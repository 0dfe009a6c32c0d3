package domain

import "fmt"

// SessionAction is a driver-triggered edge of the session state machine.
type SessionAction string

const (
	ActionStart    SessionAction = "start"
	ActionComplete SessionAction = "complete"
	ActionCancel   SessionAction = "cancel"
)

// NextSessionStatus returns the status reached by applying action to from.
//
//	pending --start--> active --complete--> completed
//	pending|active --cancel--> cancelled
//
// Starting an already active session is a conflict, not a broken edge: the
// second of two start calls loses the race rather than misusing the machine.
func NextSessionStatus(from SessionStatus, action SessionAction) (SessionStatus, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: session is %s", ErrInvalidTransition, from)
	}
	switch action {
	case ActionStart:
		switch from {
		case SessionPending:
			return SessionActive, nil
		case SessionActive:
			return from, fmt.Errorf("%w: session already started", ErrConflict)
		}
	case ActionComplete:
		if from == SessionActive {
			return SessionCompleted, nil
		}
	case ActionCancel:
		if from.Open() {
			return SessionCancelled, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, action, from)
}

// MembershipAction is an edge of the passenger membership state machine.
type MembershipAction string

const (
	ActionApprove  MembershipAction = "approve"
	ActionReject   MembershipAction = "reject"
	ActionFinalize MembershipAction = "finalize"
	ActionRelease  MembershipAction = "release"
)

// NextMembership applies action to m and returns the updated record.
//
//	pending_approval --approve--> joined --finalize--> completed
//	pending_approval|joined --reject--> rejected (rejected=true)
//	pending_approval|joined --release--> cancelled
//
// Release is applied when the session itself is cancelled.
func NextMembership(m PassengerTripSession, action MembershipAction) (PassengerTripSession, error) {
	if m.Rejected || m.Status.Terminal() {
		return m, fmt.Errorf("%w: membership is %s", ErrInvalidTransition, m.Status)
	}
	switch action {
	case ActionApprove:
		switch m.Status {
		case MembershipPendingApproval:
			m.Status = MembershipJoined
			return m, nil
		case MembershipJoined:
			return m, fmt.Errorf("%w: passenger already approved", ErrConflict)
		}
	case ActionReject:
		m.Status = MembershipRejected
		m.Rejected = true
		return m, nil
	case ActionFinalize:
		if m.Status == MembershipJoined {
			m.Status = MembershipCompleted
			return m, nil
		}
	case ActionRelease:
		m.Status = MembershipCancelled
		return m, nil
	}
	return m, fmt.Errorf("%w: cannot %s a %s membership", ErrInvalidTransition, action, m.Status)
}

// NextStopStatus validates a one-way check-in of a stop.
func NextStopStatus(from, to StopStatus) error {
	if from != StopPending {
		return fmt.Errorf("%w: stop already %s", ErrInvalidTransition, from)
	}
	if to != StopVisited && to != StopSkipped {
		return fmt.Errorf("%w: unknown check-in status %q", ErrValidation, to)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
)

// CheckInService records the driver's visits of a session's stops.
type CheckInService struct {
	sessions repo.SessionRepo
	stops    repo.SessionStopRepo
	// enforceOrder rejects a check-in while an earlier stop is still pending.
	enforceOrder bool
	now          func() time.Time
}

// NewCheckInService constructs a CheckInService backed by the session and stop
// repos. With enforceOrder set, stops must be checked in in route order.
func NewCheckInService(sessions repo.SessionRepo, stops repo.SessionStopRepo, enforceOrder bool) *CheckInService {
	return &CheckInService{sessions: sessions, stops: stops, enforceOrder: enforceOrder, now: time.Now}
}

// CheckIn moves a pending stop to visited or skipped and stamps visit_time.
// The session must be active and owned by driverID.
func (s *CheckInService) CheckIn(ctx context.Context, sessionID, stopID int64, driverID uuid.UUID, status domain.StopStatus) (domain.TripSessionStop, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.TripSessionStop{}, fmt.Errorf("service.CheckInService.CheckIn: %w", err)
	}
	if session.DriverID != driverID {
		return domain.TripSessionStop{}, fmt.Errorf("%w: only the driver checks in stops", domain.ErrForbidden)
	}
	if session.Status != domain.SessionActive {
		return domain.TripSessionStop{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, session.Status)
	}

	stop, err := s.stops.GetByID(ctx, sessionID, stopID)
	if err != nil {
		return domain.TripSessionStop{}, fmt.Errorf("service.CheckInService.CheckIn: %w", err)
	}
	if err := domain.NextStopStatus(stop.Status, status); err != nil {
		return domain.TripSessionStop{}, err
	}

	if s.enforceOrder {
		all, err := s.stops.ListBySession(ctx, sessionID)
		if err != nil {
			return domain.TripSessionStop{}, fmt.Errorf("service.CheckInService.CheckIn: %w", err)
		}
		for _, other := range all {
			if other.StopOrder < stop.StopOrder && other.Status == domain.StopPending {
				return domain.TripSessionStop{}, fmt.Errorf("%w: stop %d (order %d) must be checked in first",
					domain.ErrValidation, other.ID, other.StopOrder)
			}
		}
	}

	updated, err := s.stops.CheckIn(ctx, sessionID, stopID, status, s.now().UTC())
	if err != nil {
		return domain.TripSessionStop{}, fmt.Errorf("service.CheckInService.CheckIn: %w", err)
	}
	return updated, nil
}

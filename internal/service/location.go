package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// LocationService accepts driver positions and serves the live location.
type LocationService struct {
	sessions  repo.SessionRepo
	locations repo.LocationRepo
	tracker   Tracker
}

// NewLocationService constructs a LocationService that feeds positions to
// tracker and reads the current row from locations.
func NewLocationService(sessions repo.SessionRepo, locations repo.LocationRepo, tracker Tracker) *LocationService {
	return &LocationService{sessions: sessions, locations: locations, tracker: tracker}
}

// Report feeds one device fix into the session's tracker. Only the driver
// of an active session reports; the tracker throttles and writes.
func (s *LocationService) Report(ctx context.Context, sessionID int64, driverID uuid.UUID, p tracking.Position) error {
	if err := validateCoordinate(p.Latitude, p.Longitude); err != nil {
		return err
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("service.LocationService.Report: %w", err)
	}
	if session.DriverID != driverID {
		return fmt.Errorf("%w: only the driver reports positions", domain.ErrForbidden)
	}
	if session.Status != domain.SessionActive {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, session.Status)
	}
	if err := s.tracker.Push(sessionID, p); err != nil {
		return fmt.Errorf("service.LocationService.Report: %w", err)
	}
	return nil
}

// Current returns the session's driver location. domain.ErrNotFound means
// tracking is not running.
func (s *LocationService) Current(ctx context.Context, sessionID int64) (domain.DriverLocation, error) {
	loc, err := s.locations.Get(ctx, sessionID)
	if err != nil {
		return domain.DriverLocation{}, fmt.Errorf("service.LocationService.Current: %w", err)
	}
	return loc, nil
}

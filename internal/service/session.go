// Package service contains the trip session business logic of the carpool
// API. Services check ownership, run the pure guards and state transitions,
// and orchestrate repo calls. No SQL lives here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/guard"
	"github.com/pkordes/carpool/backend/internal/observability"
	"github.com/pkordes/carpool/backend/internal/repo"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// Tracker is the slice of tracking.Manager the services drive.
type Tracker interface {
	Start(ctx context.Context, sessionID int64, driverID uuid.UUID, perms tracking.Permissions) error
	Push(sessionID int64, p tracking.Position) error
	Stop(ctx context.Context, sessionID int64) error
}

var _ Tracker = (*tracking.Manager)(nil)

// AvailableSource serves the reconciled list of joinable sessions.
// realtime.AvailableSessionsView satisfies it.
type AvailableSource interface {
	Snapshot() ([]domain.AvailableSession, bool)
}

// StartRequest carries the device's location grants and, optionally, the
// first fix so the location row appears as soon as the trip starts.
type StartRequest struct {
	Permissions tracking.Permissions
	Initial     *tracking.Position
}

// Completion is the result of finishing a trip: the closed session and the
// memberships now eligible for rating.
type Completion struct {
	Session    domain.TripSession            `json:"session"`
	Passengers []domain.PassengerTripSession `json:"passengers"`
}

// SessionService implements the trip session lifecycle.
type SessionService struct {
	sessions  repo.SessionRepo
	routes    repo.RouteRepo
	stops     repo.SessionStopRepo
	members   repo.MembershipRepo
	tracker   Tracker
	available AvailableSource
	capacity  int
	log       *slog.Logger
	now       func() time.Time
}

// NewSessionService constructs a SessionService. A non-positive capacity
// selects guard.DefaultCapacity.
func NewSessionService(sessions repo.SessionRepo, routes repo.RouteRepo, stops repo.SessionStopRepo,
	members repo.MembershipRepo, tracker Tracker, capacity int, log *slog.Logger) *SessionService {
	if capacity <= 0 {
		capacity = guard.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionService{
		sessions: sessions,
		routes:   routes,
		stops:    stops,
		members:  members,
		tracker:  tracker,
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

// WithAvailable serves ListAvailable from a reconciled view once it has loaded.
func (s *SessionService) WithAvailable(src AvailableSource) *SessionService {
	s.available = src
	return s
}

// Capacity is the seat ceiling applied to every session.
func (s *SessionService) Capacity() int { return s.capacity }

// Create opens a pending session for driverID on routeID and copies the
// route's stops into per-session check-in rows.
//
// If copying the stops fails the session is deleted again. When that
// compensation also fails domain.ErrPartialWrite is returned.
func (s *SessionService) Create(ctx context.Context, driverID uuid.UUID, routeID int64) (domain.TripSession, []domain.TripSessionStop, error) {
	route, err := s.routes.GetByID(ctx, routeID)
	if err != nil {
		return domain.TripSession{}, nil, fmt.Errorf("service.SessionService.Create: %w", err)
	}

	open, err := s.sessions.ListOpenByDriver(ctx, driverID)
	if err != nil {
		return domain.TripSession{}, nil, fmt.Errorf("service.SessionService.Create: %w", err)
	}
	if err := guard.CheckDriverFree(open, 0); err != nil {
		return domain.TripSession{}, nil, err
	}

	session, err := s.sessions.Create(ctx, domain.TripSession{
		RouteID:        route.ID,
		DriverID:       driverID,
		Status:         domain.SessionPending,
		StartLocation:  route.StartLocation,
		EndLocation:    route.EndLocation,
		StartLatitude:  route.StartLatitude,
		StartLongitude: route.StartLongitude,
		EndLatitude:    route.EndLatitude,
		EndLongitude:   route.EndLongitude,
	})
	if err != nil {
		return domain.TripSession{}, nil, fmt.Errorf("service.SessionService.Create: %w", err)
	}

	stops, err := s.stops.CreateFromTemplate(ctx, session.ID, route.Stops)
	if err != nil {
		if delErr := s.sessions.Delete(ctx, session.ID); delErr != nil {
			s.log.Error("session left without stops", "session_id", session.ID, "error", delErr)
			return domain.TripSession{}, nil, fmt.Errorf("service.SessionService.Create: %w: session %d: %w",
				domain.ErrPartialWrite, session.ID, errors.Join(err, delErr))
		}
		return domain.TripSession{}, nil, fmt.Errorf("service.SessionService.Create: copy stops: %w", err)
	}
	observability.SessionTransitions.WithLabelValues(string(domain.SessionPending)).Inc()
	return session, stops, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id int64) (domain.TripSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Get: %w", err)
	}
	return session, nil
}

// Stops returns the session's check-in rows in stop_order.
func (s *SessionService) Stops(ctx context.Context, id int64) ([]domain.TripSessionStop, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	stops, err := s.stops.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.SessionService.Stops: %w", err)
	}
	return stops, nil
}

// Start moves a pending session to active and starts location tracking.
// A second Start fails with domain.ErrConflict. Tracking must start before
// the status changes: without it there is no live position, so a refused
// permission or failed registration leaves the session pending.
func (s *SessionService) Start(ctx context.Context, id int64, driverID uuid.UUID, req StartRequest) (domain.TripSession, error) {
	session, err := s.owned(ctx, id, driverID)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Start: %w", err)
	}
	next, err := domain.NextSessionStatus(session.Status, domain.ActionStart)
	if err != nil {
		return domain.TripSession{}, err
	}

	open, err := s.sessions.ListOpenByDriver(ctx, driverID)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Start: %w", err)
	}
	if err := guard.CheckDriverFree(open, id); err != nil {
		return domain.TripSession{}, err
	}

	if err := s.tracker.Start(ctx, id, driverID, req.Permissions); err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Start: %w", err)
	}

	updated, err := s.sessions.UpdateStatus(ctx, id, session.Status, next, nil)
	if err != nil {
		if stopErr := s.tracker.Stop(ctx, id); stopErr != nil {
			s.log.Warn("stop tracker after failed start", "session_id", id, "error", stopErr)
		}
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Start: %w", err)
	}

	if req.Initial != nil {
		if err := s.tracker.Push(id, *req.Initial); err != nil {
			s.log.Warn("initial position rejected", "session_id", id, "error", err)
		}
	}
	observability.SessionTransitions.WithLabelValues(string(next)).Inc()
	return updated, nil
}

// Complete closes an active session: joined passengers become completed
// (eligible for rating) and tracking stops, deleting the location row.
//
// Passengers are finalized before the session status moves, so a failure in
// either step leaves the session active and a retried Complete finishes the
// job.
func (s *SessionService) Complete(ctx context.Context, id int64, driverID uuid.UUID) (Completion, error) {
	session, err := s.owned(ctx, id, driverID)
	if err != nil {
		return Completion{}, fmt.Errorf("service.SessionService.Complete: %w", err)
	}
	next, err := domain.NextSessionStatus(session.Status, domain.ActionComplete)
	if err != nil {
		return Completion{}, err
	}

	if _, err := s.members.FinalizeJoined(ctx, id); err != nil {
		return Completion{}, fmt.Errorf("service.SessionService.Complete: finalize passengers: %w", err)
	}
	end := s.now().UTC()
	updated, err := s.sessions.UpdateStatus(ctx, id, session.Status, next, &end)
	if err != nil {
		return Completion{}, fmt.Errorf("service.SessionService.Complete: %w", err)
	}
	s.stopTracking(ctx, id)

	// Listed rather than taken from FinalizeJoined so a retry still reports
	// the passengers an earlier attempt finalized.
	members, err := s.members.ListBySession(ctx, id)
	if err != nil {
		return Completion{}, fmt.Errorf("service.SessionService.Complete: list passengers: %w", err)
	}
	finalized := []domain.PassengerTripSession{}
	for _, m := range members {
		if m.Status == domain.MembershipCompleted && !m.Rejected {
			finalized = append(finalized, m)
		}
	}
	observability.SessionTransitions.WithLabelValues(string(next)).Inc()
	return Completion{Session: updated, Passengers: finalized}, nil
}

// Cancel ends a pending or active session without settlement. Pending and
// joined passengers are released so they are free to join another trip.
func (s *SessionService) Cancel(ctx context.Context, id int64, driverID uuid.UUID) (domain.TripSession, error) {
	session, err := s.owned(ctx, id, driverID)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Cancel: %w", err)
	}
	next, err := domain.NextSessionStatus(session.Status, domain.ActionCancel)
	if err != nil {
		return domain.TripSession{}, err
	}

	released, err := s.members.ReleaseOpen(ctx, id)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Cancel: release passengers: %w", err)
	}
	end := s.now().UTC()
	updated, err := s.sessions.UpdateStatus(ctx, id, session.Status, next, &end)
	if err != nil {
		return domain.TripSession{}, fmt.Errorf("service.SessionService.Cancel: %w", err)
	}
	s.stopTracking(ctx, id)
	s.log.Info("session cancelled", "session_id", id, "released", len(released))
	observability.SessionTransitions.WithLabelValues(string(next)).Inc()
	return updated, nil
}

// stopTracking is best effort: the session is already closed, and Recover
// cleans up any leftover marker on the next boot.
func (s *SessionService) stopTracking(ctx context.Context, id int64) {
	if err := s.tracker.Stop(ctx, id); err != nil {
		s.log.Warn("stop tracking", "session_id", id, "error", err)
	}
}

// ListAvailable returns joinable sessions, from the reconciled view when it
// has loaded and from the database otherwise.
func (s *SessionService) ListAvailable(ctx context.Context, p domain.PaginationParams) ([]domain.AvailableSession, error) {
	if s.available != nil {
		if list, ok := s.available.Snapshot(); ok {
			return domain.Paginate(list, p), nil
		}
	}
	list, err := s.LoadAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Paginate(list, p), nil
}

// LoadAvailable queries the database for joinable sessions. It is the
// loader behind the reconciled view.
func (s *SessionService) LoadAvailable(ctx context.Context) ([]domain.AvailableSession, error) {
	list, err := s.sessions.ListAvailable(ctx, s.capacity)
	if err != nil {
		return nil, fmt.Errorf("service.SessionService.LoadAvailable: %w", err)
	}
	return list, nil
}

func (s *SessionService) owned(ctx context.Context, id int64, driverID uuid.UUID) (domain.TripSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.TripSession{}, err
	}
	if session.DriverID != driverID {
		return domain.TripSession{}, fmt.Errorf("%w: only the driver may change session %d", domain.ErrForbidden, id)
	}
	return session, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/geofence"
	"github.com/pkordes/carpool/backend/internal/guard"
	"github.com/pkordes/carpool/backend/internal/observability"
	"github.com/pkordes/carpool/backend/internal/repo"
)

// JoinRequest is a passenger's request to ride, with the pickup point.
type JoinRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Location  string  `json:"location"`
}

// MembershipService implements the passenger join / approve / reject flow.
type MembershipService struct {
	sessions  repo.SessionRepo
	routes    repo.RouteRepo
	members   repo.MembershipRepo
	points    repo.MeetingPointRepo
	validator geofence.Validator
	capacity  int
	log       *slog.Logger
}

// NewMembershipService constructs a MembershipService backed by the provided
// repos. A non-positive capacity selects guard.DefaultCapacity.
func NewMembershipService(sessions repo.SessionRepo, routes repo.RouteRepo, members repo.MembershipRepo,
	points repo.MeetingPointRepo, validator geofence.Validator, capacity int, log *slog.Logger) *MembershipService {
	if capacity <= 0 {
		capacity = guard.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &MembershipService{
		sessions:  sessions,
		routes:    routes,
		members:   members,
		points:    points,
		validator: validator,
		capacity:  capacity,
		log:       log,
	}
}

// RequestJoin records a pending_approval membership and the passenger's
// meeting point. The point must lie near the route; the capacity and
// one-trip-per-passenger guards run on fresh reads right before the insert.
func (s *MembershipService) RequestJoin(ctx context.Context, sessionID int64, passengerID uuid.UUID, req JoinRequest) (domain.PassengerTripSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: %w", err)
	}
	if !session.Status.Open() {
		return domain.PassengerTripSession{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, session.Status)
	}
	if session.DriverID == passengerID {
		return domain.PassengerTripSession{}, fmt.Errorf("%w: a driver cannot join their own session", domain.ErrValidation)
	}
	if err := validateCoordinate(req.Latitude, req.Longitude); err != nil {
		return domain.PassengerTripSession{}, err
	}

	route, err := s.routes.GetByID(ctx, session.RouteID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: route: %w", err)
	}
	point := geofence.Point{Lat: req.Latitude, Lon: req.Longitude}
	if err := s.validator.Validate(point, geofence.RouteLine(route)); err != nil {
		observability.JoinRejections.WithLabelValues("geofence").Inc()
		return domain.PassengerTripSession{}, err
	}

	members, err := s.members.ListBySession(ctx, sessionID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: %w", err)
	}
	elsewhere, err := s.members.ListJoinedByPassenger(ctx, passengerID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: %w", err)
	}
	if err := guard.CheckJoin(s.capacity, passengerID, members, elsewhere); err != nil {
		observability.JoinRejections.WithLabelValues(rejectionReason(err)).Inc()
		return domain.PassengerTripSession{}, err
	}

	m, err := s.members.Create(ctx, domain.PassengerTripSession{
		TripSessionID: sessionID,
		PassengerID:   passengerID,
		Status:        domain.MembershipPendingApproval,
	})
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: %w", err)
	}

	_, err = s.points.Create(ctx, domain.PassengerMeetingPoint{
		TripSessionID: sessionID,
		PassengerID:   passengerID,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Location:      req.Location,
	})
	if err != nil {
		if delErr := s.members.Delete(ctx, m.ID); delErr != nil {
			s.log.Error("membership left without meeting point", "membership_id", m.ID, "error", delErr)
			return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: %w: %w",
				domain.ErrPartialWrite, errors.Join(err, delErr))
		}
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.RequestJoin: meeting point: %w", err)
	}
	return m, nil
}

// Approve moves a pending passenger to joined. Only the driver may approve.
func (s *MembershipService) Approve(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error) {
	m, err := s.driverAction(ctx, sessionID, passengerID, driverID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.Approve: %w", err)
	}
	elsewhere, err := s.members.ListJoinedByPassenger(ctx, passengerID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.Approve: %w", err)
	}
	if err := guard.CheckApprove(sessionID, elsewhere); err != nil {
		return domain.PassengerTripSession{}, err
	}
	next, err := domain.NextMembership(m, domain.ActionApprove)
	if err != nil {
		return domain.PassengerTripSession{}, err
	}
	updated, err := s.members.Update(ctx, next)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.Approve: %w", err)
	}
	return updated, nil
}

// Reject marks the passenger rejected, freeing the seat, and drops their
// meeting point.
func (s *MembershipService) Reject(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error) {
	m, err := s.driverAction(ctx, sessionID, passengerID, driverID)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.Reject: %w", err)
	}
	next, err := domain.NextMembership(m, domain.ActionReject)
	if err != nil {
		return domain.PassengerTripSession{}, err
	}
	updated, err := s.members.Update(ctx, next)
	if err != nil {
		return domain.PassengerTripSession{}, fmt.Errorf("service.MembershipService.Reject: %w", err)
	}
	if err := s.points.DeleteByPassenger(ctx, sessionID, passengerID); err != nil {
		s.log.Warn("drop meeting point of rejected passenger", "session_id", sessionID, "error", err)
	}
	return updated, nil
}

// Leave removes the caller's pending or joined membership and meeting point
// while the session is still open.
func (s *MembershipService) Leave(ctx context.Context, sessionID int64, passengerID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("service.MembershipService.Leave: %w", err)
	}
	if session.Status.Terminal() {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, session.Status)
	}
	m, err := s.members.GetLatest(ctx, sessionID, passengerID)
	if err != nil {
		return fmt.Errorf("service.MembershipService.Leave: %w", err)
	}
	if !m.OccupiesSeat() {
		return fmt.Errorf("%w: membership is %s", domain.ErrInvalidTransition, m.Status)
	}
	if err := s.members.Delete(ctx, m.ID); err != nil {
		return fmt.Errorf("service.MembershipService.Leave: %w", err)
	}
	if err := s.points.DeleteByPassenger(ctx, sessionID, passengerID); err != nil {
		return fmt.Errorf("service.MembershipService.Leave: %w: meeting point: %w", domain.ErrPartialWrite, err)
	}
	return nil
}

// List returns the session's memberships.
func (s *MembershipService) List(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("service.MembershipService.List: %w", err)
	}
	members, err := s.members.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.MembershipService.List: %w", err)
	}
	return members, nil
}

// MeetingPoints returns the pickup points chosen for the session.
func (s *MembershipService) MeetingPoints(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("service.MembershipService.MeetingPoints: %w", err)
	}
	points, err := s.points.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.MembershipService.MeetingPoints: %w", err)
	}
	return points, nil
}

func (s *MembershipService) driverAction(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.PassengerTripSession{}, err
	}
	if session.DriverID != driverID {
		return domain.PassengerTripSession{}, fmt.Errorf("%w: only the driver manages passengers", domain.ErrForbidden)
	}
	if session.Status.Terminal() {
		return domain.PassengerTripSession{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, session.Status)
	}
	return s.members.GetLatest(ctx, sessionID, passengerID)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, domain.ErrAlreadyInTrip):
		return "already_in_trip"
	case errors.Is(err, domain.ErrConflict):
		return "duplicate"
	}
	return "other"
}

func validateCoordinate(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", domain.ErrValidation)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", domain.ErrValidation)
	}
	return nil
}

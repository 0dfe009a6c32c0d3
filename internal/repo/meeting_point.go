package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// MeetingPointRepo defines the persistence operations for PassengerMeetingPoints.
// Points are insert-only; leaving a session removes them.
type MeetingPointRepo interface {
	Create(ctx context.Context, p domain.PassengerMeetingPoint) (domain.PassengerMeetingPoint, error)
	ListBySession(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error)
	DeleteByPassenger(ctx context.Context, sessionID int64, passengerID uuid.UUID) error
}

type pgMeetingPointRepo struct {
	db db
}

// NewMeetingPointRepo constructs a MeetingPointRepo backed by the provided db connection.
func NewMeetingPointRepo(db db) MeetingPointRepo {
	return &pgMeetingPointRepo{db: db}
}

const meetingPointColumns = `id, trip_session_id, passenger_id, latitude, longitude, location, created_at`

func (r *pgMeetingPointRepo) Create(ctx context.Context, p domain.PassengerMeetingPoint) (domain.PassengerMeetingPoint, error) {
	const q = `
		INSERT INTO passenger_meeting_points (trip_session_id, passenger_id, latitude, longitude, location)
		VALUES (@trip_session_id, @passenger_id, @latitude, @longitude, @location)
		RETURNING ` + meetingPointColumns

	args := pgx.NamedArgs{
		"trip_session_id": p.TripSessionID,
		"passenger_id":    p.PassengerID,
		"latitude":        p.Latitude,
		"longitude":       p.Longitude,
		"location":        p.Location,
	}
	result, err := scanMeetingPoint(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.PassengerMeetingPoint{}, wrap("repo.MeetingPointRepo.Create", err)
	}
	return result, nil
}

func (r *pgMeetingPointRepo) ListBySession(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error) {
	const q = `
		SELECT ` + meetingPointColumns + `
		FROM passenger_meeting_points
		WHERE trip_session_id = @trip_session_id
		ORDER BY id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID})
	if err != nil {
		return nil, wrap("repo.MeetingPointRepo.ListBySession", err)
	}
	out, err := collect(rows, scanMeetingPoint)
	if err != nil {
		return nil, wrap("repo.MeetingPointRepo.ListBySession", err)
	}
	return out, nil
}

// DeleteByPassenger is idempotent: deleting nothing is not an error.
func (r *pgMeetingPointRepo) DeleteByPassenger(ctx context.Context, sessionID int64, passengerID uuid.UUID) error {
	const q = `
		DELETE FROM passenger_meeting_points
		WHERE trip_session_id = @trip_session_id AND passenger_id = @passenger_id`

	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID, "passenger_id": passengerID}); err != nil {
		return wrap("repo.MeetingPointRepo.DeleteByPassenger", err)
	}
	return nil
}

func scanMeetingPoint(s scanner) (domain.PassengerMeetingPoint, error) {
	var (
		p         domain.PassengerMeetingPoint
		passenger pgtype.UUID
	)
	if err := s.Scan(&p.ID, &p.TripSessionID, &passenger, &p.Latitude, &p.Longitude, &p.Location, &p.CreatedAt); err != nil {
		return domain.PassengerMeetingPoint{}, err
	}
	p.PassengerID = uuidFrom(passenger)
	return p, nil
}

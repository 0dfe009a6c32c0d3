package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// MembershipRepo defines the persistence operations for PassengerTripSessions.
type MembershipRepo interface {
	// Create inserts a membership and returns the persisted record.
	Create(ctx context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error)

	// GetLatest returns the most recent membership of a passenger on a session.
	// Returns domain.ErrNotFound if the passenger never requested to join.
	GetLatest(ctx context.Context, sessionID int64, passengerID uuid.UUID) (domain.PassengerTripSession, error)

	// ListBySession returns every membership of a session, oldest first.
	ListBySession(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error)

	// ListJoinedByPassenger returns the passenger's joined, non-rejected memberships.
	ListJoinedByPassenger(ctx context.Context, passengerID uuid.UUID) ([]domain.PassengerTripSession, error)

	// Update overwrites status and rejected of an existing membership.
	// Returns domain.ErrNotFound if the membership does not exist.
	Update(ctx context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error)

	// FinalizeJoined marks every joined membership of a session completed and
	// returns the updated rows.
	FinalizeJoined(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error)

	// ReleaseOpen marks every pending or joined membership of a session
	// cancelled and returns the updated rows.
	ReleaseOpen(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error)

	// Delete removes a membership by id.
	Delete(ctx context.Context, id int64) error
}

type pgMembershipRepo struct {
	db db
}

// NewMembershipRepo constructs a MembershipRepo backed by the provided db connection.
func NewMembershipRepo(db db) MembershipRepo {
	return &pgMembershipRepo{db: db}
}

const membershipColumns = `id, trip_session_id, passenger_id, status, rejected, created_at, updated_at`

func (r *pgMembershipRepo) Create(ctx context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error) {
	const q = `
		INSERT INTO passenger_trip_sessions (trip_session_id, passenger_id, status, rejected)
		VALUES (@trip_session_id, @passenger_id, @status, @rejected)
		RETURNING ` + membershipColumns

	args := pgx.NamedArgs{
		"trip_session_id": m.TripSessionID,
		"passenger_id":    m.PassengerID,
		"status":          m.Status,
		"rejected":        m.Rejected,
	}
	result, err := scanMembership(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.PassengerTripSession{}, wrap("repo.MembershipRepo.Create", err)
	}
	return result, nil
}

func (r *pgMembershipRepo) GetLatest(ctx context.Context, sessionID int64, passengerID uuid.UUID) (domain.PassengerTripSession, error) {
	const q = `
		SELECT ` + membershipColumns + `
		FROM passenger_trip_sessions
		WHERE trip_session_id = @trip_session_id AND passenger_id = @passenger_id
		ORDER BY id DESC
		LIMIT 1`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID, "passenger_id": passengerID})
	result, err := scanMembership(row)
	if err != nil {
		return domain.PassengerTripSession{}, wrap("repo.MembershipRepo.GetLatest", err)
	}
	return result, nil
}

func (r *pgMembershipRepo) ListBySession(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	const q = `
		SELECT ` + membershipColumns + `
		FROM passenger_trip_sessions
		WHERE trip_session_id = @trip_session_id
		ORDER BY id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID})
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ListBySession", err)
	}
	out, err := collect(rows, scanMembership)
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ListBySession", err)
	}
	return out, nil
}

func (r *pgMembershipRepo) ListJoinedByPassenger(ctx context.Context, passengerID uuid.UUID) ([]domain.PassengerTripSession, error) {
	const q = `
		SELECT ` + membershipColumns + `
		FROM passenger_trip_sessions
		WHERE passenger_id = @passenger_id AND status = 'joined' AND NOT rejected
		ORDER BY id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"passenger_id": passengerID})
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ListJoinedByPassenger", err)
	}
	out, err := collect(rows, scanMembership)
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ListJoinedByPassenger", err)
	}
	return out, nil
}

func (r *pgMembershipRepo) Update(ctx context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error) {
	const q = `
		UPDATE passenger_trip_sessions
		SET status     = @status,
		    rejected   = @rejected,
		    updated_at = now()
		WHERE id = @id
		RETURNING ` + membershipColumns

	args := pgx.NamedArgs{"id": m.ID, "status": m.Status, "rejected": m.Rejected}
	result, err := scanMembership(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.PassengerTripSession{}, wrap("repo.MembershipRepo.Update", err)
	}
	return result, nil
}

func (r *pgMembershipRepo) FinalizeJoined(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	const q = `
		UPDATE passenger_trip_sessions
		SET status = 'completed', updated_at = now()
		WHERE trip_session_id = @trip_session_id AND status = 'joined' AND NOT rejected
		RETURNING ` + membershipColumns

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID})
	if err != nil {
		return nil, wrap("repo.MembershipRepo.FinalizeJoined", err)
	}
	out, err := collect(rows, scanMembership)
	if err != nil {
		return nil, wrap("repo.MembershipRepo.FinalizeJoined", err)
	}
	return out, nil
}

func (r *pgMembershipRepo) ReleaseOpen(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	const q = `
		UPDATE passenger_trip_sessions
		SET status = 'cancelled', updated_at = now()
		WHERE trip_session_id = @trip_session_id
		  AND status IN ('pending_approval', 'joined') AND NOT rejected
		RETURNING ` + membershipColumns

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID})
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ReleaseOpen", err)
	}
	out, err := collect(rows, scanMembership)
	if err != nil {
		return nil, wrap("repo.MembershipRepo.ReleaseOpen", err)
	}
	return out, nil
}

func (r *pgMembershipRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM passenger_trip_sessions WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return wrap("repo.MembershipRepo.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("repo.MembershipRepo.Delete", domain.ErrNotFound)
	}
	return nil
}

func scanMembership(s scanner) (domain.PassengerTripSession, error) {
	var (
		m         domain.PassengerTripSession
		passenger pgtype.UUID
		status    string
	)
	if err := s.Scan(&m.ID, &m.TripSessionID, &passenger, &status, &m.Rejected, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.PassengerTripSession{}, err
	}
	m.PassengerID = uuidFrom(passenger)
	m.Status = domain.MembershipStatus(status)
	return m, nil
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// SessionRepo defines the persistence operations for TripSessions.
// The service layer depends on this interface, not the concrete Postgres implementation,
// which allows the service to be unit-tested with a mock.
type SessionRepo interface {
	// Create inserts a new session and returns the persisted record (with
	// DB-generated id, start_time and updated_at populated).
	// Returns domain.ErrConflict if the driver already has an open session.
	Create(ctx context.Context, s domain.TripSession) (domain.TripSession, error)

	// GetByID retrieves a single session by id.
	// Returns domain.ErrNotFound if no session with that id exists.
	GetByID(ctx context.Context, id int64) (domain.TripSession, error)

	// ListOpenByDriver returns the driver's sessions in {pending, active}.
	ListOpenByDriver(ctx context.Context, driverID uuid.UUID) ([]domain.TripSession, error)

	// ListAvailable returns open sessions with fewer than capacity seats held,
	// oldest first.
	ListAvailable(ctx context.Context, capacity int) ([]domain.AvailableSession, error)

	// UpdateStatus moves a session from one status to another. The update only
	// applies while the stored status still equals from; otherwise
	// domain.ErrConflict is returned. endTime is written when non-nil.
	UpdateStatus(ctx context.Context, id int64, from, to domain.SessionStatus, endTime *time.Time) (domain.TripSession, error)

	// Delete removes a session and, by cascade, its children.
	// Returns domain.ErrNotFound if it does not exist.
	Delete(ctx context.Context, id int64) error
}

// pgSessionRepo is the Postgres implementation of SessionRepo.
type pgSessionRepo struct {
	db db
}

// NewSessionRepo constructs a SessionRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewSessionRepo(db db) SessionRepo {
	return &pgSessionRepo{db: db}
}

const sessionColumns = `id, route_id, driver_id, status, start_location, end_location,
	start_latitude, start_longitude, end_latitude, end_longitude, start_time, end_time, updated_at`

func (r *pgSessionRepo) Create(ctx context.Context, s domain.TripSession) (domain.TripSession, error) {
	const q = `
		INSERT INTO trip_sessions (route_id, driver_id, status, start_location, end_location,
			start_latitude, start_longitude, end_latitude, end_longitude)
		VALUES (@route_id, @driver_id, @status, @start_location, @end_location,
			@start_latitude, @start_longitude, @end_latitude, @end_longitude)
		RETURNING ` + sessionColumns

	args := pgx.NamedArgs{
		"route_id":        s.RouteID,
		"driver_id":       s.DriverID,
		"status":          s.Status,
		"start_location":  s.StartLocation,
		"end_location":    s.EndLocation,
		"start_latitude":  s.StartLatitude,
		"start_longitude": s.StartLongitude,
		"end_latitude":    s.EndLatitude,
		"end_longitude":   s.EndLongitude,
	}

	result, err := scanSession(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.TripSession{}, wrap("repo.SessionRepo.Create", err)
	}
	return result, nil
}

func (r *pgSessionRepo) GetByID(ctx context.Context, id int64) (domain.TripSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM trip_sessions WHERE id = @id`

	result, err := scanSession(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.TripSession{}, wrap("repo.SessionRepo.GetByID", err)
	}
	return result, nil
}

func (r *pgSessionRepo) ListOpenByDriver(ctx context.Context, driverID uuid.UUID) ([]domain.TripSession, error) {
	const q = `
		SELECT ` + sessionColumns + `
		FROM trip_sessions
		WHERE driver_id = @driver_id AND status IN ('pending', 'active')
		ORDER BY id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"driver_id": driverID})
	if err != nil {
		return nil, wrap("repo.SessionRepo.ListOpenByDriver", err)
	}
	sessions, err := collect(rows, scanSession)
	if err != nil {
		return nil, wrap("repo.SessionRepo.ListOpenByDriver", err)
	}
	return sessions, nil
}

func (r *pgSessionRepo) ListAvailable(ctx context.Context, capacity int) ([]domain.AvailableSession, error) {
	const q = `
		SELECT ` + sessionColumns + `, occupied
		FROM (
			SELECT s.*, (
				SELECT count(*) FROM passenger_trip_sessions p
				WHERE p.trip_session_id = s.id
				  AND p.status IN ('joined', 'pending_approval')
				  AND NOT p.rejected
			) AS occupied
			FROM trip_sessions s
			WHERE s.status IN ('pending', 'active')
		) counted
		WHERE occupied < @capacity
		ORDER BY start_time, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"capacity": capacity})
	if err != nil {
		return nil, wrap("repo.SessionRepo.ListAvailable", err)
	}
	out, err := collect(rows, func(s scanner) (domain.AvailableSession, error) {
		var (
			a        domain.AvailableSession
			occupied int64
		)
		sess, err := scanSessionWith(s, &occupied)
		if err != nil {
			return a, err
		}
		a.Session = sess
		a.Occupied = int(occupied)
		a.Seats = capacity - a.Occupied
		return a, nil
	})
	if err != nil {
		return nil, wrap("repo.SessionRepo.ListAvailable", err)
	}
	return out, nil
}

func (r *pgSessionRepo) UpdateStatus(ctx context.Context, id int64, from, to domain.SessionStatus, endTime *time.Time) (domain.TripSession, error) {
	const q = `
		UPDATE trip_sessions
		SET status     = @to,
		    end_time   = COALESCE(@end_time, end_time),
		    updated_at = now()
		WHERE id = @id AND status = @from
		RETURNING ` + sessionColumns

	args := pgx.NamedArgs{"id": id, "from": from, "to": to, "end_time": endTime}
	result, err := scanSession(r.db.QueryRow(ctx, q, args))
	if err == nil {
		return result, nil
	}
	if !errors.Is(translate(err), domain.ErrNotFound) {
		return domain.TripSession{}, wrap("repo.SessionRepo.UpdateStatus", err)
	}
	// No row matched: either the session is gone or its status moved on.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return domain.TripSession{}, getErr
	}
	return domain.TripSession{}, wrap("repo.SessionRepo.UpdateStatus", domain.ErrConflict)
}

func (r *pgSessionRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM trip_sessions WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return wrap("repo.SessionRepo.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("repo.SessionRepo.Delete", domain.ErrNotFound)
	}
	return nil
}

func scanSession(s scanner) (domain.TripSession, error) {
	return scanSessionWith(s)
}

// scanSessionWith maps a session row, appending extra destinations for
// trailing computed columns.
func scanSessionWith(s scanner, extra ...any) (domain.TripSession, error) {
	var (
		t       domain.TripSession
		driver  pgtype.UUID
		status  string
		endTime pgtype.Timestamptz
	)
	dest := []any{&t.ID, &t.RouteID, &driver, &status, &t.StartLocation, &t.EndLocation,
		&t.StartLatitude, &t.StartLongitude, &t.EndLatitude, &t.EndLongitude,
		&t.StartTime, &endTime, &t.UpdatedAt}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return domain.TripSession{}, err
	}
	t.DriverID = uuidFrom(driver)
	t.Status = domain.SessionStatus(status)
	t.EndTime = timePtr(endTime)
	return t, nil
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// SessionStopRepo defines the persistence operations for TripSessionStops.
// Stop rows are read joined with their route_stops template.
type SessionStopRepo interface {
	// CreateFromTemplate copies the given route stops into pending session
	// stops for sessionID and returns them ordered by stop_order.
	CreateFromTemplate(ctx context.Context, sessionID int64, stops []domain.RouteStop) ([]domain.TripSessionStop, error)

	// ListBySession returns a session's stops ordered by stop_order.
	ListBySession(ctx context.Context, sessionID int64) ([]domain.TripSessionStop, error)

	// GetByID returns a single stop scoped to its session.
	// Returns domain.ErrNotFound if the stop does not belong to the session.
	GetByID(ctx context.Context, sessionID, stopID int64) (domain.TripSessionStop, error)

	// CheckIn records status and visit time on a pending stop.
	// Returns domain.ErrInvalidTransition if the stop is no longer pending.
	CheckIn(ctx context.Context, sessionID, stopID int64, status domain.StopStatus, at time.Time) (domain.TripSessionStop, error)
}

type pgSessionStopRepo struct {
	db db
}

// NewSessionStopRepo constructs a SessionStopRepo backed by the provided db connection.
func NewSessionStopRepo(db db) SessionStopRepo {
	return &pgSessionStopRepo{db: db}
}

const sessionStopSelect = `
	SELECT ts.id, ts.trip_session_id, ts.stop_id, ts.status, ts.visit_time,
	       rs.location, rs.latitude, rs.longitude, rs.stop_order
	FROM trip_session_stops ts
	JOIN route_stops rs ON rs.id = ts.stop_id`

func (r *pgSessionStopRepo) CreateFromTemplate(ctx context.Context, sessionID int64, stops []domain.RouteStop) ([]domain.TripSessionStop, error) {
	if len(stops) == 0 {
		return []domain.TripSessionStop{}, nil
	}
	ids := make([]int64, len(stops))
	for i, s := range stops {
		ids[i] = s.ID
	}

	const q = `
		INSERT INTO trip_session_stops (trip_session_id, stop_id, status)
		SELECT @trip_session_id, stop_id, 'pending'
		FROM unnest(@stop_ids::bigint[]) AS stop_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID, "stop_ids": ids})
	if err != nil {
		return nil, wrap("repo.SessionStopRepo.CreateFromTemplate", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return nil, wrap("repo.SessionStopRepo.CreateFromTemplate", errors.New("short insert"))
	}
	return r.ListBySession(ctx, sessionID)
}

func (r *pgSessionStopRepo) ListBySession(ctx context.Context, sessionID int64) ([]domain.TripSessionStop, error) {
	const q = sessionStopSelect + `
		WHERE ts.trip_session_id = @trip_session_id
		ORDER BY rs.stop_order, ts.id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID})
	if err != nil {
		return nil, wrap("repo.SessionStopRepo.ListBySession", err)
	}
	out, err := collect(rows, scanSessionStop)
	if err != nil {
		return nil, wrap("repo.SessionStopRepo.ListBySession", err)
	}
	return out, nil
}

func (r *pgSessionStopRepo) GetByID(ctx context.Context, sessionID, stopID int64) (domain.TripSessionStop, error) {
	const q = sessionStopSelect + `
		WHERE ts.trip_session_id = @trip_session_id AND ts.id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID, "id": stopID})
	result, err := scanSessionStop(row)
	if err != nil {
		return domain.TripSessionStop{}, wrap("repo.SessionStopRepo.GetByID", err)
	}
	return result, nil
}

func (r *pgSessionStopRepo) CheckIn(ctx context.Context, sessionID, stopID int64, status domain.StopStatus, at time.Time) (domain.TripSessionStop, error) {
	const q = `
		UPDATE trip_session_stops
		SET status = @status, visit_time = @visit_time
		WHERE trip_session_id = @trip_session_id AND id = @id AND status = 'pending'`

	args := pgx.NamedArgs{"trip_session_id": sessionID, "id": stopID, "status": status, "visit_time": at}
	tag, err := r.db.Exec(ctx, q, args)
	if err != nil {
		return domain.TripSessionStop{}, wrap("repo.SessionStopRepo.CheckIn", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, sessionID, stopID)
		if err != nil {
			return domain.TripSessionStop{}, err
		}
		if err := domain.NextStopStatus(current.Status, status); err != nil {
			return domain.TripSessionStop{}, wrap("repo.SessionStopRepo.CheckIn", err)
		}
		return domain.TripSessionStop{}, wrap("repo.SessionStopRepo.CheckIn", domain.ErrConflict)
	}
	return r.GetByID(ctx, sessionID, stopID)
}

func scanSessionStop(s scanner) (domain.TripSessionStop, error) {
	var (
		st     domain.TripSessionStop
		status string
		visit  pgtype.Timestamptz
	)
	err := s.Scan(&st.ID, &st.TripSessionID, &st.StopID, &status, &visit,
		&st.Location, &st.Latitude, &st.Longitude, &st.StopOrder)
	if err != nil {
		return domain.TripSessionStop{}, err
	}
	st.Status = domain.StopStatus(status)
	st.VisitTime = timePtr(visit)
	return st, nil
}

package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// LocationRepo defines the persistence operations for the single
// driver_locations row of a session.
type LocationRepo interface {
	// Upsert writes the driver's position, inserting the row on first use and
	// overwriting it afterwards. There is never a moment without a row once
	// the first write has landed.
	Upsert(ctx context.Context, loc domain.DriverLocation) (domain.DriverLocation, error)

	// Get returns the session's location row.
	// Returns domain.ErrNotFound if tracking is not publishing for the session.
	Get(ctx context.Context, sessionID int64) (domain.DriverLocation, error)

	// Delete removes the session's location row. Deleting a missing row is not an error.
	Delete(ctx context.Context, sessionID int64) error
}

type pgLocationRepo struct {
	db db
}

// NewLocationRepo constructs a LocationRepo backed by the provided db connection.
func NewLocationRepo(db db) LocationRepo {
	return &pgLocationRepo{db: db}
}

func (r *pgLocationRepo) Upsert(ctx context.Context, loc domain.DriverLocation) (domain.DriverLocation, error) {
	const q = `
		INSERT INTO driver_locations (trip_session_id, driver_id, latitude, longitude, recorded_at)
		VALUES (@trip_session_id, @driver_id, @latitude, @longitude, @recorded_at)
		ON CONFLICT (trip_session_id) DO UPDATE
		SET driver_id   = EXCLUDED.driver_id,
		    latitude    = EXCLUDED.latitude,
		    longitude   = EXCLUDED.longitude,
		    recorded_at = EXCLUDED.recorded_at
		RETURNING trip_session_id, driver_id, latitude, longitude, recorded_at`

	args := pgx.NamedArgs{
		"trip_session_id": loc.TripSessionID,
		"driver_id":       loc.DriverID,
		"latitude":        loc.Latitude,
		"longitude":       loc.Longitude,
		"recorded_at":     loc.RecordedAt,
	}
	result, err := scanLocation(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.DriverLocation{}, wrap("repo.LocationRepo.Upsert", err)
	}
	return result, nil
}

func (r *pgLocationRepo) Get(ctx context.Context, sessionID int64) (domain.DriverLocation, error) {
	const q = `
		SELECT trip_session_id, driver_id, latitude, longitude, recorded_at
		FROM driver_locations
		WHERE trip_session_id = @trip_session_id`

	result, err := scanLocation(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID}))
	if err != nil {
		return domain.DriverLocation{}, wrap("repo.LocationRepo.Get", err)
	}
	return result, nil
}

func (r *pgLocationRepo) Delete(ctx context.Context, sessionID int64) error {
	const q = `DELETE FROM driver_locations WHERE trip_session_id = @trip_session_id`

	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_session_id": sessionID}); err != nil {
		return wrap("repo.LocationRepo.Delete", err)
	}
	return nil
}

func scanLocation(s scanner) (domain.DriverLocation, error) {
	var (
		l      domain.DriverLocation
		driver pgtype.UUID
	)
	if err := s.Scan(&l.TripSessionID, &driver, &l.Latitude, &l.Longitude, &l.RecordedAt); err != nil {
		return domain.DriverLocation{}, err
	}
	l.DriverID = uuidFrom(driver)
	return l, nil
}

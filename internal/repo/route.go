package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// RouteRepo reads route templates. Routes are managed outside this service.
type RouteRepo interface {
	// GetByID returns a route with its stops ordered by stop_order.
	// Returns domain.ErrNotFound if no route with that id exists.
	GetByID(ctx context.Context, id int64) (domain.Route, error)
}

type pgRouteRepo struct {
	db db
}

// NewRouteRepo constructs a RouteRepo backed by the provided db connection.
func NewRouteRepo(db db) RouteRepo {
	return &pgRouteRepo{db: db}
}

func (r *pgRouteRepo) GetByID(ctx context.Context, id int64) (domain.Route, error) {
	const routeQ = `
		SELECT id, start_location, end_location, start_latitude, start_longitude, end_latitude, end_longitude
		FROM routes
		WHERE id = @id`

	var route domain.Route
	err := r.db.QueryRow(ctx, routeQ, pgx.NamedArgs{"id": id}).Scan(
		&route.ID, &route.StartLocation, &route.EndLocation,
		&route.StartLatitude, &route.StartLongitude, &route.EndLatitude, &route.EndLongitude,
	)
	if err != nil {
		return domain.Route{}, wrap("repo.RouteRepo.GetByID", err)
	}

	const stopsQ = `
		SELECT id, route_id, location, latitude, longitude, stop_order
		FROM route_stops
		WHERE route_id = @id
		ORDER BY stop_order`

	rows, err := r.db.Query(ctx, stopsQ, pgx.NamedArgs{"id": id})
	if err != nil {
		return domain.Route{}, wrap("repo.RouteRepo.GetByID: stops", err)
	}
	route.Stops, err = collect(rows, func(s scanner) (domain.RouteStop, error) {
		var st domain.RouteStop
		err := s.Scan(&st.ID, &st.RouteID, &st.Location, &st.Latitude, &st.Longitude, &st.StopOrder)
		return st, err
	})
	if err != nil {
		return domain.Route{}, wrap("repo.RouteRepo.GetByID: stops", err)
	}
	return route, nil
}

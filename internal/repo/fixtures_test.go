package repo_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
)

// seedRoute inserts a route with n stops along the equator and returns it
// as RouteRepo reads it back.
func seedRoute(t *testing.T, tx pgx.Tx, n int) domain.Route {
	t.Helper()
	ctx := context.Background()

	var routeID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO routes (start_location, end_location, start_latitude, start_longitude, end_latitude, end_longitude)
		VALUES ('Depot', 'Campus', 0, 0, 0, 0.1)
		RETURNING id`).Scan(&routeID)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO route_stops (route_id, location, latitude, longitude, stop_order)
			VALUES ($1, $2, 0, $3, $4)`,
			routeID, "Stop", 0.01*float64(i+1), n-i)
		require.NoError(t, err)
	}

	route, err := repo.NewRouteRepo(tx).GetByID(ctx, routeID)
	require.NoError(t, err)
	return route
}

func seedSession(t *testing.T, tx pgx.Tx, route domain.Route, driver uuid.UUID) domain.TripSession {
	t.Helper()
	s, err := repo.NewSessionRepo(tx).Create(context.Background(), domain.TripSession{
		RouteID:       route.ID,
		DriverID:      driver,
		Status:        domain.SessionPending,
		StartLocation: route.StartLocation,
		EndLocation:   route.EndLocation,
		EndLongitude:  route.EndLongitude,
	})
	require.NoError(t, err)
	return s
}

package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
	"github.com/pkordes/carpool/backend/testutil"
)

func TestSessionStopRepo_CreateFromTemplate(t *testing.T) {
	tx := testutil.NewTx(t)
	ctx := context.Background()
	route := seedRoute(t, tx, 3)
	s := seedSession(t, tx, route, uuid.New())

	stops, err := repo.NewSessionStopRepo(tx).CreateFromTemplate(ctx, s.ID, route.Stops)
	require.NoError(t, err)
	require.Len(t, stops, 3)
	for i, st := range stops {
		assert.Equal(t, domain.StopPending, st.Status)
		assert.Equal(t, route.Stops[i].ID, st.StopID)
		assert.Equal(t, i+1, st.StopOrder)
		assert.Nil(t, st.VisitTime)
	}
}

func TestSessionStopRepo_CreateFromTemplate_NoStops(t *testing.T) {
	tx := testutil.NewTx(t)
	route := seedRoute(t, tx, 0)
	s := seedSession(t, tx, route, uuid.New())

	stops, err := repo.NewSessionStopRepo(tx).CreateFromTemplate(context.Background(), s.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, stops)
}

func TestSessionStopRepo_CheckIn(t *testing.T) {
	tx := testutil.NewTx(t)
	ctx := context.Background()
	r := repo.NewSessionStopRepo(tx)
	route := seedRoute(t, tx, 2)
	s := seedSession(t, tx, route, uuid.New())
	stops, err := r.CreateFromTemplate(ctx, s.ID, route.Stops)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Second)
	visited, err := r.CheckIn(ctx, s.ID, stops[0].ID, domain.StopVisited, at)
	require.NoError(t, err)
	assert.Equal(t, domain.StopVisited, visited.Status)
	require.NotNil(t, visited.VisitTime)
	assert.True(t, at.Equal(*visited.VisitTime))

	_, err = r.CheckIn(ctx, s.ID, stops[0].ID, domain.StopSkipped, at)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = r.CheckIn(ctx, s.ID, stops[1].ID+1000, domain.StopVisited, at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocationRepo_UpsertGetDelete(t *testing.T) {
	tx := testutil.NewTx(t)
	ctx := context.Background()
	r := repo.NewLocationRepo(tx)
	driver := uuid.New()
	s := seedSession(t, tx, seedRoute(t, tx, 0), driver)

	first := time.Now().UTC().Truncate(time.Second)
	_, err := r.Upsert(ctx, domain.DriverLocation{TripSessionID: s.ID, DriverID: driver, Latitude: 1, Longitude: 2, RecordedAt: first})
	require.NoError(t, err)

	second := first.Add(5 * time.Second)
	_, err = r.Upsert(ctx, domain.DriverLocation{TripSessionID: s.ID, DriverID: driver, Latitude: 3, Longitude: 4, RecordedAt: second})
	require.NoError(t, err)

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Latitude)
	assert.True(t, second.Equal(got.RecordedAt))

	require.NoError(t, r.Delete(ctx, s.ID))
	require.NoError(t, r.Delete(ctx, s.ID))
	_, err = r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRatingRepo_Summary(t *testing.T) {
	tx := testutil.NewTx(t)
	ctx := context.Background()
	r := repo.NewRatingRepo(tx)
	driver := uuid.New()
	s := seedSession(t, tx, seedRoute(t, tx, 0), driver)

	empty, err := r.Summary(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)

	for _, score := range []int{4, 5} {
		_, err := r.Create(ctx, domain.Rating{TripSessionID: s.ID, RaterID: uuid.New(), RateeID: driver, Rating: score})
		require.NoError(t, err)
	}

	sum, err := r.Summary(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.InDelta(t, 4.5, sum.Average, 0.001)
}

func TestDeviceRepo_Upsert(t *testing.T) {
	tx := testutil.NewTx(t)
	ctx := context.Background()
	r := repo.NewDeviceRepo(tx)
	user := uuid.New()

	_, err := r.Upsert(ctx, domain.DeviceToken{UserID: user, Token: "a"})
	require.NoError(t, err)
	_, err = r.Upsert(ctx, domain.DeviceToken{UserID: user, Token: "b"})
	require.NoError(t, err)

	got, err := r.GetByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Token)

	_, err = r.GetByUser(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package tracking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// ---- fakes ----

// memWriter is an in-memory DriverLocation table keyed by session.
type memWriter struct {
	mu        sync.Mutex
	rows      map[int64]domain.DriverLocation
	upserts   int
	failNext  int
	deleteErr error
}

var _ tracking.LocationWriter = (*memWriter)(nil)

func newMemWriter() *memWriter { return &memWriter{rows: make(map[int64]domain.DriverLocation)} }

func (w *memWriter) Upsert(_ context.Context, loc domain.DriverLocation) (domain.DriverLocation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upserts++
	if w.failNext > 0 {
		w.failNext--
		return domain.DriverLocation{}, domain.ErrRemoteUnavailable
	}
	w.rows[loc.TripSessionID] = loc
	return loc, nil
}

func (w *memWriter) Delete(_ context.Context, sessionID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deleteErr != nil {
		return w.deleteErr
	}
	delete(w.rows, sessionID)
	return nil
}

func (w *memWriter) row(sessionID int64) (domain.DriverLocation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.rows[sessionID]
	return l, ok
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

func (w *memWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upserts
}

// mockProvider wraps a FeedProvider with overridable Watch.
type mockProvider struct {
	WatchFn func(ctx context.Context, opts tracking.Options) (<-chan tracking.Position, error)
	StopFn  func() error
}

var _ tracking.Provider = (*mockProvider)(nil)

func (m *mockProvider) Watch(ctx context.Context, opts tracking.Options) (<-chan tracking.Position, error) {
	return m.WatchFn(ctx, opts)
}
func (m *mockProvider) Stop() error { return m.StopFn() }

var granted = tracking.Permissions{Foreground: true, Background: true}

func newTracker(p tracking.Provider, markers tracking.MarkerStore, w tracking.LocationWriter) *tracking.Tracker {
	return tracking.New(tracking.Config{
		SessionID: 42,
		DriverID:  uuid.New(),
		Provider:  p,
		Markers:   markers,
		Writer:    w,
	})
}

// fixes returns n positions 5 s and ~111 m apart, clear of the throttle.
func fixes(n int) []tracking.Position {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]tracking.Position, n)
	for i := range out {
		out[i] = tracking.Position{Latitude: 0.001 * float64(i), Longitude: 10, RecordedAt: t0.Add(time.Duration(i) * 5 * time.Second)}
	}
	return out
}

// ---- Start ----

func TestTracker_Start_PermissionDenied(t *testing.T) {
	markers := tracking.NewMemoryMarkerStore()
	tr := newTracker(tracking.NewFeedProvider(), markers, newMemWriter())

	for _, perms := range []tracking.Permissions{{}, {Foreground: true}, {Background: true}} {
		err := tr.Start(context.Background(), perms)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	}

	assert.False(t, tr.Running())
	_, err := markers.Load(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_Start_RegistrationFailureIsFatal(t *testing.T) {
	markers := tracking.NewMemoryMarkerStore()
	p := &mockProvider{
		WatchFn: func(context.Context, tracking.Options) (<-chan tracking.Position, error) {
			return nil, errors.New("background task refused")
		},
		StopFn: func() error { return nil },
	}
	tr := newTracker(p, markers, newMemWriter())

	err := tr.Start(context.Background(), granted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "background task refused")
	assert.False(t, tr.Running())

	_, err = markers.Load(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound, "marker must not outlive a failed start")
}

func TestTracker_Start_RegistersWithoutAutoPause(t *testing.T) {
	var got tracking.Options
	feed := tracking.NewFeedProvider()
	p := &mockProvider{
		WatchFn: func(ctx context.Context, opts tracking.Options) (<-chan tracking.Position, error) {
			got = opts
			return feed.Watch(ctx, opts)
		},
		StopFn: feed.Stop,
	}
	tr := newTracker(p, tracking.NewMemoryMarkerStore(), newMemWriter())

	require.NoError(t, tr.Start(context.Background(), granted))
	defer tr.Stop(context.Background())

	assert.Equal(t, 3*time.Second, got.MinInterval)
	assert.Equal(t, 3.0, got.MinDistance)
	assert.False(t, got.PausesAutomatically)
}

func TestTracker_Start_Twice(t *testing.T) {
	tr := newTracker(tracking.NewFeedProvider(), tracking.NewMemoryMarkerStore(), newMemWriter())

	require.NoError(t, tr.Start(context.Background(), granted))
	defer tr.Stop(context.Background())
	assert.ErrorIs(t, tr.Start(context.Background(), granted), domain.ErrConflict)
}

// ---- positions ----

func TestTracker_LastWriteWins(t *testing.T) {
	feed := tracking.NewFeedProvider()
	w := newMemWriter()
	tr := newTracker(feed, tracking.NewMemoryMarkerStore(), w)
	require.NoError(t, tr.Start(context.Background(), granted))
	defer tr.Stop(context.Background())

	ps := fixes(6)
	for _, p := range ps {
		require.NoError(t, feed.Push(p))
	}

	require.Eventually(t, func() bool { return w.calls() == len(ps) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.count())
	got, _ := w.row(42)
	last := ps[len(ps)-1]
	assert.Equal(t, last.Latitude, got.Latitude)
	assert.Equal(t, last.Longitude, got.Longitude)
	assert.True(t, last.RecordedAt.Equal(got.RecordedAt))
}

func TestTracker_FailedWriteIsSkipped(t *testing.T) {
	feed := tracking.NewFeedProvider()
	w := newMemWriter()
	w.failNext = 1
	tr := newTracker(feed, tracking.NewMemoryMarkerStore(), w)
	require.NoError(t, tr.Start(context.Background(), granted))
	defer tr.Stop(context.Background())

	ps := fixes(2)
	require.NoError(t, feed.Push(ps[0]))
	require.NoError(t, feed.Push(ps[1]))

	require.Eventually(t, func() bool { return w.calls() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, tr.Running())
	got, ok := w.row(42)
	require.True(t, ok)
	assert.Equal(t, ps[1].Latitude, got.Latitude)
}

// ---- Stop ----

func TestTracker_StartThenStopLeavesNoRow(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		feed := tracking.NewFeedProvider()
		w := newMemWriter()
		markers := tracking.NewMemoryMarkerStore()
		tr := newTracker(feed, markers, w)

		require.NoError(t, tr.Start(context.Background(), granted))
		for _, p := range fixes(n) {
			require.NoError(t, feed.Push(p))
		}
		require.NoError(t, tr.Stop(context.Background()))

		assert.Equal(t, 0, w.count(), "n=%d", n)
		assert.False(t, tr.Running())
		_, err := markers.Load(context.Background(), 42)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	stops := 0
	feed := tracking.NewFeedProvider()
	p := &mockProvider{
		WatchFn: feed.Watch,
		StopFn: func() error {
			stops++
			return feed.Stop()
		},
	}
	tr := newTracker(p, tracking.NewMemoryMarkerStore(), newMemWriter())

	assert.NoError(t, tr.Stop(context.Background()), "stop before start")
	require.NoError(t, tr.Start(context.Background(), granted))
	assert.NoError(t, tr.Stop(context.Background()))
	assert.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, 1, stops)
}

func TestTracker_StopToleratesAlreadyStoppedProvider(t *testing.T) {
	feed := tracking.NewFeedProvider()
	p := &mockProvider{WatchFn: feed.Watch, StopFn: func() error { return tracking.ErrNotRunning }}
	tr := newTracker(p, tracking.NewMemoryMarkerStore(), newMemWriter())
	require.NoError(t, tr.Start(context.Background(), granted))

	// The provider claims it is already stopped; the loop still ends via ctx.
	assert.NoError(t, tr.Stop(context.Background()))
	assert.False(t, tr.Running())
}

func TestTracker_StopReportsCleanupFailure(t *testing.T) {
	w := newMemWriter()
	w.deleteErr = domain.ErrRemoteUnavailable
	tr := newTracker(tracking.NewFeedProvider(), tracking.NewMemoryMarkerStore(), w)
	require.NoError(t, tr.Start(context.Background(), granted))

	err := tr.Stop(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.False(t, tr.Running())
}

func TestFeedProvider_PushWithoutWatcher(t *testing.T) {
	feed := tracking.NewFeedProvider()
	assert.ErrorIs(t, feed.Push(tracking.Position{}), tracking.ErrNotRunning)
	assert.ErrorIs(t, feed.Stop(), tracking.ErrNotRunning)
}

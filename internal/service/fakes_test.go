package service_test

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/geofence"
	"github.com/pkordes/carpool/backend/internal/repo"
	"github.com/pkordes/carpool/backend/internal/service"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// memStore is an in-memory database behind the fake repos below. It keeps
// the same invariants the Postgres schema enforces, including the partial
// unique indexes, so scenario tests see the real failure modes.
type memStore struct {
	mu     sync.Mutex
	nextID int64

	routes    map[int64]domain.Route
	sessions  map[int64]domain.TripSession
	members   map[int64]domain.PassengerTripSession
	points    map[int64]domain.PassengerMeetingPoint
	stops     map[int64]domain.TripSessionStop
	locations map[int64]domain.DriverLocation
	ratings   []domain.Rating
	devices   map[uuid.UUID]domain.DeviceToken
}

func newMemStore() *memStore {
	return &memStore{
		routes:    map[int64]domain.Route{},
		sessions:  map[int64]domain.TripSession{},
		members:   map[int64]domain.PassengerTripSession{},
		points:    map[int64]domain.PassengerMeetingPoint{},
		stops:     map[int64]domain.TripSessionStop{},
		locations: map[int64]domain.DriverLocation{},
		devices:   map[uuid.UUID]domain.DeviceToken{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// addRoute stores a route along the equator with n stops.
func (s *memStore) addRoute(n int) domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := domain.Route{ID: s.id(), StartLocation: "Depot", EndLocation: "Campus", EndLongitude: 0.1}
	for i := 0; i < n; i++ {
		r.Stops = append(r.Stops, domain.RouteStop{
			ID: s.id(), RouteID: r.ID, Location: "Stop", Longitude: 0.02 * float64(i+1), StopOrder: i + 1,
		})
	}
	s.routes[r.ID] = r
	return r
}

func sortedValues[K comparable, V any](m map[K]V, compare func(a, b V) int) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, compare)
	return out
}

// ---- routes ----

type fakeRoutes struct{ st *memStore }

var _ repo.RouteRepo = fakeRoutes{}

func (f fakeRoutes) GetByID(_ context.Context, id int64) (domain.Route, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	r, ok := f.st.routes[id]
	if !ok {
		return domain.Route{}, domain.ErrNotFound
	}
	return r, nil
}

// ---- sessions ----

type fakeSessions struct{ st *memStore }

var _ repo.SessionRepo = fakeSessions{}

func (f fakeSessions) Create(_ context.Context, s domain.TripSession) (domain.TripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, other := range f.st.sessions {
		if other.DriverID == s.DriverID && other.Status.Open() {
			return domain.TripSession{}, domain.ErrConflict
		}
	}
	s.ID = f.st.id()
	s.StartTime = time.Now().UTC()
	s.UpdatedAt = s.StartTime
	f.st.sessions[s.ID] = s
	return s, nil
}

func (f fakeSessions) GetByID(_ context.Context, id int64) (domain.TripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.sessions[id]
	if !ok {
		return domain.TripSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (f fakeSessions) ListOpenByDriver(_ context.Context, driverID uuid.UUID) ([]domain.TripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := []domain.TripSession{}
	for _, s := range f.st.sessions {
		if s.DriverID == driverID && s.Status.Open() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f fakeSessions) ListAvailable(_ context.Context, capacity int) ([]domain.AvailableSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := []domain.AvailableSession{}
	for _, s := range sortedValues(f.st.sessions, func(a, b domain.TripSession) int { return cmp.Compare(a.ID, b.ID) }) {
		if !s.Status.Open() {
			continue
		}
		n := 0
		for _, m := range f.st.members {
			if m.TripSessionID == s.ID && m.OccupiesSeat() {
				n++
			}
		}
		if n < capacity {
			out = append(out, domain.AvailableSession{Session: s, Occupied: n, Seats: capacity - n})
		}
	}
	return out, nil
}

func (f fakeSessions) UpdateStatus(_ context.Context, id int64, from, to domain.SessionStatus, endTime *time.Time) (domain.TripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.sessions[id]
	if !ok {
		return domain.TripSession{}, domain.ErrNotFound
	}
	if s.Status != from {
		return domain.TripSession{}, domain.ErrConflict
	}
	s.Status = to
	if endTime != nil {
		s.EndTime = endTime
	}
	s.UpdatedAt = time.Now().UTC()
	f.st.sessions[id] = s
	return s, nil
}

func (f fakeSessions) Delete(_ context.Context, id int64) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.st.sessions, id)
	for k, st := range f.st.stops {
		if st.TripSessionID == id {
			delete(f.st.stops, k)
		}
	}
	return nil
}

// ---- memberships ----

type fakeMembers struct{ st *memStore }

var _ repo.MembershipRepo = fakeMembers{}

func (f fakeMembers) Create(_ context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if m.Status == domain.MembershipJoined {
		for _, other := range f.st.members {
			if other.PassengerID == m.PassengerID && other.Status == domain.MembershipJoined && !other.Rejected {
				return domain.PassengerTripSession{}, domain.ErrConflict
			}
		}
	}
	m.ID = f.st.id()
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	f.st.members[m.ID] = m
	return m, nil
}

func (f fakeMembers) GetLatest(_ context.Context, sessionID int64, passengerID uuid.UUID) (domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var (
		latest domain.PassengerTripSession
		found  bool
	)
	for _, m := range f.st.members {
		if m.TripSessionID == sessionID && m.PassengerID == passengerID && m.ID > latest.ID {
			latest, found = m, true
		}
	}
	if !found {
		return domain.PassengerTripSession{}, domain.ErrNotFound
	}
	return latest, nil
}

func (f fakeMembers) byID(keep func(m domain.PassengerTripSession) bool) []domain.PassengerTripSession {
	out := []domain.PassengerTripSession{}
	for _, m := range sortedValues(f.st.members, func(a, b domain.PassengerTripSession) int { return cmp.Compare(a.ID, b.ID) }) {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (f fakeMembers) ListBySession(_ context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.byID(func(m domain.PassengerTripSession) bool { return m.TripSessionID == sessionID }), nil
}

func (f fakeMembers) ListJoinedByPassenger(_ context.Context, passengerID uuid.UUID) ([]domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.byID(func(m domain.PassengerTripSession) bool {
		return m.PassengerID == passengerID && m.Status == domain.MembershipJoined && !m.Rejected
	}), nil
}

func (f fakeMembers) Update(_ context.Context, m domain.PassengerTripSession) (domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	cur, ok := f.st.members[m.ID]
	if !ok {
		return domain.PassengerTripSession{}, domain.ErrNotFound
	}
	if m.Status == domain.MembershipJoined && !m.Rejected {
		for _, other := range f.st.members {
			if other.ID != m.ID && other.PassengerID == m.PassengerID && other.Status == domain.MembershipJoined && !other.Rejected {
				return domain.PassengerTripSession{}, domain.ErrConflict
			}
		}
	}
	cur.Status, cur.Rejected = m.Status, m.Rejected
	cur.UpdatedAt = time.Now().UTC()
	f.st.members[m.ID] = cur
	return cur, nil
}

func (f fakeMembers) FinalizeJoined(_ context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	joined := f.byID(func(m domain.PassengerTripSession) bool {
		return m.TripSessionID == sessionID && m.Status == domain.MembershipJoined && !m.Rejected
	})
	for i := range joined {
		joined[i].Status = domain.MembershipCompleted
		f.st.members[joined[i].ID] = joined[i]
	}
	return joined, nil
}

func (f fakeMembers) ReleaseOpen(_ context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	open := f.byID(func(m domain.PassengerTripSession) bool {
		return m.TripSessionID == sessionID && m.OccupiesSeat()
	})
	for i := range open {
		open[i].Status = domain.MembershipCancelled
		f.st.members[open[i].ID] = open[i]
	}
	return open, nil
}

func (f fakeMembers) Delete(_ context.Context, id int64) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.members[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.st.members, id)
	return nil
}

// ---- meeting points ----

type fakePoints struct{ st *memStore }

var _ repo.MeetingPointRepo = fakePoints{}

func (f fakePoints) Create(_ context.Context, p domain.PassengerMeetingPoint) (domain.PassengerMeetingPoint, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	p.ID = f.st.id()
	f.st.points[p.ID] = p
	return p, nil
}

func (f fakePoints) ListBySession(_ context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := []domain.PassengerMeetingPoint{}
	for _, p := range sortedValues(f.st.points, func(a, b domain.PassengerMeetingPoint) int { return cmp.Compare(a.ID, b.ID) }) {
		if p.TripSessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fakePoints) DeleteByPassenger(_ context.Context, sessionID int64, passengerID uuid.UUID) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for k, p := range f.st.points {
		if p.TripSessionID == sessionID && p.PassengerID == passengerID {
			delete(f.st.points, k)
		}
	}
	return nil
}

// ---- session stops ----

type fakeStops struct{ st *memStore }

var _ repo.SessionStopRepo = fakeStops{}

func (f fakeStops) CreateFromTemplate(ctx context.Context, sessionID int64, stops []domain.RouteStop) ([]domain.TripSessionStop, error) {
	f.st.mu.Lock()
	for _, rs := range stops {
		id := f.st.id()
		f.st.stops[id] = domain.TripSessionStop{
			ID: id, TripSessionID: sessionID, StopID: rs.ID, Status: domain.StopPending,
			Location: rs.Location, Latitude: rs.Latitude, Longitude: rs.Longitude, StopOrder: rs.StopOrder,
		}
	}
	f.st.mu.Unlock()
	return f.ListBySession(ctx, sessionID)
}

func (f fakeStops) ListBySession(_ context.Context, sessionID int64) ([]domain.TripSessionStop, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := []domain.TripSessionStop{}
	for _, st := range sortedValues(f.st.stops, func(a, b domain.TripSessionStop) int { return cmp.Compare(a.StopOrder, b.StopOrder) }) {
		if st.TripSessionID == sessionID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f fakeStops) GetByID(_ context.Context, sessionID, stopID int64) (domain.TripSessionStop, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	st, ok := f.st.stops[stopID]
	if !ok || st.TripSessionID != sessionID {
		return domain.TripSessionStop{}, domain.ErrNotFound
	}
	return st, nil
}

func (f fakeStops) CheckIn(_ context.Context, sessionID, stopID int64, status domain.StopStatus, at time.Time) (domain.TripSessionStop, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	st, ok := f.st.stops[stopID]
	if !ok || st.TripSessionID != sessionID {
		return domain.TripSessionStop{}, domain.ErrNotFound
	}
	if err := domain.NextStopStatus(st.Status, status); err != nil {
		return domain.TripSessionStop{}, err
	}
	st.Status, st.VisitTime = status, &at
	f.st.stops[stopID] = st
	return st, nil
}

// ---- locations ----

type fakeLocations struct{ st *memStore }

var _ repo.LocationRepo = fakeLocations{}

func (f fakeLocations) Upsert(_ context.Context, loc domain.DriverLocation) (domain.DriverLocation, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.locations[loc.TripSessionID] = loc
	return loc, nil
}

func (f fakeLocations) Get(_ context.Context, sessionID int64) (domain.DriverLocation, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	l, ok := f.st.locations[sessionID]
	if !ok {
		return domain.DriverLocation{}, domain.ErrNotFound
	}
	return l, nil
}

func (f fakeLocations) Delete(_ context.Context, sessionID int64) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	delete(f.st.locations, sessionID)
	return nil
}

// ---- ratings ----

type fakeRatings struct{ st *memStore }

var _ repo.RatingRepo = fakeRatings{}

func (f fakeRatings) Create(_ context.Context, r domain.Rating) (domain.Rating, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, other := range f.st.ratings {
		if other.TripSessionID == r.TripSessionID && other.RaterID == r.RaterID && other.RateeID == r.RateeID {
			return domain.Rating{}, domain.ErrConflict
		}
	}
	r.ID = f.st.id()
	f.st.ratings = append(f.st.ratings, r)
	return r, nil
}

func (f fakeRatings) Summary(_ context.Context, userID uuid.UUID) (domain.RatingSummary, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	sum := domain.RatingSummary{UserID: userID}
	total := 0
	for _, r := range f.st.ratings {
		if r.RateeID == userID {
			sum.Count++
			total += r.Rating
		}
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}

// ---- devices ----

type fakeDevices struct{ st *memStore }

var _ repo.DeviceRepo = fakeDevices{}

func (f fakeDevices) Upsert(_ context.Context, d domain.DeviceToken) (domain.DeviceToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	d.UpdatedAt = time.Now().UTC()
	f.st.devices[d.UserID] = d
	return d, nil
}

func (f fakeDevices) GetByUser(_ context.Context, userID uuid.UUID) (domain.DeviceToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	d, ok := f.st.devices[userID]
	if !ok {
		return domain.DeviceToken{}, domain.ErrNotFound
	}
	return d, nil
}

// ---- tracker ----

type mockTracker struct {
	start func(ctx context.Context, sessionID int64, driverID uuid.UUID, perms tracking.Permissions) error
	push  func(sessionID int64, p tracking.Position) error
	stop  func(ctx context.Context, sessionID int64) error
}

var _ service.Tracker = (*mockTracker)(nil)

func (m *mockTracker) Start(ctx context.Context, sessionID int64, driverID uuid.UUID, perms tracking.Permissions) error {
	if m.start == nil {
		return nil
	}
	return m.start(ctx, sessionID, driverID, perms)
}

func (m *mockTracker) Push(sessionID int64, p tracking.Position) error {
	if m.push == nil {
		return nil
	}
	return m.push(sessionID, p)
}

func (m *mockTracker) Stop(ctx context.Context, sessionID int64) error {
	if m.stop == nil {
		return nil
	}
	return m.stop(ctx, sessionID)
}

// ---- harness ----

var granted = tracking.Permissions{Foreground: true, Background: true}

// onRoute lies about 55 m north of the route line; offRoute about 1.1 km.
var (
	onRoute  = service.JoinRequest{Latitude: 0.0005, Longitude: 0.03, Location: "Bakery"}
	offRoute = service.JoinRequest{Latitude: 0.01, Longitude: 0.03, Location: "Lake"}
)

func geofenceDefault() geofence.Validator { return geofence.NewValidator(0) }

type harness struct {
	st       *memStore
	route    domain.Route
	sessions *service.SessionService
	members  *service.MembershipService
	checkins *service.CheckInService
	ratings  *service.RatingService
	location *service.LocationService
}

func newHarness(st *memStore, tracker service.Tracker) *harness {
	validator := geofenceDefault()
	h := &harness{st: st, route: st.addRoute(3)}
	h.sessions = service.NewSessionService(fakeSessions{st}, fakeRoutes{st}, fakeStops{st}, fakeMembers{st}, tracker, 4, nil)
	h.members = service.NewMembershipService(fakeSessions{st}, fakeRoutes{st}, fakeMembers{st}, fakePoints{st}, validator, 4, nil)
	h.checkins = service.NewCheckInService(fakeSessions{st}, fakeStops{st}, true)
	h.ratings = service.NewRatingService(fakeSessions{st}, fakeMembers{st}, fakeRatings{st})
	h.location = service.NewLocationService(fakeSessions{st}, fakeLocations{st}, tracker)
	return h
}

func (h *harness) create(t *testing.T, driver uuid.UUID) domain.TripSession {
	t.Helper()
	s, _, err := h.sessions.Create(context.Background(), driver, h.route.ID)
	require.NoError(t, err)
	return s
}

func (h *harness) join(t *testing.T, sessionID int64, driver uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	passenger := uuid.New()
	_, err := h.members.RequestJoin(ctx, sessionID, passenger, onRoute)
	require.NoError(t, err)
	_, err = h.members.Approve(ctx, sessionID, passenger, driver)
	require.NoError(t, err)
	return passenger
}

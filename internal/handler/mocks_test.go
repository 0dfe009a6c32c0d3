package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/handler"
	"github.com/pkordes/carpool/backend/internal/middleware"
	"github.com/pkordes/carpool/backend/internal/realtime"
	"github.com/pkordes/carpool/backend/internal/service"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// Test doubles for the handler.*Servicer interfaces.
// Set only the method fields your test needs.

type mockSessions struct {
	create        func(ctx context.Context, driverID uuid.UUID, routeID int64) (domain.TripSession, []domain.TripSessionStop, error)
	get           func(ctx context.Context, id int64) (domain.TripSession, error)
	stops         func(ctx context.Context, id int64) ([]domain.TripSessionStop, error)
	start         func(ctx context.Context, id int64, driverID uuid.UUID, req service.StartRequest) (domain.TripSession, error)
	complete      func(ctx context.Context, id int64, driverID uuid.UUID) (service.Completion, error)
	cancel        func(ctx context.Context, id int64, driverID uuid.UUID) (domain.TripSession, error)
	listAvailable func(ctx context.Context, p domain.PaginationParams) ([]domain.AvailableSession, error)
}

func (m *mockSessions) Create(ctx context.Context, driverID uuid.UUID, routeID int64) (domain.TripSession, []domain.TripSessionStop, error) {
	return m.create(ctx, driverID, routeID)
}
func (m *mockSessions) Get(ctx context.Context, id int64) (domain.TripSession, error) {
	return m.get(ctx, id)
}
func (m *mockSessions) Stops(ctx context.Context, id int64) ([]domain.TripSessionStop, error) {
	return m.stops(ctx, id)
}
func (m *mockSessions) Start(ctx context.Context, id int64, driverID uuid.UUID, req service.StartRequest) (domain.TripSession, error) {
	return m.start(ctx, id, driverID, req)
}
func (m *mockSessions) Complete(ctx context.Context, id int64, driverID uuid.UUID) (service.Completion, error) {
	return m.complete(ctx, id, driverID)
}
func (m *mockSessions) Cancel(ctx context.Context, id int64, driverID uuid.UUID) (domain.TripSession, error) {
	return m.cancel(ctx, id, driverID)
}
func (m *mockSessions) ListAvailable(ctx context.Context, p domain.PaginationParams) ([]domain.AvailableSession, error) {
	return m.listAvailable(ctx, p)
}

type mockMembers struct {
	requestJoin   func(ctx context.Context, sessionID int64, passengerID uuid.UUID, req service.JoinRequest) (domain.PassengerTripSession, error)
	approve       func(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error)
	reject        func(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error)
	leave         func(ctx context.Context, sessionID int64, passengerID uuid.UUID) error
	list          func(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error)
	meetingPoints func(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error)
}

func (m *mockMembers) RequestJoin(ctx context.Context, sessionID int64, passengerID uuid.UUID, req service.JoinRequest) (domain.PassengerTripSession, error) {
	return m.requestJoin(ctx, sessionID, passengerID, req)
}
func (m *mockMembers) Approve(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error) {
	return m.approve(ctx, sessionID, passengerID, driverID)
}
func (m *mockMembers) Reject(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error) {
	return m.reject(ctx, sessionID, passengerID, driverID)
}
func (m *mockMembers) Leave(ctx context.Context, sessionID int64, passengerID uuid.UUID) error {
	return m.leave(ctx, sessionID, passengerID)
}
func (m *mockMembers) List(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error) {
	return m.list(ctx, sessionID)
}
func (m *mockMembers) MeetingPoints(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error) {
	return m.meetingPoints(ctx, sessionID)
}

type mockRoutes struct {
	get               func(ctx context.Context, id int64) (domain.Route, error)
	checkMeetingPoint func(ctx context.Context, routeID int64, lat, lon float64) (service.MeetingPointCheck, error)
}

func (m *mockRoutes) Get(ctx context.Context, id int64) (domain.Route, error) {
	return m.get(ctx, id)
}
func (m *mockRoutes) CheckMeetingPoint(ctx context.Context, routeID int64, lat, lon float64) (service.MeetingPointCheck, error) {
	return m.checkMeetingPoint(ctx, routeID, lat, lon)
}

type mockCheckIns struct {
	checkIn func(ctx context.Context, sessionID, stopID int64, driverID uuid.UUID, status domain.StopStatus) (domain.TripSessionStop, error)
}

func (m *mockCheckIns) CheckIn(ctx context.Context, sessionID, stopID int64, driverID uuid.UUID, status domain.StopStatus) (domain.TripSessionStop, error) {
	return m.checkIn(ctx, sessionID, stopID, driverID, status)
}

type mockRatings struct {
	submit  func(ctx context.Context, sessionID int64, raterID uuid.UUID, req service.RatingRequest) (domain.Rating, error)
	summary func(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error)
}

func (m *mockRatings) Submit(ctx context.Context, sessionID int64, raterID uuid.UUID, req service.RatingRequest) (domain.Rating, error) {
	return m.submit(ctx, sessionID, raterID, req)
}
func (m *mockRatings) Summary(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error) {
	return m.summary(ctx, userID)
}

type mockLocations struct {
	report  func(ctx context.Context, sessionID int64, driverID uuid.UUID, p tracking.Position) error
	current func(ctx context.Context, sessionID int64) (domain.DriverLocation, error)
}

func (m *mockLocations) Report(ctx context.Context, sessionID int64, driverID uuid.UUID, p tracking.Position) error {
	return m.report(ctx, sessionID, driverID, p)
}
func (m *mockLocations) Current(ctx context.Context, sessionID int64) (domain.DriverLocation, error) {
	return m.current(ctx, sessionID)
}

type mockDevices struct {
	register func(ctx context.Context, userID uuid.UUID, token string) (domain.DeviceToken, error)
}

func (m *mockDevices) Register(ctx context.Context, userID uuid.UUID, token string) (domain.DeviceToken, error) {
	return m.register(ctx, userID, token)
}

var (
	_ handler.SessionServicer    = (*mockSessions)(nil)
	_ handler.MembershipServicer = (*mockMembers)(nil)
	_ handler.RouteServicer      = (*mockRoutes)(nil)
	_ handler.CheckInServicer    = (*mockCheckIns)(nil)
	_ handler.RatingServicer     = (*mockRatings)(nil)
	_ handler.LocationServicer   = (*mockLocations)(nil)
	_ handler.DeviceServicer     = (*mockDevices)(nil)
)

// ---- helpers ---------------------------------------------------------------

var testSecret = []byte("handler-test-secret")

// testAPI is a fully wired router plus the identity every request runs as.
type testAPI struct {
	handler http.Handler
	user    uuid.UUID
	token   string
}

type apiOption func(*handler.RouterConfig)

func withReady(ready func(ctx context.Context) error) apiOption {
	return func(cfg *handler.RouterConfig) { cfg.Ready = ready }
}

func withMaxBody(n int64) apiOption {
	return func(cfg *handler.RouterConfig) { cfg.MaxBodyBytes = n }
}

// newAPI wires the mocks into the router the same way main.go does.
func newAPI(t *testing.T, svc handler.Services, broker realtime.Broker, opts ...apiOption) *testAPI {
	t.Helper()
	verifier := middleware.NewVerifier(testSecret)
	cfg := handler.RouterConfig{Verifier: verifier, MaxBodyBytes: 1 << 20}
	for _, opt := range opts {
		opt(&cfg)
	}
	if broker == nil {
		broker = realtime.NewMemoryBroker(nil)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	user := uuid.New()
	token, err := verifier.Sign(user, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	return &testAPI{
		handler: handler.NewServer(svc, broker, log).Router(cfg),
		user:    user,
		token:   token,
	}
}

// do sends an authenticated request. body is JSON-encoded unless nil.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Code          string   `json:"code"`
		Message       string   `json:"message"`
		OverageMeters *float64 `json:"overage_meters"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func sessionFixture(driver uuid.UUID) domain.TripSession {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return domain.TripSession{
		ID:            7,
		RouteID:       3,
		DriverID:      driver,
		Status:        domain.SessionPending,
		StartLocation: "Depot",
		EndLocation:   "Campus",
		StartTime:     start,
		UpdatedAt:     start,
	}
}

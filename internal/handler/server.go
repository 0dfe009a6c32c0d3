// Package handler implements the HTTP and WebSocket handlers for the carpool API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (session.go, membership.go, etc.) but all share the same Server struct
// so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/middleware"
	"github.com/pkordes/carpool/backend/internal/realtime"
	"github.com/pkordes/carpool/backend/internal/service"
	"github.com/pkordes/carpool/backend/internal/tracking"
	"github.com/pkordes/carpool/backend/openapi"
)

// SessionServicer defines the trip session operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching the database or service layer.
type SessionServicer interface {
	Create(ctx context.Context, driverID uuid.UUID, routeID int64) (domain.TripSession, []domain.TripSessionStop, error)
	Get(ctx context.Context, id int64) (domain.TripSession, error)
	Stops(ctx context.Context, id int64) ([]domain.TripSessionStop, error)
	Start(ctx context.Context, id int64, driverID uuid.UUID, req service.StartRequest) (domain.TripSession, error)
	Complete(ctx context.Context, id int64, driverID uuid.UUID) (service.Completion, error)
	Cancel(ctx context.Context, id int64, driverID uuid.UUID) (domain.TripSession, error)
	ListAvailable(ctx context.Context, p domain.PaginationParams) ([]domain.AvailableSession, error)
}

// MembershipServicer defines the passenger join flow.
type MembershipServicer interface {
	RequestJoin(ctx context.Context, sessionID int64, passengerID uuid.UUID, req service.JoinRequest) (domain.PassengerTripSession, error)
	Approve(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error)
	Reject(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error)
	Leave(ctx context.Context, sessionID int64, passengerID uuid.UUID) error
	List(ctx context.Context, sessionID int64) ([]domain.PassengerTripSession, error)
	MeetingPoints(ctx context.Context, sessionID int64) ([]domain.PassengerMeetingPoint, error)
}

type RouteServicer interface {
	Get(ctx context.Context, id int64) (domain.Route, error)
	CheckMeetingPoint(ctx context.Context, routeID int64, lat, lon float64) (service.MeetingPointCheck, error)
}

type CheckInServicer interface {
	CheckIn(ctx context.Context, sessionID, stopID int64, driverID uuid.UUID, status domain.StopStatus) (domain.TripSessionStop, error)
}

type RatingServicer interface {
	Submit(ctx context.Context, sessionID int64, raterID uuid.UUID, req service.RatingRequest) (domain.Rating, error)
	Summary(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error)
}

type LocationServicer interface {
	Report(ctx context.Context, sessionID int64, driverID uuid.UUID, p tracking.Position) error
	Current(ctx context.Context, sessionID int64) (domain.DriverLocation, error)
}

type DeviceServicer interface {
	Register(ctx context.Context, userID uuid.UUID, token string) (domain.DeviceToken, error)
}

var (
	_ SessionServicer    = (*service.SessionService)(nil)
	_ MembershipServicer = (*service.MembershipService)(nil)
	_ RouteServicer      = (*service.RouteService)(nil)
	_ CheckInServicer    = (*service.CheckInService)(nil)
	_ RatingServicer     = (*service.RatingService)(nil)
	_ LocationServicer   = (*service.LocationService)(nil)
	_ DeviceServicer     = (*service.DeviceService)(nil)
)

// Services groups the business operations behind the API.
type Services struct {
	Sessions  SessionServicer
	Members   MembershipServicer
	Routes    RouteServicer
	CheckIns  CheckInServicer
	Ratings   RatingServicer
	Locations LocationServicer
	Devices   DeviceServicer
}

// Server holds the handlers' dependencies. Wire it in main.go via Router.
type Server struct {
	svc    Services
	broker realtime.Broker
	log    *slog.Logger
}

// NewServer constructs the Server. broker feeds the WebSocket gateway.
func NewServer(svc Services, broker realtime.Broker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, broker: broker, log: log}
}

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	Verifier     *middleware.Verifier
	CORSOrigins  []string
	MaxBodyBytes int64
	// Ready reports whether backing stores are reachable for /healthz.
	// Nil means always ready.
	Ready func(ctx context.Context) error
}

// Router builds the chi router with the full middleware stack:
// RequestID → RealIP → Logger → Recoverer → Metrics → CORS, then JWT
// authentication and the body limit on API routes.
func (s *Server) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewMetrics())
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))

	r.Get("/healthz", s.health(cfg.Ready))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Document)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(cfg.CORSOrigins, origin)
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Verifier))
		r.Get("/ws/sessions/{sessionID}", s.sessionSocket(upgrader))

		r.Group(func(r chi.Router) {
			if cfg.MaxBodyBytes > 0 {
				r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
			}

			r.Get("/routes/{routeID}", s.getRoute)
			r.Post("/routes/{routeID}/meeting-point-check", s.checkMeetingPoint)

			r.Post("/sessions", s.createSession)
			r.Get("/sessions/available", s.listAvailable)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/start", s.startSession)
				r.Post("/complete", s.completeSession)
				r.Post("/cancel", s.cancelSession)

				r.Get("/passengers", s.listPassengers)
				r.Post("/passengers", s.requestJoin)
				r.Delete("/passengers/me", s.leave)
				r.Post("/passengers/{passengerID}/approve", s.approve)
				r.Post("/passengers/{passengerID}/reject", s.reject)
				r.Get("/meeting-points", s.meetingPoints)

				r.Get("/stops", s.listStops)
				r.Post("/stops/{stopID}/visit", s.checkIn(domain.StopVisited))
				r.Post("/stops/{stopID}/skip", s.checkIn(domain.StopSkipped))

				r.Post("/positions", s.reportPosition)
				r.Get("/location", s.currentLocation)
				r.Post("/ratings", s.submitRating)
			})

			r.Get("/users/{userID}/rating", s.ratingSummary)
			r.Put("/devices", s.registerDevice)
		})
	})
	return r
}

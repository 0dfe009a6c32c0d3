package handler

import (
	"net/http"
	"time"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/service"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

type createSessionRequest struct {
	RouteID int64 `json:"route_id"`
}

type sessionResponse struct {
	Session domain.TripSession       `json:"session"`
	Stops   []domain.TripSessionStop `json:"stops"`
}

type positionRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

func (p positionRequest) position(now time.Time) tracking.Position {
	pos := tracking.Position{Latitude: p.Latitude, Longitude: p.Longitude, RecordedAt: now}
	if p.RecordedAt != nil {
		pos.RecordedAt = *p.RecordedAt
	}
	return pos
}

type startSessionRequest struct {
	tracking.Permissions
	// Position is the device's first fix, written as soon as tracking starts.
	Position *positionRequest `json:"position,omitempty"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type availableResponse struct {
	Data       []domain.AvailableSession `json:"data"`
	Pagination pagination                `json:"pagination"`
}

// createSession handles POST /sessions.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	if req.RouteID <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "route_id is required")
		return
	}

	session, stops, err := s.svc.Sessions.Create(r.Context(), driver, req.RouteID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: session, Stops: stops})
}

// listAvailable handles GET /sessions/available.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) listAvailable(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		requestError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		requestError(w, err)
		return
	}
	params := domain.NewPaginationParams(page, limit)

	list, err := s.svc.Sessions.ListAvailable(r.Context(), params)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availableResponse{
		Data:       list,
		Pagination: pagination{Page: params.Page, Limit: params.Limit},
	})
}

// getSession handles GET /sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	session, err := s.svc.Sessions.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// startSession handles POST /sessions/{sessionID}/start.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}

	start := service.StartRequest{Permissions: req.Permissions}
	if req.Position != nil {
		p := req.Position.position(time.Now().UTC())
		start.Initial = &p
	}
	session, err := s.svc.Sessions.Start(r.Context(), id, driver, start)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// completeSession handles POST /sessions/{sessionID}/complete.
func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	done, err := s.svc.Sessions.Complete(r.Context(), id, driver)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// cancelSession handles POST /sessions/{sessionID}/cancel.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	session, err := s.svc.Sessions.Cancel(r.Context(), id, driver)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// listStops handles GET /sessions/{sessionID}/stops.
func (s *Server) listStops(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	stops, err := s.svc.Sessions.Stops(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

// checkIn handles POST /sessions/{sessionID}/stops/{stopID}/visit and /skip.
func (s *Server) checkIn(status domain.StopStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driver, ok := caller(w, r)
		if !ok {
			return
		}
		id, err := pathInt64(r, "sessionID")
		if err != nil {
			requestError(w, err)
			return
		}
		stopID, err := pathInt64(r, "stopID")
		if err != nil {
			requestError(w, err)
			return
		}
		stop, err := s.svc.CheckIns.CheckIn(r.Context(), id, stopID, driver, status)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stop)
	}
}

// reportPosition handles POST /sessions/{sessionID}/positions.
func (s *Server) reportPosition(w http.ResponseWriter, r *http.Request) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	if err := s.svc.Locations.Report(r.Context(), id, driver, req.position(time.Now().UTC())); err != nil {
		s.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// currentLocation handles GET /sessions/{sessionID}/location.
func (s *Server) currentLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	loc, err := s.svc.Locations.Current(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/service"
)

// requestJoin handles POST /sessions/{sessionID}/passengers.
func (s *Server) requestJoin(w http.ResponseWriter, r *http.Request) {
	passenger, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	var req service.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	m, err := s.svc.Members.RequestJoin(r.Context(), id, passenger, req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// listPassengers handles GET /sessions/{sessionID}/passengers.
func (s *Server) listPassengers(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	members, err := s.svc.Members.List(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// leave handles DELETE /sessions/{sessionID}/passengers/me.
func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	passenger, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	if err := s.svc.Members.Leave(r.Context(), id, passenger); err != nil {
		s.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	s.driverDecision(w, r, s.svc.Members.Approve)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.driverDecision(w, r, s.svc.Members.Reject)
}

type decisionFunc func(ctx context.Context, sessionID int64, passengerID, driverID uuid.UUID) (domain.PassengerTripSession, error)

// driverDecision handles POST /sessions/{sessionID}/passengers/{passengerID}/approve and /reject.
func (s *Server) driverDecision(w http.ResponseWriter, r *http.Request, decide decisionFunc) {
	driver, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	passenger, err := pathUUID(r, "passengerID")
	if err != nil {
		requestError(w, err)
		return
	}
	m, err := decide(r.Context(), id, passenger, driver)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// meetingPoints handles GET /sessions/{sessionID}/meeting-points.
func (s *Server) meetingPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	points, err := s.svc.Members.MeetingPoints(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

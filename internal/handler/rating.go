package handler

import (
	"net/http"

	"github.com/pkordes/carpool/backend/internal/service"
)

type deviceRequest struct {
	Token string `json:"token"`
}

// submitRating handles POST /sessions/{sessionID}/ratings.
func (s *Server) submitRating(w http.ResponseWriter, r *http.Request) {
	rater, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathInt64(r, "sessionID")
	if err != nil {
		requestError(w, err)
		return
	}
	var req service.RatingRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	rating, err := s.svc.Ratings.Submit(r.Context(), id, rater, req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

// ratingSummary handles GET /users/{userID}/rating.
func (s *Server) ratingSummary(w http.ResponseWriter, r *http.Request) {
	user, err := pathUUID(r, "userID")
	if err != nil {
		requestError(w, err)
		return
	}
	sum, err := s.svc.Ratings.Summary(r.Context(), user)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// registerDevice handles PUT /devices.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	d, err := s.svc.Devices.Register(r.Context(), user, req.Token)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

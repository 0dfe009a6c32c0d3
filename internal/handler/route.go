package handler

import "net/http"

type meetingPointCheckRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// getRoute handles GET /routes/{routeID}.
func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "routeID")
	if err != nil {
		requestError(w, err)
		return
	}
	route, err := s.svc.Routes.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// checkMeetingPoint handles POST /routes/{routeID}/meeting-point-check.
// An invalid point is still a 200: the body tells the UI how far off it is.
func (s *Server) checkMeetingPoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "routeID")
	if err != nil {
		requestError(w, err)
		return
	}
	var req meetingPointCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err)
		return
	}
	check, err := s.svc.Routes.CheckMeetingPoint(r.Context(), id, req.Latitude, req.Longitude)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

package handler

import (
	"context"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

// health handles GET /healthz.
// It returns HTTP 200 with {"status":"ok"} when the server and its backing
// stores are reachable, and 503 otherwise.
func (s *Server) health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				s.log.WarnContext(r.Context(), "health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

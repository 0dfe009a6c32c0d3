package service

import (
	"context"
	"fmt"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/geofence"
	"github.com/pkordes/carpool/backend/internal/repo"
)

// MeetingPointCheck is the UI feedback for a candidate pickup point.
type MeetingPointCheck struct {
	Valid     bool    `json:"valid"`
	Evaluated bool    `json:"evaluated"`
	Distance  float64 `json:"distance_meters"`
	Overage   float64 `json:"overage_meters"`
}

// RouteService serves route templates.
type RouteService struct {
	routes    repo.RouteRepo
	validator geofence.Validator
}

// NewRouteService constructs a RouteService that checks meeting points with validator.
func NewRouteService(routes repo.RouteRepo, validator geofence.Validator) *RouteService {
	return &RouteService{routes: routes, validator: validator}
}

func (s *RouteService) Get(ctx context.Context, id int64) (domain.Route, error) {
	route, err := s.routes.GetByID(ctx, id)
	if err != nil {
		return domain.Route{}, fmt.Errorf("service.RouteService.Get: %w", err)
	}
	return route, nil
}

// CheckMeetingPoint measures a point against the route line without joining.
func (s *RouteService) CheckMeetingPoint(ctx context.Context, routeID int64, lat, lon float64) (MeetingPointCheck, error) {
	if err := validateCoordinate(lat, lon); err != nil {
		return MeetingPointCheck{}, err
	}
	route, err := s.Get(ctx, routeID)
	if err != nil {
		return MeetingPointCheck{}, err
	}
	r := s.validator.Check(geofence.Point{Lat: lat, Lon: lon}, geofence.RouteLine(route))
	return MeetingPointCheck{Valid: r.Valid, Evaluated: r.Evaluated, Distance: r.Distance, Overage: r.Overage}, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
)

// DeviceService registers push tokens, one per user.
type DeviceService struct {
	devices repo.DeviceRepo
}

// NewDeviceService constructs a DeviceService backed by the provided repo.
func NewDeviceService(devices repo.DeviceRepo) *DeviceService {
	return &DeviceService{devices: devices}
}

// Register stores token as the user's device, replacing any previous one.
func (s *DeviceService) Register(ctx context.Context, userID uuid.UUID, token string) (domain.DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.DeviceToken{}, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	d, err := s.devices.Upsert(ctx, domain.DeviceToken{UserID: userID, Token: token})
	if err != nil {
		return domain.DeviceToken{}, fmt.Errorf("service.DeviceService.Register: %w", err)
	}
	return d, nil
}

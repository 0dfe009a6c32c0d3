package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// DeviceRepo stores the push token registered by each user's device.
type DeviceRepo interface {
	// Upsert registers token for the user, replacing any previous token.
	Upsert(ctx context.Context, d domain.DeviceToken) (domain.DeviceToken, error)

	// GetByUser returns the user's token or domain.ErrNotFound.
	GetByUser(ctx context.Context, userID uuid.UUID) (domain.DeviceToken, error)
}

type pgDeviceRepo struct {
	db db
}

// NewDeviceRepo constructs a DeviceRepo backed by the provided db connection.
func NewDeviceRepo(db db) DeviceRepo {
	return &pgDeviceRepo{db: db}
}

func (r *pgDeviceRepo) Upsert(ctx context.Context, d domain.DeviceToken) (domain.DeviceToken, error) {
	const q = `
		INSERT INTO device_tokens (user_id, token)
		VALUES (@user_id, @token)
		ON CONFLICT (user_id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()
		RETURNING user_id, token, updated_at`

	result, err := scanDevice(r.db.QueryRow(ctx, q, pgx.NamedArgs{"user_id": d.UserID, "token": d.Token}))
	if err != nil {
		return domain.DeviceToken{}, wrap("repo.DeviceRepo.Upsert", err)
	}
	return result, nil
}

func (r *pgDeviceRepo) GetByUser(ctx context.Context, userID uuid.UUID) (domain.DeviceToken, error) {
	const q = `SELECT user_id, token, updated_at FROM device_tokens WHERE user_id = @user_id`

	result, err := scanDevice(r.db.QueryRow(ctx, q, pgx.NamedArgs{"user_id": userID}))
	if err != nil {
		return domain.DeviceToken{}, wrap("repo.DeviceRepo.GetByUser", err)
	}
	return result, nil
}

func scanDevice(s scanner) (domain.DeviceToken, error) {
	var (
		d    domain.DeviceToken
		user pgtype.UUID
	)
	if err := s.Scan(&user, &d.Token, &d.UpdatedAt); err != nil {
		return domain.DeviceToken{}, err
	}
	d.UserID = uuidFrom(user)
	return d, nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
	"github.com/pkordes/carpool/backend/internal/realtime"
)

// DedupeTTL bounds how long a membership stays claimed by one instance.
const DedupeTTL = 10 * time.Minute

type SessionReader interface {
	GetByID(ctx context.Context, id int64) (domain.TripSession, error)
}

type DeviceReader interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (domain.DeviceToken, error)
}

// Hook reacts to passenger_trip_sessions inserts. It publishes a
// notifications event for the driver's sockets and pushes to the driver's
// registered device.
type Hook struct {
	sessions SessionReader
	devices  DeviceReader
	pusher   Pusher
	broker   realtime.Broker
	dedupe   Deduper
	log      *slog.Logger
}

// NewHook constructs a Hook. A nil log selects slog.Default.
func NewHook(sessions SessionReader, devices DeviceReader, pusher Pusher, broker realtime.Broker, dedupe Deduper, log *slog.Logger) *Hook {
	if log == nil {
		log = slog.Default()
	}
	return &Hook{sessions: sessions, devices: devices, pusher: pusher, broker: broker, dedupe: dedupe, log: log}
}

// Topic is the broker topic the hook consumes.
func (h *Hook) Topic() realtime.Topic {
	return realtime.Topic{Table: domain.TablePassengerSessions, Type: domain.EventInsert}
}

// Apply implements realtime.Handler.
func (h *Hook) Apply(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.Table != domain.TablePassengerSessions || ev.Type != domain.EventInsert {
		return nil
	}
	rec, err := ev.Decode()
	if err != nil {
		return fmt.Errorf("notify.Hook.Apply: %w", err)
	}
	m := rec.Membership

	s, err := h.sessions.GetByID(ctx, m.TripSessionID)
	if err != nil {
		return fmt.Errorf("notify.Hook.Apply: session %d: %w", m.TripSessionID, err)
	}
	payload := domain.PushPayload{
		Type:          domain.PushTypeNewPassenger,
		TripSessionID: m.TripSessionID,
		PassengerID:   m.PassengerID,
		RecipientID:   s.DriverID,
	}

	// Separate claims: the socket event goes out once, while a failed push
	// drops its claim so a later delivery retries it.
	id := strconv.FormatInt(m.ID, 10)
	first, err := h.dedupe.First(ctx, "membership:"+id)
	if err != nil {
		return fmt.Errorf("notify.Hook.Apply: %w", err)
	}
	if first {
		if err := h.publish(ctx, payload, ev.CommitTime); err != nil {
			h.log.Warn("notify: publish notification event", "session_id", payload.TripSessionID, "error", err)
		}
	}
	return h.push(ctx, "push:"+id, payload)
}

// push sends payload to the recipient's device under its own claim, which
// is dropped again on failure.
func (h *Hook) push(ctx context.Context, key string, payload domain.PushPayload) error {
	first, err := h.dedupe.First(ctx, key)
	if err != nil {
		return fmt.Errorf("notify.Hook.Apply: %w", err)
	}
	if !first {
		return nil
	}

	device, err := h.devices.GetByUser(ctx, payload.RecipientID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.PushesSent.WithLabelValues("no_device").Inc()
		return nil
	}
	if err != nil {
		h.release(ctx, key)
		return fmt.Errorf("notify.Hook.Apply: device of %s: %w", payload.RecipientID, err)
	}
	if err := h.pusher.Push(ctx, device.Token, payload); err != nil {
		h.release(ctx, key)
		observability.PushesSent.WithLabelValues("error").Inc()
		return fmt.Errorf("notify.Hook.Apply: %w", err)
	}
	observability.PushesSent.WithLabelValues("sent").Inc()
	return nil
}

func (h *Hook) release(ctx context.Context, key string) {
	if err := h.dedupe.Release(ctx, key); err != nil {
		h.log.Warn("notify: release dedupe claim", "key", key, "error", err)
	}
}

func (h *Hook) publish(ctx context.Context, p domain.PushPayload, at time.Time) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, domain.ChangeEvent{
		Type:       domain.EventInsert,
		Schema:     "public",
		Table:      domain.TableNotifications,
		New:        raw,
		CommitTime: at,
	})
}

// RecipientTopic selects the notifications addressed to userID.
func RecipientTopic(userID uuid.UUID) realtime.Topic {
	return realtime.FilterTopic(domain.TableNotifications, "recipient_id", userID.String())
}

// Package notify delivers the NEW_PASSENGER notification to a driver when a
// passenger asks to join one of their sessions.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// Pusher sends a payload to one device token.
type Pusher interface {
	Push(ctx context.Context, token string, p domain.PushPayload) error
}

// FCMPusher posts FCM HTTP v1 messages. Key is sent as a bearer token.
type FCMPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

// NewFCMPusher constructs an FCMPusher posting to endpoint with key as its
// bearer credential.
func NewFCMPusher(endpoint, key string) *FCMPusher {
	return &FCMPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type fcmMessage struct {
	Message fcmBody `json:"message"`
}

type fcmBody struct {
	Token        string            `json:"token"`
	Data         map[string]string `json:"data"`
	Notification *fcmNotification  `json:"notification,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (f *FCMPusher) Push(ctx context.Context, token string, p domain.PushPayload) error {
	body, err := json.Marshal(fcmMessage{Message: fcmBody{
		Token:        token,
		Data:         p.Data(),
		Notification: &fcmNotification{Title: "New passenger", Body: "A passenger asked to join your trip"},
	}})
	if err != nil {
		return fmt.Errorf("notify.FCMPusher.Push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify.FCMPusher.Push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify.FCMPusher.Push: %w: %w", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify.FCMPusher.Push: %w: fcm status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	}
	return nil
}

// LogPusher only logs. It stands in when no push endpoint is configured.
type LogPusher struct {
	Log *slog.Logger
}

func (l LogPusher) Push(_ context.Context, _ string, p domain.PushPayload) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify: push disabled, dropping", "type", p.Type, "session_id", p.TripSessionID, "recipient_id", p.RecipientID)
	return nil
}

// ShouldDeliver is the receiving side's self-notification rule: a device
// never acts on a NEW_PASSENGER payload its own user triggered.
func ShouldDeliver(p domain.PushPayload, currentUser uuid.UUID) bool {
	return p.PassengerID != currentUser
}

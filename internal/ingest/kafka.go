// Package ingest mirrors accepted driver positions onto a Kafka topic for
// downstream consumers (analytics, ETA, replay).
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/tracking"
)

// DefaultTopic carries one message per accepted position, keyed by session.
const DefaultTopic = "driver-locations"

const publishTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that hashes the message key so every
// position of a session lands on the same partition, in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaPublisher decorates a LocationWriter: after the row is written the
// position is published. Publishing is best effort; a Kafka failure never
// fails the row write.
type KafkaPublisher struct {
	next tracking.LocationWriter
	w    MessageWriter
	log  *slog.Logger
}

var _ tracking.LocationWriter = (*KafkaPublisher)(nil)

func NewKafkaPublisher(next tracking.LocationWriter, w MessageWriter, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{next: next, w: w, log: log}
}

// PositionMessage is the JSON value of a position message. Stopped marks
// the tombstone written when tracking ends.
type PositionMessage struct {
	TripSessionID int64     `json:"trip_session_id"`
	DriverID      string    `json:"driver_id,omitempty"`
	Latitude      float64   `json:"latitude,omitempty"`
	Longitude     float64   `json:"longitude,omitempty"`
	RecordedAt    time.Time `json:"recorded_at,omitzero"`
	Stopped       bool      `json:"stopped,omitempty"`
}

func (p *KafkaPublisher) Upsert(ctx context.Context, loc domain.DriverLocation) (domain.DriverLocation, error) {
	out, err := p.next.Upsert(ctx, loc)
	if err != nil {
		return out, err
	}
	p.publish(ctx, PositionMessage{
		TripSessionID: out.TripSessionID,
		DriverID:      out.DriverID.String(),
		Latitude:      out.Latitude,
		Longitude:     out.Longitude,
		RecordedAt:    out.RecordedAt,
	})
	return out, nil
}

func (p *KafkaPublisher) Delete(ctx context.Context, sessionID int64) error {
	if err := p.next.Delete(ctx, sessionID); err != nil {
		return err
	}
	p.publish(ctx, PositionMessage{TripSessionID: sessionID, Stopped: true})
	return nil
}

func (p *KafkaPublisher) publish(ctx context.Context, m PositionMessage) {
	value, err := json.Marshal(m)
	if err != nil {
		p.log.Warn("ingest: encode position", "session_id", m.TripSessionID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(strconv.FormatInt(m.TripSessionID, 10)), Value: value}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("ingest: publish position", "session_id", m.TripSessionID, "error", err)
	}
}

// Close closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

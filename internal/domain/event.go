package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names carried by change events.
const (
	TableTripSessions      = "trip_sessions"
	TablePassengerSessions = "passenger_trip_sessions"
	TableDriverLocations   = "driver_locations"
	TableSessionStops      = "trip_session_stops"
	TableNotifications     = "notifications"
)

// EventType is the kind of row change an event describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// ChangeEvent is one row-level change from the realtime feed.
// Old is set for UPDATE and DELETE; New is set for INSERT and UPDATE.
type ChangeEvent struct {
	Type       EventType       `json:"type"`
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	Old        json.RawMessage `json:"old,omitempty"`
	New        json.RawMessage `json:"new,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
}

// Row returns the payload that identifies the affected row: New when present,
// otherwise Old.
func (e ChangeEvent) Row() json.RawMessage {
	if len(e.New) > 0 {
		return e.New
	}
	return e.Old
}

// Record is the decoded, tagged form of a ChangeEvent row. Exactly one of the
// pointer fields is set and Table says which one.
type Record struct {
	Table        string
	Session      *TripSession
	Membership   *PassengerTripSession
	Location     *DriverLocation
	Stop         *TripSessionStop
	Notification *PushPayload
}

// Decode unmarshals the event's row into the entity type named by Table.
func (e ChangeEvent) Decode() (Record, error) {
	rec := Record{Table: e.Table}
	raw := e.Row()
	if len(raw) == 0 {
		return rec, fmt.Errorf("%w: event for %s carries no row", ErrValidation, e.Table)
	}
	var err error
	switch e.Table {
	case TableTripSessions:
		rec.Session = new(TripSession)
		err = json.Unmarshal(raw, rec.Session)
	case TablePassengerSessions:
		rec.Membership = new(PassengerTripSession)
		err = json.Unmarshal(raw, rec.Membership)
	case TableDriverLocations:
		rec.Location = new(DriverLocation)
		err = json.Unmarshal(raw, rec.Location)
	case TableSessionStops:
		rec.Stop = new(TripSessionStop)
		err = json.Unmarshal(raw, rec.Stop)
	case TableNotifications:
		rec.Notification = new(PushPayload)
		err = json.Unmarshal(raw, rec.Notification)
	default:
		return rec, fmt.Errorf("%w: unknown table %q", ErrValidation, e.Table)
	}
	if err != nil {
		return rec, fmt.Errorf("decode %s row: %w", e.Table, err)
	}
	return rec, nil
}

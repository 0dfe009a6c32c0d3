// Package realtime carries row-level change events from Postgres to
// in-process consumers.
//
// Events enter through PGListener, are routed by a Broker to Subscriptions
// scoped by Topic, and are applied to views by a Reconciler. Delivery is at
// most once with no ordering beyond a single subscription's channel, so
// consumers treat every event as an idempotent last-write-wins update.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// Topic selects events for one table, optionally narrowed to rows where
// Column equals Value. Type narrows by change kind; empty or "*" means all.
type Topic struct {
	Table  string
	Type   domain.EventType
	Column string
	Value  string
}

// TableTopic is a Topic covering every change to table.
func TableTopic(table string) Topic {
	return Topic{Table: table}
}

// FilterTopic is a Topic covering changes to rows of table whose column
// equals value.
func FilterTopic(table, column string, value any) Topic {
	return Topic{Table: table, Column: column, Value: fmt.Sprint(value)}
}

// SessionTopic is the filter used for everything keyed by trip session:
// the session row itself is matched on id, children on trip_session_id.
func SessionTopic(table string, sessionID int64) Topic {
	if table == domain.TableTripSessions {
		return FilterTopic(table, "id", sessionID)
	}
	return FilterTopic(table, "trip_session_id", sessionID)
}

func (t Topic) String() string {
	s := t.Table
	if t.Type != "" && t.Type != domain.EventAll {
		s += ":" + string(t.Type)
	}
	if t.Column != "" {
		s += "?" + t.Column + "=" + t.Value
	}
	return s
}

// Matches reports whether ev belongs to the topic. Filters are evaluated
// against the row payload; for a DELETE that is the old row.
func (t Topic) Matches(ev domain.ChangeEvent) bool {
	if ev.Table != t.Table {
		return false
	}
	if t.Type != "" && t.Type != domain.EventAll && t.Type != ev.Type {
		return false
	}
	if t.Column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(ev.Row(), &row); err != nil {
		return false
	}
	v, ok := row[t.Column]
	if !ok || v == nil {
		return false
	}
	// JSON numbers decode as float64; format integers without an exponent.
	if f, isNum := v.(float64); isNum && f == float64(int64(f)) {
		return fmt.Sprint(int64(f)) == t.Value
	}
	return fmt.Sprint(v) == t.Value
}

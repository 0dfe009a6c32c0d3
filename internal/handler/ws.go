package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/notify"
	"github.com/pkordes/carpool/backend/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Frame kinds sent over the session socket.
const (
	frameChange       = "change"
	frameNotification = "notification"
)

// wsFrame is one message pushed to a client.
type wsFrame struct {
	Kind         string              `json:"kind"`
	Event        *domain.ChangeEvent `json:"event,omitempty"`
	Notification *domain.PushPayload `json:"notification,omitempty"`
}

// socketViews dedupes the change stream of one connection: replays and
// out-of-order events that would not change the client's state are dropped.
type socketViews struct {
	sessions *realtime.SessionView
	members  *realtime.MembershipView
	location *realtime.LocationView
}

func newSocketViews(session domain.TripSession) *socketViews {
	v := &socketViews{
		sessions: realtime.NewSessionView(),
		members:  realtime.NewMembershipView(),
		location: realtime.NewLocationView(),
	}
	v.sessions.Set(session)
	return v
}

// accept reports whether ev changes what the client has seen so far.
func (v *socketViews) accept(ev domain.ChangeEvent) (bool, error) {
	switch ev.Table {
	case domain.TableTripSessions:
		return v.sessions.Accept(ev)
	case domain.TablePassengerSessions:
		return v.members.Accept(ev)
	case domain.TableDriverLocations:
		return v.location.Accept(ev)
	}
	return true, nil
}

// sessionTables are streamed to every participant of a session.
var sessionTables = []string{
	domain.TableTripSessions,
	domain.TablePassengerSessions,
	domain.TableDriverLocations,
	domain.TableSessionStops,
}

// sessionSocket handles GET /ws/sessions/{sessionID}. It streams the
// session's change events and the caller's NEW_PASSENGER notifications for
// it until either side hangs up. All subscriptions are closed on return.
func (s *Server) sessionSocket(upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := caller(w, r)
		if !ok {
			return
		}
		id, err := pathInt64(r, "sessionID")
		if err != nil {
			requestError(w, err)
			return
		}
		session, err := s.svc.Sessions.Get(r.Context(), id)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		subs, err := s.subscribeSession(ctx, id, user)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		defer func() {
			for _, sub := range subs {
				sub.Close()
			}
		}()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already answered the client.
			s.log.WarnContext(r.Context(), "websocket upgrade failed", "session_id", id, "error", err)
			return
		}
		defer conn.Close()

		go func() {
			// Clients only send control frames; a read error means they left.
			defer cancel()
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		frames := s.fanIn(ctx, subs, newSocketViews(session), id, user)
		s.writeFrames(ctx, conn, frames, id)
	}
}

func (s *Server) subscribeSession(ctx context.Context, sessionID int64, user uuid.UUID) ([]realtime.Subscription, error) {
	topics := make([]realtime.Topic, 0, len(sessionTables)+1)
	for _, table := range sessionTables {
		topics = append(topics, realtime.SessionTopic(table, sessionID))
	}
	topics = append(topics, notify.RecipientTopic(user))

	subs := make([]realtime.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := s.broker.Subscribe(ctx, topic)
		if err != nil {
			for _, open := range subs {
				open.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// fanIn merges the subscriptions into one frame stream, dropping events the
// client has already seen and notifications it must not act on.
func (s *Server) fanIn(ctx context.Context, subs []realtime.Subscription, views *socketViews, sessionID int64, user uuid.UUID) <-chan wsFrame {
	out := make(chan wsFrame)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.Events() {
				frame, ok := s.frameFor(ev, views, sessionID, user)
				if !ok {
					continue
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (s *Server) frameFor(ev domain.ChangeEvent, views *socketViews, sessionID int64, user uuid.UUID) (wsFrame, bool) {
	if ev.Table == domain.TableNotifications {
		rec, err := ev.Decode()
		if err != nil {
			s.log.Warn("websocket: undecodable notification", "error", err)
			return wsFrame{}, false
		}
		p := rec.Notification
		if p.TripSessionID != sessionID || !notify.ShouldDeliver(*p, user) {
			return wsFrame{}, false
		}
		return wsFrame{Kind: frameNotification, Notification: p}, true
	}

	changed, err := views.accept(ev)
	if err != nil {
		s.log.Warn("websocket: undecodable event", "table", ev.Table, "session_id", sessionID, "error", err)
		return wsFrame{}, false
	}
	if !changed {
		return wsFrame{}, false
	}
	return wsFrame{Kind: frameChange, Event: &ev}, true
}

func (s *Server) writeFrames(ctx context.Context, conn *websocket.Conn, frames <-chan wsFrame, sessionID int64) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				s.log.Debug("websocket write failed", "session_id", sessionID, "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

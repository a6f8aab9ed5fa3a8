package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-session/internal/location"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/models"
)

// Drop reasons reported in Outcome.Dropped.
const (
	DropSelfEcho  = "self_echo"
	DropStaleRoom = "stale_room"
)

// RoomClosed asks the owner to navigate out of the room. DriverLeft is set
// when the driver closed the room for everyone.
type RoomClosed struct {
	Room       string
	Reason     string
	Actor      string
	DriverLeft bool
}

// Outcome is what applying one event changed.
type Outcome struct {
	Appended   *models.ChatMessage
	Synced     []models.ChatMessage
	Presence   bool
	Coordinate bool
	RoomClosed *RoomClosed
	Err        string
	Dropped    string
}

// Router applies validated inbound events to the room's log, presence and
// driver coordinate.
type Router struct {
	self     models.Identity
	logs     LogStore
	presence *PresenceTracker
	relay    *location.Relay
	logger   *slog.Logger
	now      func() time.Time
}

func NewRouter(self models.Identity, logs LogStore, presence *PresenceTracker, relay *location.Relay, logger *slog.Logger) *Router {
	return &Router{
		self:     self,
		logs:     logs,
		presence: presence,
		relay:    relay,
		logger:   logging.OrDefault(logger),
		now:      time.Now,
	}
}

// Handle applies ev, received on the connection for room.
func (r *Router) Handle(ctx context.Context, room string, ev Event) Outcome {
	if rs, ok := ev.(roomScoped); ok && rs.EventRoom() != room {
		r.logger.Debug("dropping event for superseded room", "event", ev.Name(), "room", rs.EventRoom(), "active_room", room)
		return Outcome{Dropped: DropStaleRoom}
	}

	switch e := ev.(type) {
	case MessageEvent:
		return r.onMessage(ctx, room, e)
	case MessageLogEvent:
		// A missing log is an empty room, not "no snapshot".
		logs := e.Logs
		if logs == nil {
			logs = []models.ChatMessage{}
		}
		if err := r.logs.Replace(ctx, room, logs); err != nil {
			r.logger.Warn("chat log sync failed", "room", room, "error", err)
		}
		return Outcome{Synced: logs}
	case UserListEvent:
		r.presence.Replace(room, e.Users)
		return Outcome{Presence: true}
	case LeaveRoomEvent:
		if e.UserName != "" && e.UserName == r.self.Name {
			return Outcome{RoomClosed: &RoomClosed{Room: room, Reason: e.Message, Actor: e.UserName}}
		}
		notice := r.systemNotice(e.Message)
		r.appendLog(ctx, room, notice)
		return Outcome{Appended: &notice}
	case DriverLeftEvent:
		// Only the driver leaving closes the room for every party.
		return Outcome{RoomClosed: &RoomClosed{Room: room, Reason: e.Message, DriverLeft: true}}
	case ErrorEvent:
		r.logger.Warn("chat server error", "room", room, "message", e.Message)
		return Outcome{Err: e.Message}
	}
	return Outcome{}
}

func (r *Router) onMessage(ctx context.Context, room string, e MessageEvent) Outcome {
	// Our own messages were echoed locally at send time.
	if e.UserName == r.self.Name {
		return Outcome{Dropped: DropSelfEcho}
	}
	role := e.Role
	if role == "" {
		role, _ = r.presence.RoleOf(e.UserName)
	}
	sentAt := e.SentAt
	if sentAt.IsZero() {
		sentAt = r.now()
	}
	msg := models.ChatMessage{
		ID:     newMessageID(),
		Sender: e.UserName,
		Role:   role,
		Body:   e.Message,
		Coord:  e.Coordinate,
		SentAt: sentAt,
	}
	var out Outcome
	if r.relay != nil {
		out.Coordinate = r.relay.Observe(e.Coordinate)
	}
	if r.appendLog(ctx, room, msg) {
		out.Appended = &msg
	}
	return out
}

func (r *Router) appendLog(ctx context.Context, room string, msg models.ChatMessage) bool {
	added, err := r.logs.Append(ctx, room, msg)
	if err != nil {
		// The live view still shows the message.
		r.logger.Warn("chat log append failed", "room", room, "error", err)
		return true
	}
	return added
}

func (r *Router) systemNotice(text string) models.ChatMessage {
	return models.ChatMessage{ID: newMessageID(), Sender: models.SystemSender, Body: text, SentAt: r.now()}
}

// newMessageID returns a time-ordered id.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

package devserver

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-session/internal/chat"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
	maxRoomLog     = 500
)

// Authorizer decides whether id may join the room of a ride request.
type Authorizer func(id models.Identity, rideRequestID int64) bool

type hubClient struct {
	conn *websocket.Conn
	self models.Identity
	send chan []byte
	done chan struct{}
	once sync.Once

	// room is guarded by Hub.mu.
	room string
}

func (c *hubClient) close() { c.once.Do(func() { close(c.done) }) }

type hubRoom struct {
	members map[*hubClient]struct{}
	log     []models.ChatMessage
	closed  bool
}

// Hub serves the /chatroom namespace: one room per ride request, a bounded
// message log per room and membership broadcasts.
type Hub struct {
	mu        sync.Mutex
	rooms     map[string]*hubRoom
	clients   map[*hubClient]struct{}
	authorize Authorizer
	logger    *slog.Logger
	now       func() time.Time
}

func NewHub(authorize Authorizer, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]*hubRoom),
		clients:   make(map[*hubClient]struct{}),
		authorize: authorize,
		logger:    logging.OrDefault(logger).With("component", "hub"),
		now:       time.Now,
	}
}

// Serve runs the pumps for an upgraded connection and returns once the
// peer is gone.
func (h *Hub) Serve(conn *websocket.Conn, self models.Identity) {
	c := &hubClient{
		conn: conn,
		self: self,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("client connected", "user", self.Name, "role", self.Role)

	go h.writePump(c)
	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.removeLocked(c)
	h.mu.Unlock()
	c.close()
	h.logger.Info("client disconnected", "user", self.Name)
}

func (h *Hub) readPump(c *hubClient) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "user", c.self.Name, "error", err)
			}
			return
		}
		h.handle(c, raw)
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) handle(c *hubClient, raw []byte) {
	var f chat.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.replyError(c, "invalid frame")
		return
	}
	switch f.Event {
	case chat.EventSend:
		var p chat.SendPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.Message == "" {
			h.replyError(c, "invalid send payload")
			return
		}
		h.onSend(c, p)
	case chat.EventLeave, chat.EventGetUserList, chat.EventGetMessageLog:
		var p chat.RoomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			h.replyError(c, "invalid room payload")
			return
		}
		switch f.Event {
		case chat.EventLeave:
			h.onLeave(c, p.Room)
		case chat.EventGetUserList:
			h.onUserList(c, p.Room)
		default:
			h.onMessageLog(c, p.Room)
		}
	default:
		h.replyError(c, "unknown event "+f.Event)
	}
}

// joinLocked puts c into room, leaving any previous room, and reports
// whether c is a member afterwards.
func (h *Hub) joinLocked(c *hubClient, room string) bool {
	if c.room == room {
		return true
	}
	id, err := chat.ParseRoomID(room)
	if err != nil || (h.authorize != nil && !h.authorize(c.self, id)) {
		return false
	}
	h.removeLocked(c)
	r, ok := h.rooms[room]
	if !ok {
		r = &hubRoom{members: make(map[*hubClient]struct{})}
		h.rooms[room] = r
		observability.HubRooms.Set(float64(len(h.rooms)))
	}
	r.members[c] = struct{}{}
	c.room = room
	h.broadcastLocked(r, chat.EventUserList, chat.UserListEvent{Room: room, Users: r.users()})
	return true
}

// removeLocked drops c from its room and tells the rest who is left.
func (h *Hub) removeLocked(c *hubClient) {
	if c.room == "" {
		return
	}
	room := c.room
	c.room = ""
	r, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(r.members, c)
	if len(r.members) == 0 && r.closed {
		delete(h.rooms, room)
		observability.HubRooms.Set(float64(len(h.rooms)))
		return
	}
	h.broadcastLocked(r, chat.EventUserList, chat.UserListEvent{Room: room, Users: r.users()})
}

func (h *Hub) onSend(c *hubClient, p chat.SendPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.joinLocked(c, p.Room) {
		h.replyErrorLocked(c, "not allowed in room "+p.Room)
		return
	}
	r := h.rooms[p.Room]
	now := h.now()
	r.log = append(r.log, models.ChatMessage{
		ID:     uuid.NewString(),
		Sender: c.self.Name,
		Role:   c.self.Role,
		Body:   p.Message,
		Coord:  p.Coordinate,
		SentAt: now,
	})
	if len(r.log) > maxRoomLog {
		r.log = r.log[len(r.log)-maxRoomLog:]
	}
	h.broadcastLocked(r, chat.EventMessage, chat.MessageEvent{
		UserName:   c.self.Name,
		Role:       c.self.Role,
		Message:    p.Message,
		Coordinate: p.Coordinate,
		SentAt:     now,
	})
}

// onLeave removes c from the room. A driver leaving ends the ride for
// everyone; a passenger leaving only notifies the others.
func (h *Hub) onLeave(c *hubClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room != room {
		return
	}
	r := h.rooms[room]
	delete(r.members, c)
	c.room = ""
	if c.self.Role == models.RoleDriver {
		r.closed = true
		h.broadcastLocked(r, chat.EventDriverLeft, chat.DriverLeftEvent{Message: c.self.Name + " ended the ride"})
	} else {
		h.broadcastLocked(r, chat.EventLeaveRoom, chat.LeaveRoomEvent{
			Room:     room,
			Message:  c.self.Name + " left the chat room",
			UserName: c.self.Name,
		})
	}
	if len(r.members) == 0 && r.closed {
		delete(h.rooms, room)
		observability.HubRooms.Set(float64(len(h.rooms)))
		return
	}
	h.broadcastLocked(r, chat.EventUserList, chat.UserListEvent{Room: room, Users: r.users()})
}

func (h *Hub) onUserList(c *hubClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.joinLocked(c, room) {
		h.replyErrorLocked(c, "not allowed in room "+room)
		return
	}
	h.enqueueLocked(c, chat.EventUserList, chat.UserListEvent{Room: room, Users: h.rooms[room].users()})
}

func (h *Hub) onMessageLog(c *hubClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.joinLocked(c, room) {
		h.replyErrorLocked(c, "not allowed in room "+room)
		return
	}
	r := h.rooms[room]
	logs := make([]models.ChatMessage, len(r.log))
	copy(logs, r.log)
	h.enqueueLocked(c, chat.EventMessageLog, chat.MessageLogEvent{Room: room, Logs: logs})
}

func (h *Hub) replyError(c *hubClient, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replyErrorLocked(c, msg)
}

func (h *Hub) replyErrorLocked(c *hubClient, msg string) {
	h.enqueueLocked(c, chat.EventError, chat.ErrorEvent{Message: msg})
}

func (h *Hub) broadcastLocked(r *hubRoom, event string, payload any) {
	for m := range r.members {
		h.enqueueLocked(m, event, payload)
	}
}

// enqueueLocked never blocks: a client that cannot keep up is dropped.
func (h *Hub) enqueueLocked(c *hubClient, event string, payload any) {
	frame, err := chat.EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("send buffer full, dropping client", "user", c.self.Name)
		c.close()
	}
}

// Rooms returns the number of open rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (r *hubRoom) users() []models.Participant {
	out := make([]models.Participant, 0, len(r.members))
	for m := range r.members {
		out = append(out, models.Participant{Name: m.self.Name, Role: m.self.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

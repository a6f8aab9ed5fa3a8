package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-session/internal/location"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
)

// TokenSource yields the bearer credential attached when connecting.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configures a Manager. URL is the full namespace URL, e.g.
// ws://host/chatroom.
type Options struct {
	URL        string
	Dialer     Dialer
	Tokens     TokenSource
	Self       models.Identity
	Logs       LogStore
	Relay      *location.Relay
	SendBuffer int
	Logger     *slog.Logger

	// OnRoomClosed runs on the read goroutine, after the manager's lock is
	// released, when the server closes the room for us.
	OnRoomClosed func(RoomClosed)
}

// State is the manager's observable connection state.
type State struct {
	Room      string
	Connected bool
	Err       string
}

// Manager owns at most one live connection, to the room of the current
// ride request. Inbound events are applied one at a time under the
// manager's lock; events from a superseded connection are dropped.
type Manager struct {
	url          string
	dialer       Dialer
	tokens       TokenSource
	self         models.Identity
	logs         LogStore
	relay        *location.Relay
	presence     *PresenceTracker
	router       *Router
	sendBuffer   int
	logger       *slog.Logger
	onRoomClosed func(RoomClosed)

	mu        sync.Mutex
	sess      *roomSession
	connected bool
	lastErr   string
	live      []models.ChatMessage
}

type roomSession struct {
	room       string
	conn       Conn
	send       chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Logs == nil {
		opts.Logs = NewMemoryLogStore()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	logger := logging.OrDefault(opts.Logger).With("component", "chat", "user", opts.Self.Name)
	presence := NewPresenceTracker()
	return &Manager{
		url:          opts.URL,
		dialer:       opts.Dialer,
		tokens:       opts.Tokens,
		self:         opts.Self,
		logs:         opts.Logs,
		relay:        opts.Relay,
		presence:     presence,
		router:       NewRouter(opts.Self, opts.Logs, presence, opts.Relay, logger),
		sendBuffer:   opts.SendBuffer,
		logger:       logger,
		onRoomClosed: opts.OnRoomClosed,
	}
}

// Connect opens the connection for ride_request_<rideRequestID>. An
// existing connection to another room is torn down first; connecting to
// the room that is already live is a no-op. Without a credential it fails
// fast and records the error.
func (m *Manager) Connect(ctx context.Context, rideRequestID int64) error {
	room := FormatRoomID(rideRequestID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		if m.sess.room == room && m.connected {
			return nil
		}
		m.teardownLocked()
	}

	token, err := m.token(ctx)
	if err != nil {
		observability.ChatConnects.WithLabelValues("no_credential").Inc()
		return m.failLocked("connect", err)
	}
	header := http.Header{}
	header.Set("Authorization", bearer(token))

	conn, err := m.dialer.Dial(ctx, m.url, header)
	if err != nil {
		observability.ChatConnects.WithLabelValues("dial_error").Inc()
		return m.failLocked("dial", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &roomSession{
		room:       room,
		conn:       conn,
		send:       make(chan []byte, m.sendBuffer),
		ctx:        sctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	m.sess = s
	m.connected = true
	m.lastErr = ""

	// Re-entering a room shows what was logged before.
	prior, err := m.logs.Get(ctx, room)
	if err != nil {
		m.logger.Warn("load prior chat log failed", "room", room, "error", err)
	}
	m.live = newestFirst(prior)

	go m.readPump(s)
	go m.writePump(s)

	_ = m.enqueueLocked(s, EventGetMessageLog, RoomPayload{Room: room})
	_ = m.enqueueLocked(s, EventGetUserList, RoomPayload{Room: room})

	observability.ChatConnects.WithLabelValues("ok").Inc()
	observability.ChatConnected.Set(1)
	m.logger.Info("chat connected", "room", room)
	return nil
}

// Disconnect releases the active connection and clears the connection's
// live view and presence. The durable room log is kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return
	}
	room := m.sess.room
	m.teardownLocked()
	m.logger.Info("chat disconnected", "room", room)
}

func (m *Manager) teardownLocked() {
	s := m.sess
	m.sess = nil
	s.cancel()
	<-s.writerDone
	if m.connected {
		s.flush()
	}
	_ = s.conn.Close()
	m.connected = false
	m.lastErr = ""
	m.live = nil
	m.presence.Clear()
	observability.ChatConnected.Set(0)
}

func (m *Manager) failLocked(op string, err error) error {
	cerr := &ConnectionError{Op: op, Err: err}
	m.lastErr = cerr.Error()
	m.logger.Warn("chat connection failed", "op", op, "error", err)
	return cerr
}

func (m *Manager) token(ctx context.Context) (string, error) {
	if m.tokens == nil {
		return "", ErrNoCredential
	}
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

func bearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}

// Send echoes the message into the log immediately and queues it for the
// server. The network write is not awaited.
func (m *Manager) Send(text string) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil || !m.connected {
		return models.ChatMessage{}, ErrNotConnected
	}

	msg := models.ChatMessage{
		ID:     newMessageID(),
		Sender: m.self.Name,
		Role:   m.self.Role,
		Body:   text,
		SentAt: time.Now(),
	}
	if m.relay != nil {
		msg.Coord = m.relay.OutgoingCoordinate()
	}
	payload := SendPayload{Room: s.room, Message: text, UserName: m.self.Name, Coordinate: msg.Coord}
	if err := m.enqueueLocked(s, EventSend, payload); err != nil {
		return models.ChatMessage{}, err
	}

	m.live = append(m.live, msg)
	if _, err := m.logs.Append(s.ctx, s.room, msg); err != nil {
		m.logger.Warn("chat log append failed", "room", s.room, "error", err)
	}
	observability.ChatMessagesSent.Inc()
	return msg, nil
}

// Leave tells the server we are leaving the active room.
func (m *Manager) Leave() error { return m.emit(EventLeave) }

// RequestUserList asks the server for the current participant set.
func (m *Manager) RequestUserList() error { return m.emit(EventGetUserList) }

// RequestMessageLog asks the server for an authoritative log snapshot.
func (m *Manager) RequestMessageLog() error { return m.emit(EventGetMessageLog) }

func (m *Manager) emit(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || !m.connected {
		return ErrNotConnected
	}
	return m.enqueueLocked(m.sess, event, RoomPayload{Room: m.sess.room})
}

func (m *Manager) enqueueLocked(s *roomSession, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case s.send <- frame:
		return nil
	default:
		m.logger.Warn("chat send buffer full", "room", s.room, "event", event)
		return ErrSendBufferFull
	}
}

func (m *Manager) readPump(s *roomSession) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			m.connectionLost(s, "read", err)
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			observability.ChatEventsDropped.WithLabelValues("protocol_error").Inc()
			m.logger.Warn("ignoring malformed chat event", "room", s.room, "error", err)
			continue
		}
		m.dispatch(s, ev)
	}
}

func (m *Manager) writePump(s *roomSession) {
	defer close(s.writerDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.send:
			if err := s.conn.WriteMessage(frame); err != nil {
				// Teardown may hold the lock while waiting for this goroutine.
				go m.connectionLost(s, "write", err)
				return
			}
		}
	}
}

// flush writes frames still queued when the writer stopped, so a leave
// emitted right before disconnecting still reaches the server.
func (s *roomSession) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteMessage(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (m *Manager) dispatch(s *roomSession, ev Event) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		observability.ChatEventsDropped.WithLabelValues(DropStaleRoom).Inc()
		m.logger.Debug("dropping event from superseded connection", "room", s.room, "event", ev.Name())
		return
	}
	out := m.router.Handle(s.ctx, s.room, ev)
	switch {
	case out.Dropped != "":
		observability.ChatEventsDropped.WithLabelValues(out.Dropped).Inc()
	case out.Synced != nil:
		m.live = append([]models.ChatMessage(nil), out.Synced...)
	case out.Appended != nil:
		m.live = append(m.live, *out.Appended)
	}
	if out.Err != "" {
		m.lastErr = out.Err
	}
	if out.Presence {
		m.logger.Debug("participants updated", "room", s.room, "count", len(m.presence.Participants()))
	}
	if out.Coordinate {
		m.logger.Debug("driver coordinate updated", "room", s.room)
	}
	if out.Dropped == "" {
		observability.ChatEvents.WithLabelValues(ev.Name()).Inc()
	}
	m.mu.Unlock()

	if out.RoomClosed != nil && m.onRoomClosed != nil {
		m.onRoomClosed(*out.RoomClosed)
	}
}

// connectionLost marks the session down after a transport failure. The
// session stays in place so a later Connect replaces it; logs are kept.
func (m *Manager) connectionLost(s *roomSession, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s || !m.connected {
		return
	}
	m.connected = false
	s.cancel()
	_ = s.conn.Close()
	observability.ChatConnected.Set(0)
	if IsOrderlyClose(err) {
		m.logger.Info("chat connection closed by server", "room", s.room)
		return
	}
	m.lastErr = (&ConnectionError{Op: op, Err: err}).Error()
	m.logger.Warn("chat connection lost", "room", s.room, "error", err)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{Connected: m.connected, Err: m.lastErr}
	if m.sess != nil {
		st.Room = m.sess.room
	}
	return st
}

func (m *Manager) IsConnected() bool { return m.State().Connected }

// Err is the last connection or server error, empty when none.
func (m *Manager) Err() string { return m.State().Err }

func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
}

// Messages is the live view of the active room, newest first.
func (m *Manager) Messages() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.live)
}

// Participants is the current membership of the active room. A set
// reported for any other room is not returned.
func (m *Manager) Participants() []models.Participant {
	if m.presence.Room() != m.State().Room {
		return nil
	}
	return m.presence.Participants()
}

// Log returns the durable log for any room, newest first.
func (m *Manager) Log(ctx context.Context, rideRequestID int64) ([]models.ChatMessage, error) {
	return m.logs.Get(ctx, FormatRoomID(rideRequestID))
}

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ride-session/internal/models"
)

// Event names on the /chatroom namespace.
const (
	EventMessage    = "message"
	EventMessageLog = "messageLog"
	EventUserList   = "userList"
	EventLeaveRoom  = "leaveRoom"
	EventDriverLeft = "driverLeft"
	EventError      = "error"

	EventSend          = "send"
	EventLeave         = "leave"
	EventGetUserList   = "getUserList"
	EventGetMessageLog = "getMessageLog"
)

// Frame is the JSON envelope carried by every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one validated inbound server event. The concrete types below
// are the only implementations.
type Event interface {
	Name() string
}

// roomScoped is implemented by events that name the room they belong to.
type roomScoped interface {
	EventRoom() string
}

type MessageEvent struct {
	UserName   string        `json:"userName"`
	Role       models.Role   `json:"role,omitempty"`
	Message    string        `json:"message"`
	Coordinate *models.Coord `json:"coordinate,omitempty"`
	SentAt     time.Time     `json:"createdAt"`
}

type MessageLogEvent struct {
	Room string               `json:"room"`
	Logs []models.ChatMessage `json:"logs"`
}

type UserListEvent struct {
	Room  string               `json:"room"`
	Users []models.Participant `json:"users"`
}

// LeaveRoomEvent reports that a participant left. UserName is the actor
// when the server includes it.
type LeaveRoomEvent struct {
	Room     string `json:"room"`
	Message  string `json:"message"`
	UserName string `json:"userName,omitempty"`
}

// DriverLeftEvent closes the room for every participant.
type DriverLeftEvent struct {
	Message string `json:"message"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (MessageEvent) Name() string    { return EventMessage }
func (MessageLogEvent) Name() string { return EventMessageLog }
func (UserListEvent) Name() string   { return EventUserList }
func (LeaveRoomEvent) Name() string  { return EventLeaveRoom }
func (DriverLeftEvent) Name() string { return EventDriverLeft }
func (ErrorEvent) Name() string      { return EventError }

func (e MessageLogEvent) EventRoom() string { return e.Room }
func (e UserListEvent) EventRoom() string   { return e.Room }
func (e LeaveRoomEvent) EventRoom() string  { return e.Room }

// DecodeEvent parses and validates one inbound frame. Any failure is a
// *ProtocolError.
func DecodeEvent(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("invalid frame: %w", err)}
	}
	if f.Event == "" {
		return nil, &ProtocolError{Err: errors.New("frame without event name")}
	}

	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventMessage:
		var e MessageEvent
		if err = unmarshalData(f.Data, &e); err == nil {
			err = e.validate()
		}
		ev = e
	case EventMessageLog:
		var e MessageLogEvent
		if err = unmarshalData(f.Data, &e); err == nil {
			err = requireRoom(e.Room)
		}
		ev = e
	case EventUserList:
		var e UserListEvent
		if err = unmarshalData(f.Data, &e); err == nil {
			err = e.validate()
		}
		ev = e
	case EventLeaveRoom:
		var e LeaveRoomEvent
		if err = unmarshalData(f.Data, &e); err == nil {
			err = requireRoom(e.Room)
		}
		ev = e
	case EventDriverLeft:
		var e DriverLeftEvent
		err = unmarshalData(f.Data, &e)
		ev = e
	case EventError:
		var e ErrorEvent
		err = unmarshalData(f.Data, &e)
		if strings.TrimSpace(e.Message) == "" {
			e.Message = "unknown server error"
		}
		ev = e
	default:
		err = errors.New("unknown event")
	}
	if err != nil {
		return nil, &ProtocolError{Event: f.Event, Err: err}
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing payload")
	}
	return json.Unmarshal(data, v)
}

func requireRoom(room string) error {
	if _, err := ParseRoomID(room); err != nil {
		return err
	}
	return nil
}

func (e MessageEvent) validate() error {
	if e.UserName == "" {
		return errors.New("message without userName")
	}
	if e.Role != "" && !e.Role.Valid() {
		return fmt.Errorf("unknown role %q", e.Role)
	}
	return nil
}

func (e UserListEvent) validate() error {
	if err := requireRoom(e.Room); err != nil {
		return err
	}
	for _, u := range e.Users {
		if u.Name == "" || !u.Role.Valid() {
			return fmt.Errorf("invalid participant %+v", u)
		}
	}
	return nil
}

// SendPayload is the outbound chat message.
type SendPayload struct {
	Room       string        `json:"room"`
	Message    string        `json:"message"`
	UserName   string        `json:"userName"`
	Coordinate *models.Coord `json:"coordinate,omitempty"`
}

// RoomPayload carries the room for leave, getUserList and getMessageLog.
type RoomPayload struct {
	Room string `json:"room"`
}

// EncodeFrame marshals an outbound event.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

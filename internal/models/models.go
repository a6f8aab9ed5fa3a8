package models

import "time"

// Coord is a WGS84 position. The wire names follow the mobile clients.
type Coord struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lon float64 `json:"longitude" yaml:"longitude"`
}

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

func (r Role) Valid() bool { return r == RoleDriver || r == RolePassenger }

// Identity is the local user as seen by the chat server.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Participant struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// SystemSender names notices the client synthesizes itself.
const SystemSender = "System"

type ChatMessage struct {
	ID     string    `json:"id"`
	Sender string    `json:"name"`
	Role   Role      `json:"role,omitempty"`
	Body   string    `json:"message"`
	Coord  *Coord    `json:"coordinate,omitempty"`
	SentAt time.Time `json:"createdAt"`
}

// IsSystem reports whether the message is a client-side notice.
func (m ChatMessage) IsSystem() bool { return m.Sender == SystemSender }

type Station struct {
	ID    int    `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Coord Coord  `json:"coordinate" yaml:"coordinate"`
}

// Route prices a trip between two named stations. Prices[0] is the base fare.
type Route struct {
	Departure   string `json:"departure" yaml:"departure"`
	Destination string `json:"destination" yaml:"destination"`
	Prices      []int  `json:"price" yaml:"price"`
}

// Transition records one matching state change for the audit stream.
type Transition struct {
	SessionKey    string    `json:"session_key"`
	RideRequestID int64     `json:"ride_request_id,omitempty"`
	Role          Role      `json:"role"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Event         string    `json:"event"`
	Points        int       `json:"points,omitempty"`
	At            time.Time `json:"at"`
}

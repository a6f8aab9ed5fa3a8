package matching

import (
	"fmt"

	"github.com/example/ride-session/internal/models"
)

// Status is the local lifecycle state of a matching session.
type Status int

const (
	StatusNone Status = iota
	StatusRequested
	StatusMatched
	StatusRiding
	StatusCompleted
)

var statusNames = [...]string{"NONE", "REQUESTED", "MATCHED", "RIDING", "COMPLETED"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Polling reports whether the status query runs in this state.
func (s Status) Polling() bool {
	return s == StatusRequested || s == StatusMatched || s == StatusRiding
}

// Status query codes.
const (
	CodeNoRequest = -1
	CodeRequested = 0
	CodeMatched   = 1
	CodeCompleted = 2
)

// StatusReport is one answer from the status query.
type StatusReport struct {
	Code          int   `json:"status"`
	RideRequestID int64 `json:"rideRequestId"`
}

// Session is the matching session as the local user sees it. RideRequestID
// is non-zero exactly when Status is MATCHED, RIDING or COMPLETED.
type Session struct {
	Key           string
	Origin        int
	Destination   int
	Role          models.Role
	Status        Status
	RideRequestID int64
	Points        int
}

// StateConflict rejects a user action that does not apply in the current
// state. Nothing is changed.
type StateConflict struct {
	Action string
	State  Status
}

func (e *StateConflict) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.State)
}

// MatchingKey identifies a session by its station pair.
func MatchingKey(origin, destination int) string {
	return fmt.Sprintf("%d-%d", origin, destination)
}

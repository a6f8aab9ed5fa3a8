package matching

import "github.com/example/ride-session/internal/models"

// EventKind enumerates the inputs of the state machine. User actions and
// polled status reports go through the same Transition function.
type EventKind int

const (
	EventRequestMatch EventKind = iota + 1
	EventCancel
	EventServerStatus
	EventAgreeToStart
	EventAcknowledge
	EventForceReset
)

var eventNames = map[EventKind]string{
	EventRequestMatch: "requestMatch",
	EventCancel:       "cancel",
	EventServerStatus: "serverStatus",
	EventAgreeToStart: "agreeToStart",
	EventAcknowledge:  "acknowledge",
	EventForceReset:   "forceReset",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is one input. Key, Origin and Destination are read for
// EventRequestMatch; Report for EventServerStatus.
type Event struct {
	Kind        EventKind
	Key         string
	Origin      int
	Destination int
	Report      StatusReport
}

// Effect is a side effect the owner must carry out after a transition.
type Effect int

const (
	EffectNavigateToChat Effect = iota + 1
	EffectRatingPrompt
	EffectSettlementDue
	EffectReset
)

func (e Effect) String() string {
	switch e {
	case EffectNavigateToChat:
		return "navigateToChat"
	case EffectRatingPrompt:
		return "ratingPrompt"
	case EffectSettlementDue:
		return "settlementDue"
	case EffectReset:
		return "reset"
	}
	return "unknown"
}

// Result of applying one event. When Applied is false Next equals the input
// session and Effects is empty.
type Result struct {
	Next    Session
	Effects []Effect
	Applied bool
}

func noop(s Session) Result { return Result{Next: s} }

// reset returns the empty session for the same local role.
func reset(s Session) Result {
	return Result{Next: Session{Role: s.Role}, Effects: []Effect{EffectReset}, Applied: true}
}

// Transition is the whole state table. It is pure: no I/O, no clock.
func Transition(s Session, ev Event) Result {
	switch ev.Kind {
	case EventForceReset:
		return reset(s)

	case EventRequestMatch:
		if s.Status != StatusNone || ev.Key == "" {
			return noop(s)
		}
		return Result{
			Next: Session{
				Key:         ev.Key,
				Origin:      ev.Origin,
				Destination: ev.Destination,
				Role:        s.Role,
				Status:      StatusRequested,
			},
			Applied: true,
		}

	case EventCancel:
		if s.Status != StatusRequested {
			return noop(s)
		}
		return reset(s)

	case EventAgreeToStart:
		if s.Status != StatusMatched {
			return noop(s)
		}
		next := s
		next.Status = StatusRiding
		return Result{Next: next, Applied: true}

	case EventAcknowledge:
		if s.Status != StatusCompleted {
			return noop(s)
		}
		return reset(s)

	case EventServerStatus:
		return serverStatus(s, ev.Report)
	}
	return noop(s)
}

func serverStatus(s Session, r StatusReport) Result {
	switch s.Status {
	case StatusRequested:
		switch r.Code {
		case CodeMatched:
			// A matched report without a ride request id is not a match yet.
			if r.RideRequestID <= 0 {
				return noop(s)
			}
			next := s
			next.Status = StatusMatched
			next.RideRequestID = r.RideRequestID
			return Result{Next: next, Effects: []Effect{EffectNavigateToChat}, Applied: true}
		case CodeCompleted:
			// Completed with no ride request ever recorded.
			return reset(s)
		}
	case StatusRiding:
		if r.Code == CodeCompleted {
			next := s
			next.Status = StatusCompleted
			eff := EffectRatingPrompt
			if s.Role == models.RoleDriver {
				eff = EffectSettlementDue
			}
			return Result{Next: next, Effects: []Effect{eff}, Applied: true}
		}
	}
	return noop(s)
}

package matching

import (
	"testing"

	"github.com/example/ride-session/internal/models"
)

func sessionIn(st Status, role models.Role) Session {
	s := Session{Role: role, Status: st}
	if st != StatusNone {
		s.Key, s.Origin, s.Destination = "0-1", 0, 1
	}
	if st == StatusMatched || st == StatusRiding || st == StatusCompleted {
		s.RideRequestID = 77
	}
	return s
}

var allEvents = []Event{
	{Kind: EventRequestMatch, Key: "2-3", Origin: 2, Destination: 3},
	{Kind: EventCancel},
	{Kind: EventAgreeToStart},
	{Kind: EventAcknowledge},
	{Kind: EventForceReset},
	{Kind: EventServerStatus, Report: StatusReport{Code: CodeNoRequest, RideRequestID: -1}},
	{Kind: EventServerStatus, Report: StatusReport{Code: CodeRequested}},
	{Kind: EventServerStatus, Report: StatusReport{Code: CodeMatched, RideRequestID: -1}},
	{Kind: EventServerStatus, Report: StatusReport{Code: CodeMatched, RideRequestID: 77}},
	{Kind: EventServerStatus, Report: StatusReport{Code: CodeCompleted, RideRequestID: 77}},
	{Kind: EventServerStatus, Report: StatusReport{Code: 9}},
	{Kind: EventKind(99)},
}

// listed reports whether (state, event) is one of the table's transitions
// and, if so, the expected next status.
func listed(st Status, ev Event) (Status, bool) {
	switch {
	case ev.Kind == EventForceReset:
		return StatusNone, true
	case st == StatusNone && ev.Kind == EventRequestMatch:
		return StatusRequested, true
	case st == StatusRequested && ev.Kind == EventCancel:
		return StatusNone, true
	case st == StatusRequested && ev.Kind == EventServerStatus && ev.Report.Code == CodeMatched && ev.Report.RideRequestID > 0:
		return StatusMatched, true
	case st == StatusRequested && ev.Kind == EventServerStatus && ev.Report.Code == CodeCompleted:
		return StatusNone, true
	case st == StatusMatched && ev.Kind == EventAgreeToStart:
		return StatusRiding, true
	case st == StatusRiding && ev.Kind == EventServerStatus && ev.Report.Code == CodeCompleted:
		return StatusCompleted, true
	case st == StatusCompleted && ev.Kind == EventAcknowledge:
		return StatusNone, true
	}
	return st, false
}

func TestTransitionTableIsExhaustive(t *testing.T) {
	for _, role := range []models.Role{models.RolePassenger, models.RoleDriver} {
		for st := StatusNone; st <= StatusCompleted; st++ {
			for _, ev := range allEvents {
				in := sessionIn(st, role)
				res := Transition(in, ev)
				want, ok := listed(st, ev)
				if !ok {
					if res.Applied || res.Next != in || len(res.Effects) != 0 {
						t.Fatalf("%s + %s%+v: expected no-op, got %+v", st, ev.Kind, ev.Report, res)
					}
					continue
				}
				if !res.Applied || res.Next.Status != want {
					t.Fatalf("%s + %s%+v: expected %s, got %+v", st, ev.Kind, ev.Report, want, res)
				}
				if res.Next.Role != role {
					t.Fatalf("role lost on %s + %s", st, ev.Kind)
				}
				hasID := res.Next.RideRequestID != 0
				needsID := res.Next.Status == StatusMatched || res.Next.Status == StatusRiding || res.Next.Status == StatusCompleted
				if hasID != needsID {
					t.Fatalf("%s + %s: ride request id invariant broken: %+v", st, ev.Kind, res.Next)
				}
			}
		}
	}
}

func TestTransitionEffects(t *testing.T) {
	res := Transition(sessionIn(StatusRequested, models.RolePassenger), Event{Kind: EventServerStatus, Report: StatusReport{Code: CodeMatched, RideRequestID: 77}})
	if len(res.Effects) != 1 || res.Effects[0] != EffectNavigateToChat || res.Next.RideRequestID != 77 {
		t.Fatalf("unexpected match result %+v", res)
	}

	done := Event{Kind: EventServerStatus, Report: StatusReport{Code: CodeCompleted, RideRequestID: 77}}
	if res := Transition(sessionIn(StatusRiding, models.RolePassenger), done); res.Effects[0] != EffectRatingPrompt {
		t.Fatalf("passenger should get a rating prompt, got %v", res.Effects)
	}
	if res := Transition(sessionIn(StatusRiding, models.RoleDriver), done); res.Effects[0] != EffectSettlementDue {
		t.Fatalf("driver should get settlement, got %v", res.Effects)
	}

	res = Transition(sessionIn(StatusRiding, models.RoleDriver), Event{Kind: EventForceReset})
	if res.Next != (Session{Role: models.RoleDriver}) || res.Effects[0] != EffectReset {
		t.Fatalf("reset should clear the session, got %+v", res)
	}
}

func TestInconsistentCompletionResets(t *testing.T) {
	res := Transition(sessionIn(StatusRequested, models.RolePassenger), Event{Kind: EventServerStatus, Report: StatusReport{Code: CodeCompleted}})
	if res.Next.Status != StatusNone || res.Next.Key != "" {
		t.Fatalf("expected reset, got %+v", res.Next)
	}
}

package matching

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-session/internal/models"
)

type fakeAPI struct {
	mu         sync.Mutex
	report     StatusReport
	statusHits atomic.Int64
	requestErr error
	leaveErr   error
	calls      []string
	reviews    []int
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeAPI) setReport(r StatusReport) {
	f.mu.Lock()
	f.report = r
	f.mu.Unlock()
}

func (f *fakeAPI) RequestMatch(_ context.Context, req MatchRequest) (string, error) {
	f.record("request")
	if f.requestErr != nil {
		return "", f.requestErr
	}
	return MatchingKey(req.StartPoint, req.EndPoint), nil
}

func (f *fakeAPI) CancelMatch(context.Context, string) error { f.record("cancel"); return nil }

func (f *fakeAPI) Status(context.Context, string) (StatusReport, error) {
	f.statusHits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, nil
}

func (f *fakeAPI) AgreeToStart(context.Context, int64) error { f.record("agree"); return nil }
func (f *fakeAPI) CompleteRide(context.Context, int64) error { f.record("complete"); return nil }

func (f *fakeAPI) LeaveMatch(context.Context, int64) error {
	f.record("leave")
	return f.leaveErr
}

func (f *fakeAPI) SubmitReview(_ context.Context, _ int64, rating int) error {
	f.mu.Lock()
	f.reviews = append(f.reviews, rating)
	f.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []models.Transition
}

func (s *recordingSink) Publish(_ context.Context, t models.Transition) error {
	s.mu.Lock()
	s.got = append(s.got, t)
	s.mu.Unlock()
	return nil
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestMachine(api *fakeAPI, role models.Role, hooks Hooks) *Machine {
	return NewMachine(Options{
		API:          api,
		Role:         role,
		PollInterval: 5 * time.Millisecond,
		Hooks:        hooks,
	})
}

func TestMatchedStatusNavigatesOnce(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	var navigations atomic.Int64
	var gotID atomic.Int64
	m := newTestMachine(api, models.RolePassenger, Hooks{OnMatched: func(id int64) {
		navigations.Add(1)
		gotID.Store(id)
	}})
	defer m.Close()

	if err := m.RequestMatch(context.Background(), 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	if s := m.Snapshot(); s.Status != StatusRequested || s.Key != "0-1" {
		t.Fatalf("unexpected session %+v", s)
	}

	api.setReport(StatusReport{Code: CodeMatched, RideRequestID: 77})
	waitUntil(t, "matched", func() bool { return m.Snapshot().Status == StatusMatched })
	// Let the poller see the same report a few more times.
	hits := api.statusHits.Load()
	waitUntil(t, "more polls", func() bool { return api.statusHits.Load() > hits+3 })

	if n := navigations.Load(); n != 1 {
		t.Fatalf("expected exactly one navigation, got %d", n)
	}
	if gotID.Load() != 77 || m.Snapshot().RideRequestID != 77 {
		t.Fatalf("ride request id not recorded")
	}
}

func TestRequestThenForceResetClearsSession(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	var resets atomic.Int64
	m := newTestMachine(api, models.RolePassenger, Hooks{OnReset: func() { resets.Add(1) }})
	defer m.Close()

	if err := m.RequestMatch(context.Background(), 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	m.ForceReset("test")
	if s := m.Snapshot(); s != (Session{Role: models.RolePassenger}) {
		t.Fatalf("expected empty session, got %+v", s)
	}
	if m.Polling() {
		t.Fatalf("poller still running after reset")
	}
	if resets.Load() != 1 {
		t.Fatalf("expected one reset hook, got %d", resets.Load())
	}
}

func TestConcurrentRequestRejected(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	m := newTestMachine(api, models.RolePassenger, Hooks{})
	defer m.Close()
	if err := m.RequestMatch(context.Background(), 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	err := m.RequestMatch(context.Background(), 2, 3)
	var conflict *StateConflict
	if !errors.As(err, &conflict) || conflict.State != StatusRequested {
		t.Fatalf("expected StateConflict, got %v", err)
	}
	if s := m.Snapshot(); s.Key != "0-1" {
		t.Fatalf("conflicting request mutated state: %+v", s)
	}
}

func TestFailedRequestReverts(t *testing.T) {
	api := &fakeAPI{requestErr: errors.New("backend down")}
	m := newTestMachine(api, models.RolePassenger, Hooks{})
	defer m.Close()
	if err := m.RequestMatch(context.Background(), 0, 1); err == nil {
		t.Fatalf("expected error")
	}
	if s := m.Snapshot(); s.Status != StatusNone {
		t.Fatalf("expected revert to NONE, got %s", s.Status)
	}
	if m.Polling() {
		t.Fatalf("poller left running")
	}
}

func TestInvalidStationsRejected(t *testing.T) {
	m := newTestMachine(&fakeAPI{}, models.RolePassenger, Hooks{})
	defer m.Close()
	if err := m.RequestMatch(context.Background(), 1, 1); !errors.Is(err, ErrSameStation) {
		t.Fatalf("expected ErrSameStation, got %v", err)
	}
	if err := m.RequestMatch(context.Background(), 1, 99); !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("expected ErrUnknownStation, got %v", err)
	}
}

func TestUserActionConflicts(t *testing.T) {
	m := newTestMachine(&fakeAPI{}, models.RolePassenger, Hooks{})
	defer m.Close()
	ctx := context.Background()
	var conflict *StateConflict
	for name, err := range map[string]error{
		"cancel":      m.Cancel(ctx),
		"agree":       m.AgreeToStart(ctx),
		"complete":    m.CompleteRide(ctx),
		"leave":       m.Leave(ctx),
		"acknowledge": m.Acknowledge(),
		"rating":      m.SubmitRating(ctx, 5),
	} {
		if !errors.As(err, &conflict) {
			t.Fatalf("%s from NONE: expected StateConflict, got %v", name, err)
		}
	}
	if err := m.SubmitRating(ctx, 0); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
}

func TestPassengerLifecycle(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	sink := &recordingSink{}
	var prompted atomic.Int64
	m := NewMachine(Options{
		API:          api,
		Role:         models.RolePassenger,
		PollInterval: 5 * time.Millisecond,
		Sink:         sink,
		Hooks:        Hooks{OnRatingPrompt: func(int64) { prompted.Add(1) }},
	})
	defer m.Close()
	ctx := context.Background()

	if err := m.RequestMatch(ctx, 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	api.setReport(StatusReport{Code: CodeMatched, RideRequestID: 5})
	waitUntil(t, "matched", func() bool { return m.Snapshot().Status == StatusMatched })
	if err := m.AgreeToStart(ctx); err != nil {
		t.Fatalf("agree: %v", err)
	}
	if err := m.CompleteRide(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	api.setReport(StatusReport{Code: CodeCompleted, RideRequestID: 5})
	waitUntil(t, "completed", func() bool { return m.Snapshot().Status == StatusCompleted })
	waitUntil(t, "poller stopped", func() bool { return !m.Polling() })
	if prompted.Load() != 1 {
		t.Fatalf("expected one rating prompt, got %d", prompted.Load())
	}

	if err := m.SubmitRating(ctx, 4); err != nil {
		t.Fatalf("rating: %v", err)
	}
	if s := m.Snapshot(); s.Status != StatusNone || s.RideRequestID != 0 {
		t.Fatalf("expected reset after rating, got %+v", s)
	}
	if len(api.reviews) != 1 || api.reviews[0] != 4 {
		t.Fatalf("review not submitted: %v", api.reviews)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var path []string
	for _, tr := range sink.got {
		path = append(path, tr.To)
	}
	want := []string{"REQUESTED", "MATCHED", "RIDING", "COMPLETED", "NONE"}
	if len(path) != len(want) {
		t.Fatalf("unexpected published transitions %v", path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("unexpected published transitions %v", path)
		}
	}
}

func TestDriverSettlement(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	var points atomic.Int64
	m := newTestMachine(api, models.RoleDriver, Hooks{OnSettlement: func(_ int64, p int) { points.Store(int64(p)) }})
	defer m.Close()
	ctx := context.Background()

	if err := m.RequestMatch(ctx, 1, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	m.ApplyStatus(StatusReport{Code: CodeMatched, RideRequestID: 9})
	if err := m.AgreeToStart(ctx); err != nil {
		t.Fatalf("agree: %v", err)
	}
	m.ApplyStatus(StatusReport{Code: CodeCompleted, RideRequestID: 9})
	if points.Load() != 120 || m.Snapshot().Points != 120 {
		t.Fatalf("expected 120 points, got %d", points.Load())
	}
	if err := m.Acknowledge(); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if m.Snapshot().Status != StatusNone {
		t.Fatalf("expected NONE after acknowledge")
	}
}

func TestLeaveResetsEvenWhenBackendFails(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}, leaveErr: errors.New("gone")}
	m := newTestMachine(api, models.RolePassenger, Hooks{})
	defer m.Close()
	if err := m.RequestMatch(context.Background(), 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	m.ApplyStatus(StatusReport{Code: CodeMatched, RideRequestID: 3})
	if err := m.Leave(context.Background()); err == nil {
		t.Fatalf("expected backend error surfaced")
	}
	if !api.called("leave") || m.Snapshot().Status != StatusNone {
		t.Fatalf("expected leave call and reset")
	}
}

func TestNoPollingAfterReset(t *testing.T) {
	api := &fakeAPI{report: StatusReport{Code: CodeRequested}}
	m := newTestMachine(api, models.RolePassenger, Hooks{})
	defer m.Close()
	if err := m.RequestMatch(context.Background(), 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	waitUntil(t, "first poll", func() bool { return api.statusHits.Load() > 0 })
	m.ForceReset("room closed")
	after := api.statusHits.Load()
	time.Sleep(50 * time.Millisecond)
	// At most one query may have been in flight when the reset landed.
	if got := api.statusHits.Load(); got > after+1 {
		t.Fatalf("polling continued after reset: %d -> %d", after, got)
	}
}

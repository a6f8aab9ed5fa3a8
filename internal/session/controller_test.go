package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-session/internal/chat"
	"github.com/example/ride-session/internal/credential"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
)

type pipeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	events []string
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	var f chat.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, f.Event)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) wrote(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

type pipeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
}

func (d *pipeDialer) Dial(context.Context, string, http.Header) (chat.Conn, error) {
	c := newPipeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *pipeDialer) last() *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type scriptedAPI struct {
	mu         sync.Mutex
	report     matching.StatusReport
	statusHits atomic.Int64
	leaves     atomic.Int64
}

func (a *scriptedAPI) set(r matching.StatusReport) {
	a.mu.Lock()
	a.report = r
	a.mu.Unlock()
}

func (a *scriptedAPI) RequestMatch(_ context.Context, req matching.MatchRequest) (string, error) {
	return matching.MatchingKey(req.StartPoint, req.EndPoint), nil
}
func (a *scriptedAPI) CancelMatch(context.Context, string) error { return nil }
func (a *scriptedAPI) Status(context.Context, string) (matching.StatusReport, error) {
	a.statusHits.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report, nil
}
func (a *scriptedAPI) AgreeToStart(context.Context, int64) error { return nil }
func (a *scriptedAPI) CompleteRide(context.Context, int64) error { return nil }
func (a *scriptedAPI) LeaveMatch(context.Context, int64) error {
	a.leaves.Add(1)
	return nil
}
func (a *scriptedAPI) SubmitReview(context.Context, int64, int) error { return nil }

type recordingPresenter struct {
	mu    sync.Mutex
	chats []int64
	homes []string
}

func (p *recordingPresenter) NavigateToChat(id int64) {
	p.mu.Lock()
	p.chats = append(p.chats, id)
	p.mu.Unlock()
}
func (p *recordingPresenter) NavigateHome(reason string) {
	p.mu.Lock()
	p.homes = append(p.homes, reason)
	p.mu.Unlock()
}
func (p *recordingPresenter) ShowRatingPrompt(int64)    {}
func (p *recordingPresenter) ShowSettlement(int64, int) {}
func (p *recordingPresenter) ShowError(string)          {}

func (p *recordingPresenter) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chats), len(p.homes)
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

func newTestController(role models.Role, api *scriptedAPI, d *pipeDialer, p *recordingPresenter) *Controller {
	return New(Options{
		Self:         models.Identity{Name: "alice", Role: role},
		API:          api,
		Tokens:       credential.NewStore("tok"),
		ChatURL:      "ws://test/chatroom",
		Dialer:       d,
		PollInterval: 5 * time.Millisecond,
		Presenter:    p,
	})
}

// matchAndRide drives a controller to RIDING on ride request 77.
func matchAndRide(t *testing.T, c *Controller, api *scriptedAPI) {
	t.Helper()
	ctx := context.Background()
	if err := c.RequestMatch(ctx, 0, 1); err != nil {
		t.Fatalf("request: %v", err)
	}
	api.set(matching.StatusReport{Code: matching.CodeMatched, RideRequestID: 77})
	waitFor(t, "chat connected", func() bool { return c.Chat().IsConnected() })
	if err := c.AgreeToStart(ctx); err != nil {
		t.Fatalf("agree: %v", err)
	}
}

func TestDriverLeftWhileRidingResetsEverything(t *testing.T) {
	api := &scriptedAPI{report: matching.StatusReport{Code: matching.CodeRequested}}
	d := &pipeDialer{}
	p := &recordingPresenter{}
	c := newTestController(models.RolePassenger, api, d, p)
	defer c.Close()

	matchAndRide(t, c, api)
	if st := c.Chat().State(); st.Room != "ride_request_77" {
		t.Fatalf("expected room ride_request_77, got %q", st.Room)
	}

	frame, _ := chat.EncodeFrame(chat.EventDriverLeft, chat.DriverLeftEvent{Message: "driver left"})
	d.last().in <- frame

	waitFor(t, "reset", func() bool { return c.Session().Status == matching.StatusNone })
	waitFor(t, "disconnect", func() bool { return !c.Chat().IsConnected() })
	if c.Machine().Polling() {
		t.Fatalf("poller still running")
	}
	after := api.statusHits.Load()
	time.Sleep(40 * time.Millisecond)
	if got := api.statusHits.Load(); got > after+1 {
		t.Fatalf("status polling continued: %d -> %d", after, got)
	}
	if api.leaves.Load() != 1 {
		t.Fatalf("expected best-effort leave-match, got %d", api.leaves.Load())
	}
	if chats, homes := p.counts(); chats != 1 || homes != 1 {
		t.Fatalf("expected one navigation each way, got chat=%d home=%d", chats, homes)
	}
	if s := c.Session(); s.RideRequestID != 0 {
		t.Fatalf("ride request id not cleared: %+v", s)
	}
}

func TestLeaveEmitsFrameAndResets(t *testing.T) {
	api := &scriptedAPI{report: matching.StatusReport{Code: matching.CodeRequested}}
	d := &pipeDialer{}
	p := &recordingPresenter{}
	c := newTestController(models.RoleDriver, api, d, p)
	defer c.Close()

	matchAndRide(t, c, api)
	conn := d.last()
	if err := c.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !conn.wrote(chat.EventLeave) {
		t.Fatalf("leave frame not written")
	}
	if c.Session().Status != matching.StatusNone || c.Chat().IsConnected() {
		t.Fatalf("expected reset and disconnect")
	}
	if api.leaves.Load() != 1 {
		t.Fatalf("expected leave-match call")
	}
}

func TestPassengerLeaveNoticeKeepsDriverInRoom(t *testing.T) {
	api := &scriptedAPI{report: matching.StatusReport{Code: matching.CodeRequested}}
	d := &pipeDialer{}
	c := newTestController(models.RoleDriver, api, d, &recordingPresenter{})
	defer c.Close()

	matchAndRide(t, c, api)
	frame, _ := chat.EncodeFrame(chat.EventLeaveRoom, chat.LeaveRoomEvent{Room: "ride_request_77", Message: "bob left", UserName: "bob"})
	d.last().in <- frame
	waitFor(t, "notice", func() bool {
		for _, m := range c.Messages() {
			if m.IsSystem() && m.Body == "bob left" {
				return true
			}
		}
		return false
	})
	if c.Session().Status != matching.StatusRiding || !c.Chat().IsConnected() {
		t.Fatalf("driver should stay in the ride")
	}
}

func TestRequestThenResetClearsCoordinatesAndPresence(t *testing.T) {
	api := &scriptedAPI{report: matching.StatusReport{Code: matching.CodeRequested}}
	d := &pipeDialer{}
	c := newTestController(models.RolePassenger, api, d, &recordingPresenter{})
	defer c.Close()

	matchAndRide(t, c, api)
	users, _ := chat.EncodeFrame(chat.EventUserList, chat.UserListEvent{Room: "ride_request_77", Users: []models.Participant{{Name: "alice", Role: models.RolePassenger}, {Name: "bob", Role: models.RoleDriver}}})
	msg, _ := chat.EncodeFrame(chat.EventMessage, chat.MessageEvent{UserName: "bob", Message: "here", Coordinate: &models.Coord{Lat: 37.22, Lon: 127.18}})
	d.last().in <- users
	d.last().in <- msg
	waitFor(t, "driver coordinate", func() bool { _, ok := c.Relay().Driver(); return ok })
	if len(c.Chat().Participants()) != 2 {
		t.Fatalf("presence not applied")
	}
	if _, ok := c.DriverProximity(); !ok {
		t.Fatalf("expected proximity while riding")
	}

	c.Machine().ForceReset("test")
	if _, ok := c.Relay().Driver(); ok {
		t.Fatalf("driver coordinate not cleared")
	}
	if len(c.Chat().Participants()) != 0 {
		t.Fatalf("presence not cleared")
	}
	if s := c.Session(); s.Status != matching.StatusNone || s.RideRequestID != 0 {
		t.Fatalf("session not reset: %+v", s)
	}
}

func TestEnterRoomRequiresMatch(t *testing.T) {
	c := newTestController(models.RolePassenger, &scriptedAPI{}, &pipeDialer{}, &recordingPresenter{})
	defer c.Close()
	var conflict *matching.StateConflict
	if err := c.EnterRoom(context.Background()); !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflict, got %v", err)
	}
}

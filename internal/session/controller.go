package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-session/internal/chat"
	"github.com/example/ride-session/internal/location"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
)

// Presenter is the UI side of a session. Calls arrive on background
// goroutines; implementations must not call back into the Controller
// synchronously.
type Presenter interface {
	NavigateToChat(rideRequestID int64)
	NavigateHome(reason string)
	ShowRatingPrompt(rideRequestID int64)
	ShowSettlement(rideRequestID int64, points int)
	ShowError(msg string)
}

// NopPresenter ignores every call.
type NopPresenter struct{}

func (NopPresenter) NavigateToChat(int64)      {}
func (NopPresenter) NavigateHome(string)       {}
func (NopPresenter) ShowRatingPrompt(int64)    {}
func (NopPresenter) ShowSettlement(int64, int) {}
func (NopPresenter) ShowError(string)          {}

type Options struct {
	Self    models.Identity
	API     matching.API
	Tokens  chat.TokenSource
	ChatURL string
	Dialer  chat.Dialer
	Logs    chat.LogStore
	Pricing *matching.Pricing

	// Device supplies the driver's position; ignored for passengers.
	Device    location.DeviceLocator
	Estimator location.Estimator

	Sink           matching.TransitionSink
	PollInterval   time.Duration
	RequestTimeout time.Duration
	SendBuffer     int

	Presenter Presenter
	Logger    *slog.Logger
}

// Controller owns everything one user's session needs: the matching state
// machine, the chat connection and the driver location relay. Nothing is
// shared between controllers except the LogStore the caller passes in.
type Controller struct {
	self      models.Identity
	machine   *matching.Machine
	chat      *chat.Manager
	relay     *location.Relay
	presenter Presenter
	timeout   time.Duration
	logger    *slog.Logger
}

func New(opts Options) *Controller {
	logger := logging.OrDefault(opts.Logger)
	if opts.Presenter == nil {
		opts.Presenter = NopPresenter{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	c := &Controller{
		self:      opts.Self,
		presenter: opts.Presenter,
		timeout:   opts.RequestTimeout,
		logger:    logger.With("component", "session", "user", opts.Self.Name),
	}
	c.relay = location.NewRelay(opts.Self.Role, opts.Device, opts.Estimator)
	c.chat = chat.NewManager(chat.Options{
		URL:          opts.ChatURL,
		Dialer:       opts.Dialer,
		Tokens:       opts.Tokens,
		Self:         opts.Self,
		Logs:         opts.Logs,
		Relay:        c.relay,
		SendBuffer:   opts.SendBuffer,
		Logger:       logger,
		OnRoomClosed: c.onRoomClosed,
	})
	c.machine = matching.NewMachine(matching.Options{
		API:            opts.API,
		Role:           opts.Self.Role,
		Pricing:        opts.Pricing,
		PollInterval:   opts.PollInterval,
		RequestTimeout: opts.RequestTimeout,
		Sink:           opts.Sink,
		Logger:         logger,
		Hooks: matching.Hooks{
			OnMatched:      c.onMatched,
			OnRatingPrompt: c.onRatingPrompt,
			OnSettlement:   c.onSettlement,
			OnReset:        c.onReset,
		},
	})
	return c
}

func (c *Controller) Self() models.Identity          { return c.self }
func (c *Controller) Chat() *chat.Manager            { return c.chat }
func (c *Controller) Machine() *matching.Machine     { return c.machine }
func (c *Controller) Relay() *location.Relay         { return c.relay }
func (c *Controller) Session() matching.Session      { return c.machine.Snapshot() }
func (c *Controller) Messages() []models.ChatMessage { return c.chat.Messages() }

func (c *Controller) RequestMatch(ctx context.Context, origin, destination int) error {
	return c.machine.RequestMatch(ctx, origin, destination)
}

func (c *Controller) Cancel(ctx context.Context) error { return c.machine.Cancel(ctx) }

func (c *Controller) AgreeToStart(ctx context.Context) error { return c.machine.AgreeToStart(ctx) }

func (c *Controller) CompleteRide(ctx context.Context) error { return c.machine.CompleteRide(ctx) }

func (c *Controller) Acknowledge() error { return c.machine.Acknowledge() }

func (c *Controller) SubmitRating(ctx context.Context, rating int) error {
	return c.machine.SubmitRating(ctx, rating)
}

// Send posts a chat message to the active room.
func (c *Controller) Send(text string) (models.ChatMessage, error) { return c.chat.Send(text) }

// Leave tells the room and the backend we are leaving, then resets. The
// leave frame is flushed before the connection closes.
func (c *Controller) Leave(ctx context.Context) error {
	if err := c.chat.Leave(); err != nil && !errors.Is(err, chat.ErrNotConnected) {
		c.logger.Warn("emit leave failed", "error", err)
	}
	err := c.machine.Leave(ctx)
	var conflict *matching.StateConflict
	if errors.As(err, &conflict) {
		return err
	}
	c.presenter.NavigateHome("left the ride")
	return err
}

// EnterRoom (re)connects to the room of the matched ride, e.g. after a
// connection error or when the chat screen is opened again.
func (c *Controller) EnterRoom(ctx context.Context) error {
	s := c.machine.Snapshot()
	if s.Status != matching.StatusMatched && s.Status != matching.StatusRiding {
		return &matching.StateConflict{Action: "enter the chat room", State: s.Status}
	}
	return c.chat.Connect(ctx, s.RideRequestID)
}

// ExitRoom closes the chat connection without leaving the ride. The room's
// log is kept for the next EnterRoom.
func (c *Controller) ExitRoom() { c.chat.Disconnect() }

// DriverProximity reports how far the driver is from the pickup station.
func (c *Controller) DriverProximity() (location.Proximity, bool) {
	s := c.machine.Snapshot()
	pickup, ok := c.machine.Pricing().Station(s.Origin)
	if !ok || s.Status == matching.StatusNone {
		return location.Proximity{}, false
	}
	return c.relay.ProximityTo(pickup.Coord)
}

// Close stops polling and releases the connection.
func (c *Controller) Close() {
	c.machine.Close()
	c.chat.Disconnect()
}

func (c *Controller) onMatched(rideRequestID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.chat.Connect(ctx, rideRequestID); err != nil {
		c.logger.Warn("chat connect after match failed", "ride_request_id", rideRequestID, "error", err)
		c.presenter.ShowError(err.Error())
	}
	c.presenter.NavigateToChat(rideRequestID)
}

// The room only lives while the session is MATCHED or RIDING.
func (c *Controller) onRatingPrompt(rideRequestID int64) {
	c.chat.Disconnect()
	c.presenter.ShowRatingPrompt(rideRequestID)
}

func (c *Controller) onSettlement(rideRequestID int64, points int) {
	c.chat.Disconnect()
	c.presenter.ShowSettlement(rideRequestID, points)
}

func (c *Controller) onReset() {
	c.chat.Disconnect()
	c.relay.Clear()
}

// onRoomClosed runs on the chat read goroutine. Only the driver leaving
// closes the room for both parties; a passenger leaving shows up as a
// notice in the driver's log instead.
func (c *Controller) onRoomClosed(rc chat.RoomClosed) {
	c.logger.Info("chat room closed", "room", rc.Room, "driver_left", rc.DriverLeft, "reason", rc.Reason)
	if rc.DriverLeft {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.machine.NotifyLeft(ctx)
		cancel()
	}
	c.machine.ForceReset("room closed")
	reason := rc.Reason
	if reason == "" {
		reason = "the chat room was closed"
	}
	c.presenter.NavigateHome(reason)
}

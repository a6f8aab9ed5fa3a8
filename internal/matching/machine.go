package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
)

var ErrInvalidRating = errors.New("matching: rating must be between 1 and 5")

// MatchRequest is the body of a match request.
type MatchRequest struct {
	StartPoint  int       `json:"startPoint"`
	EndPoint    int       `json:"endPoint"`
	RequestTime time.Time `json:"requestTime"`
}

// API is the matching backend: the REST actions and the status query.
type API interface {
	RequestMatch(ctx context.Context, req MatchRequest) (string, error)
	CancelMatch(ctx context.Context, key string) error
	Status(ctx context.Context, key string) (StatusReport, error)
	AgreeToStart(ctx context.Context, rideRequestID int64) error
	CompleteRide(ctx context.Context, rideRequestID int64) error
	LeaveMatch(ctx context.Context, rideRequestID int64) error
	SubmitReview(ctx context.Context, rideRequestID int64, rating int) error
}

// TransitionSink receives every applied transition. Publishing failures
// are logged and otherwise ignored.
type TransitionSink interface {
	Publish(ctx context.Context, t models.Transition) error
}

// Hooks are the side effects of transitions. They run after the machine's
// lock is released, on the goroutine that caused the transition.
type Hooks struct {
	OnMatched      func(rideRequestID int64)
	OnRatingPrompt func(rideRequestID int64)
	OnSettlement   func(rideRequestID int64, points int)
	OnReset        func()
	OnChange       func(Session)
}

type Options struct {
	API          API
	Role         models.Role
	Pricing      *Pricing
	PollInterval time.Duration
	// RequestTimeout bounds each status query.
	RequestTimeout time.Duration
	Sink           TransitionSink
	Hooks          Hooks
	Logger         *slog.Logger
}

// Machine drives one matching session: it applies user actions and polled
// status reports through Transition, runs the status poller while the
// session is in a polling state, and fires the hooks for each effect.
type Machine struct {
	api            API
	pricing        *Pricing
	interval       time.Duration
	requestTimeout time.Duration
	sink           TransitionSink
	hooks          Hooks
	logger         *slog.Logger

	mu         sync.Mutex
	sess       Session
	pollGen    uint64
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	closed     bool
}

func NewMachine(opts Options) *Machine {
	if opts.Pricing == nil {
		opts.Pricing = DefaultPricing()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Machine{
		api:            opts.API,
		pricing:        opts.Pricing,
		interval:       opts.PollInterval,
		requestTimeout: opts.RequestTimeout,
		sink:           opts.Sink,
		hooks:          opts.Hooks,
		logger:         logging.OrDefault(opts.Logger).With("component", "matching", "role", string(opts.Role)),
		sess:           Session{Role: opts.Role},
	}
}

// Snapshot returns the current session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Polling reports whether the status poller is running.
func (m *Machine) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCancel != nil
}

// Pricing returns the station and price table in use.
func (m *Machine) Pricing() *Pricing { return m.pricing }

// RequestMatch starts a session for the station pair. The session enters
// REQUESTED before the backend call and reverts to NONE if it fails.
func (m *Machine) RequestMatch(ctx context.Context, origin, destination int) error {
	if err := m.pricing.Validate(origin, destination); err != nil {
		return err
	}
	key := MatchingKey(origin, destination)
	res, err := m.apply(Event{Kind: EventRequestMatch, Key: key, Origin: origin, Destination: destination}, "request a match")
	if err != nil {
		return err
	}
	gen := res.gen

	serverKey, err := m.api.RequestMatch(ctx, MatchRequest{StartPoint: origin, EndPoint: destination, RequestTime: time.Now().UTC()})
	if err != nil {
		m.logger.Warn("match request failed", "key", key, "error", err)
		m.revert(gen, key)
		return fmt.Errorf("request match: %w", err)
	}
	if serverKey != "" && serverKey != key {
		m.mu.Lock()
		if m.pollGen == gen && m.sess.Key == key {
			m.sess.Key = serverKey
		}
		m.mu.Unlock()
	}
	m.logger.Info("match requested", "key", key)
	return nil
}

// revert undoes a request whose backend call failed, unless the session
// has moved on since.
func (m *Machine) revert(gen uint64, key string) {
	m.mu.Lock()
	stale := m.pollGen != gen || m.sess.Key != key || m.sess.Status != StatusRequested
	m.mu.Unlock()
	if stale {
		return
	}
	m.ForceReset("match request failed")
}

// Cancel withdraws a pending request.
func (m *Machine) Cancel(ctx context.Context) error {
	s, err := m.require("cancel", StatusRequested)
	if err != nil {
		return err
	}
	if err := m.api.CancelMatch(ctx, s.Key); err != nil {
		return fmt.Errorf("cancel match: %w", err)
	}
	_, err = m.apply(Event{Kind: EventCancel}, "cancel")
	return err
}

// AgreeToStart confirms boarding after a match.
func (m *Machine) AgreeToStart(ctx context.Context) error {
	s, err := m.require("agree to start", StatusMatched)
	if err != nil {
		return err
	}
	if err := m.api.AgreeToStart(ctx, s.RideRequestID); err != nil {
		return fmt.Errorf("agree to start: %w", err)
	}
	_, err = m.apply(Event{Kind: EventAgreeToStart}, "agree to start")
	return err
}

// CompleteRide tells the backend the ride is over. The session reaches
// COMPLETED through the next polled status.
func (m *Machine) CompleteRide(ctx context.Context) error {
	s, err := m.require("complete the ride", StatusRiding)
	if err != nil {
		return err
	}
	if err := m.api.CompleteRide(ctx, s.RideRequestID); err != nil {
		return fmt.Errorf("complete ride: %w", err)
	}
	m.logger.Info("ride completion sent", "ride_request_id", s.RideRequestID)
	return nil
}

// Leave abandons a matched or riding session. The session is reset even
// when the backend call fails; that error is returned.
func (m *Machine) Leave(ctx context.Context) error {
	s, err := m.require("leave", StatusMatched, StatusRiding)
	if err != nil {
		return err
	}
	apiErr := m.api.LeaveMatch(ctx, s.RideRequestID)
	if apiErr != nil {
		m.logger.Warn("leave match failed", "ride_request_id", s.RideRequestID, "error", apiErr)
		apiErr = fmt.Errorf("leave match: %w", apiErr)
	}
	m.ForceReset("left the ride")
	return apiErr
}

// NotifyLeft tells the backend the local user is out of the ride without
// changing local state. Used when the room was closed by the other side.
func (m *Machine) NotifyLeft(ctx context.Context) {
	s := m.Snapshot()
	if s.RideRequestID == 0 {
		return
	}
	if err := m.api.LeaveMatch(ctx, s.RideRequestID); err != nil {
		m.logger.Warn("leave match after room closed failed", "ride_request_id", s.RideRequestID, "error", err)
	}
}

// Acknowledge dismisses the completion prompt and returns to NONE.
func (m *Machine) Acknowledge() error {
	_, err := m.apply(Event{Kind: EventAcknowledge}, "acknowledge")
	return err
}

// SubmitRating posts the passenger's review and acknowledges completion.
func (m *Machine) SubmitRating(ctx context.Context, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	s, err := m.require("submit a rating", StatusCompleted)
	if err != nil {
		return err
	}
	if s.Role != models.RolePassenger {
		return &StateConflict{Action: "submit a rating as " + string(s.Role), State: s.Status}
	}
	if err := m.api.SubmitReview(ctx, s.RideRequestID, rating); err != nil {
		return fmt.Errorf("submit review: %w", err)
	}
	return m.Acknowledge()
}

// ForceReset returns to NONE from any state.
func (m *Machine) ForceReset(reason string) {
	m.logger.Info("matching reset", "reason", reason)
	_, _ = m.apply(Event{Kind: EventForceReset}, "reset")
}

// ApplyStatus feeds one status report into the machine. Reports that do not
// apply to the current state are ignored.
func (m *Machine) ApplyStatus(r StatusReport) {
	_, _ = m.apply(Event{Kind: EventServerStatus, Report: r}, "")
}

// Close stops the poller and waits for it to exit.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	done := m.stopPollerLocked()
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Machine) require(action string, allowed ...Status) (Session, error) {
	s := m.Snapshot()
	for _, st := range allowed {
		if s.Status == st {
			return s, nil
		}
	}
	return s, &StateConflict{Action: action, State: s.Status}
}

type applied struct {
	Result
	gen uint64
}

// apply runs one event through Transition. A user action (non-empty
// action) that does not apply is a StateConflict; anything else that does
// not apply is a no-op.
func (m *Machine) apply(ev Event, action string) (applied, error) {
	return m.applyGen(ev, action, 0)
}

// applyGen is apply, restricted to poller generation gen when gen is
// non-zero.
func (m *Machine) applyGen(ev Event, action string, gen uint64) (applied, error) {
	m.mu.Lock()
	if gen != 0 && m.pollGen != gen {
		m.mu.Unlock()
		m.logger.Debug("dropping status from superseded poller", "status", ev.Report.Code)
		return applied{Result: noop(Session{})}, nil
	}
	prev := m.sess
	res := Transition(prev, ev)
	if !res.Applied {
		m.mu.Unlock()
		if action != "" && ev.Kind != EventServerStatus {
			return applied{Result: res}, &StateConflict{Action: action, State: prev.Status}
		}
		return applied{Result: res}, nil
	}
	next := res.Next
	for _, eff := range res.Effects {
		if eff == EffectSettlementDue {
			next.Points = m.pricing.Points(next.Origin, next.Destination)
		}
	}
	m.sess = next
	m.syncPollerLocked(prev.Status)
	cur := m.pollGen
	m.mu.Unlock()

	if prev.Status != next.Status {
		observability.MatchingTransitions.WithLabelValues(prev.Status.String(), next.Status.String()).Inc()
		m.logger.Info("matching transition", "event", ev.Kind.String(), "from", prev.Status.String(), "to", next.Status.String(), "key", next.Key, "ride_request_id", next.RideRequestID)
	}
	m.publish(prev, next, ev)
	m.runEffects(prev, next, res.Effects)
	return applied{Result: Result{Next: next, Effects: res.Effects, Applied: true}, gen: cur}, nil
}

func (m *Machine) runEffects(prev, next Session, effects []Effect) {
	for _, eff := range effects {
		switch eff {
		case EffectNavigateToChat:
			if m.hooks.OnMatched != nil {
				m.hooks.OnMatched(next.RideRequestID)
			}
		case EffectRatingPrompt:
			if m.hooks.OnRatingPrompt != nil {
				m.hooks.OnRatingPrompt(next.RideRequestID)
			}
		case EffectSettlementDue:
			observability.SettlementPoints.Add(float64(next.Points))
			if m.hooks.OnSettlement != nil {
				m.hooks.OnSettlement(next.RideRequestID, next.Points)
			}
		case EffectReset:
			if m.hooks.OnReset != nil {
				m.hooks.OnReset()
			}
		}
	}
	if m.hooks.OnChange != nil && prev != next {
		m.hooks.OnChange(next)
	}
}

func (m *Machine) publish(prev, next Session, ev Event) {
	if m.sink == nil || prev.Status == next.Status {
		return
	}
	key, rid := next.Key, next.RideRequestID
	if key == "" {
		key, rid = prev.Key, prev.RideRequestID
	}
	t := models.Transition{
		SessionKey:    key,
		RideRequestID: rid,
		Role:          next.Role,
		From:          prev.Status.String(),
		To:            next.Status.String(),
		Event:         ev.Kind.String(),
		Points:        next.Points,
		At:            time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	defer cancel()
	if err := m.sink.Publish(ctx, t); err != nil {
		m.logger.Warn("publish transition failed", "key", key, "error", err)
	}
}

// syncPollerLocked starts or stops the poller to match the session state.
// A new session (re-entering REQUESTED) gets a fresh poller.
func (m *Machine) syncPollerLocked(prev Status) {
	want := m.sess.Status.Polling() && !m.closed
	restart := m.sess.Status == StatusRequested && prev != StatusRequested
	if m.pollCancel != nil && (!want || restart) {
		m.stopPollerLocked()
	}
	if want && m.pollCancel == nil {
		m.startPollerLocked()
	}
}

func (m *Machine) startPollerLocked() {
	m.pollGen++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.pollCancel = cancel
	m.pollDone = done
	go m.poll(ctx, m.pollGen, m.sess.Key, done)
}

// stopPollerLocked cancels the poller without waiting; the poller takes the
// lock to apply results, so waiting here would deadlock.
func (m *Machine) stopPollerLocked() chan struct{} {
	if m.pollCancel == nil {
		return nil
	}
	m.pollCancel()
	done := m.pollDone
	m.pollCancel = nil
	m.pollDone = nil
	m.pollGen++
	return done
}

func (m *Machine) poll(ctx context.Context, gen uint64, key string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		current := m.sess.Key
		m.mu.Unlock()
		if current != "" {
			key = current
		}

		qctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		report, err := m.api.Status(qctx, key)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.StatusPolls.WithLabelValues("error").Inc()
			m.logger.Warn("status query failed", "key", key, "error", err)
			continue
		}
		observability.StatusPolls.WithLabelValues("ok").Inc()
		m.applyPolled(gen, report)
	}
}

// applyPolled drops reports from a poller that has been superseded.
func (m *Machine) applyPolled(gen uint64, r StatusReport) {
	_, _ = m.applyGen(Event{Kind: EventServerStatus, Report: r}, "", gen)
}

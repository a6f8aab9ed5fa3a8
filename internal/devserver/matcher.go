package devserver

import (
	"errors"
	"sync"

	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
)

var (
	ErrNoRide      = errors.New("ride request not found")
	ErrNotInRide   = errors.New("not a participant of this ride")
	ErrRideEnded   = errors.New("ride already ended")
	ErrNotRiding   = errors.New("ride has not started")
	ErrBadRating   = errors.New("rating must be between 1 and 5")
	ErrNotComplete = errors.New("ride is not completed")
	ErrMatched     = errors.New("request already matched")
)

type rideState int

const (
	rideMatched rideState = iota
	rideRiding
	rideCompleted
	rideClosed
)

type ride struct {
	id          int64
	key         string
	passenger   string
	driver      string
	origin      int
	destination int
	state       rideState
	agreed      map[string]bool
}

func (r *ride) has(user string) bool { return user == r.passenger || user == r.driver }

// entry is one user's current request.
type entry struct {
	key  string
	role models.Role
	ride *ride
}

type Review struct {
	RideRequestID int64
	Author        string
	Rating        int
}

// Matcher pairs one passenger and one driver that request the same station
// pair. There is no scoring: the first counterpart waiting on the key wins.
type Matcher struct {
	mu      sync.Mutex
	nextID  int64
	users   map[string]*entry
	waiting map[string]map[models.Role]string
	rides   map[int64]*ride
	reviews []Review
}

func NewMatcher() *Matcher {
	return &Matcher{
		users:   make(map[string]*entry),
		waiting: make(map[string]map[models.Role]string),
		rides:   make(map[int64]*ride),
	}
}

// Request registers user on the station pair and pairs them when a
// counterpart is waiting. A new request replaces the user's previous one.
func (m *Matcher) Request(user string, role models.Role, origin, destination int) string {
	key := matching.MatchingKey(origin, destination)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropWaitingLocked(user)
	m.users[user] = &entry{key: key, role: role}

	other := models.RoleDriver
	if role == models.RoleDriver {
		other = models.RolePassenger
	}
	peer, ok := m.waiting[key][other]
	if !ok {
		if m.waiting[key] == nil {
			m.waiting[key] = make(map[models.Role]string)
		}
		m.waiting[key][role] = user
		return key
	}
	delete(m.waiting[key], other)

	m.nextID++
	r := &ride{
		id:          m.nextID,
		key:         key,
		origin:      origin,
		destination: destination,
		agreed:      make(map[string]bool),
	}
	if role == models.RolePassenger {
		r.passenger, r.driver = user, peer
	} else {
		r.passenger, r.driver = peer, user
	}
	m.rides[r.id] = r
	m.users[user].ride = r
	if e, ok := m.users[peer]; ok {
		e.ride = r
	}
	return key
}

func (m *Matcher) dropWaitingLocked(user string) {
	e, ok := m.users[user]
	if !ok || e.ride != nil {
		return
	}
	if m.waiting[e.key][e.role] == user {
		delete(m.waiting[e.key], e.role)
	}
}

// Cancel withdraws a waiting request.
func (m *Matcher) Cancel(user, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[user]
	if !ok || e.key != key {
		return ErrNoRide
	}
	if e.ride != nil && e.ride.state != rideClosed {
		return ErrMatched
	}
	m.dropWaitingLocked(user)
	delete(m.users, user)
	return nil
}

// Status answers the status query for user's request on key.
func (m *Matcher) Status(user, key string) matching.StatusReport {
	none := matching.StatusReport{Code: matching.CodeNoRequest, RideRequestID: -1}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[user]
	if !ok || e.key != key {
		return none
	}
	if e.ride == nil {
		return matching.StatusReport{Code: matching.CodeRequested, RideRequestID: -1}
	}
	switch e.ride.state {
	case rideMatched, rideRiding:
		return matching.StatusReport{Code: matching.CodeMatched, RideRequestID: e.ride.id}
	case rideCompleted:
		return matching.StatusReport{Code: matching.CodeCompleted, RideRequestID: e.ride.id}
	}
	return none
}

func (m *Matcher) rideFor(user string, id int64) (*ride, error) {
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNoRide
	}
	if !r.has(user) {
		return nil, ErrNotInRide
	}
	return r, nil
}

// Agree records that user is on board. The ride starts once both agree.
func (m *Matcher) Agree(user string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rideFor(user, id)
	if err != nil {
		return err
	}
	if r.state != rideMatched && r.state != rideRiding {
		return ErrRideEnded
	}
	r.agreed[user] = true
	if r.agreed[r.passenger] && r.agreed[r.driver] {
		r.state = rideRiding
	}
	return nil
}

// Complete finishes a ride both parties agreed to start.
func (m *Matcher) Complete(user string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rideFor(user, id)
	if err != nil {
		return err
	}
	switch r.state {
	case rideCompleted:
		return nil
	case rideClosed:
		return ErrRideEnded
	}
	if r.state != rideRiding {
		return ErrNotRiding
	}
	r.state = rideCompleted
	return nil
}

// Leave closes the ride for both parties. Leaving a closed ride is a no-op.
func (m *Matcher) Leave(user string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rideFor(user, id)
	if err != nil {
		return err
	}
	if r.state != rideCompleted {
		r.state = rideClosed
	}
	if e, ok := m.users[user]; ok && e.ride == r {
		delete(m.users, user)
	}
	return nil
}

func (m *Matcher) Review(user string, id int64, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrBadRating
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rideFor(user, id)
	if err != nil {
		return err
	}
	if r.state != rideCompleted {
		return ErrNotComplete
	}
	m.reviews = append(m.reviews, Review{RideRequestID: id, Author: user, Rating: rating})
	return nil
}

func (m *Matcher) Reviews() []Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Review, len(m.reviews))
	copy(out, m.reviews)
	return out
}

// Member reports whether user belongs to an open ride, and their role in it.
func (m *Matcher) Member(user string, id int64) (models.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok || r.state == rideClosed || !r.has(user) {
		return "", false
	}
	if user == r.driver {
		return models.RoleDriver, true
	}
	return models.RolePassenger, true
}

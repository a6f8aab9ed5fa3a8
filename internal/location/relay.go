package location

import (
	"sync"
	"time"

	"github.com/example/ride-session/internal/models"
)

// DeviceLocator reports the device's current position, if known.
type DeviceLocator interface {
	CurrentLocation() (models.Coord, bool)
}

// DeviceFunc adapts a function to DeviceLocator.
type DeviceFunc func() (models.Coord, bool)

func (f DeviceFunc) CurrentLocation() (models.Coord, bool) { return f() }

// Relay piggybacks the driver's position on outgoing chat messages and
// keeps the last position a passenger received. Last write wins.
type Relay struct {
	role      models.Role
	device    DeviceLocator
	estimator Estimator

	mu      sync.RWMutex
	driver  *models.Coord
	updated time.Time
}

// NewRelay builds a relay for the local role. device may be nil for
// passengers; estimator may be nil, in which case ETAs use NaiveEstimator.
func NewRelay(role models.Role, device DeviceLocator, estimator Estimator) *Relay {
	if estimator == nil {
		estimator = NaiveEstimator{}
	}
	return &Relay{role: role, device: device, estimator: estimator}
}

// OutgoingCoordinate is the coordinate to attach to a message we send.
func (r *Relay) OutgoingCoordinate() *models.Coord {
	if r.role != models.RoleDriver || r.device == nil {
		return nil
	}
	c, ok := r.device.CurrentLocation()
	if !ok {
		return nil
	}
	return &c
}

// Observe records a coordinate carried by an inbound message. Only
// passengers track the driver; it reports whether the position changed.
func (r *Relay) Observe(c *models.Coord) bool {
	if c == nil || r.role != models.RolePassenger {
		return false
	}
	cp := *c
	r.mu.Lock()
	r.driver = &cp
	r.updated = time.Now()
	r.mu.Unlock()
	return true
}

// Driver returns the last known driver position.
func (r *Relay) Driver() (models.Coord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.driver == nil {
		return models.Coord{}, false
	}
	return *r.driver, true
}

// UpdatedAt is when Driver last changed.
func (r *Relay) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}

func (r *Relay) Clear() {
	r.mu.Lock()
	r.driver = nil
	r.updated = time.Time{}
	r.mu.Unlock()
}

// Proximity describes how far the driver is from a point.
type Proximity struct {
	DistanceMeters float64
	ETASeconds     float64
}

// ProximityTo reports the driver's distance and ETA to target.
func (r *Relay) ProximityTo(target models.Coord) (Proximity, bool) {
	d, ok := r.Driver()
	if !ok {
		return Proximity{}, false
	}
	p := Proximity{DistanceMeters: Haversine(d.Lat, d.Lon, target.Lat, target.Lon)}
	eta, err := r.estimator.EstimateSeconds(d, target)
	if err != nil {
		eta = NaiveEstimator{}.estimate(d, target)
	}
	p.ETASeconds = eta
	return p, true
}

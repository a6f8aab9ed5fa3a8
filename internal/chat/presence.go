package chat

import (
	"sync"

	"github.com/example/ride-session/internal/models"
)

// PresenceTracker holds the last participant set the server reported for
// the active room. Every update replaces the set wholesale.
type PresenceTracker struct {
	mu    sync.RWMutex
	room  string
	users []models.Participant
}

func NewPresenceTracker() *PresenceTracker { return &PresenceTracker{} }

func (p *PresenceTracker) Replace(room string, users []models.Participant) {
	cp := make([]models.Participant, len(users))
	copy(cp, users)
	p.mu.Lock()
	p.room = room
	p.users = cp
	p.mu.Unlock()
}

func (p *PresenceTracker) Participants() []models.Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Participant, len(p.users))
	copy(out, p.users)
	return out
}

func (p *PresenceTracker) Room() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.room
}

// RoleOf returns the role of a named participant.
func (p *PresenceTracker) RoleOf(name string) (models.Role, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if u.Name == name {
			return u.Role, true
		}
	}
	return "", false
}

func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	p.room = ""
	p.users = nil
	p.mu.Unlock()
}

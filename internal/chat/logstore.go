package chat

import (
	"context"
	"strconv"
	"sync"

	"github.com/example/ride-session/internal/models"
)

// LogStore keeps each room's message log for the life of the process,
// independent of which screen or connection is active. Storage order is
// arrival order; Get returns newest-first for display.
type LogStore interface {
	// Append adds msg unless it duplicates one already logged, and reports
	// whether it was added.
	Append(ctx context.Context, room string, msg models.ChatMessage) (bool, error)
	// Replace swaps the room's log for an authoritative snapshot given in
	// arrival order.
	Replace(ctx context.Context, room string, msgs []models.ChatMessage) error
	Get(ctx context.Context, room string) ([]models.ChatMessage, error)
}

// dedupKeys identifies a message by id and by sender+body+timestamp.
// Messages with neither an id nor a timestamp are never deduplicated.
func dedupKeys(m models.ChatMessage) []string {
	keys := make([]string, 0, 2)
	if m.ID != "" {
		keys = append(keys, "id:"+m.ID)
	}
	if !m.SentAt.IsZero() {
		keys = append(keys, "c:"+m.Sender+"\x00"+m.Body+"\x00"+strconv.FormatInt(m.SentAt.UnixNano(), 10))
	}
	return keys
}

// newestFirst returns a reversed copy.
func newestFirst(msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

type roomLog struct {
	msgs []models.ChatMessage
	seen map[string]struct{}
}

func (l *roomLog) add(m models.ChatMessage) bool {
	keys := dedupKeys(m)
	for _, k := range keys {
		if _, dup := l.seen[k]; dup {
			return false
		}
	}
	for _, k := range keys {
		l.seen[k] = struct{}{}
	}
	l.msgs = append(l.msgs, m)
	return true
}

// MemoryLogStore is the default in-process LogStore.
type MemoryLogStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomLog
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{rooms: make(map[string]*roomLog)}
}

func (s *MemoryLogStore) Append(_ context.Context, room string, msg models.ChatMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rooms[room]
	if !ok {
		l = &roomLog{seen: make(map[string]struct{})}
		s.rooms[room] = l
	}
	return l.add(msg), nil
}

func (s *MemoryLogStore) Replace(_ context.Context, room string, msgs []models.ChatMessage) error {
	l := &roomLog{msgs: make([]models.ChatMessage, 0, len(msgs)), seen: make(map[string]struct{}, len(msgs))}
	for _, m := range msgs {
		l.add(m)
	}
	s.mu.Lock()
	s.rooms[room] = l
	s.mu.Unlock()
	return nil
}

func (s *MemoryLogStore) Get(_ context.Context, room string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.rooms[room]
	if !ok {
		return nil, nil
	}
	return newestFirst(l.msgs), nil
}

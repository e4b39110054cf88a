package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrNotificationNotFound is returned by MarkRead for unknown ids.
var ErrNotificationNotFound = errors.New("notification not found")

// MemoryStore keeps notifications in memory. Used for tests and local
// dev.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*Notification)}
}

func (s *MemoryStore) Create(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &cp)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byUser[userID]
	out := make([]*Notification, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byUser[userID] {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

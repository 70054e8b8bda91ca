package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

// MemoryStore keeps messages in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	order    []uuid.UUID
	messages map[uuid.UUID]*message.Message
	max      int
}

// NewMemoryStore returns a store holding at most max messages; the oldest
// are evicted first. max <= 0 means unbounded.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID]*message.Message), max: max}
}

// Store implements Store.
func (s *MemoryStore) Store(m *message.Message) error {
	if m == nil || m.ID == uuid.Nil {
		return ErrInvalid
	}
	cp := *m

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.messages[m.ID] = &cp
	s.evictLocked()
	return nil
}

func (s *MemoryStore) evictLocked() {
	if s.max <= 0 {
		return
	}
	for len(s.order) > s.max {
		delete(s.messages, s.order[0])
		s.order = s.order[1:]
	}
}

// Get implements Store.
func (s *MemoryStore) Get(id uuid.UUID) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// GetAll implements Store.
func (s *MemoryStore) GetAll() ([]*message.Message, error) {
	return s.filter(func(*message.Message) bool { return true }), nil
}

// Search implements Store.
func (s *MemoryStore) Search(query string) ([]*message.Message, error) {
	q := strings.ToLower(query)
	return s.filter(func(m *message.Message) bool {
		return strings.Contains(strings.ToLower(m.Content()), q)
	}), nil
}

func (s *MemoryStore) filter(keep func(*message.Message) bool) []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Message, 0, len(s.order))
	for _, id := range s.order {
		m := s.messages[id]
		if keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

// Delete implements Store.
func (s *MemoryStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(id uuid.UUID, status message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	return nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if s.messages[id].Timestamp.Before(cutoff) {
			delete(s.messages, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// Reset removes every message.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.messages = make(map[uuid.UUID]*message.Message)
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

var _ Store = (*MemoryStore)(nil)

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/replydesk/internal/models"
)

// MemoryStorage keeps claims in process memory. The invariant only holds
// within one process; use a database driver when several instances serve
// the same inbox.
type MemoryStorage struct {
	mu          sync.RWMutex
	assignments map[models.Key]*models.Assignment
	byThread    map[string]map[string]struct{}
	messages    map[string][]*models.Message
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		assignments: make(map[models.Key]*models.Assignment),
		byThread:    make(map[string]map[string]struct{}),
		messages:    make(map[string][]*models.Message),
	}
}

func (s *MemoryStorage) Claim(ctx context.Context, a models.Assignment) (models.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assignments[a.Key()]; ok && existing.IsActive && existing.AssignedTo != a.AssignedTo {
		return *existing, false, nil
	}

	s.put(a)
	return a, true, nil
}

func (s *MemoryStorage) Replace(ctx context.Context, a models.Assignment) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous *models.Assignment
	if existing, ok := s.assignments[a.Key()]; ok {
		prev := *existing
		previous = &prev
	}

	s.put(a)
	return previous, nil
}

func (s *MemoryStorage) put(a models.Assignment) {
	stored := a
	s.assignments[a.Key()] = &stored

	ids, ok := s.byThread[a.ThreadID]
	if !ok {
		ids = make(map[string]struct{})
		s.byThread[a.ThreadID] = ids
	}
	ids[a.MessageID] = struct{}{}
}

func (s *MemoryStorage) Release(ctx context.Context, key models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assignments[key]; ok {
		existing.IsActive = false
	}
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, key models.Key) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.assignments[key]
	if !ok {
		return nil, nil
	}
	a := *existing
	return &a, nil
}

func (s *MemoryStorage) ActiveByThread(ctx context.Context, threadID string) ([]models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Assignment
	for messageID := range s.byThread[threadID] {
		a := s.assignments[models.Key{ThreadID: threadID, MessageID: messageID}]
		if a != nil && a.IsActive {
			out = append(out, *a)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, a := range s.assignments {
		if !a.AssignedAt.Before(cutoff) {
			continue
		}
		delete(s.assignments, key)
		if ids, ok := s.byThread[key.ThreadID]; ok {
			delete(ids, key.MessageID)
			if len(ids) == 0 {
				delete(s.byThread, key.ThreadID)
			}
		}
		removed++
	}
	return removed, nil
}

func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	return nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// sortNewestFirst orders claims by AssignedAt descending, then MessageID.
func sortNewestFirst(as []models.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].AssignedAt.Equal(as[j].AssignedAt) {
			return as[i].AssignedAt.After(as[j].AssignedAt)
		}
		return as[i].MessageID < as[j].MessageID
	})
}

package fraud

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/mbd888/fraudgate/internal/pagination"
)

// MemoryStore is an in-memory Store used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Assessment
	byUser map[string][]*Assessment
}

// NewMemoryStore creates an empty in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Assessment),
		byUser: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	c := a.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[c.ID] = c
	s.byUser[c.UserID] = append(s.byUser[c.UserID], c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Assessment
	for _, a := range s.byUser[userID] {
		if cursor == nil || before(a, cursor) {
			matched = append(matched, a)
		}
	}
	// Writes land asynchronously, so insertion order is not evaluation order.
	slices.SortFunc(matched, func(x, y *Assessment) int {
		if c := y.EvaluatedAt.Compare(x.EvaluatedAt); c != 0 {
			return c
		}
		return strings.Compare(y.ID, x.ID)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*Assessment, len(matched))
	for i, a := range matched {
		result[i] = a.clone()
	}
	return result, nil
}

// before reports whether a sorts after the cursor position in newest-first
// order, i.e. (evaluatedAt, id) is strictly smaller.
func before(a *Assessment, c *pagination.Cursor) bool {
	if a.EvaluatedAt.Equal(c.At) {
		return a.ID < c.ID
	}
	return a.EvaluatedAt.Before(c.At)
}

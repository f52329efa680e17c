package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/Cheese-matchd/internal/session"
)

// MemoryRepository keeps results in process. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]session.Record
	byUser map[string][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]session.Record),
		byUser: make(map[string][]string),
	}
}

func (m *MemoryRepository) SaveResult(_ context.Context, rec session.Record) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return ErrEmptyRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[rec.SessionID]; exists {
		return nil
	}
	m.byID[rec.SessionID] = rec
	for _, id := range []string{rec.White.ID, rec.Black.ID} {
		if id != "" {
			m.byUser[id] = append(m.byUser[id], rec.SessionID)
		}
	}
	return nil
}

func (m *MemoryRepository) Get(sessionID string) (session.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[sessionID]
	return rec, ok
}

// Recent returns userID's games, most recently finished first.
func (m *MemoryRepository) Recent(userID string, limit int) []session.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[userID]
	items := make([]session.Record, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.byID[id])
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].FinishedAt.After(items[j].FinishedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Package store provides an in-memory ban store for tests and for running
// without a database.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// MemoryStore provides an in-memory BanStore implementation.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextBanID int64
	bansByID  map[int64]*model.Ban
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock, used to
// default CreatedAt.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:       now,
		nextBanID: 1,
		bansByID:  make(map[int64]*model.Ban),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateBan validates and stores a copy of ban.
func (s *MemoryStore) CreateBan(_ context.Context, ban *model.Ban) (*model.Ban, error) {
	if err := ban.Validate(); err != nil {
		return nil, fmt.Errorf("store: create ban: %w", err)
	}
	stored := *ban
	stored.Normalize(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	stored.ID = s.nextBanID
	s.nextBanID++
	s.bansByID[stored.ID] = &stored

	out := stored
	return &out, nil
}

// FindActiveBan returns the active ban for subjectID that expires last.
func (s *MemoryStore) FindActiveBan(_ context.Context, subjectID string, now time.Time) (*model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Ban
	for _, ban := range s.bansByID {
		if ban.SubjectID != subjectID || !ban.ActiveAt(now) {
			continue
		}
		if found == nil || ban.ExpiresAt.After(found.ExpiresAt) {
			found = ban
		}
	}
	if found == nil {
		return nil, nil
	}
	out := *found
	return &out, nil
}

// FindBans returns the bans selected by match, ordered by id.
func (s *MemoryStore) FindBans(_ context.Context, match model.BanMatch) ([]model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(match.Matches), nil
}

// ListBans returns all bans ordered by id.
func (s *MemoryStore) ListBans(_ context.Context) ([]model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*model.Ban) bool { return true }), nil
}

// DeleteBans removes every ban selected by match.
func (s *MemoryStore) DeleteBans(_ context.Context, match model.BanMatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ban := range s.bansByID {
		if match.Matches(ban) {
			delete(s.bansByID, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) collect(keep func(*model.Ban) bool) []model.Ban {
	var result []model.Ban
	for _, ban := range s.bansByID {
		if keep(ban) {
			result = append(result, *ban)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Compile-time check: *MemoryStore implements BanStore.
var _ datastore.BanStore = (*MemoryStore)(nil)

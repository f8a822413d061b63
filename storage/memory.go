// Package storage provides in-memory result storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/clew/model"
)

// InMemoryStorage implements ResultStorage using in-memory maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	results  map[string]model.QueryResult
	sessions map[string][]string // session -> result IDs in save order
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		results:  make(map[string]model.QueryResult),
		sessions: make(map[string][]string),
	}
}

// Save stores a result.
func (s *InMemoryStorage) Save(ctx context.Context, result model.QueryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.results[result.ID]; ok {
		s.removeFromSession(old.SessionID, old.ID)
	}
	s.results[result.ID] = cloneResult(result)
	s.sessions[result.SessionID] = append(s.sessions[result.SessionID], result.ID)
	return nil
}

// Get returns a result by ID.
func (s *InMemoryStorage) Get(ctx context.Context, id string) (*model.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	if !ok {
		return nil, nil
	}
	copied := cloneResult(r)
	return &copied, nil
}

// ListBySession returns a session's results, newest first.
func (s *InMemoryStorage) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sessions[sessionID]
	out := make([]model.QueryResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneResult(s.results[id]))
	}
	// Save order breaks ties between equal timestamps.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// ListSessions lists all session IDs, most recently saved first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	latest := func(sessionID string) int64 {
		var ts int64
		for _, id := range s.sessions[sessionID] {
			ts = max(ts, s.results[id].CreatedAt.UnixNano())
		}
		return ts
	}
	sort.Slice(sessions, func(i, j int) bool {
		li, lj := latest(sessions[i]), latest(sessions[j])
		if li != lj {
			return li > lj
		}
		return sessions[i] < sessions[j]
	})
	return sessions, nil
}

// Delete removes one result.
func (s *InMemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[id]
	if !ok {
		return nil
	}
	delete(s.results, id)
	s.removeFromSession(r.SessionID, id)
	return nil
}

// DeleteSession removes all results for a session.
func (s *InMemoryStorage) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sessions[sessionID] {
		delete(s.results, id)
	}
	delete(s.sessions, sessionID)
	return nil
}

// Close is a no-op.
func (s *InMemoryStorage) Close() error {
	return nil
}

// removeFromSession must be called with mu held.
func (s *InMemoryStorage) removeFromSession(sessionID, id string) {
	ids := s.sessions[sessionID]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.sessions, sessionID)
		return
	}
	s.sessions[sessionID] = ids
}

// cloneResult copies the slices so callers cannot mutate stored state.
func cloneResult(r model.QueryResult) model.QueryResult {
	if r.Evidence != nil {
		r.Evidence = append([]model.Finding(nil), r.Evidence...)
	}
	if r.Synthesis != nil {
		syn := *r.Synthesis
		syn.KeyPoints = append([]string(nil), syn.KeyPoints...)
		r.Synthesis = &syn
	}
	return r
}

// Verify InMemoryStorage implements ResultStorage
var _ ResultStorage = (*InMemoryStorage)(nil)

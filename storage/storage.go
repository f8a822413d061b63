// Package storage provides query result storage.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Evidence and synthesis encoding encapsulated per backend

package storage

import (
	"context"

	"github.com/richinex/clew/model"
)

// DefaultListLimit bounds ListBySession when no limit is given.
const DefaultListLimit = 50

// ResultStorage stores finalized query results.
type ResultStorage interface {
	// Save stores a result, replacing any result with the same ID.
	Save(ctx context.Context, result model.QueryResult) error

	// Get returns a result by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*model.QueryResult, error)

	// ListBySession returns a session's results, newest first.
	// Returns empty slice (not nil) if the session has none.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]model.QueryResult, error)

	// ListSessions lists session IDs, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Delete removes one result.
	Delete(ctx context.Context, id string) error

	// DeleteSession removes a session and all its results.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases resources.
	Close() error
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

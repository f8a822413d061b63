// Package storage provides SQLite result storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and JSON column encoding encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/clew/model"
)

// SqliteStorage implements ResultStorage using SQLite.
// Evidence and synthesis are stored as JSON columns.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS query_results (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			query TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence TEXT NOT NULL,
			evidence TEXT NOT NULL,
			synthesis TEXT,
			chunks_analyzed INTEGER NOT NULL,
			chunks_failed INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			execution_time_ms INTEGER NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_query_results_session
		ON query_results(session_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores a result and touches its session.
func (s *SqliteStorage) Save(ctx context.Context, result model.QueryResult) error {
	evidence := result.Evidence
	if evidence == nil {
		evidence = []model.Finding{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	var synthesis, errText interface{}
	if result.Synthesis != nil {
		data, err := json.Marshal(result.Synthesis)
		if err != nil {
			return fmt.Errorf("failed to encode synthesis: %w", err)
		}
		synthesis = string(data)
	}
	if result.Error != "" {
		errText = result.Error
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = MAX(updated_at, excluded.updated_at)`,
		result.SessionID, createdAt.UnixNano(), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_results
		(id, session_id, query, status, confidence, evidence, synthesis,
		 chunks_analyzed, chunks_failed, iterations, execution_time_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.SessionID,
		result.Query,
		result.Status.String(),
		result.Confidence.String(),
		string(evidenceJSON),
		synthesis,
		result.ChunksAnalyzed,
		result.ChunksFailed,
		result.Iterations,
		result.ExecutionTimeMs,
		errText,
		createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const resultColumns = `id, session_id, query, status, confidence, evidence, synthesis,
	chunks_analyzed, chunks_failed, iterations, execution_time_ms, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanResult decodes one query_results row.
func scanResult(row rowScanner) (model.QueryResult, error) {
	var (
		r                  model.QueryResult
		status, confidence string
		evidence           string
		synthesis, errText sql.NullString
		createdAt          int64
	)
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.Query,
		&status,
		&confidence,
		&evidence,
		&synthesis,
		&r.ChunksAnalyzed,
		&r.ChunksFailed,
		&r.Iterations,
		&r.ExecutionTimeMs,
		&errText,
		&createdAt,
	)
	if err != nil {
		return model.QueryResult{}, err
	}

	parsed, err := model.ParseStatus(status)
	if err != nil {
		// Invalid status in database indicates data corruption or schema mismatch.
		return model.QueryResult{}, fmt.Errorf("invalid status %q in database: %w", status, err)
	}
	r.Status = parsed
	r.Confidence = model.ParseConfidence(confidence)
	r.CreatedAt = time.Unix(0, createdAt)

	if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
		return model.QueryResult{}, fmt.Errorf("failed to decode evidence: %w", err)
	}
	if synthesis.Valid {
		var syn model.Synthesis
		if err := json.Unmarshal([]byte(synthesis.String), &syn); err != nil {
			return model.QueryResult{}, fmt.Errorf("failed to decode synthesis: %w", err)
		}
		r.Synthesis = &syn
	}
	if errText.Valid {
		r.Error = errText.String
	}
	return r, nil
}

// Get returns a result by ID. Returns nil, nil if not found.
func (s *SqliteStorage) Get(ctx context.Context, id string) (*model.QueryResult, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+resultColumns+" FROM query_results WHERE id = ?", id)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &r, nil
}

// ListBySession returns a session's results, newest first.
func (s *SqliteStorage) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.QueryResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+resultColumns+` FROM query_results
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		sessionID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []model.QueryResult{} // Start with empty slice, not nil
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// ListSessions lists all session IDs.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC, session_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes one result.
func (s *SqliteStorage) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM query_results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its results.
func (s *SqliteStorage) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM query_results WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Verify SqliteStorage implements ResultStorage
var _ ResultStorage = (*SqliteStorage)(nil)

//go:build sqlite
// +build sqlite

package memqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements SnapshotStore using SQLite. It provides ACID
// writes and is suitable when the embedding application already ships a
// SQLite database. Requires CGO and the "sqlite" build tag.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite snapshot store. The database file
// will be created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// initSchema initializes the database schema.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		queue_name TEXT PRIMARY KEY,
		saved_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot stores the snapshot under its queue name, replacing any
// previous snapshot for that queue.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if snapshot.QueueName == "" {
		return fmt.Errorf("snapshot queue name is empty")
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (queue_name, saved_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(queue_name) DO UPDATE SET
			saved_at = excluded.saved_at,
			payload = excluded.payload
	`, snapshot.QueueName, snapshot.SavedAt.Unix(), encoded)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves the snapshot for a queue name.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, queueName string) (*Snapshot, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}
	if queueName == "" {
		return nil, fmt.Errorf("queue name is empty")
	}

	var encoded []byte
	var savedAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT saved_at, payload FROM snapshots WHERE queue_name = ?
	`, queueName).Scan(&savedAt, &encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, queueName)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = time.Unix(savedAt, 0)
	}
	return &snapshot, nil
}

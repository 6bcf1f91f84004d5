package memqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements SnapshotStore using BadgerDB. It survives process
// restarts without requiring CGO, which makes it the default choice for
// deployments that want their snapshot slot on disk.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

const keyPrefixSnapshot = "snapshot:"

func snapshotKey(queueName string) []byte {
	return []byte(keyPrefixSnapshot + queueName)
}

// NewBadgerStore creates a new BadgerDB snapshot store. The database
// directory will be created if it doesn't exist.
// Note: BadgerDB uses its own logger interface, so its internal logging is disabled.
func NewBadgerStore(dbPath string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable BadgerDB's internal logging (uses different logger interface)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// retryUpdate retries a BadgerDB update operation on transaction conflicts.
func (s *BadgerStore) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}

	if lastErr != nil {
		return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
	}
	return fmt.Errorf("transaction conflict after %d retries", maxRetries)
}

// SaveSnapshot stores the snapshot under its queue name, replacing any
// previous snapshot for that queue.
func (s *BadgerStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
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

	err = s.retryUpdate(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snapshot.QueueName), encoded)
	})
	if err != nil {
		s.logger.Debug("SaveSnapshot: update failed", "queue", snapshot.QueueName, "error", err)
		return err
	}
	return nil
}

// LoadSnapshot retrieves the snapshot for a queue name.
func (s *BadgerStore) LoadSnapshot(ctx context.Context, queueName string) (*Snapshot, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}
	if queueName == "" {
		return nil, fmt.Errorf("queue name is empty")
	}

	var encoded []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(queueName))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, queueName)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

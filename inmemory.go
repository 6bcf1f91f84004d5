package memqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryStore implements SnapshotStore using an in-process map. It uses
// a single mutex for thread-safety and is suitable for testing and for
// embedders that only want the persistence hooks exercised.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte // queue name -> encoded snapshot
	closed    bool
}

// NewInMemoryStore creates a new in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[string][]byte),
	}
}

// Close closes the store and prevents further operations.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SaveSnapshot stores the snapshot under its queue name.
func (s *InMemoryStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if snapshot.QueueName == "" {
		return fmt.Errorf("snapshot queue name is empty")
	}

	// Encode up front so stored state is decoupled from caller mutations.
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.snapshots[snapshot.QueueName] = encoded
	return nil
}

// LoadSnapshot retrieves the snapshot for a queue name.
func (s *InMemoryStore) LoadSnapshot(ctx context.Context, queueName string) (*Snapshot, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}
	if queueName == "" {
		return nil, fmt.Errorf("queue name is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	encoded, exists := s.snapshots[queueName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, queueName)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

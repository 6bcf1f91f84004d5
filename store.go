package memqueue

import (
	"context"
	"time"
)

// ProcessorPlaceholder replaces the processor function in snapshots.
// Functions are not serializable, which is why snapshot restoration never
// re-admits jobs.
const ProcessorPlaceholder = "[function]"

// JobSnapshot is the serializable view of a queued job.
type JobSnapshot struct {
	ID            string     `json:"id"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Data          []byte     `json:"data,omitempty"`
	Processor     string     `json:"processor"`
}

// Snapshot is the best-effort persisted state of a queue: its queued jobs
// (with processors replaced by a placeholder) and its stats at save time.
type Snapshot struct {
	QueueName  string        `json:"queue_name"`
	SavedAt    time.Time     `json:"saved_at"`
	QueuedJobs []JobSnapshot `json:"queued_jobs"`
	Stats      QueueStats    `json:"stats"`
}

// SnapshotStore is the persistence port for queue snapshots. The queue
// only needs get/set semantics on a slot keyed by queue name; any storage
// engine works. Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// SaveSnapshot stores the snapshot under its queue name, replacing
	// any previous snapshot for that queue.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LoadSnapshot retrieves the snapshot for a queue name.
	// Returns ErrSnapshotNotFound if none has been saved.
	LoadSnapshot(ctx context.Context, queueName string) (*Snapshot, error)

	// Close closes the store.
	Close() error
}

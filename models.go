// Package memqueue provides a memory-pressure-aware job queue for a single
// process. Jobs carry a caller-supplied processor function and a priority;
// the queue runs them under an adaptive concurrency ceiling that shrinks
// when process memory approaches configured thresholds, so a batch of
// resource-hungry jobs degrades throughput instead of getting the process
// OOM-killed.
//
// The library supports:
//   - Priority scheduling with FIFO ordering inside a priority band
//   - Bounded concurrency that adapts to live memory pressure
//   - Per-job execution timeouts and retry with exponential backoff
//   - Bounded history of terminal jobs (oldest-completion-first eviction)
//   - Best-effort state snapshotting to a pluggable store (in-memory,
//     BadgerDB, SQLite)
//   - Synchronous lifecycle events for embedding applications
//
// Example usage:
//
//	cfg := memqueue.DefaultConfig()
//	mem := memqueue.NewMemoryManager(cfg, nil, logger)
//	queue := memqueue.NewProcessingQueue(cfg, mem, memqueue.NewInMemoryStore(), logger)
//	defer queue.Close()
//
//	queue.AddJob(ctx, "convert-42", memqueue.Payload{Data: doc}, 5,
//	    func(ctx context.Context, p memqueue.Payload) ([]byte, error) {
//	        return convert(ctx, p.Data)
//	    })
package memqueue

import (
	"context"
	"errors"
	"time"
)

// JobStatus represents the status of a job in the queue.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting to be scheduled.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates the job's processor is currently running.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job exhausted its attempts.
	JobStatusFailed JobStatus = "failed"
)

// Sentinel errors surfaced by the queue and the snapshot stores.
var (
	ErrNilProcessor     = errors.New("processor is required")
	ErrJobNotFound      = errors.New("job not found")
	ErrQueueClosed      = errors.New("queue is closed")
	ErrJobTimeout       = errors.New("job processing timed out")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Priority bounds; submitted priorities are clamped into this range.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Payload carries the opaque work definition for a job plus optional
// per-job scheduling hints. The queue never inspects Data.
type Payload struct {
	Data              []byte        // Opaque caller-supplied work definition
	MaxAttempts       int           // Overrides Config.MaxAttempts when > 0
	Timeout           time.Duration // Overrides Config.JobTimeout when > 0
	EstimatedMemoryMB int           // Advisory memory footprint hint
}

// Processor is the caller-supplied function that performs the actual work
// for a job. The context carries the job's execution deadline; processors
// that respect it release their resources promptly on timeout. If an error
// is returned the job is retried up to its attempt cap.
type Processor func(ctx context.Context, payload Payload) ([]byte, error)

// Job represents a single schedulable unit of work.
type Job struct {
	ID            string     // Unique job identifier
	Payload       Payload    // Opaque work definition and hints
	Priority      int        // 1-10, higher is more urgent
	Processor     Processor  // Work function (never serialized)
	Status        JobStatus  // Current job status
	CreatedAt     time.Time  // When the job was admitted
	StartedAt     *time.Time // When the latest attempt started (nil if never started)
	CompletedAt   *time.Time // When the job reached a terminal state (nil otherwise)
	NextAttemptAt *time.Time // Earliest eligible time for the next attempt (nil if none)
	Attempts      int        // Execution attempts so far
	MaxAttempts   int        // Attempt cap
	Result        []byte     // Result on success (mutually exclusive with ErrorMessage)
	ErrorMessage  string     // Error text on failure

	seq uint64 // admission order, final selection tie-break
}

// JobInfo is a point-in-time view of a job returned by GetJobInfo.
// QueuePosition and EstimatedWait are populated only for queued jobs.
type JobInfo struct {
	Job
	QueuePosition int           // 1-based rank under the selection policy
	EstimatedWait time.Duration // (position-1) * avgProcessing / maxConcurrency
}

// QueueStats is a point-in-time snapshot of queue state for observability.
type QueueStats struct {
	QueueName          string        `json:"queue_name"`
	QueuedJobs         int           `json:"queued_jobs"`
	ActiveJobs         int           `json:"active_jobs"`
	CompletedJobs      int           `json:"completed_jobs"`
	FailedJobs         int           `json:"failed_jobs"`
	MaxConcurrency     int           `json:"max_concurrency"`
	CurrentConcurrency int           `json:"current_concurrency"`
	Paused             bool          `json:"paused"`
	Processing         bool          `json:"processing"`
	Uptime             time.Duration `json:"uptime"`
	TotalProcessed     int64         `json:"total_processed"`
	TotalSucceeded     int64         `json:"total_succeeded"`
	TotalFailed        int64         `json:"total_failed"`
	AvgProcessingTime  time.Duration `json:"avg_processing_time"`
	EstimatedDrainTime time.Duration `json:"estimated_drain_time"`
	Memory             MemoryStatus  `json:"memory"`
}

// cloneJob returns a deep copy so callers cannot mutate queue-owned state.
func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Payload.Data = copyBytes(job.Payload.Data)
	clone.Result = copyBytes(job.Result)
	clone.StartedAt = copyTimePtr(job.StartedAt)
	clone.CompletedAt = copyTimePtr(job.CompletedAt)
	clone.NextAttemptAt = copyTimePtr(job.NextAttemptAt)
	return &clone
}

func copyBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	val := *t
	return &val
}

func clampPriority(priority int) int {
	if priority < MinPriority {
		return MinPriority
	}
	if priority > MaxPriority {
		return MaxPriority
	}
	return priority
}

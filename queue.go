package memqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/google/uuid"
)

// Queue is the job-processing interface exposed to embedding applications.
type Queue interface {
	// Job submission
	AddJob(ctx context.Context, id string, payload Payload, priority int, processor Processor) (string, error)

	// Lifecycle
	Start()
	Stop()
	Pause()
	Resume()

	// Observability
	GetJobInfo(jobID string) (*JobInfo, error)
	GetStats() QueueStats
	Subscribe(fn EventHandler)

	// Persistence
	RestoreSnapshot(ctx context.Context) error

	Close() error
}

// ProcessingQueue implements Queue. It admits jobs, runs them under a
// concurrency ceiling that adapts to memory pressure, retries transient
// failures with exponential backoff, and keeps a bounded history of
// terminal jobs.
//
// A single mutex serializes access to the job collections and counters;
// they are touched from the scheduling tick, from job settlement
// goroutines, and from memory warning callbacks.
type ProcessingQueue struct {
	cfg    *Config
	mem    *MemoryManager
	store  SnapshotStore // nil disables persistence
	logger *slog.Logger
	events eventDispatcher

	mu                 sync.Mutex
	queued             map[string]*Job
	active             map[string]*Job
	completed          []*Job // ordered by completion time
	failed             []*Job // ordered by completion time
	maxConcurrency     int
	currentConcurrency int
	paused             bool
	running            bool
	closed             bool
	stopCh             chan struct{}
	doneCh             chan struct{}
	lastAdjust         time.Time
	resumeTimer        *time.Timer
	nextSeq            uint64
	createdAt          time.Time
	totalProcessed     int64
	totalSucceeded     int64
	totalFailed        int64
	avgProcessing      time.Duration

	tickBusy    atomic.Bool
	persistBusy atomic.Bool
}

var _ Queue = (*ProcessingQueue)(nil)

// NewProcessingQueue creates a queue bound to the given memory manager.
// The queue subscribes itself to the manager's warning notifications.
// store may be nil to disable snapshotting; when set, the queue owns it
// and closes it on Close.
func NewProcessingQueue(cfg *Config, mem *MemoryManager, store SnapshotStore, logger *slog.Logger) *ProcessingQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mem == nil {
		mem = NewMemoryManager(cfg, nil, logger)
	}

	q := &ProcessingQueue{
		cfg:            cfg,
		mem:            mem,
		store:          store,
		logger:         logger,
		events:         eventDispatcher{logger: logger},
		queued:         make(map[string]*Job),
		active:         make(map[string]*Job),
		maxConcurrency: cfg.MaxConcurrency,
		createdAt:      time.Now(),
	}
	if q.maxConcurrency < 1 {
		q.maxConcurrency = 1
	}
	if hard := cfg.HardMaxConcurrency(); q.maxConcurrency > hard {
		q.maxConcurrency = hard
	}

	mem.RegisterWarningHandler(q.handleMemoryWarning)
	return q
}

// Subscribe registers an observer for queue lifecycle events.
func (q *ProcessingQueue) Subscribe(fn EventHandler) {
	q.events.subscribe(fn)
}

// AddJob validates and admits a new job in queued state. An empty id is
// replaced with a generated one; priority is clamped to [1,10]. Admission
// autostarts the scheduler, so a freshly constructed queue needs no
// separate Start call once work arrives.
func (q *ProcessingQueue) AddJob(ctx context.Context, id string, payload Payload, priority int, processor Processor) (string, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return "", err
	}
	if processor == nil {
		q.logger.Debug("AddJob: rejected, nil processor", "jobID", id)
		return "", ErrNilProcessor
	}
	if id == "" {
		id = uuid.NewString()
	}

	maxAttempts := q.cfg.MaxAttempts
	if payload.MaxAttempts > 0 {
		maxAttempts = payload.MaxAttempts
	}
	now := time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	if q.existsLocked(id) {
		q.mu.Unlock()
		return "", fmt.Errorf("job already exists: %s", id)
	}

	job := &Job{
		ID:          id,
		Payload:     payload,
		Priority:    clampPriority(priority),
		Processor:   processor,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		MaxAttempts: maxAttempts,
		seq:         q.nextSeq,
	}
	q.nextSeq++
	q.queued[id] = job

	needStart := !q.running
	var stop chan struct{}
	var done chan struct{}
	if needStart {
		q.running = true
		q.stopCh = make(chan struct{})
		q.doneCh = make(chan struct{})
		stop, done = q.stopCh, q.doneCh
	}
	q.mu.Unlock()

	if needStart {
		q.logger.Debug("AddJob: autostarting scheduler", "queue", q.cfg.QueueName)
		go q.run(stop, done)
	}

	q.logger.Debug("AddJob", "jobID", id, "priority", job.Priority, "maxAttempts", maxAttempts)
	q.events.emit(Event{Type: EventJobAdded, JobID: id, Timestamp: now})
	q.persistAsync()
	return id, nil
}

// existsLocked reports whether any collection already holds the id.
func (q *ProcessingQueue) existsLocked(id string) bool {
	if _, ok := q.queued[id]; ok {
		return true
	}
	if _, ok := q.active[id]; ok {
		return true
	}
	return findJob(q.completed, id) != nil || findJob(q.failed, id) != nil
}

func findJob(jobs []*Job, id string) *Job {
	for _, job := range jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// Start launches the scheduling loop. It is idempotent; AddJob also
// starts the loop implicitly.
func (q *ProcessingQueue) Start() {
	q.mu.Lock()
	if q.running || q.closed {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	stop, done := q.stopCh, q.doneCh
	q.mu.Unlock()

	q.logger.Debug("Start: scheduler starting", "queue", q.cfg.QueueName)
	go q.run(stop, done)
}

// Stop halts the scheduling loop and waits for it to exit. Active jobs
// are not interrupted; their settlement still updates the collections.
func (q *ProcessingQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	stop, done := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stop)
	<-done
	q.logger.Debug("Stop: scheduler stopped", "queue", q.cfg.QueueName)
}

func (q *ProcessingQueue) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()
	persist := time.NewTicker(q.cfg.PersistInterval)
	defer persist.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.tick()
		case <-persist.C:
			q.persistAsync()
		}
	}
}

// tick is one scheduling pass: gate on memory, adjust the ceiling, pick
// the next eligible job, launch it. Overlapping timer firings no-op via
// the busy flag; a panic in the tick's own bookkeeping is logged and the
// next tick proceeds normally.
func (q *ProcessingQueue) tick() {
	if !q.tickBusy.CompareAndSwap(false, true) {
		return
	}
	defer q.tickBusy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("scheduling tick panicked", "queue", q.cfg.QueueName, "panic", r)
		}
	}()

	q.mu.Lock()
	if q.paused || len(q.queued) == 0 || q.currentConcurrency >= q.maxConcurrency {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	status := q.mem.GetStatus()
	if status.UsedPercentage > q.cfg.MemoryThreshold {
		q.logger.Debug("tick: memory above threshold, skipping admission",
			"usedPercentage", status.UsedPercentage, "threshold", q.cfg.MemoryThreshold)
		return
	}

	q.adjustConcurrency(status)

	now := time.Now()
	q.mu.Lock()
	if q.paused || q.currentConcurrency >= q.maxConcurrency {
		q.mu.Unlock()
		return
	}
	job := q.selectNextLocked(now)
	if job == nil {
		q.mu.Unlock()
		return
	}

	delete(q.queued, job.ID)
	job.Status = JobStatusProcessing
	started := now
	job.StartedAt = &started
	job.Attempts++
	q.active[job.ID] = job
	q.currentConcurrency++
	attempts := job.Attempts
	q.mu.Unlock()

	q.logger.Debug("tick: job started", "jobID", job.ID, "attempt", attempts, "priority", job.Priority)
	q.events.emit(Event{Type: EventJobStarted, JobID: job.ID, Attempts: attempts, Timestamp: now})
	go q.execute(job)
}

// selectNextLocked picks the queued job with the highest priority,
// breaking ties FIFO by creation. Jobs still inside their retry backoff
// window are not eligible.
func (q *ProcessingQueue) selectNextLocked(now time.Time) *Job {
	var best *Job
	for _, job := range q.queued {
		if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || scheduledBefore(job, best) {
			best = job
		}
	}
	return best
}

// scheduledBefore orders jobs by priority (desc), then creation time,
// then admission order.
func scheduledBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

// execute runs the job's processor under its timeout. The processor
// receives a context carrying the deadline; if it overruns anyway, the
// job is settled as timed out and the processor's late result is
// discarded when it eventually returns.
func (q *ProcessingQueue) execute(job *Job) {
	timeout := q.cfg.JobTimeout
	if job.Payload.Timeout > 0 {
		timeout = job.Payload.Timeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		result []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("processor panicked: %v", r)}
			}
		}()
		result, err := job.Processor(ctx, job.Payload)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		q.settle(job, out.result, out.err)
	case <-ctx.Done():
		q.settle(job, nil, fmt.Errorf("%w after %s", ErrJobTimeout, timeout))
	}
}

// settle records the outcome of an attempt, frees the concurrency slot,
// and either finalizes the job or requeues it with a backoff and a
// priority boost so retries are not starved by fresh high-priority work.
func (q *ProcessingQueue) settle(job *Job, result []byte, err error) {
	now := time.Now()

	q.mu.Lock()
	delete(q.active, job.ID)
	if q.currentConcurrency > 0 {
		q.currentConcurrency--
	}

	if err == nil {
		job.Status = JobStatusCompleted
		job.CompletedAt = &now
		job.Result = result
		job.ErrorMessage = ""
		job.NextAttemptAt = nil
		q.totalProcessed++
		q.totalSucceeded++
		if job.StartedAt != nil {
			q.updateAvgLocked(now.Sub(*job.StartedAt))
		}
		q.completed = append(q.completed, job)
		q.trimHistoryLocked(&q.completed)
		attempts := job.Attempts
		q.mu.Unlock()

		q.logger.Debug("job completed", "jobID", job.ID, "attempts", attempts)
		q.events.emit(Event{Type: EventJobCompleted, JobID: job.ID, Attempts: attempts, Timestamp: now})
		q.persistAsync()
		return
	}

	if job.Attempts < job.MaxAttempts {
		job.Status = JobStatusQueued
		job.ErrorMessage = err.Error()
		job.Result = nil
		if job.Priority < MaxPriority {
			job.Priority++
		}
		next := now.Add(q.backoffDelay(job.Attempts))
		job.NextAttemptAt = &next
		q.queued[job.ID] = job
		attempts := job.Attempts
		q.mu.Unlock()

		q.logger.Debug("job failed, will retry", "jobID", job.ID, "attempts", attempts, "nextAttemptAt", next, "error", err)
		q.events.emit(Event{Type: EventJobRetried, JobID: job.ID, Attempts: attempts, Error: err.Error(), Timestamp: now})
		return
	}

	job.Status = JobStatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = err.Error()
	job.Result = nil
	job.NextAttemptAt = nil
	q.totalProcessed++
	q.totalFailed++
	q.failed = append(q.failed, job)
	q.trimHistoryLocked(&q.failed)
	attempts := job.Attempts
	q.mu.Unlock()

	q.logger.Warn("job failed permanently", "jobID", job.ID, "attempts", attempts, "error", err)
	q.events.emit(Event{Type: EventJobFailed, JobID: job.ID, Attempts: attempts, Error: err.Error(), Timestamp: now})
	q.persistAsync()
}

// backoffDelay returns BackoffBase * 2^attempts.
func (q *ProcessingQueue) backoffDelay(attempts int) time.Duration {
	base := q.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	if attempts > 30 {
		attempts = 30
	}
	return base * time.Duration(1<<uint(attempts))
}

// updateAvgLocked maintains the rolling average over successful runs.
func (q *ProcessingQueue) updateAvgLocked(elapsed time.Duration) {
	n := q.totalSucceeded
	if n <= 1 {
		q.avgProcessing = elapsed
		return
	}
	q.avgProcessing += (elapsed - q.avgProcessing) / time.Duration(n)
}

// trimHistoryLocked evicts oldest-completed entries beyond the cap.
// Terminal jobs are appended in completion order, so trimming the front
// always removes the oldest.
func (q *ProcessingQueue) trimHistoryLocked(history *[]*Job) {
	capSize := q.cfg.MaxHistorySize
	if capSize <= 0 || len(*history) <= capSize {
		return
	}
	excess := len(*history) - capSize
	*history = append([]*Job(nil), (*history)[excess:]...)
}

// adjustConcurrency reactively grows or shrinks the ceiling based on the
// latest memory status, at most once per AdjustInterval. Growth requires
// queued work and respects the hard ceiling.
func (q *ProcessingQueue) adjustConcurrency(status MemoryStatus) {
	q.mu.Lock()
	if !q.lastAdjust.IsZero() && time.Since(q.lastAdjust) < q.cfg.AdjustInterval {
		q.mu.Unlock()
		return
	}
	q.lastAdjust = time.Now()

	old := q.maxConcurrency
	switch {
	case status.UsedPercentage > q.cfg.ScaleDownThreshold:
		if q.maxConcurrency > 1 {
			q.maxConcurrency--
		}
	case status.UsedPercentage < q.cfg.ScaleUpThreshold && len(q.queued) > 0:
		if q.maxConcurrency < q.cfg.HardMaxConcurrency() {
			q.maxConcurrency++
		}
	}
	newMax := q.maxConcurrency
	q.mu.Unlock()

	if newMax != old {
		q.logger.Info("concurrency ceiling adjusted", "from", old, "to", newMax, "usedPercentage", status.UsedPercentage)
		q.events.emit(Event{Type: EventConcurrencyChanged, MaxConcurrency: newMax, Memory: &status})
	}
}

// handleMemoryWarning reacts to warning notifications from the memory
// manager: shrink the ceiling immediately, and on critical pressure pause
// admission with a conditional auto-resume.
func (q *ProcessingQueue) handleMemoryWarning(status MemoryStatus) {
	q.mu.Lock()
	if q.maxConcurrency > 1 {
		q.maxConcurrency--
	}
	newMax := q.maxConcurrency
	q.mu.Unlock()

	q.logger.Warn("memory warning received", "usedPercentage", status.UsedPercentage,
		"critical", status.IsCritical, "maxConcurrency", newMax)

	evtType := EventMemoryWarning
	if status.IsCritical {
		evtType = EventMemoryCritical
	}
	q.events.emit(Event{Type: evtType, MaxConcurrency: newMax, Memory: &status})

	if status.IsCritical {
		q.Pause()
		q.scheduleAutoResume()
	}
	q.mem.TryReclaim(status.IsCritical)
}

// scheduleAutoResume arms a one-shot resume after AutoResumeDelay. The
// resume is skipped if memory is still over the admission threshold; the
// next warning cycle drives subsequent pause attempts.
func (q *ProcessingQueue) scheduleAutoResume() {
	q.mu.Lock()
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
	}
	q.resumeTimer = time.AfterFunc(q.cfg.AutoResumeDelay, func() {
		status := q.mem.GetStatus()
		if status.UsedPercentage <= q.cfg.MemoryThreshold {
			q.Resume()
			return
		}
		q.logger.Warn("auto-resume skipped, memory still above threshold",
			"usedPercentage", status.UsedPercentage, "threshold", q.cfg.MemoryThreshold)
	})
	q.mu.Unlock()
}

// Pause stops new job starts. Active jobs run to completion. Idempotent.
func (q *ProcessingQueue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.mu.Unlock()

	q.logger.Info("queue paused", "queue", q.cfg.QueueName)
	q.events.emit(Event{Type: EventQueuePaused})
}

// Resume re-enables job starts. Idempotent.
func (q *ProcessingQueue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.mu.Unlock()

	q.logger.Info("queue resumed", "queue", q.cfg.QueueName)
	q.events.emit(Event{Type: EventQueueResumed})
}

// GetJobInfo returns the current record of a job from whichever collection
// holds it. Queued jobs carry their 1-based queue position and an
// estimated wait derived from the rolling average processing time.
func (q *ProcessingQueue) GetJobInfo(jobID string) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.active[jobID]; ok {
		return &JobInfo{Job: *cloneJob(job)}, nil
	}
	if job, ok := q.queued[jobID]; ok {
		position := q.queuePositionLocked(job)
		wait := time.Duration(0)
		if q.maxConcurrency > 0 {
			wait = time.Duration(position-1) * q.avgProcessing / time.Duration(q.maxConcurrency)
		}
		return &JobInfo{Job: *cloneJob(job), QueuePosition: position, EstimatedWait: wait}, nil
	}
	if job := findJob(q.completed, jobID); job != nil {
		return &JobInfo{Job: *cloneJob(job)}, nil
	}
	if job := findJob(q.failed, jobID); job != nil {
		return &JobInfo{Job: *cloneJob(job)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// queuePositionLocked ranks a queued job under the selection policy.
func (q *ProcessingQueue) queuePositionLocked(job *Job) int {
	position := 1
	for _, other := range q.queued {
		if other.ID == job.ID {
			continue
		}
		if scheduledBefore(other, job) {
			position++
		}
	}
	return position
}

// GetStats returns a point-in-time snapshot of queue state, including the
// latest memory status rounded for display.
func (q *ProcessingQueue) GetStats() QueueStats {
	status := q.mem.GetStatus()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked(status)
}

func (q *ProcessingQueue) statsLocked(status MemoryStatus) QueueStats {
	status.UsedPercentage = math.Round(status.UsedPercentage*10000) / 10000

	drain := time.Duration(0)
	if q.maxConcurrency > 0 {
		drain = time.Duration(len(q.queued)) * q.avgProcessing / time.Duration(q.maxConcurrency)
	}

	return QueueStats{
		QueueName:          q.cfg.QueueName,
		QueuedJobs:         len(q.queued),
		ActiveJobs:         len(q.active),
		CompletedJobs:      len(q.completed),
		FailedJobs:         len(q.failed),
		MaxConcurrency:     q.maxConcurrency,
		CurrentConcurrency: q.currentConcurrency,
		Paused:             q.paused,
		Processing:         q.running,
		Uptime:             time.Since(q.createdAt),
		TotalProcessed:     q.totalProcessed,
		TotalSucceeded:     q.totalSucceeded,
		TotalFailed:        q.totalFailed,
		AvgProcessingTime:  q.avgProcessing,
		EstimatedDrainTime: drain,
		Memory:             status,
	}
}

// buildSnapshot assembles the serializable queue state. Queued jobs are
// listed in selection order with their processors replaced by a
// placeholder marker.
func (q *ProcessingQueue) buildSnapshot() *Snapshot {
	status := q.mem.GetStatus()

	q.mu.Lock()
	jobs := make([]*Job, 0, len(q.queued))
	for _, job := range q.queued {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return scheduledBefore(jobs[i], jobs[j]) })

	snapshots := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snapshots = append(snapshots, JobSnapshot{
			ID:            job.ID,
			Priority:      job.Priority,
			Attempts:      job.Attempts,
			MaxAttempts:   job.MaxAttempts,
			CreatedAt:     job.CreatedAt,
			NextAttemptAt: copyTimePtr(job.NextAttemptAt),
			Data:          copyBytes(job.Payload.Data),
			Processor:     ProcessorPlaceholder,
		})
	}
	stats := q.statsLocked(status)
	q.mu.Unlock()

	return &Snapshot{
		QueueName:  q.cfg.QueueName,
		SavedAt:    time.Now(),
		QueuedJobs: snapshots,
		Stats:      stats,
	}
}

// persistAsync saves a snapshot in the background. Saves are best-effort:
// concurrent requests coalesce into one in-flight save, transient store
// errors are retried a few times, and a final failure is only logged.
func (q *ProcessingQueue) persistAsync() {
	if q.store == nil {
		return
	}
	if !q.persistBusy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer q.persistBusy.Store(false)
		q.persist(context.Background())
	}()
}

func (q *ProcessingQueue) persist(ctx context.Context) {
	snapshot := q.buildSnapshot()
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := retry.Do(
		func() error { return q.store.SaveSnapshot(saveCtx, snapshot) },
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		q.logger.Warn("snapshot save failed", "queue", q.cfg.QueueName, "error", err)
		return
	}
	q.logger.Debug("snapshot saved", "queue", q.cfg.QueueName, "queuedJobs", len(snapshot.QueuedJobs))
}

// RestoreSnapshot attempts to load a previously saved snapshot. Queued
// jobs are never re-admitted because their processors are not
// serializable; the call only reports what was found. Callers must not
// rely on queued-but-unexecuted jobs surviving a restart.
func (q *ProcessingQueue) RestoreSnapshot(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	ctx, err := normalizeContext(ctx)
	if err != nil {
		return err
	}

	snapshot, err := q.store.LoadSnapshot(ctx, q.cfg.QueueName)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			q.logger.Info("no snapshot to restore", "queue", q.cfg.QueueName)
			return nil
		}
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	q.logger.Info("snapshot found, queued jobs are not restorable",
		"queue", q.cfg.QueueName, "queuedJobs", len(snapshot.QueuedJobs), "savedAt", snapshot.SavedAt)
	return nil
}

// Close stops the scheduler, saves a final snapshot, and closes the store.
// Active jobs settle in the background but no new jobs start.
func (q *ProcessingQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
		q.resumeTimer = nil
	}
	q.mu.Unlock()

	q.Stop()

	if q.store == nil {
		return nil
	}
	q.persist(context.Background())
	return q.store.Close()
}

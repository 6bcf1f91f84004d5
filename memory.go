package memqueue

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// MemoryStatus is an immutable point-in-time snapshot of process memory
// pressure. UsedPercentage is the larger of heap utilization and resident
// usage against the configured memory budget.
type MemoryStatus struct {
	Resident       uint64    `json:"resident"`
	HeapTotal      uint64    `json:"heap_total"`
	HeapUsed       uint64    `json:"heap_used"`
	External       uint64    `json:"external"`
	UsedPercentage float64   `json:"used_percentage"`
	IsWarning      bool      `json:"is_warning"`
	IsCritical     bool      `json:"is_critical"`
	SampledAt      time.Time `json:"sampled_at"`
}

// MemorySample is a raw reading produced by a MemorySampler.
type MemorySample struct {
	Resident  uint64 // Total memory held from the OS
	HeapTotal uint64 // Heap memory obtained from the OS
	HeapUsed  uint64 // Heap memory currently allocated
	External  uint64 // Off-heap memory (stacks, runtime structures)
}

// MemorySampler provides raw memory readings. It is an injected dependency
// so the queue can be tested against scripted pressure values.
type MemorySampler interface {
	Sample() MemorySample
}

// RuntimeSampler reads memory usage from the Go runtime. It is the default
// sampler when none is supplied.
type RuntimeSampler struct{}

// Sample reads runtime.MemStats. Resident approximates memory still held
// from the OS (total obtained minus released).
func (RuntimeSampler) Sample() MemorySample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resident := ms.Sys
	if ms.HeapReleased < ms.Sys {
		resident = ms.Sys - ms.HeapReleased
	}
	return MemorySample{
		Resident:  resident,
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
		External:  ms.Sys - ms.HeapSys,
	}
}

// WarningHandler is invoked synchronously whenever a monitoring tick
// observes warning-level memory pressure.
type WarningHandler func(status MemoryStatus)

// Reclaimer is an application-supplied reclaim tactic (cache eviction and
// the like) run during aggressive reclaim attempts.
type Reclaimer func(aggressive bool)

// MemoryManager samples process memory, classifies it against the
// configured thresholds, and notifies registered handlers when pressure
// crosses the warning threshold. It knows nothing about jobs; the queue
// reacts to its notifications.
//
// All operations are best-effort and never return errors: a failing
// handler is logged and skipped, and reclaim degrades to a status read
// when rate-limited.
type MemoryManager struct {
	cfg     *Config
	sampler MemorySampler
	logger  *slog.Logger

	mu          sync.Mutex
	handlers    []WarningHandler
	reclaimers  []Reclaimer
	lastReclaim time.Time
	monitorStop chan struct{}
}

// NewMemoryManager creates a memory manager. A nil sampler selects the
// runtime-backed default.
func NewMemoryManager(cfg *Config, sampler MemorySampler, logger *slog.Logger) *MemoryManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if sampler == nil {
		sampler = RuntimeSampler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryManager{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger,
	}
}

// GetStatus samples current memory usage and classifies it. It is cheap
// and side-effect-free; the scheduling tick calls it on every iteration.
func (m *MemoryManager) GetStatus() MemoryStatus {
	return m.classify(m.sampler.Sample(), time.Now())
}

func (m *MemoryManager) classify(sample MemorySample, now time.Time) MemoryStatus {
	heapPct := 0.0
	if sample.HeapTotal > 0 {
		heapPct = float64(sample.HeapUsed) / float64(sample.HeapTotal)
	}
	residentPct := 0.0
	if budget := uint64(m.cfg.MaxMemoryMB) * 1024 * 1024; budget > 0 {
		residentPct = float64(sample.Resident) / float64(budget)
	}
	used := heapPct
	if residentPct > used {
		used = residentPct
	}
	return MemoryStatus{
		Resident:       sample.Resident,
		HeapTotal:      sample.HeapTotal,
		HeapUsed:       sample.HeapUsed,
		External:       sample.External,
		UsedPercentage: used,
		IsWarning:      used >= m.cfg.WarningThreshold,
		IsCritical:     used >= m.cfg.CriticalThreshold,
		SampledAt:      now,
	}
}

// TryReclaim asks the runtime to collect garbage and return memory to the
// OS, then reports the post-attempt status. Attempts are rate-limited
// (ReclaimInterval normally, AggressiveReclaimInterval when aggressive);
// a rate-limited call is just a status read. Aggressive reclaim also runs
// the registered application reclaimers.
func (m *MemoryManager) TryReclaim(aggressive bool) MemoryStatus {
	interval := m.cfg.ReclaimInterval
	if aggressive {
		interval = m.cfg.AggressiveReclaimInterval
	}

	m.mu.Lock()
	now := time.Now()
	if !m.lastReclaim.IsZero() && now.Sub(m.lastReclaim) < interval {
		m.mu.Unlock()
		m.logger.Debug("TryReclaim: rate-limited", "aggressive", aggressive, "sinceLast", now.Sub(m.lastReclaim))
		return m.GetStatus()
	}
	m.lastReclaim = now
	reclaimers := make([]Reclaimer, len(m.reclaimers))
	copy(reclaimers, m.reclaimers)
	m.mu.Unlock()

	m.logger.Debug("TryReclaim: forcing collection", "aggressive", aggressive)
	runtime.GC()
	debug.FreeOSMemory()

	if aggressive {
		for i, reclaim := range reclaimers {
			m.runReclaimer(i, reclaim)
		}
	}

	status := m.GetStatus()
	m.logger.Debug("TryReclaim: done", "usedPercentage", status.UsedPercentage)
	return status
}

func (m *MemoryManager) runReclaimer(idx int, reclaim Reclaimer) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reclaimer panicked", "index", idx, "panic", r)
		}
	}()
	reclaim(true)
}

// RegisterWarningHandler subscribes a handler invoked synchronously, in
// registration order, on every warning-level monitoring tick. A panicking
// handler is logged and does not prevent later handlers from running.
func (m *MemoryManager) RegisterWarningHandler(fn WarningHandler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// RegisterReclaimer adds an application-level reclaim tactic run during
// aggressive reclaim attempts.
func (m *MemoryManager) RegisterReclaimer(fn Reclaimer) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.reclaimers = append(m.reclaimers, fn)
	m.mu.Unlock()
}

// StartMonitoring starts a recurring sampling loop. On critical status it
// attempts an aggressive reclaim; on warning status (critical included) it
// notifies the registered handlers. Calling it while already running
// restarts the loop at the new interval.
func (m *MemoryManager) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.MonitorInterval
	}

	m.mu.Lock()
	if m.monitorStop != nil {
		close(m.monitorStop)
	}
	stop := make(chan struct{})
	m.monitorStop = stop
	m.mu.Unlock()

	m.logger.Debug("StartMonitoring", "interval", interval)
	go m.monitorLoop(interval, stop)
}

// StopMonitoring stops the sampling loop. Safe to call when not running.
func (m *MemoryManager) StopMonitoring() {
	m.mu.Lock()
	if m.monitorStop != nil {
		close(m.monitorStop)
		m.monitorStop = nil
	}
	m.mu.Unlock()
}

func (m *MemoryManager) monitorLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.monitorTick()
		}
	}
}

func (m *MemoryManager) monitorTick() {
	status := m.GetStatus()
	if status.IsCritical {
		m.logger.Warn("memory critical", "usedPercentage", status.UsedPercentage, "resident", status.Resident)
		status = m.TryReclaim(true)
	}
	if !status.IsWarning {
		return
	}

	m.mu.Lock()
	handlers := make([]WarningHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for i, fn := range handlers {
		m.notifyHandler(i, fn, status)
	}
}

func (m *MemoryManager) notifyHandler(idx int, fn WarningHandler, status MemoryStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("warning handler panicked", "index", idx, "panic", r)
		}
	}()
	fn(status)
}

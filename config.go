package memqueue

import (
	"os"
	"strconv"
	"time"
)

// Config represents queue and memory manager configuration.
type Config struct {
	// Queue name (default: "default").
	// Used as the snapshot key and as the metric label.
	QueueName string

	// Scheduling tick interval (default: 500ms).
	TickInterval time.Duration

	// Job execution timeout (default: 5 minutes).
	// Overridable per job via Payload.Timeout.
	JobTimeout time.Duration

	// Maximum execution attempts per job (default: 3).
	// Overridable per job via Payload.MaxAttempts.
	MaxAttempts int

	// Initial concurrency ceiling (default: 3).
	MaxConcurrency int

	// Marks the deployment as memory-constrained (default: false).
	// Caps the adaptive ceiling at 3 instead of 5.
	MemoryConstrained bool

	// Memory fraction above which the scheduling tick admits nothing
	// (default: 0.70). This is the hard admission gate.
	MemoryThreshold float64

	// Warning / critical classification thresholds for MemoryStatus
	// (defaults: 0.70 / 0.85).
	WarningThreshold  float64
	CriticalThreshold float64

	// Concurrency adjustment thresholds (defaults: shrink above 0.80,
	// grow below 0.50) and minimum interval between adjustments
	// (default: 10s).
	ScaleDownThreshold float64
	ScaleUpThreshold   float64
	AdjustInterval     time.Duration

	// Maximum retained terminal jobs per history collection (default: 100).
	MaxHistorySize int

	// Retry backoff base; the delay before attempt n+1 is
	// BackoffBase * 2^n (default: 1s).
	BackoffBase time.Duration

	// Delay before the automatic resume attempt after a critical-memory
	// pause (default: 30s).
	AutoResumeDelay time.Duration

	// Snapshot persistence interval (default: 60s).
	PersistInterval time.Duration

	// Memory monitoring interval (default: 30s).
	MonitorInterval time.Duration

	// Configured process memory budget in MB (default: 512).
	// Resident usage is classified against this.
	MaxMemoryMB int

	// Minimum interval between reclaim attempts (defaults: 60s normal,
	// 5s aggressive).
	ReclaimInterval           time.Duration
	AggressiveReclaimInterval time.Duration
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueName:                 "default",
		TickInterval:              500 * time.Millisecond,
		JobTimeout:                5 * time.Minute,
		MaxAttempts:               3,
		MaxConcurrency:            3,
		MemoryConstrained:         false,
		MemoryThreshold:           0.70,
		WarningThreshold:          0.70,
		CriticalThreshold:         0.85,
		ScaleDownThreshold:        0.80,
		ScaleUpThreshold:          0.50,
		AdjustInterval:            10 * time.Second,
		MaxHistorySize:            100,
		BackoffBase:               time.Second,
		AutoResumeDelay:           30 * time.Second,
		PersistInterval:           60 * time.Second,
		MonitorInterval:           30 * time.Second,
		MaxMemoryMB:               512,
		ReclaimInterval:           60 * time.Second,
		AggressiveReclaimInterval: 5 * time.Second,
	}
}

// HardMaxConcurrency returns the absolute ceiling the adaptive adjustment
// may grow to: 3 on memory-constrained deployments, 5 otherwise.
func (c *Config) HardMaxConcurrency() int {
	if c.MemoryConstrained {
		return 3
	}
	return 5
}

// LoadConfig loads configuration from environment variables, falling back
// to defaults for anything unset. It reads:
//   - MEMQUEUE_NAME: queue name
//   - MEMQUEUE_TICK_INTERVAL: scheduling tick interval
//   - MEMQUEUE_JOB_TIMEOUT: job execution timeout
//   - MEMQUEUE_MAX_ATTEMPTS: attempt cap
//   - MEMQUEUE_MAX_CONCURRENCY: initial concurrency ceiling
//   - MEMQUEUE_MEMORY_CONSTRAINED: "true" caps the ceiling at 3
//   - MEMQUEUE_MEMORY_THRESHOLD: admission gate fraction
//   - MEMQUEUE_WARNING_THRESHOLD / MEMQUEUE_CRITICAL_THRESHOLD
//   - MEMQUEUE_MAX_HISTORY: terminal history cap
//   - MEMQUEUE_BACKOFF_BASE: retry backoff base duration
//   - MEMQUEUE_AUTO_RESUME_DELAY: delay before auto-resume after pause
//   - MEMQUEUE_PERSIST_INTERVAL: snapshot interval
//   - MEMQUEUE_MONITOR_INTERVAL: memory sampling interval
//   - MEMQUEUE_MAX_MEMORY_MB: configured memory budget
//
// Duration values use Go duration syntax (e.g. "500ms", "5m").
func LoadConfig() *Config {
	cfg := DefaultConfig()
	cfg.QueueName = getEnvString("MEMQUEUE_NAME", cfg.QueueName)
	cfg.TickInterval = getEnvDuration("MEMQUEUE_TICK_INTERVAL", cfg.TickInterval)
	cfg.JobTimeout = getEnvDuration("MEMQUEUE_JOB_TIMEOUT", cfg.JobTimeout)
	cfg.MaxAttempts = getEnvInt("MEMQUEUE_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.MaxConcurrency = getEnvInt("MEMQUEUE_MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.MemoryConstrained = getEnvBool("MEMQUEUE_MEMORY_CONSTRAINED", cfg.MemoryConstrained)
	cfg.MemoryThreshold = getEnvFloat("MEMQUEUE_MEMORY_THRESHOLD", cfg.MemoryThreshold)
	cfg.WarningThreshold = getEnvFloat("MEMQUEUE_WARNING_THRESHOLD", cfg.WarningThreshold)
	cfg.CriticalThreshold = getEnvFloat("MEMQUEUE_CRITICAL_THRESHOLD", cfg.CriticalThreshold)
	cfg.MaxHistorySize = getEnvInt("MEMQUEUE_MAX_HISTORY", cfg.MaxHistorySize)
	cfg.BackoffBase = getEnvDuration("MEMQUEUE_BACKOFF_BASE", cfg.BackoffBase)
	cfg.AutoResumeDelay = getEnvDuration("MEMQUEUE_AUTO_RESUME_DELAY", cfg.AutoResumeDelay)
	cfg.PersistInterval = getEnvDuration("MEMQUEUE_PERSIST_INTERVAL", cfg.PersistInterval)
	cfg.MonitorInterval = getEnvDuration("MEMQUEUE_MONITOR_INTERVAL", cfg.MonitorInterval)
	cfg.MaxMemoryMB = getEnvInt("MEMQUEUE_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	return cfg
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

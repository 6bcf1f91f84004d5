package memqueue_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/VsevolodSauta/memqueue"
)

// eventCollector records emitted events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []memqueue.Event
}

func (c *eventCollector) handle(event memqueue.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCollector) types() []memqueue.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]memqueue.EventType, 0, len(c.events))
	for _, e := range c.events {
		types = append(types, e.Type)
	}
	return types
}

func (c *eventCollector) typesFor(jobID string) []memqueue.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []memqueue.EventType
	for _, e := range c.events {
		if e.JobID == jobID {
			types = append(types, e.Type)
		}
	}
	return types
}

func (c *eventCollector) count(eventType memqueue.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var _ = Describe("ProcessingQueue", func() {
	var (
		cfg       *memqueue.Config
		sampler   *fakeSampler
		store     *memqueue.InMemoryStore
		queue     *memqueue.ProcessingQueue
		collector *eventCollector
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = testConfig()
		sampler = newFakeSampler(0.6)
		store = memqueue.NewInMemoryStore()
		mem := memqueue.NewMemoryManager(cfg, sampler, testLogger())
		queue = memqueue.NewProcessingQueue(cfg, mem, store, testLogger())
		collector = &eventCollector{}
		queue.Subscribe(collector.handle)
	})

	AfterEach(func() {
		if queue != nil {
			_ = queue.Close()
		}
	})

	Describe("Job Submission", func() {
		It("should reject a nil processor", func() {
			_, err := queue.AddJob(ctx, "job-1", memqueue.Payload{}, 5, nil)
			Expect(err).To(MatchError(memqueue.ErrNilProcessor))
		})

		It("should reject a duplicate job ID", func() {
			queue.Pause()
			_, err := queue.AddJob(ctx, "job-1", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).NotTo(HaveOccurred())

			_, err = queue.AddJob(ctx, "job-1", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).To(HaveOccurred())
		})

		It("should emit job_added on admission", func() {
			queue.Pause()
			_, err := queue.AddJob(ctx, "job-1", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				return collector.count(memqueue.EventJobAdded)
			}).Should(Equal(1))
		})
	})

	Describe("Lifecycle Events", func() {
		It("should emit added, started, completed for a successful job", func() {
			_, err := queue.AddJob(ctx, "job-ok", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []memqueue.EventType {
				return collector.typesFor("job-ok")
			}, 2*time.Second).Should(Equal([]memqueue.EventType{
				memqueue.EventJobAdded,
				memqueue.EventJobStarted,
				memqueue.EventJobCompleted,
			}))
		})

		It("should emit retried between attempts and failed at exhaustion", func() {
			_, err := queue.AddJob(ctx, "job-bad", memqueue.Payload{MaxAttempts: 2}, 5,
				func(ctx context.Context, p memqueue.Payload) ([]byte, error) {
					return nil, errors.New("transient failure")
				})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []memqueue.EventType {
				return collector.typesFor("job-bad")
			}, 2*time.Second).Should(Equal([]memqueue.EventType{
				memqueue.EventJobAdded,
				memqueue.EventJobStarted,
				memqueue.EventJobRetried,
				memqueue.EventJobStarted,
				memqueue.EventJobFailed,
			}))
		})
	})

	Describe("Pause and Resume", func() {
		It("should emit one event per state change, idempotently", func() {
			queue.Pause()
			queue.Pause()
			Expect(collector.count(memqueue.EventQueuePaused)).To(Equal(1))
			Expect(queue.GetStats().Paused).To(BeTrue())

			queue.Resume()
			queue.Resume()
			Expect(collector.count(memqueue.EventQueueResumed)).To(Equal(1))
			Expect(queue.GetStats().Paused).To(BeFalse())
		})

		It("should do nothing on Resume when not paused", func() {
			queue.Resume()
			Expect(collector.count(memqueue.EventQueueResumed)).To(Equal(0))
		})
	})

	Describe("Snapshot Persistence", func() {
		It("should persist queued jobs in selection order with a processor placeholder", func() {
			queue.Pause()

			_, err := queue.AddJob(ctx, "low", memqueue.Payload{Data: []byte("a")}, 1, noopProcessor)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() int { return storedJobCount(ctx, store, cfg.QueueName) }, 2*time.Second).Should(Equal(1))

			_, err = queue.AddJob(ctx, "high", memqueue.Payload{Data: []byte("b")}, 9, noopProcessor)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() int { return storedJobCount(ctx, store, cfg.QueueName) }, 2*time.Second).Should(Equal(2))

			snapshot, err := store.LoadSnapshot(ctx, cfg.QueueName)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.QueueName).To(Equal(cfg.QueueName))
			Expect(snapshot.QueuedJobs).To(HaveLen(2))
			Expect(snapshot.QueuedJobs[0].ID).To(Equal("high"))
			Expect(snapshot.QueuedJobs[1].ID).To(Equal("low"))
			Expect(snapshot.QueuedJobs[0].Processor).To(Equal(memqueue.ProcessorPlaceholder))
			Expect(snapshot.QueuedJobs[1].Data).To(Equal([]byte("a")))
			Expect(snapshot.Stats.QueuedJobs).To(Equal(2))
		})

		It("should persist a final snapshot and close the store on Close", func() {
			rec := &recordingStore{}
			mem := memqueue.NewMemoryManager(cfg, sampler, testLogger())
			owned := memqueue.NewProcessingQueue(cfg, mem, rec, testLogger())
			owned.Pause()

			_, err := owned.AddJob(ctx, "pending", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).NotTo(HaveOccurred())
			Eventually(rec.lastSnapshot, 2*time.Second).ShouldNot(BeNil())

			Expect(owned.Close()).To(Succeed())

			snapshot := rec.lastSnapshot()
			Expect(snapshot.QueuedJobs).To(HaveLen(1))
			Expect(snapshot.QueuedJobs[0].ID).To(Equal("pending"))
			Expect(rec.isClosed()).To(BeTrue())
		})
	})

	Describe("Snapshot Restore", func() {
		It("should succeed when no snapshot exists", func() {
			Expect(queue.RestoreSnapshot(ctx)).To(Succeed())
		})

		It("should not re-admit jobs from a found snapshot", func() {
			queue.Pause()
			_, err := queue.AddJob(ctx, "orphan", memqueue.Payload{}, 5, noopProcessor)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() int { return storedJobCount(ctx, store, cfg.QueueName) }, 2*time.Second).Should(Equal(1))

			// A second queue over the same store sees the snapshot but
			// cannot rebuild the jobs: processors are not serializable.
			mem := memqueue.NewMemoryManager(cfg, sampler, testLogger())
			revived := memqueue.NewProcessingQueue(cfg, mem, store, testLogger())
			Expect(revived.RestoreSnapshot(ctx)).To(Succeed())
			Expect(revived.GetStats().QueuedJobs).To(Equal(0))
		})
	})

	Describe("Memory Pressure Reactions", func() {
		It("should shrink the ceiling and emit memory_warning", func() {
			sampler.setUsed(0.75)
			mem := memqueue.NewMemoryManager(cfg, sampler, testLogger())
			pressured := memqueue.NewProcessingQueue(cfg, mem, nil, testLogger())
			defer pressured.Close()
			pressureEvents := &eventCollector{}
			pressured.Subscribe(pressureEvents.handle)

			mem.StartMonitoring(5 * time.Millisecond)
			defer mem.StopMonitoring()

			Eventually(func() int {
				return pressureEvents.count(memqueue.EventMemoryWarning)
			}, 2*time.Second).Should(BeNumerically(">=", 1))
			Eventually(func() int {
				return pressured.GetStats().MaxConcurrency
			}, 2*time.Second).Should(Equal(1))
			Expect(pressured.GetStats().Paused).To(BeFalse())
		})

		It("should pause and emit memory_critical on critical pressure", func() {
			sampler.setUsed(0.9)
			mem := memqueue.NewMemoryManager(cfg, sampler, testLogger())
			pressured := memqueue.NewProcessingQueue(cfg, mem, nil, testLogger())
			defer pressured.Close()
			pressureEvents := &eventCollector{}
			pressured.Subscribe(pressureEvents.handle)

			mem.StartMonitoring(5 * time.Millisecond)
			defer mem.StopMonitoring()

			Eventually(func() int {
				return pressureEvents.count(memqueue.EventMemoryCritical)
			}, 2*time.Second).Should(BeNumerically(">=", 1))
			Eventually(func() bool {
				return pressured.GetStats().Paused
			}, 2*time.Second).Should(BeTrue())
		})
	})
})

// recordingStore keeps the latest snapshot in memory and stays readable
// after Close, so specs can inspect what the queue saved on shutdown.
type recordingStore struct {
	mu     sync.Mutex
	last   *memqueue.Snapshot
	closed bool
}

func (s *recordingStore) SaveSnapshot(ctx context.Context, snapshot *memqueue.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = snapshot
	return nil
}

func (s *recordingStore) LoadSnapshot(ctx context.Context, queueName string) (*memqueue.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, memqueue.ErrSnapshotNotFound
	}
	return s.last, nil
}

func (s *recordingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingStore) lastSnapshot() *memqueue.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *recordingStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func storedJobCount(ctx context.Context, store *memqueue.InMemoryStore, queueName string) int {
	snapshot, err := store.LoadSnapshot(ctx, queueName)
	if err != nil {
		return -1
	}
	return len(snapshot.QueuedJobs)
}

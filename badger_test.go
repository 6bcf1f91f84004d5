package memqueue_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/VsevolodSauta/memqueue"
)

var _ = Describe("BadgerStore", func() {
	var (
		store  *memqueue.BadgerStore
		tmpDir string
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "memqueue_badger_*")
		Expect(err).NotTo(HaveOccurred())

		store, err = memqueue.NewBadgerStore(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	})

	It("should roundtrip a snapshot", func() {
		Expect(store.SaveSnapshot(ctx, testSnapshot("q1"))).To(Succeed())

		loaded, err := store.LoadSnapshot(ctx, "q1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.QueueName).To(Equal("q1"))
		Expect(loaded.QueuedJobs).To(HaveLen(1))
		Expect(loaded.QueuedJobs[0].ID).To(Equal("job-1"))
		Expect(loaded.QueuedJobs[0].Processor).To(Equal(memqueue.ProcessorPlaceholder))
	})

	It("should replace the previous snapshot for the same queue", func() {
		Expect(store.SaveSnapshot(ctx, testSnapshot("q1"))).To(Succeed())

		updated := testSnapshot("q1")
		updated.QueuedJobs = nil
		Expect(store.SaveSnapshot(ctx, updated)).To(Succeed())

		loaded, err := store.LoadSnapshot(ctx, "q1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.QueuedJobs).To(BeEmpty())
	})

	It("should keep snapshots of different queues apart", func() {
		Expect(store.SaveSnapshot(ctx, testSnapshot("q1"))).To(Succeed())
		Expect(store.SaveSnapshot(ctx, testSnapshot("q2"))).To(Succeed())

		loaded, err := store.LoadSnapshot(ctx, "q2")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.QueueName).To(Equal("q2"))
	})

	It("should report a missing snapshot", func() {
		_, err := store.LoadSnapshot(ctx, "missing")
		Expect(err).To(MatchError(memqueue.ErrSnapshotNotFound))
	})

	It("should validate inputs", func() {
		Expect(store.SaveSnapshot(ctx, nil)).To(HaveOccurred())
		Expect(store.SaveSnapshot(ctx, &memqueue.Snapshot{})).To(HaveOccurred())
		_, err := store.LoadSnapshot(ctx, "")
		Expect(err).To(HaveOccurred())
	})

	It("should persist across reopen", func() {
		Expect(store.SaveSnapshot(ctx, testSnapshot("q1"))).To(Succeed())
		Expect(store.Close()).To(Succeed())

		reopened, err := memqueue.NewBadgerStore(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())
		store = reopened

		loaded, err := store.LoadSnapshot(ctx, "q1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.QueuedJobs).To(HaveLen(1))
	})
})

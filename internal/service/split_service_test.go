package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stemsplit/api/internal/audiotest"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/registry"
	"github.com/stemsplit/api/internal/separation"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/stems"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/worker"
)

// blockingProcessor holds every job until released
type blockingProcessor struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []string
}

func (b *blockingProcessor) Process(ctx context.Context, jobID string) error {
	b.mu.Lock()
	b.seen = append(b.seen, jobID)
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingProcessor) Seen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

var _ = Describe("SplitService", func() {
	var (
		jobs *registry.Registry
		svc  *service.SplitService
	)

	destination := &model.StoreConfig{
		Endpoint:  "minio:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Container: "stems",
	}

	request := func(reference string) *model.SplitRequest {
		return &model.SplitRequest{SourceReference: reference, DestinationStore: destination}
	}

	statusOf := func(id string) func() model.JobStatus {
		return func() model.JobStatus {
			job, err := svc.GetStatus(context.Background(), id)
			if err != nil {
				return ""
			}
			return job.Status
		}
	}

	AfterEach(func() {
		if svc != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(svc.Shutdown(ctx)).To(Succeed())
		}
	})

	Describe("with the real pipeline", func() {
		var store *storage.MemoryStore

		seed := func(reference string, seconds float64) {
			path := filepath.Join(GinkgoT().TempDir(), "seed.wav")
			Expect(audiotest.WriteTone(path, 44100, 1, seconds)).To(Succeed())
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.PutBytes(context.Background(), data, reference, "audio/wav")
			Expect(err).NotTo(HaveOccurred())
		}

		BeforeEach(func() {
			jobs = registry.New()
			store = storage.NewMemoryStore("stems")
			tools := &audiotest.Toolchain{}

			w := worker.NewSplitWorker(
				worker.Config{
					ScratchDir: GinkgoT().TempDir(),
					Timeouts: worker.Timeouts{
						Download:    time.Minute,
						Separation:  time.Minute,
						PostProcess: time.Minute,
						Upload:      time.Minute,
					},
				},
				jobs,
				func(model.StoreConfig) (storage.ObjectStore, error) { return store, nil },
				separation.NewEngine(separation.Config{DemucsBin: "demucs", FFmpegBin: "ffmpeg"}, tools.Executor()),
				stems.NewProcessor(stems.Config{FFmpegBin: "ffmpeg"}, tools.Executor()),
				nil,
			)

			svc = service.NewSplitService(service.SplitServiceConfig{
				Workers:   2,
				QueueSize: 4,
				Retention: 24 * time.Hour,
			}, jobs, w, nil)
			svc.Start(context.Background())
		})

		It("completes a present track with a bundle and without the raw other stem", func() {
			seed("track.wav", 10)

			resp, err := svc.Submit(context.Background(), request("track.wav"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(model.JobStatusQueued))
			Expect(resp.JobID).NotTo(BeEmpty())

			Eventually(statusOf(resp.JobID), 30*time.Second, 20*time.Millisecond).Should(Equal(model.JobStatusCompleted))

			job, err := svc.GetStatus(context.Background(), resp.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Progress).To(Equal(100))

			names := map[string]bool{}
			for _, a := range job.ResultArtifacts {
				names[a.Name] = true
			}
			Expect(names).To(HaveKey("zip"))
			Expect(names).NotTo(HaveKey("other"))
		})

		It("fails a missing track with a download error", func() {
			resp, err := svc.Submit(context.Background(), request("missing.wav"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(statusOf(resp.JobID), 10*time.Second, 20*time.Millisecond).Should(Equal(model.JobStatusFailed))

			job, err := svc.GetStatus(context.Background(), resp.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Error).To(ContainSubstring("download failed"))
			Expect(job.ResultArtifacts).To(BeEmpty())
		})

		It("runs concurrent jobs independently", func() {
			seed("first.wav", 1)
			seed("second.wav", 2)

			var (
				wg  sync.WaitGroup
				ids [2]string
			)
			for i, ref := range []string{"first.wav", "second.wav"} {
				wg.Add(1)
				go func(i int, ref string) {
					defer GinkgoRecover()
					defer wg.Done()
					resp, err := svc.Submit(context.Background(), request(ref))
					Expect(err).NotTo(HaveOccurred())
					ids[i] = resp.JobID
				}(i, ref)
			}
			wg.Wait()

			Expect(ids[0]).NotTo(Equal(ids[1]))
			for _, id := range ids {
				Eventually(statusOf(id), 30*time.Second, 20*time.Millisecond).Should(Equal(model.JobStatusCompleted))
			}

			first, _ := svc.GetStatus(context.Background(), ids[0])
			second, _ := svc.GetStatus(context.Background(), ids[1])
			Expect(first.SourceReference).To(Equal("first.wav"))
			Expect(second.SourceReference).To(Equal("second.wav"))

			for _, a := range first.ResultArtifacts {
				Expect(a.Reference).To(Or(HavePrefix("first/"), Equal("first_stems.zip")))
			}
			for _, a := range second.ResultArtifacts {
				Expect(a.Reference).To(Or(HavePrefix("second/"), Equal("second_stems.zip")))
			}
			Expect(first.ResultArtifacts).To(HaveLen(5))
			Expect(second.ResultArtifacts).To(HaveLen(5))
		})
	})

	Describe("admission", func() {
		var processor *blockingProcessor

		BeforeEach(func() {
			jobs = registry.New()
			processor = &blockingProcessor{release: make(chan struct{})}
			svc = service.NewSplitService(service.SplitServiceConfig{
				Workers:   1,
				QueueSize: 1,
				Retention: time.Hour,
			}, jobs, processor, nil)
			svc.Start(context.Background())
		})

		AfterEach(func() {
			close(processor.release)
		})

		It("returns not found for an id that was never submitted", func() {
			_, err := svc.GetStatus(context.Background(), "never-submitted")
			Expect(errors.Is(err, model.ErrNotFound)).To(BeTrue())
		})

		It("reports a fresh job as queued", func() {
			_, err := svc.Submit(context.Background(), request("busy.wav"))
			Expect(err).NotTo(HaveOccurred())
			Eventually(processor.Seen).Should(Equal(1))

			resp, err := svc.Submit(context.Background(), request("waiting.wav"))
			Expect(err).NotTo(HaveOccurred())

			job, err := svc.GetStatus(context.Background(), resp.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.Progress).To(Equal(0))
			Expect(job.UpdatedAt).To(BeTemporally(">=", job.CreatedAt))
		})

		It("rejects submissions once the queue is full", func() {
			_, err := svc.Submit(context.Background(), request("a.wav"))
			Expect(err).NotTo(HaveOccurred())
			Eventually(processor.Seen).Should(Equal(1))

			_, err = svc.Submit(context.Background(), request("b.wav"))
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Submit(context.Background(), request("c.wav"))
			Expect(errors.Is(err, model.ErrResourceExhausted)).To(BeTrue())
			Expect(jobs.Len()).To(Equal(2))
		})

		It("rejects malformed requests", func() {
			_, err := svc.Submit(context.Background(), &model.SplitRequest{DestinationStore: destination})
			Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())

			_, err = svc.Submit(context.Background(), &model.SplitRequest{SourceReference: "a.wav"})
			Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())

			_, err = svc.Submit(context.Background(), &model.SplitRequest{
				SourceReference:  "a.wav",
				DestinationStore: &model.StoreConfig{Endpoint: "minio:9000"},
			})
			Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())

			Expect(jobs.Len()).To(Equal(0))
		})
	})

	Describe("shutdown", func() {
		It("refuses new work and cancels running pipelines past the deadline", func() {
			jobs = registry.New()
			processor := &blockingProcessor{release: make(chan struct{})}
			local := service.NewSplitService(service.SplitServiceConfig{Workers: 1, QueueSize: 1}, jobs, processor, nil)
			local.Start(context.Background())

			_, err := local.Submit(context.Background(), request("a.wav"))
			Expect(err).NotTo(HaveOccurred())
			Eventually(processor.Seen).Should(Equal(1))

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			Expect(local.Shutdown(ctx)).To(MatchError(ContainSubstring("shutdown interrupted")))

			_, err = local.Submit(context.Background(), request("b.wav"))
			Expect(errors.Is(err, model.ErrResourceExhausted)).To(BeTrue())
		})
	})

	Describe("sweep", func() {
		It("drops jobs older than the retention window", func() {
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			jobs = registry.New().WithClock(func() time.Time { return now })
			local := service.NewSplitService(service.SplitServiceConfig{Workers: 1, QueueSize: 4, Retention: time.Hour}, jobs, &blockingProcessor{release: make(chan struct{})}, nil)

			resp, err := local.Submit(context.Background(), request("old.wav"))
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(time.Hour)
			Expect(local.Sweep()).To(BeEmpty())

			now = now.Add(time.Second)
			Expect(local.Sweep()).To(Equal([]string{resp.JobID}))
			Expect(local.Sweep()).To(BeEmpty())

			_, err = local.GetStatus(context.Background(), resp.JobID)
			Expect(errors.Is(err, model.ErrNotFound)).To(BeTrue())
		})
	})
})

package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stemsplit/api/internal/audiotest"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/registry"
	"github.com/stemsplit/api/internal/separation"
	"github.com/stemsplit/api/internal/stems"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/worker"
)

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	statuses  []model.JobStatus
	completed []string
	failed    map[string]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failed: map[string]string{}}
}

func (r *recordingNotifier) Progress(job *model.Job, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, job.Progress)
	r.statuses = append(r.statuses, job.Status)
}

func (r *recordingNotifier) Completed(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, job.ID)
}

func (r *recordingNotifier) Failed(job *model.Job, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[job.ID] = kind
}

func (r *recordingNotifier) Checkpoints() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func artifactNames(job *model.Job) []string {
	var names []string
	for _, a := range job.ResultArtifacts {
		names = append(names, a.Name)
	}
	return names
}

var _ = Describe("SplitWorker", func() {
	var (
		jobs     *registry.Registry
		store    *storage.MemoryStore
		tools    *audiotest.Toolchain
		notifier *recordingNotifier
		scratch  string
		timeouts worker.Timeouts
	)

	storeConfig := model.StoreConfig{
		Endpoint:  "minio:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Container: "stems",
	}

	seed := func(reference string, seconds float64) {
		path := filepath.Join(GinkgoT().TempDir(), "seed.wav")
		Expect(audiotest.WriteTone(path, 44100, 1, seconds)).To(Succeed())
		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.PutBytes(context.Background(), data, reference, "audio/wav")
		Expect(err).NotTo(HaveOccurred())
	}

	newJob := func(reference string) string {
		id := uuid.New().String()
		_, err := jobs.Create(id, reference, storeConfig)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	process := func(id string) *model.Job {
		w := worker.NewSplitWorker(
			worker.Config{ScratchDir: scratch, Timeouts: timeouts},
			jobs,
			func(cfg model.StoreConfig) (storage.ObjectStore, error) {
				Expect(cfg).To(Equal(storeConfig))
				return store, nil
			},
			separation.NewEngine(separation.Config{DemucsBin: "demucs", FFmpegBin: "ffmpeg"}, tools.Executor()),
			stems.NewProcessor(stems.Config{FFmpegBin: "ffmpeg"}, tools.Executor()),
			notifier,
		)
		_ = w.Process(context.Background(), id)

		job, err := jobs.Get(id)
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	BeforeEach(func() {
		jobs = registry.New()
		store = storage.NewMemoryStore("stems")
		tools = &audiotest.Toolchain{}
		notifier = newRecordingNotifier()
		scratch = GinkgoT().TempDir()
		timeouts = worker.Timeouts{
			Download:    time.Minute,
			Separation:  time.Minute,
			PostProcess: time.Minute,
			Upload:      time.Minute,
		}
	})

	Describe("a source present in the store", func() {
		var id string

		BeforeEach(func() {
			seed("track.wav", 10)
			id = newJob("track.wav")
		})

		It("completes with every stem, the residual and the bundle", func() {
			job := process(id)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.Progress).To(Equal(100))
			Expect(job.Error).To(BeEmpty())
			Expect(artifactNames(job)).To(Equal([]string{"bass", "drums", "ee", "vocals", "zip"}))
			Expect(artifactNames(job)).NotTo(ContainElement("other"))

			By("storing artifacts under the track prefix")
			Expect(store.Keys()).To(ContainElements(
				"track/track Bass.wav",
				"track/track Drums.wav",
				"track/track EE.wav",
				"track/track Vocals.wav",
				"track_stems.zip",
			))
			Expect(job.ResultArtifacts[4]).To(Equal(model.Artifact{
				Name:      "zip",
				Reference: "track_stems.zip",
				Filename:  "track_stems.zip",
			}))
			Expect(store.ContentType("track_stems.zip")).To(Equal("application/zip"))
		})

		It("publishes every checkpoint in order", func() {
			process(id)

			Expect(notifier.Checkpoints()).To(Equal([]int{5, 10, 20, 30, 70, 80}))
			Expect(notifier.completed).To(Equal([]string{id}))
		})

		It("removes the scratch directory", func() {
			process(id)

			_, err := os.Stat(filepath.Join(scratch, id))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("keeps stems that uploaded when others fail", func() {
			store.FailPut = func(reference string) error {
				if strings.Contains(reference, "Drums") {
					return errors.New("connection reset")
				}
				return nil
			}

			job := process(id)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(artifactNames(job)).To(Equal([]string{"bass", "ee", "vocals", "zip"}))
		})

		It("fails with a store error when nothing uploads", func() {
			store.FailPut = func(string) error { return errors.New("bucket is read-only") }

			job := process(id)

			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.ResultArtifacts).To(BeEmpty())
			Expect(job.Error).To(ContainSubstring("upload failed"))
			Expect(notifier.failed[id]).To(Equal("store"))
		})

		It("fails when separation fails", func() {
			tools.DemucsErr = errors.New("model weights missing")

			job := process(id)

			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Error).To(ContainSubstring("stem separation failed"))
			Expect(job.ResultArtifacts).To(BeEmpty())
			Expect(notifier.failed[id]).To(Equal("separation"))
		})

		It("fails with a timeout when separation overruns its deadline", func() {
			timeouts.Separation = 50 * time.Millisecond
			tools.DemucsDelay = 10 * time.Second

			started := time.Now()
			job := process(id)

			Expect(time.Since(started)).To(BeNumerically("<", 5*time.Second))
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Error).To(HavePrefix("timeout:"))
			Expect(notifier.failed[id]).To(Equal("timeout"))
		})
	})

	It("fails with a download error when the source is missing", func() {
		id := newJob("missing.wav")

		job := process(id)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(job.Error).To(ContainSubstring("download failed"))
		Expect(job.ResultArtifacts).To(BeEmpty())
		Expect(notifier.failed[id]).To(Equal("download"))
		Expect(tools.CallsTo("demucs")).To(Equal(0))
	})

	It("marks the job processing before a scratch directory failure", func() {
		blocker := filepath.Join(GinkgoT().TempDir(), "not-a-dir")
		Expect(os.WriteFile(blocker, []byte("x"), 0o644)).To(Succeed())
		scratch = blocker
		seed("track.wav", 1)
		id := newJob("track.wav")

		job := process(id)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(job.Error).To(ContainSubstring("cannot create scratch directory"))
		Expect(notifier.failed[id]).To(Equal("download"))
		Expect(notifier.Checkpoints()).To(Equal([]int{5}))
		Expect(notifier.statuses).To(Equal([]model.JobStatus{model.JobStatusProcessing}))
	})

	It("reports unknown jobs", func() {
		w := worker.NewSplitWorker(worker.Config{ScratchDir: scratch}, jobs, nil, nil, nil, nil)

		err := w.Process(context.Background(), "does-not-exist")
		Expect(errors.Is(err, model.ErrNotFound)).To(BeTrue())
	})
})

package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/storage"
)

type fakeSplitter struct {
	submitted []*model.SplitRequest
	jobs      map[string]*model.Job
	err       error
}

func (f *fakeSplitter) Submit(ctx context.Context, req *model.SplitRequest) (*model.SplitSubmitResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, req)
	return &model.SplitSubmitResponse{JobID: "job-1", Status: model.JobStatusQueued}, nil
}

func (f *fakeSplitter) Status(ctx context.Context, jobID string) (*model.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.Mark(errors.New("status 404"), model.ErrNotFound)
	}
	return job.Clone(), nil
}

type staticValidator bool

func (v staticValidator) Validate(ctx context.Context, key string) bool { return bool(v) }

var _ = Describe("GatewayService", func() {
	var (
		splitter *fakeSplitter
		store    *storage.MemoryStore
		gateway  *service.GatewayService
		dest     model.StoreConfig
	)

	BeforeEach(func() {
		splitter = &fakeSplitter{jobs: map[string]*model.Job{}}
		store = storage.NewMemoryStore("stems")
		dest = model.StoreConfig{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b", Container: "stems"}
		gateway = service.NewGatewayService(splitter, store, dest, time.Hour, validator.New())
	})

	It("forwards the object with the gateway store config", func() {
		resp, err := gateway.Split(context.Background(), &model.GatewaySplitRequest{ObjectName: "song.wav"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		Expect(resp.Status).To(Equal(model.JobStatusProcessing))
		Expect(resp.JobID).To(Equal("job-1"))

		Expect(splitter.submitted).To(HaveLen(1))
		Expect(splitter.submitted[0].SourceReference).To(Equal("song.wav"))
		Expect(*splitter.submitted[0].DestinationStore).To(Equal(dest))
	})

	It("rejects a split without an object name", func() {
		_, err := gateway.Split(context.Background(), &model.GatewaySplitRequest{})
		Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())
		Expect(splitter.submitted).To(BeEmpty())
	})

	It("presigns artifacts of completed jobs", func() {
		splitter.jobs["job-1"] = &model.Job{
			ID:     "job-1",
			Status: model.JobStatusCompleted,
			ResultArtifacts: []model.Artifact{
				{Name: "vocals", Reference: "song/song Vocals.wav", Filename: "song Vocals.wav"},
				{Name: "zip", Reference: "song_stems.zip", Filename: "song_stems.zip"},
			},
		}

		job, err := gateway.Status(context.Background(), "job-1")
		Expect(err).NotTo(HaveOccurred())
		for _, a := range job.ResultArtifacts {
			Expect(a.DownloadURL).To(HavePrefix("memory://stems/"))
		}
	})

	It("leaves running jobs untouched", func() {
		splitter.jobs["job-2"] = &model.Job{ID: "job-2", Status: model.JobStatusProcessing, Progress: 30}

		job, err := gateway.Status(context.Background(), "job-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Progress).To(Equal(30))
		Expect(job.ResultArtifacts).To(BeEmpty())
	})

	It("passes not found through", func() {
		_, err := gateway.Status(context.Background(), "missing")
		Expect(errors.Is(err, model.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("UploadService", func() {
	var (
		store   *storage.MemoryStore
		uploads *service.UploadService
		local   string
	)

	BeforeEach(func() {
		store = storage.NewMemoryStore("stems")
		uploads = service.NewUploadService(store, 1024)
		local = filepath.Join(GinkgoT().TempDir(), "upload")
		Expect(os.WriteFile(local, []byte("RIFF"), 0o644)).To(Succeed())
	})

	It("stores the file under its original name", func() {
		resp, err := uploads.UploadAudio(context.Background(), "My Song.FLAC", local, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ObjectName).To(Equal("My Song.FLAC"))
		Expect(resp.ContentType).To(Equal("audio/flac"))
		Expect(store.ContentType("My Song.FLAC")).To(Equal("audio/flac"))
	})

	It("rejects unsupported extensions", func() {
		_, err := uploads.UploadAudio(context.Background(), "notes.txt", local, 4)
		Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())
		Expect(store.Keys()).To(BeEmpty())
	})

	It("does not report a bad extension as too large", func() {
		err := uploads.Validate("notes.txt", 3)
		Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())
		Expect(errors.Is(err, service.ErrFileTooLarge)).To(BeFalse())

		err = uploads.Validate("", 3)
		Expect(errors.Is(err, service.ErrFileTooLarge)).To(BeFalse())

		Expect(uploads.Validate("song.wav", 1024)).To(Succeed())
	})

	It("rejects oversized files", func() {
		err := uploads.Validate("big.wav", 2048)
		Expect(errors.Is(err, service.ErrFileTooLarge)).To(BeTrue())
		Expect(errors.Is(err, model.ErrInvalidRequest)).To(BeTrue())
	})

	It("strips directories from the object name", func() {
		resp, err := uploads.UploadAudio(context.Background(), "../../etc/song.wav", local, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Contains(resp.ObjectName, "/")).To(BeFalse())
	})
})

var _ = Describe("LicenseService", func() {
	It("issues a verifiable session for a valid key", func() {
		signer := auth.NewSessionSigner("secret", 24)
		token, err := service.NewLicenseService(staticValidator(true), signer).Login(context.Background(), "KEY")
		Expect(err).NotTo(HaveOccurred())
		claims, err := signer.Verify(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Hash).To(Equal(auth.LicenseHash("KEY", "secret")))
	})

	It("returns no token for an invalid key", func() {
		token, err := service.NewLicenseService(staticValidator(false), auth.NewSessionSigner("secret", 24)).Login(context.Background(), "KEY")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).To(BeEmpty())
	})
})

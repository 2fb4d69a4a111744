package worker

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/events"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/registry"
	"github.com/stemsplit/api/internal/separation"
	"github.com/stemsplit/api/internal/stems"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/telemetry"
)

// Progress checkpoints
const (
	ProgressStarted     = 5
	ProgressDownloading = 10
	ProgressDownloaded  = 20
	ProgressSeparating  = 30
	ProgressSeparated   = 70
	ProgressUploading   = 80
	ProgressCompleted   = 100
)

// Separator produces raw stems from an input file
type Separator interface {
	Separate(ctx context.Context, inputFile, prefix string) (separation.StemSet, error)
}

// PostProcessor turns raw stems into deliverables
type PostProcessor interface {
	Process(ctx context.Context, originalFile string, raw separation.StemSet, prefix string) (*stems.Result, error)
	Package(ctx context.Context, outputDir string, format model.PackageFormat) (string, error)
}

// Timeouts bound each blocking stage
type Timeouts struct {
	Download    time.Duration
	Separation  time.Duration
	PostProcess time.Duration
	Upload      time.Duration
}

// Config for SplitWorker
type Config struct {
	ScratchDir string
	Timeouts   Timeouts
}

// SplitWorker runs the separation pipeline for one job at a time. It is the
// only writer of a job's record once the job has been handed to it.
type SplitWorker struct {
	cfg       Config
	jobs      *registry.Registry
	stores    storage.Factory
	separator Separator
	processor PostProcessor
	notifier  events.Notifier
}

// NewSplitWorker creates a new split worker
func NewSplitWorker(cfg Config, jobs *registry.Registry, stores storage.Factory, separator Separator, processor PostProcessor, notifier events.Notifier) *SplitWorker {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &SplitWorker{
		cfg:       cfg,
		jobs:      jobs,
		stores:    stores,
		separator: separator,
		processor: processor,
		notifier:  notifier,
	}
}

// pipeline carries values between stages
type pipeline struct {
	job       *model.Job
	prefix    string
	workDir   string
	store     storage.ObjectStore
	localFile string
	raw       separation.StemSet
	result    *stems.Result
	artifacts []model.Artifact
}

// Process drives a queued job to a terminal state. Stage failures are
// recorded on the job; the returned error is only for logging.
func (w *SplitWorker) Process(ctx context.Context, jobID string) error {
	job, err := w.jobs.Get(jobID)
	if err != nil {
		return err
	}

	logger := log.WithFields(log.Fields{
		"jobID":  jobID,
		"source": job.SourceReference,
	})
	logger.Info("Starting split job")

	p := &pipeline{
		job:     job,
		prefix:  prefixFor(job.SourceReference),
		workDir: filepath.Join(w.cfg.ScratchDir, jobID),
	}

	defer func() {
		if err := os.RemoveAll(p.workDir); err != nil {
			logger.WithError(err).Warn("Failed to remove scratch directory")
		}
	}()

	w.updateJobStatus(jobID, model.JobStatusProcessing, ProgressStarted, "starting")

	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return w.failJob(jobID, errors.Mark(errors.Wrap(err, "cannot create scratch directory"), model.ErrDownload))
	}

	stages := []struct {
		name    string
		timeout time.Duration
		run     func(ctx context.Context, p *pipeline) error
	}{
		{"download", w.cfg.Timeouts.Download, w.download},
		{"separation", w.cfg.Timeouts.Separation, w.separate},
		{"post_process", w.cfg.Timeouts.PostProcess, w.postProcess},
		{"upload", w.cfg.Timeouts.Upload, w.upload},
	}

	for _, stage := range stages {
		if err := w.runStage(ctx, stage.name, stage.timeout, p, stage.run); err != nil {
			logger.WithError(err).WithField("stage", stage.name).Error("Split job failed")
			return w.failJob(jobID, err)
		}
	}

	w.completeJob(jobID, p.artifacts)
	logger.WithField("artifacts", len(p.artifacts)).Info("Split job completed")
	return nil
}

// runStage applies the stage deadline and turns an expired deadline into a
// timeout failure regardless of how the stage reported it.
func (w *SplitWorker) runStage(ctx context.Context, name string, timeout time.Duration, p *pipeline, run func(context.Context, *pipeline) error) error {
	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	err := run(stageCtx, p)
	telemetry.StageDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

	if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Newf("timeout: %s stage exceeded %s", name, timeout), model.ErrTimeout)
	}
	return err
}

func (w *SplitWorker) download(ctx context.Context, p *pipeline) error {
	w.updateJobStatus(p.job.ID, model.JobStatusProcessing, ProgressDownloading, "downloading")

	store, err := w.stores(p.job.StoreConfig)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "download failed"), model.ErrDownload)
	}
	p.store = store

	p.localFile = filepath.Join(p.workDir, path.Base(p.job.SourceReference))
	if err := store.Get(ctx, p.job.SourceReference, p.localFile); err != nil {
		return errors.Mark(errors.Wrap(err, "download failed"), model.ErrDownload)
	}

	w.updateJobStatus(p.job.ID, model.JobStatusProcessing, ProgressDownloaded, "downloaded")
	return nil
}

func (w *SplitWorker) separate(ctx context.Context, p *pipeline) error {
	w.updateJobStatus(p.job.ID, model.JobStatusProcessing, ProgressSeparating, "separating")

	raw, err := w.separator.Separate(ctx, p.localFile, p.prefix)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "stem separation failed"), model.ErrSeparation)
	}
	if len(raw) == 0 {
		return errors.Mark(errors.New("stem separation failed: no stems produced"), model.ErrSeparation)
	}
	p.raw = raw

	w.updateJobStatus(p.job.ID, model.JobStatusProcessing, ProgressSeparated, "processing stems")
	return nil
}

func (w *SplitWorker) postProcess(ctx context.Context, p *pipeline) error {
	result, err := w.processor.Process(ctx, p.localFile, p.raw, p.prefix)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "stem processing failed"), model.ErrPostProcess)
	}
	p.result = result

	w.updateJobStatus(p.job.ID, model.JobStatusProcessing, ProgressUploading, "uploading")
	return nil
}

// upload is best effort: artifacts that fail to upload are left out, and
// the stage fails only when nothing at all was delivered.
func (w *SplitWorker) upload(ctx context.Context, p *pipeline) error {
	logger := log.WithField("jobID", p.job.ID)

	names := make([]string, 0, len(p.result.Stems))
	for name := range p.result.Stems {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		localPath := p.result.Stems[name]
		filename := filepath.Base(localPath)
		reference := p.prefix + "/" + filename

		uploaded, err := p.store.Put(ctx, localPath, reference, storage.ContentTypeFor(localPath))
		if err != nil {
			telemetry.ArtifactUploadFailures.Inc()
			logger.WithError(err).WithField("stem", name).Warn("Failed to upload stem")
			continue
		}

		p.artifacts = append(p.artifacts, model.Artifact{
			Name:      name,
			Reference: uploaded,
			Filename:  filename,
		})
	}

	if zipPath, err := w.processor.Package(ctx, p.result.OutputDir, model.PackageFormatWAV); err != nil {
		telemetry.ArtifactUploadFailures.Inc()
		logger.WithError(err).Warn("Failed to package stems")
	} else {
		filename := p.prefix + "_stems.zip"
		uploaded, err := p.store.Put(ctx, zipPath, filename, "application/zip")
		if err != nil {
			telemetry.ArtifactUploadFailures.Inc()
			logger.WithError(err).Warn("Failed to upload stem package")
		} else {
			p.artifacts = append(p.artifacts, model.Artifact{
				Name:      model.ArtifactBundle,
				Reference: uploaded,
				Filename:  filepath.Base(zipPath),
			})
		}
	}

	if len(p.artifacts) == 0 {
		return errors.Mark(errors.New("upload failed: no artifacts could be stored"), model.ErrStore)
	}
	return nil
}

func (w *SplitWorker) updateJobStatus(jobID string, status model.JobStatus, progress int, step string) {
	job, err := w.jobs.Update(jobID, func(j *model.Job) error {
		j.Status = status
		if progress > j.Progress {
			j.Progress = progress
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("jobID", jobID).Warn("Failed to update job status")
		return
	}
	w.notifier.Progress(job, step)
}

func (w *SplitWorker) completeJob(jobID string, artifacts []model.Artifact) {
	job, err := w.jobs.Update(jobID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.Progress = ProgressCompleted
		j.ResultArtifacts = artifacts
		j.Error = ""
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("jobID", jobID).Error("Failed to complete job")
		return
	}
	telemetry.JobsCompleted.Inc()
	w.notifier.Completed(job)
}

func (w *SplitWorker) failJob(jobID string, cause error) error {
	kind := model.ErrorKind(cause)
	job, err := w.jobs.Update(jobID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = cause.Error()
		j.ResultArtifacts = nil
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("jobID", jobID).Error("Failed to mark job failed")
		return cause
	}
	telemetry.JobsFailed.WithLabelValues(kind).Inc()
	w.notifier.Failed(job, kind)
	return cause
}

// prefixFor names outputs after the source object without its extension
func prefixFor(reference string) string {
	base := path.Base(reference)
	prefix := strings.TrimSuffix(base, path.Ext(base))
	if prefix == "" || prefix == "." || prefix == "/" {
		return fmt.Sprintf("track_%d", time.Now().Unix())
	}
	return prefix
}

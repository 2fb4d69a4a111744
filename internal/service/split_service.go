package service

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/registry"
	"github.com/stemsplit/api/internal/telemetry"
)

// JobProcessor runs the pipeline for a single job
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type SplitServiceConfig struct {
	Workers       int
	QueueSize     int
	Retention     time.Duration
	SweepInterval time.Duration
}

// SplitService accepts jobs, schedules them on a bounded pool of workers
// and answers status queries from the shared registry.
type SplitService struct {
	cfg       SplitServiceConfig
	jobs      *registry.Registry
	processor JobProcessor
	validator *validator.Validate

	queue chan string

	mu       sync.RWMutex
	started  bool
	closed   bool
	runCtx   context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	stopTick chan struct{}
}

func NewSplitService(cfg SplitServiceConfig, jobs *registry.Registry, processor JobProcessor, v *validator.Validate) *SplitService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if v == nil {
		v = validator.New()
	}
	return &SplitService{
		cfg:       cfg,
		jobs:      jobs,
		processor: processor,
		validator: v,
		queue:     make(chan string, cfg.QueueSize),
		stopTick:  make(chan struct{}),
	}
}

// Start launches the workers. Jobs run under ctx until Shutdown.
func (s *SplitService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go s.work(i)
	}

	if s.cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}

	log.WithFields(log.Fields{
		"workers":   s.cfg.Workers,
		"queueSize": s.cfg.QueueSize,
	}).Info("Split service started")
}

func (s *SplitService) work(n int) {
	defer s.workers.Done()

	for jobID := range s.queue {
		telemetry.QueueDepthGauge.Set(float64(len(s.queue)))
		telemetry.InFlightGauge.Inc()

		if err := s.processor.Process(s.runCtx, jobID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"jobID":  jobID,
				"worker": n,
			}).Debug("Pipeline finished with error")
		}

		telemetry.InFlightGauge.Dec()
		s.Sweep()
	}
}

func (s *SplitService) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopTick:
			return
		}
	}
}

// Submit registers a queued job and hands it to the pool. A full queue
// rejects the job and leaves no record behind.
func (s *SplitService) Submit(ctx context.Context, req *model.SplitRequest) (*model.SplitSubmitResponse, error) {
	if req == nil {
		return nil, errors.Mark(errors.New("request body is required"), model.ErrInvalidRequest)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid split request"), model.ErrInvalidRequest)
	}

	jobID := uuid.New().String()
	if _, err := s.jobs.Create(jobID, req.SourceReference, *req.DestinationStore); err != nil {
		return nil, errors.Wrap(err, "failed to create job")
	}

	if err := s.enqueue(jobID); err != nil {
		s.jobs.Remove(jobID)
		telemetry.JobsRejected.Inc()
		return nil, err
	}

	telemetry.JobsSubmitted.Inc()
	telemetry.QueueDepthGauge.Set(float64(len(s.queue)))

	log.WithFields(log.Fields{
		"jobID":  jobID,
		"source": req.SourceReference,
	}).Info("Split job queued")

	return &model.SplitSubmitResponse{
		JobID:  jobID,
		Status: model.JobStatusQueued,
	}, nil
}

func (s *SplitService) enqueue(jobID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.Mark(errors.New("service is shutting down"), model.ErrResourceExhausted)
	}

	select {
	case s.queue <- jobID:
		return nil
	default:
		return errors.Mark(errors.Newf("job queue is full (%d waiting)", len(s.queue)), model.ErrResourceExhausted)
	}
}

// GetStatus returns a snapshot of the job
func (s *SplitService) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return s.jobs.Get(jobID)
}

// Sweep removes jobs past the retention window
func (s *SplitService) Sweep() []string {
	removed := s.jobs.Sweep(s.jobs.Now(), s.cfg.Retention)
	if len(removed) > 0 {
		telemetry.JobsSwept.Add(float64(len(removed)))
		log.WithField("jobs", len(removed)).Info("Swept expired jobs")
	}
	return removed
}

// Shutdown stops accepting jobs and waits for queued and running pipelines.
// When ctx expires first, running pipelines are cancelled.
func (s *SplitService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	close(s.stopTick)
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return errors.Wrap(ctx.Err(), "split service shutdown interrupted")
	}
}

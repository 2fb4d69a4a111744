package service

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/telemetry"
)

// SplitterAPI is the part of the splitter job API the gateway uses
type SplitterAPI interface {
	Submit(ctx context.Context, req *model.SplitRequest) (*model.SplitSubmitResponse, error)
	Status(ctx context.Context, jobID string) (*model.Job, error)
}

// GatewayService forwards split requests to the splitter and decorates the
// finished jobs with download links
type GatewayService struct {
	splitter    SplitterAPI
	store       storage.ObjectStore
	storeConfig model.StoreConfig
	presignTTL  time.Duration
	validator   *validator.Validate
}

func NewGatewayService(splitter SplitterAPI, store storage.ObjectStore, storeConfig model.StoreConfig, presignTTL time.Duration, v *validator.Validate) *GatewayService {
	return &GatewayService{
		splitter:    splitter,
		store:       store,
		storeConfig: storeConfig,
		presignTTL:  presignTTL,
		validator:   v,
	}
}

// Split asks the splitter to process a previously uploaded object
func (s *GatewayService) Split(ctx context.Context, req *model.GatewaySplitRequest) (*model.GatewaySplitResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid split request"), model.ErrInvalidRequest)
	}

	dest := s.storeConfig
	resp, err := s.splitter.Submit(ctx, &model.SplitRequest{
		SourceReference:  req.ObjectName,
		DestinationStore: &dest,
	})
	if err != nil {
		telemetry.UpstreamErrors.Inc()
		return nil, errors.Wrap(err, "failed to start splitting")
	}

	log.WithFields(log.Fields{
		"job_id": resp.JobID,
		"object": req.ObjectName,
	}).Info("split job forwarded")

	return &model.GatewaySplitResponse{
		Success: true,
		Status:  model.JobStatusProcessing,
		JobID:   resp.JobID,
		Message: "Audio splitting started successfully",
	}, nil
}

// Status returns the splitter's view of a job. Completed jobs get a
// presigned download URL per artifact.
func (s *GatewayService) Status(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.splitter.Status(ctx, jobID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			telemetry.UpstreamErrors.Inc()
		}
		return nil, errors.Wrap(err, "failed to get job status")
	}

	if job.Status != model.JobStatusCompleted {
		return job, nil
	}

	for i := range job.ResultArtifacts {
		url, err := s.store.Presign(ctx, job.ResultArtifacts[i].Reference, s.presignTTL)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"job_id":    jobID,
				"reference": job.ResultArtifacts[i].Reference,
			}).Warn("failed to presign artifact")
			continue
		}
		job.ResultArtifacts[i].DownloadURL = url
	}

	return job, nil
}

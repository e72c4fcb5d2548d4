package service

import (
	"context"

	"github.com/parcelworks/batchd/internal/cache"
	"github.com/parcelworks/batchd/internal/lib/job"
	"github.com/parcelworks/batchd/internal/lib/labels"
	"github.com/parcelworks/batchd/internal/repository"
	"github.com/parcelworks/batchd/internal/server"
)

// Services is a container for all service instances.
type Services struct {
	Batch *BatchService
	Job   *job.JobService
}

// NewService constructs the service container and wires the batch
// service into the background job handlers.
func NewService(s *server.Server, repos *repository.Repositories) (*Services, error) {
	snapshots := cache.NewBatchCache(s.Redis, s.Config.Cache.TTL, s.Logger)
	generator := labels.NewClient(s.Config, s.Logger)

	batchService := NewBatchService(
		repos.Batches,
		snapshots,
		generator,
		s.Config.Cache.MaxPageSize,
		s.Config.Labels.ProcessingDeadline,
		s.Logger,
	)

	s.Job.InitHandlers(batchService)
	if err := s.Job.Start(); err != nil {
		return nil, err
	}

	return &Services{
		Batch: batchService,
		Job:   s.Job,
	}, nil
}

// RunLabelJob executes the label workflow and discards the job summary.
// It adapts BatchService to the job.BatchProcessor interface, which only
// cares whether the job ran.
func (s *BatchService) RunLabelJob(ctx context.Context, batchID string, params repository.LabelParams) error {
	_, err := s.ProcessLabels(ctx, batchID, params)
	return err
}

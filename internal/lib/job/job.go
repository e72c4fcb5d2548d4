// Package job provides background job processing using Asynq.
//
// Asynq is a Redis-backed job queue: the HTTP layer enqueues label
// processing tasks with asynq.Client, and a worker server pulls them
// from Redis and runs the batch workflow. A scheduler periodically
// enqueues the reconcile task that unsticks aborted label jobs.
package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/config"
	"github.com/parcelworks/batchd/internal/repository"
)

// BatchProcessor is the slice of the batch service the job handlers
// need. Defined here so the job package does not depend on the service
// package's result types.
type BatchProcessor interface {
	// RunLabelJob executes the label-processing workflow for a batch.
	RunLabelJob(ctx context.Context, batchID string, params repository.LabelParams) error

	// ReconcileStuck releases batches stuck in "processing" and reports
	// how many were released.
	ReconcileStuck(ctx context.Context) (int, error)
}

// JobService holds the Asynq client (enqueue), server (worker
// execution), and scheduler (periodic tasks).
type JobService struct {
	// Client is used to enqueue tasks into Redis.
	Client *asynq.Client

	server    *asynq.Server
	scheduler *asynq.Scheduler
	processor BatchProcessor
	logger    *zerolog.Logger
}

// NewJobService creates a JobService configured to use Redis from cfg.
//
// Queue weights give label processing most of the worker share while
// leaving room for housekeeping tasks.
func NewJobService(logger *zerolog.Logger, cfg *config.Config) *JobService {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Address}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6, // label processing jobs
				"default":  3,
				"low":      1, // reconcile and other housekeeping
			},
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	return &JobService{
		Client:    client,
		server:    server,
		scheduler: scheduler,
		logger:    logger,
	}
}

// InitHandlers wires the batch service into the job handlers. Must be
// called before Start.
func (j *JobService) InitHandlers(processor BatchProcessor) {
	j.processor = processor
}

// Start registers task handlers and starts the worker server and the
// periodic scheduler. Both run in the background until Stop.
func (j *JobService) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessLabels, j.handleProcessLabelsTask)
	mux.HandleFunc(TaskReconcile, j.handleReconcileTask)

	j.logger.Info().Msg("Starting background job server")

	if err := j.server.Start(mux); err != nil {
		return err
	}

	reconcile, err := NewReconcileTask()
	if err != nil {
		return err
	}
	if _, err := j.scheduler.Register("@every 5m", reconcile); err != nil {
		return err
	}
	return j.scheduler.Start()
}

// EnqueueLabelProcessing enqueues an asynchronous label-processing job
// for the batch. Returns the task id for correlation.
func (j *JobService) EnqueueLabelProcessing(ctx context.Context, batchID string, params repository.LabelParams) (string, error) {
	task, err := NewProcessLabelsTask(batchID, params)
	if err != nil {
		return "", err
	}

	info, err := j.Client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}

	j.logger.Info().
		Str("type", "process_labels").
		Str("batch_id", batchID).
		Str("task_id", info.ID).
		Msg("Enqueued label job task")

	return info.ID, nil
}

// Stop gracefully stops the scheduler and worker server and closes the
// enqueue client.
func (j *JobService) Stop() {
	j.logger.Info().Msg("Stopping background job server")
	j.scheduler.Shutdown()
	j.server.Shutdown()
	j.Client.Close()
}

package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/parcelworks/batchd/internal/errs"
)

// handleProcessLabelsTask runs the label-processing workflow for the
// batch named in the task payload.
//
// Retry policy: store failures are returned as-is so Asynq retries the
// job. Semantic rejections (batch gone, not open, already processing)
// will not change on retry and are wrapped with asynq.SkipRetry.
func (j *JobService) handleProcessLabelsTask(ctx context.Context, t *asynq.Task) error {
	var p ProcessLabelsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal label processing payload: %v: %w", err, asynq.SkipRetry)
	}

	j.logger.Info().
		Str("type", "process_labels").
		Str("batch_id", p.BatchID).
		Msg("Processing label job task")

	if err := j.processor.RunLabelJob(ctx, p.BatchID, p.Params); err != nil {
		j.logger.Error().
			Str("type", "process_labels").
			Str("batch_id", p.BatchID).
			Err(err).
			Msg("Label job task failed")

		switch errs.KindOf(err) {
		case errs.KindNotFound, errs.KindInvalidState, errs.KindConflict, errs.KindInvalidArgument:
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	j.logger.Info().
		Str("type", "process_labels").
		Str("batch_id", p.BatchID).
		Msg("Label job task finished")

	return nil
}

// handleReconcileTask releases batches left in "processing" past the
// configured deadline.
func (j *JobService) handleReconcileTask(ctx context.Context, t *asynq.Task) error {
	released, err := j.processor.ReconcileStuck(ctx)
	if err != nil {
		j.logger.Error().
			Str("type", "reconcile").
			Err(err).
			Msg("Reconcile task failed")
		return err
	}

	if released > 0 {
		j.logger.Warn().
			Str("type", "reconcile").
			Int("released", released).
			Msg("Released stuck processing batches")
	}
	return nil
}

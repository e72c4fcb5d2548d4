package job

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelworks/batchd/internal/repository"
)

const (
	// TaskProcessLabels runs the label-processing workflow for one batch.
	TaskProcessLabels = "labels:process"

	// TaskReconcile releases batches stuck in "processing". Enqueued
	// periodically by the scheduler.
	TaskReconcile = "labels:reconcile"
)

// ProcessLabelsPayload is the JSON payload for the label processing task.
type ProcessLabelsPayload struct {
	BatchID string                 `json:"batch_id"`
	Params  repository.LabelParams `json:"params"`
}

// NewProcessLabelsTask constructs an Asynq task that processes labels
// for the given batch.
//
// Options:
//   - MaxRetry(3): a batch whose job aborted on a store failure is worth
//     retrying; semantically-rejected jobs skip retry in the handler
//   - Queue("critical"): label jobs are the service's main workload
//   - Timeout(10m): a job spanning many members may legitimately be slow
func NewProcessLabelsTask(batchID string, params repository.LabelParams) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessLabelsPayload{
		BatchID: batchID,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskProcessLabels,
		payload,
		asynq.MaxRetry(3),
		asynq.Queue("critical"),
		asynq.Timeout(10*time.Minute),
	), nil
}

// NewReconcileTask constructs the periodic reconcile task.
func NewReconcileTask() (*asynq.Task, error) {
	return asynq.NewTask(
		TaskReconcile,
		nil,
		asynq.MaxRetry(1),
		asynq.Queue("low"),
		asynq.Timeout(time.Minute),
	), nil
}

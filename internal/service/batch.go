package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/cache"
	"github.com/parcelworks/batchd/internal/errs"
	"github.com/parcelworks/batchd/internal/lib/labels"
	"github.com/parcelworks/batchd/internal/repository"
)

// BatchStore is the persistence collaborator of the coordinator. It is
// satisfied by *repository.BatchRepository; tests substitute an
// in-memory implementation.
type BatchStore interface {
	CreateOrLoad(ctx context.Context, batchID, userID string) (*repository.Batch, error)
	Get(ctx context.Context, batchID string) (*repository.Batch, error)
	AddMembers(ctx context.Context, batchID string, pairs []repository.MemberPair) error
	RemoveMembers(ctx context.Context, batchID string, pairs []repository.MemberPair) error
	ListMembers(ctx context.Context, batchID string) ([]repository.Member, error)
	SetMemberLabel(ctx context.Context, batchID string, pair repository.MemberPair, labelURL string) error
	AppendErrors(ctx context.Context, batchID string, batchErrors []repository.BatchError) error
	ListErrors(ctx context.Context, batchID string, offset, limit int) ([]repository.BatchError, int, error)
	Delete(ctx context.Context, batchID string) error
	BeginProcessing(ctx context.Context, batchID string, params repository.LabelParams) (bool, error)
	UpdateStatus(ctx context.Context, batchID string, status repository.Status) error
	StuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error)
	ReleaseProcessing(ctx context.Context, batchID string) (bool, error)
}

// SnapshotCache is the cache collaborator of the coordinator, satisfied
// by *cache.BatchCache. All methods are fail-open: errors have been
// absorbed before they reach the coordinator.
type SnapshotCache interface {
	Get(ctx context.Context, batchID string) cache.Result
	Set(ctx context.Context, batch *repository.Batch)
	Invalidate(ctx context.Context, batchID string)
}

// JobStatus is the overall outcome of a label-processing job.
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobSucceeded       JobStatus = "succeeded"
	JobPartiallyFailed JobStatus = "partially_failed"
	JobFailed          JobStatus = "failed"
)

// LabelResult is the per-member outcome of a label job.
type LabelResult struct {
	Member   repository.MemberPair `json:"member"`
	LabelURL string                `json:"label_url,omitempty"`
	Code     string                `json:"error_code,omitempty"`
	Message  string                `json:"error_message,omitempty"`
}

// LabelJob summarizes one process/labels invocation.
type LabelJob struct {
	JobID     string                 `json:"job_id"`
	BatchID   string                 `json:"batch_id"`
	Params    repository.LabelParams `json:"params"`
	Status    JobStatus              `json:"status"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Results   []LabelResult          `json:"results"`
}

// ErrorPage is one page of a batch's error collection. Total and
// TotalPages are computed at query time and may be stale relative to
// concurrent appends; that staleness is documented behavior, not a bug.
type ErrorPage struct {
	Errors     []repository.BatchError `json:"errors"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"pagesize"`
	Total      int                     `json:"total"`
	TotalPages int                     `json:"total_pages"`
}

// BatchService is the batch coordinator. All mutating operations on the
// same batch identifier are serialized through a per-identifier mutex;
// reads bypass the lock and see either pre- or post-mutation state.
type BatchService struct {
	store       BatchStore
	cache       SnapshotCache
	generator   labels.Generator
	locks       *keyedMutex
	maxPageSize int
	deadline    time.Duration
	logger      *zerolog.Logger
}

// NewBatchService constructs the coordinator.
//
// maxPageSize bounds error pagination requests; deadline is how long a
// batch may sit in "processing" before ReconcileStuck reverts it.
func NewBatchService(store BatchStore, snapshots SnapshotCache, generator labels.Generator,
	maxPageSize int, deadline time.Duration, logger *zerolog.Logger) *BatchService {
	return &BatchService{
		store:       store,
		cache:       snapshots,
		generator:   generator,
		locks:       newKeyedMutex(),
		maxPageSize: maxPageSize,
		deadline:    deadline,
		logger:      logger,
	}
}

// pairUp forms member pairs positionally from the two id lists.
//
// Pairing rule: rate_ids[i] belongs to shipment_ids[i]; when the rate
// list is shorter or absent, the remaining shipments get an empty rate.
// A rate list longer than the shipment list is rejected, since a rate
// cannot be stored without a paired shipment.
func pairUp(shipmentIDs, rateIDs []string) ([]repository.MemberPair, error) {
	if len(shipmentIDs) == 0 {
		return nil, errs.NewInvalidArgumentError("shipment_ids must not be empty", nil)
	}
	if len(rateIDs) > len(shipmentIDs) {
		return nil, errs.NewInvalidArgumentError("rate_ids must not be longer than shipment_ids", nil)
	}

	pairs := make([]repository.MemberPair, 0, len(shipmentIDs))
	for i, shipmentID := range shipmentIDs {
		if shipmentID == "" {
			return nil, errs.NewInvalidArgumentError("shipment_ids must not contain empty values", nil)
		}
		pair := repository.MemberPair{ShipmentID: shipmentID}
		if i < len(rateIDs) {
			pair.RateID = rateIDs[i]
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// Add adds member pairs to the batch, creating the batch on first touch.
// Adding a pair that is already present is a no-op (idempotent per pair).
// Returns the updated batch.
func (s *BatchService) Add(ctx context.Context, batchID, userID string, shipmentIDs, rateIDs []string) (*repository.Batch, error) {
	pairs, err := pairUp(shipmentIDs, rateIDs)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(batchID)
	defer s.locks.Unlock(batchID)

	if _, err := s.store.CreateOrLoad(ctx, batchID, userID); err != nil {
		return nil, err
	}
	if err := s.store.AddMembers(ctx, batchID, pairs); err != nil {
		return nil, err
	}
	s.invalidate(ctx, batchID)

	return s.store.Get(ctx, batchID)
}

// Remove removes member pairs from the batch. A pair with no rate id
// matches every member with that shipment id; removing an absent pair is
// a no-op. Returns the updated batch.
func (s *BatchService) Remove(ctx context.Context, batchID string, shipmentIDs, rateIDs []string) (*repository.Batch, error) {
	pairs, err := pairUp(shipmentIDs, rateIDs)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(batchID)
	defer s.locks.Unlock(batchID)

	if err := s.store.RemoveMembers(ctx, batchID, pairs); err != nil {
		return nil, err
	}
	s.invalidate(ctx, batchID)

	return s.store.Get(ctx, batchID)
}

// Get is a cache-aside read: on hit it returns the cached snapshot; on
// miss (or cache failure, treated identically) it reads the store and
// repopulates the cache. Get is intentionally not serialized against
// mutations; concurrent readers see either pre- or post-mutation state.
func (s *BatchService) Get(ctx context.Context, batchID string) (*repository.Batch, error) {
	if result := s.cache.Get(ctx, batchID); result.Hit() {
		return &result.Snapshot.Batch, nil
	}

	batch, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, batch)
	return batch, nil
}

// Delete removes the batch and all its members and errors. A subsequent
// Get reports NotFound; a subsequent Add creates a fresh batch with no
// trace of the old members or errors.
func (s *BatchService) Delete(ctx context.Context, batchID string) error {
	s.locks.Lock(batchID)
	defer s.locks.Unlock(batchID)

	if err := s.store.Delete(ctx, batchID); err != nil {
		return err
	}
	s.invalidate(ctx, batchID)
	return nil
}

// PaginateErrors returns one page of the batch's error collection.
//
// page is 1-indexed; pageSize must be between 1 and the configured
// maximum. A page beyond the last is a valid empty response. The
// concatenation of all pages reconstructs the error list in creation
// order as of pagination start; appends racing the pagination may or may
// not appear.
func (s *BatchService) PaginateErrors(ctx context.Context, batchID string, page, pageSize int) (*ErrorPage, error) {
	if page < 1 {
		return nil, errs.NewInvalidArgumentError("page must be at least 1", []errs.FieldError{
			{Field: "page", Error: "must be at least 1"},
		})
	}
	if pageSize < 1 || pageSize > s.maxPageSize {
		return nil, errs.NewInvalidArgumentError(
			fmt.Sprintf("pagesize must be between 1 and %d", s.maxPageSize),
			[]errs.FieldError{{Field: "pagesize", Error: fmt.Sprintf("must be between 1 and %d", s.maxPageSize)}})
	}

	offset := (page - 1) * pageSize
	entries, total, err := s.store.ListErrors(ctx, batchID, offset, pageSize)
	if err != nil {
		return nil, err
	}

	return &ErrorPage{
		Errors:     entries,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// ProcessLabels runs the label-processing workflow for the batch.
//
// Precondition: batch status "open" (otherwise InvalidState, or Conflict
// when a job is already in flight). For each member pair a label is
// requested from the generator; failures are recorded as batch errors,
// never aborting the job. Only store failures abort, leaving the batch
// in "processing" for ReconcileStuck to recover.
//
// Final states: at least one success moves the batch to "completed";
// total failure reverts it to "open" so the job can be retried.
func (s *BatchService) ProcessLabels(ctx context.Context, batchID string, params repository.LabelParams) (*LabelJob, error) {
	s.locks.Lock(batchID)
	defer s.locks.Unlock(batchID)

	members, err := s.store.ListMembers(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		// Guard against status checks on a batch that cannot produce
		// a single label.
		if _, err := s.store.Get(ctx, batchID); err != nil {
			return nil, err
		}
		return nil, errs.NewInvalidArgumentError("batch has no members to process", nil)
	}

	started, err := s.store.BeginProcessing(ctx, batchID, params)
	if err != nil {
		return nil, err
	}
	if !started {
		batch, err := s.store.Get(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if batch.Status == repository.StatusProcessing {
			return nil, errs.NewConflictError(fmt.Sprintf("Batch %s is already processing labels", batchID))
		}
		return nil, errs.NewInvalidStateError(
			fmt.Sprintf("Batch %s cannot process labels in status %s", batchID, batch.Status))
	}
	// Status changed: no reader may keep hitting the "open" snapshot.
	s.invalidate(ctx, batchID)

	job := &LabelJob{
		JobID:   uuid.New().String(),
		BatchID: batchID,
		Params:  params,
		Status:  JobPending,
	}

	var failures []repository.BatchError
	for _, member := range members {
		labelURL, genErr := s.generator.Generate(ctx, member.MemberPair, params)
		if genErr != nil {
			code := labels.ErrorCode(genErr)
			job.Failed++
			job.Results = append(job.Results, LabelResult{
				Member:  member.MemberPair,
				Code:    code,
				Message: genErr.Error(),
			})
			failures = append(failures, repository.BatchError{
				ShipmentID:   member.ShipmentID,
				RateID:       member.RateID,
				ErrorCode:    code,
				ErrorMessage: genErr.Error(),
				ErrorType:    "label_error",
				Source:       "label_generation",
			})
			continue
		}

		if err := s.store.SetMemberLabel(ctx, batchID, member.MemberPair, labelURL); err != nil {
			return nil, s.abortJob(ctx, batchID, err)
		}
		job.Succeeded++
		job.Results = append(job.Results, LabelResult{
			Member:   member.MemberPair,
			LabelURL: labelURL,
		})
	}

	if err := s.store.AppendErrors(ctx, batchID, failures); err != nil {
		return nil, s.abortJob(ctx, batchID, err)
	}

	finalStatus := repository.StatusCompleted
	switch {
	case job.Failed == 0:
		job.Status = JobSucceeded
	case job.Succeeded > 0:
		job.Status = JobPartiallyFailed
	default:
		job.Status = JobFailed
		finalStatus = repository.StatusOpen
	}

	if err := s.store.UpdateStatus(ctx, batchID, finalStatus); err != nil {
		return nil, s.abortJob(ctx, batchID, err)
	}
	s.invalidate(ctx, batchID)

	s.logger.Info().
		Str("batch_id", batchID).
		Str("job_id", job.JobID).
		Str("job_status", string(job.Status)).
		Int("succeeded", job.Succeeded).
		Int("failed", job.Failed).
		Msg("label job finished")

	return job, nil
}

// abortJob handles a store failure mid-job: the batch stays in
// "processing" (the reconcile task will unstick it), but the cache entry
// must not keep serving the pre-job snapshot.
func (s *BatchService) abortJob(ctx context.Context, batchID string, err error) error {
	s.logger.Error().Err(err).Str("batch_id", batchID).Msg("label job aborted by store failure")
	s.invalidate(ctx, batchID)
	return err
}

// ReconcileStuck reverts batches left in "processing" longer than the
// configured deadline back to "open", allowing their label jobs to be
// retried. Reports how many batches were released.
func (s *BatchService) ReconcileStuck(ctx context.Context) (int, error) {
	ids, err := s.store.StuckProcessing(ctx, s.deadline)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, batchID := range ids {
		s.locks.Lock(batchID)
		ok, err := s.store.ReleaseProcessing(ctx, batchID)
		if err != nil {
			s.locks.Unlock(batchID)
			return released, err
		}
		if ok {
			s.invalidate(ctx, batchID)
			released++
			s.logger.Warn().Str("batch_id", batchID).Msg("released stuck processing batch")
		}
		s.locks.Unlock(batchID)
	}
	return released, nil
}

// invalidate drops the cached snapshot. It runs on a context detached
// from the caller's cancellation: a client disconnecting mid-operation
// must not leave a stale snapshot being served indefinitely.
func (s *BatchService) invalidate(ctx context.Context, batchID string) {
	s.cache.Invalidate(context.WithoutCancel(ctx), batchID)
}

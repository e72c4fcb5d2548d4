package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/batchd/internal/cache"
	"github.com/parcelworks/batchd/internal/errs"
	"github.com/parcelworks/batchd/internal/lib/labels"
	"github.com/parcelworks/batchd/internal/repository"
)

// --- In-memory collaborators ------------------------------------------------

type fakeBatch struct {
	record          repository.Batch
	members         []repository.Member
	batchErrors     []repository.BatchError
	processingSince time.Time
}

// fakeStore is an in-memory BatchStore mirroring the repository's
// semantics: identity by external batch id, idempotent member inserts,
// rate-blind removal on empty rate ids, append-only errors.
type fakeStore struct {
	mu      sync.Mutex
	batches map[string]*fakeBatch
	nextID  int64

	// failSetLabel simulates a store outage mid label job.
	failSetLabel bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: map[string]*fakeBatch{}}
}

func (f *fakeStore) get(batchID string) (*fakeBatch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, errs.NewNotFoundError(fmt.Sprintf("Batch %s not found", batchID), true)
	}
	return b, nil
}

func (f *fakeStore) snapshot(b *fakeBatch) *repository.Batch {
	record := b.record
	record.MemberCount = len(b.members)
	return &record
}

func (f *fakeStore) CreateOrLoad(ctx context.Context, batchID, userID string) (*repository.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.batches[batchID]; ok {
		return f.snapshot(b), nil
	}

	f.nextID++
	b := &fakeBatch{record: repository.Batch{
		ID:        f.nextID,
		BatchID:   batchID,
		UserID:    userID,
		Status:    repository.StatusOpen,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}}
	f.batches[batchID] = b
	return f.snapshot(b), nil
}

func (f *fakeStore) Get(ctx context.Context, batchID string) (*repository.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return nil, err
	}
	return f.snapshot(b), nil
}

func (f *fakeStore) AddMembers(ctx context.Context, batchID string, pairs []repository.MemberPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		exists := false
		for _, m := range b.members {
			if m.ShipmentID == p.ShipmentID && m.RateID == p.RateID {
				exists = true
				break
			}
		}
		if !exists {
			b.members = append(b.members, repository.Member{MemberPair: p, CreatedAt: time.Now().UTC()})
		}
	}
	b.record.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) RemoveMembers(ctx context.Context, batchID string, pairs []repository.MemberPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		kept := b.members[:0]
		for _, m := range b.members {
			remove := m.ShipmentID == p.ShipmentID && (p.RateID == "" || m.RateID == p.RateID)
			if !remove {
				kept = append(kept, m)
			}
		}
		b.members = kept
	}
	b.record.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) ListMembers(ctx context.Context, batchID string) ([]repository.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.batches[batchID]
	if !ok {
		return nil, nil
	}
	return append([]repository.Member(nil), b.members...), nil
}

func (f *fakeStore) SetMemberLabel(ctx context.Context, batchID string, pair repository.MemberPair, labelURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSetLabel {
		return errs.NewInfrastructureError()
	}

	b, err := f.get(batchID)
	if err != nil {
		return err
	}
	for i, m := range b.members {
		if m.ShipmentID == pair.ShipmentID && m.RateID == pair.RateID {
			b.members[i].LabelURL = labelURL
		}
	}
	return nil
}

func (f *fakeStore) AppendErrors(ctx context.Context, batchID string, batchErrors []repository.BatchError) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(batchErrors) == 0 {
		return nil
	}
	b, err := f.get(batchID)
	if err != nil {
		return err
	}
	for _, e := range batchErrors {
		e.ID = int64(len(b.batchErrors) + 1)
		e.CreatedAt = time.Now().UTC()
		b.batchErrors = append(b.batchErrors, e)
	}
	return nil
}

func (f *fakeStore) ListErrors(ctx context.Context, batchID string, offset, limit int) ([]repository.BatchError, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return nil, 0, err
	}

	total := len(b.batchErrors)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]repository.BatchError(nil), b.batchErrors[offset:end]...), total, nil
}

func (f *fakeStore) Delete(ctx context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.get(batchID); err != nil {
		return err
	}
	delete(f.batches, batchID)
	return nil
}

func (f *fakeStore) BeginProcessing(ctx context.Context, batchID string, params repository.LabelParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return false, err
	}
	if b.record.Status != repository.StatusOpen {
		return false, nil
	}
	b.record.Status = repository.StatusProcessing
	b.record.ShipDate = &params.ShipDate
	b.record.LabelLayout = params.LabelLayout
	b.record.LabelFormat = params.LabelFormat
	b.record.DisplayScheme = params.DisplayScheme
	b.processingSince = time.Now().UTC()
	return true, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, batchID string, status repository.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.get(batchID)
	if err != nil {
		return err
	}
	b.record.Status = status
	return nil
}

func (f *fakeStore) StuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	cutoff := time.Now().UTC().Add(-olderThan)
	for id, b := range f.batches {
		if b.record.Status == repository.StatusProcessing && b.processingSince.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ReleaseProcessing(ctx context.Context, batchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.batches[batchID]
	if !ok || b.record.Status != repository.StatusProcessing {
		return false, nil
	}
	b.record.Status = repository.StatusOpen
	return true, nil
}

// fakeSnapshots is an in-memory SnapshotCache that also counts
// invalidations, so tests can assert the coherency protocol.
type fakeSnapshots struct {
	mu            sync.Mutex
	entries       map[string]*cache.Snapshot
	invalidations int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{entries: map[string]*cache.Snapshot{}}
}

func (f *fakeSnapshots) Get(ctx context.Context, batchID string) cache.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	if snap, ok := f.entries[batchID]; ok {
		copied := *snap
		return cache.Result{Outcome: cache.OutcomeHit, Snapshot: &copied}
	}
	return cache.Result{Outcome: cache.OutcomeMiss}
}

func (f *fakeSnapshots) Set(ctx context.Context, batch *repository.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries[batch.BatchID] = &cache.Snapshot{Batch: *batch, CachedAt: time.Now().UTC()}
}

func (f *fakeSnapshots) Invalidate(ctx context.Context, batchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.entries, batchID)
	f.invalidations++
}

// unavailableSnapshots simulates a cache backend outage: every read
// degrades, writes and invalidations are black holes.
type unavailableSnapshots struct{}

func (unavailableSnapshots) Get(ctx context.Context, batchID string) cache.Result {
	return cache.Result{Outcome: cache.OutcomeUnavailable}
}
func (unavailableSnapshots) Set(ctx context.Context, batch *repository.Batch) {}
func (unavailableSnapshots) Invalidate(ctx context.Context, batchID string)   {}

// stubGenerator fails the pairs listed in failing, succeeds otherwise.
type stubGenerator struct {
	mu      sync.Mutex
	failing map[string]*labels.GenerateError
	calls   int
}

func (g *stubGenerator) Generate(ctx context.Context, member repository.MemberPair, params repository.LabelParams) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.failing != nil {
		if genErr, ok := g.failing[member.ShipmentID]; ok {
			return "", genErr
		}
	}
	return "https://labels.example.com/" + member.ShipmentID + ".pdf", nil
}

func newTestService(store BatchStore, snapshots SnapshotCache) *BatchService {
	logger := zerolog.Nop()
	return NewBatchService(store, snapshots, &stubGenerator{}, 100, 15*time.Minute, &logger)
}

var testParams = repository.LabelParams{
	ShipDate:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	LabelLayout: "4x6",
	LabelFormat: "pdf",
}

// --- Member mutation --------------------------------------------------------

func TestAddCreatesBatchOnFirstTouch(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())

	batch, err := svc.Add(context.Background(), "batch-1", "user-1", []string{"s1", "s2"}, []string{"r1", "r2"})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", batch.BatchID)
	assert.Equal(t, "user-1", batch.UserID)
	assert.Equal(t, repository.StatusOpen, batch.Status)
	assert.Equal(t, 2, batch.MemberCount)
}

func TestAddIsIdempotentPerPair(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, []string{"r1"})
	require.NoError(t, err)

	batch, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)

	// Same shipment under a different rate is a distinct pair.
	batch, err = svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, []string{"r2"})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.MemberCount)
}

func TestAddPairsPositionally(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	// Rate list shorter than shipment list: trailing shipments carry no rate.
	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s2", "s3"}, []string{"r1"})
	require.NoError(t, err)

	members, err := store.ListMembers(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "r1", members[0].RateID)
	assert.Empty(t, members[1].RateID)
	assert.Empty(t, members[2].RateID)
}

func TestAddRejectsInvalidPairings(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", nil, nil)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, []string{"r1", "r2"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.Add(ctx, "batch-1", "user-1", []string{"s1", ""}, nil)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestRemoveWithoutRateIsRateBlind(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s1", "s2"}, []string{"r1", "r2", "r3"})
	require.NoError(t, err)

	// No rate given: both s1 members go.
	batch, err := svc.Remove(ctx, "batch-1", []string{"s1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)
}

func TestRemoveExactPairAndAbsentPair(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s1"}, []string{"r1", "r2"})
	require.NoError(t, err)

	batch, err := svc.Remove(ctx, "batch-1", []string{"s1"}, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)

	// Removing a pair that is not present is a no-op.
	batch, err = svc.Remove(ctx, "batch-1", []string{"s9"}, []string{"r9"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)
}

func TestRemoveFromUnknownBatch(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())

	_, err := svc.Remove(context.Background(), "ghost", []string{"s1"}, nil)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

// --- Reads and cache coherency ----------------------------------------------

func TestGetPopulatesCacheOnMiss(t *testing.T) {
	snapshots := newFakeSnapshots()
	svc := newTestService(newFakeStore(), snapshots)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)

	// Second read is served from the cache.
	result := snapshots.Get(ctx, "batch-1")
	require.True(t, result.Hit())
	assert.Equal(t, 1, result.Snapshot.Batch.MemberCount)
}

func TestGetUnknownBatch(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())

	_, err := svc.Get(context.Background(), "ghost")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestReadYourWrites(t *testing.T) {
	snapshots := newFakeSnapshots()
	svc := newTestService(newFakeStore(), snapshots)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	// Warm the cache, then mutate. The next read must see the mutation.
	_, err = svc.Get(ctx, "batch-1")
	require.NoError(t, err)

	_, err = svc.Add(ctx, "batch-1", "user-1", []string{"s2"}, nil)
	require.NoError(t, err)

	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, batch.MemberCount)
}

func TestMutationsInvalidateBeforeReturning(t *testing.T) {
	snapshots := newFakeSnapshots()
	svc := newTestService(newFakeStore(), snapshots)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	_, err = svc.Remove(ctx, "batch-1", []string{"s1"}, nil)
	require.NoError(t, err)
	err = svc.Delete(ctx, "batch-1")
	require.NoError(t, err)

	assert.Equal(t, 3, snapshots.invalidations)
}

func TestCacheOutageDegradesToStoreReads(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, unavailableSnapshots{})
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.MemberCount)
}

// --- Deletion ---------------------------------------------------------------

func TestDeleteThenGetReportsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "batch-1"))

	_, err = svc.Get(ctx, "batch-1")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	err = svc.Delete(ctx, "batch-1")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDeleteThenAddCreatesFreshBatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s2"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "batch-1"))

	batch, err := svc.Add(ctx, "batch-1", "user-2", []string{"s3"}, nil)
	require.NoError(t, err)

	// No trace of the old members.
	assert.Equal(t, 1, batch.MemberCount)
	assert.Equal(t, "user-2", batch.UserID)

	page, err := svc.PaginateErrors(ctx, "batch-1", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

// --- Error pagination -------------------------------------------------------

func seedErrors(t *testing.T, store *fakeStore, batchID string, n int) {
	t.Helper()
	entries := make([]repository.BatchError, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, repository.BatchError{
			ShipmentID:   fmt.Sprintf("s%d", i),
			ErrorCode:    "RATE_EXPIRED",
			ErrorMessage: fmt.Sprintf("failure %d", i),
		})
	}
	require.NoError(t, store.AppendErrors(context.Background(), batchID, entries))
}

func TestPaginateErrorsMath(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	seedErrors(t, store, "batch-1", 7)

	page, err := svc.PaginateErrors(ctx, "batch-1", 1, 3)
	require.NoError(t, err)
	assert.Len(t, page.Errors, 3)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages)

	// Last partial page.
	page, err = svc.PaginateErrors(ctx, "batch-1", 3, 3)
	require.NoError(t, err)
	assert.Len(t, page.Errors, 1)

	// Beyond the last page: valid, empty.
	page, err = svc.PaginateErrors(ctx, "batch-1", 9, 3)
	require.NoError(t, err)
	assert.Empty(t, page.Errors)
	assert.Equal(t, 7, page.Total)
}

func TestPaginateErrorsPreservesCreationOrder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	seedErrors(t, store, "batch-1", 5)

	var collected []repository.BatchError
	for page := 1; ; page++ {
		p, err := svc.PaginateErrors(ctx, "batch-1", page, 2)
		require.NoError(t, err)
		if len(p.Errors) == 0 {
			break
		}
		collected = append(collected, p.Errors...)
	}

	require.Len(t, collected, 5)
	for i, e := range collected {
		assert.Equal(t, fmt.Sprintf("failure %d", i), e.ErrorMessage)
	}
}

func TestPaginateErrorsValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.PaginateErrors(ctx, "batch-1", 0, 10)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.PaginateErrors(ctx, "batch-1", 1, 0)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.PaginateErrors(ctx, "batch-1", 1, 101)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.PaginateErrors(ctx, "ghost", 1, 10)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

// --- Label processing -------------------------------------------------------

func newLabelTestService(store *fakeStore, gen *stubGenerator) *BatchService {
	logger := zerolog.Nop()
	return NewBatchService(store, newFakeSnapshots(), gen, 100, 15*time.Minute, &logger)
}

func TestProcessLabelsAllSucceed(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{}
	svc := newLabelTestService(store, gen)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s2"}, []string{"r1", "r2"})
	require.NoError(t, err)

	job, err := svc.ProcessLabels(ctx, "batch-1", testParams)
	require.NoError(t, err)

	assert.Equal(t, JobSucceeded, job.Status)
	assert.Equal(t, 2, job.Succeeded)
	assert.Zero(t, job.Failed)
	assert.NotEmpty(t, job.JobID)

	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, batch.Status)

	members, err := store.ListMembers(ctx, "batch-1")
	require.NoError(t, err)
	for _, m := range members {
		assert.NotEmpty(t, m.LabelURL)
	}
}

func TestProcessLabelsPartialFailure(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{failing: map[string]*labels.GenerateError{
		"s2": {Code: "RATE_EXPIRED", Message: "rate no longer purchasable"},
	}}
	svc := newLabelTestService(store, gen)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s2", "s3"}, []string{"r1", "r2", "r3"})
	require.NoError(t, err)

	job, err := svc.ProcessLabels(ctx, "batch-1", testParams)
	require.NoError(t, err)

	assert.Equal(t, JobPartiallyFailed, job.Status)
	assert.Equal(t, 2, job.Succeeded)
	assert.Equal(t, 1, job.Failed)

	// Any success completes the batch.
	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, batch.Status)

	// The failure is recorded as exactly one batch error.
	page, err := svc.PaginateErrors(ctx, "batch-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Errors, 1)
	assert.Equal(t, "s2", page.Errors[0].ShipmentID)
	assert.Equal(t, "RATE_EXPIRED", page.Errors[0].ErrorCode)
	assert.Equal(t, "rate no longer purchasable", page.Errors[0].ErrorMessage)
}

func TestProcessLabelsTotalFailureReopensBatch(t *testing.T) {
	store := newFakeStore()
	gen := &stubGenerator{failing: map[string]*labels.GenerateError{
		"s1": {Code: "CARRIER_UNREACHABLE", Message: "carrier timeout"},
		"s2": {Code: "CARRIER_UNREACHABLE", Message: "carrier timeout"},
	}}
	svc := newLabelTestService(store, gen)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1", "s2"}, nil)
	require.NoError(t, err)

	job, err := svc.ProcessLabels(ctx, "batch-1", testParams)
	require.NoError(t, err)

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, 2, job.Failed)

	// Total failure reverts to open so the job can be retried.
	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusOpen, batch.Status)

	page, err := svc.PaginateErrors(ctx, "batch-1", 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Errors, 2)
}

func TestProcessLabelsRejectsEmptyBatch(t *testing.T) {
	store := newFakeStore()
	svc := newLabelTestService(store, &stubGenerator{})
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	_, err = svc.Remove(ctx, "batch-1", []string{"s1"}, nil)
	require.NoError(t, err)

	_, err = svc.ProcessLabels(ctx, "batch-1", testParams)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = svc.ProcessLabels(ctx, "ghost", testParams)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestProcessLabelsConflictsWhileProcessing(t *testing.T) {
	store := newFakeStore()
	svc := newLabelTestService(store, &stubGenerator{})
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	// Force the processing state directly, as if a job were in flight.
	started, err := store.BeginProcessing(ctx, "batch-1", testParams)
	require.NoError(t, err)
	require.True(t, started)

	_, err = svc.ProcessLabels(ctx, "batch-1", testParams)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestProcessLabelsInvalidStateWhenCompleted(t *testing.T) {
	store := newFakeStore()
	svc := newLabelTestService(store, &stubGenerator{})
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	_, err = svc.ProcessLabels(ctx, "batch-1", testParams)
	require.NoError(t, err)

	_, err = svc.ProcessLabels(ctx, "batch-1", testParams)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestProcessLabelsStoreFailureLeavesProcessing(t *testing.T) {
	store := newFakeStore()
	svc := newLabelTestService(store, &stubGenerator{})
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)

	store.failSetLabel = true
	_, err = svc.ProcessLabels(ctx, "batch-1", testParams)
	require.Error(t, err)

	// The batch stays in processing; reconciliation is responsible for
	// unsticking it.
	batch, err := store.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, batch.Status)
}

// --- Reconciliation ---------------------------------------------------------

func TestReconcileStuckReleasesExpiredProcessing(t *testing.T) {
	store := newFakeStore()
	logger := zerolog.Nop()
	svc := NewBatchService(store, newFakeSnapshots(), &stubGenerator{}, 100, time.Millisecond, &logger)
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	started, err := store.BeginProcessing(ctx, "batch-1", testParams)
	require.NoError(t, err)
	require.True(t, started)

	time.Sleep(5 * time.Millisecond)

	released, err := svc.ReconcileStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	batch, err := store.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusOpen, batch.Status)

	// Nothing left to release.
	released, err = svc.ReconcileStuck(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestReconcileStuckIgnoresFreshProcessing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"s1"}, nil)
	require.NoError(t, err)
	_, err = store.BeginProcessing(ctx, "batch-1", testParams)
	require.NoError(t, err)

	released, err := svc.ReconcileStuck(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
}

// --- Concurrency ------------------------------------------------------------

func TestConcurrentMutationsSerializePerBatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := svc.Add(ctx, "batch-1", "user-1",
				[]string{fmt.Sprintf("s%d", i)}, []string{fmt.Sprintf("r%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	batch, err := svc.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, workers, batch.MemberCount)
}

func TestConcurrentAddAndRemove(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeSnapshots())
	ctx := context.Background()

	_, err := svc.Add(ctx, "batch-1", "user-1", []string{"keep"}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Add(ctx, "batch-1", "user-1", []string{fmt.Sprintf("s%d", i)}, nil)
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Remove(ctx, "batch-1", []string{fmt.Sprintf("s%d", i)}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Whatever interleaving happened, the fixed member survives and the
	// store never lost a write.
	members, err := store.ListMembers(ctx, "batch-1")
	require.NoError(t, err)

	found := false
	for _, m := range members {
		if m.ShipmentID == "keep" {
			found = true
		}
	}
	assert.True(t, found)
}

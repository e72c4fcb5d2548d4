// Package cache is the read-through/write-invalidate cache in front of
// the persisted batch record.
//
// It stores serialized batch snapshots in Redis under "batch:<id>" keys
// with a bounded TTL. The cache is a derived, disposable view: its
// absence is never an error, and a cache backend failure degrades to a
// miss (fail-open) so the store remains the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/repository"
)

// keyPrefix namespaces batch snapshot keys in the shared Redis instance.
const keyPrefix = "batch:"

// Snapshot is the cached representation of a batch: the record plus a
// timestamp identifying when the snapshot was taken, used to detect
// staleness when debugging.
type Snapshot struct {
	Batch    repository.Batch `json:"batch"`
	CachedAt time.Time        `json:"cached_at"`
}

// Outcome distinguishes the three results a cache read can have.
// Callers must treat OutcomeUnavailable exactly like OutcomeMiss.
type Outcome int

const (
	// OutcomeHit means the snapshot was found and decoded.
	OutcomeHit Outcome = iota

	// OutcomeMiss means no entry exists (absent, expired, or evicted).
	OutcomeMiss

	// OutcomeUnavailable means the cache backend failed. The error has
	// already been logged; the caller proceeds against the store.
	OutcomeUnavailable
)

// Result is the outcome of a cache read.
type Result struct {
	Outcome  Outcome
	Snapshot *Snapshot
}

// Hit reports whether the read produced a usable snapshot.
func (r Result) Hit() bool {
	return r.Outcome == OutcomeHit && r.Snapshot != nil
}

// commands is the slice of the go-redis client the cache needs. Narrow on
// purpose, so tests can substitute an in-memory implementation.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// BatchCache caches batch snapshots in Redis with a bounded TTL.
type BatchCache struct {
	client commands
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewBatchCache constructs a BatchCache. ttl bounds cross-process
// staleness; within one process, invalidate-then-miss gives
// read-your-writes.
func NewBatchCache(client commands, ttl time.Duration, logger *zerolog.Logger) *BatchCache {
	return &BatchCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get attempts a cache read for the given batch identifier.
func (c *BatchCache) Get(ctx context.Context, batchID string) Result {
	raw, err := c.client.Get(ctx, keyPrefix+batchID).Result()
	if err != nil {
		if err == redis.Nil {
			return Result{Outcome: OutcomeMiss}
		}
		c.logger.Warn().Err(err).Str("batch_id", batchID).Msg("cache read failed, degrading to miss")
		return Result{Outcome: OutcomeUnavailable}
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		// A corrupt entry is as good as absent. Drop it so the next
		// read repopulates a clean snapshot.
		c.logger.Warn().Err(err).Str("batch_id", batchID).Msg("discarding undecodable cache entry")
		c.client.Del(ctx, keyPrefix+batchID)
		return Result{Outcome: OutcomeMiss}
	}

	return Result{Outcome: OutcomeHit, Snapshot: &snapshot}
}

// Set stores a snapshot of the batch under its identifier. Failures are
// logged and swallowed: a missing cache entry only costs a future miss.
func (c *BatchCache) Set(ctx context.Context, batch *repository.Batch) {
	snapshot := Snapshot{
		Batch:    *batch,
		CachedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error().Err(err).Str("batch_id", batch.BatchID).Msg("failed to encode batch snapshot")
		return
	}

	if err := c.client.Set(ctx, keyPrefix+batch.BatchID, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("batch_id", batch.BatchID).Msg("cache write failed")
	}
}

// Invalidate drops the cached snapshot for the given batch identifier.
// Called synchronously after every successful mutation, before the
// mutating call returns, so no in-process reader can observe a cache hit
// reflecting pre-mutation state afterwards.
func (c *BatchCache) Invalidate(ctx context.Context, batchID string) {
	if err := c.client.Del(ctx, keyPrefix+batchID).Err(); err != nil {
		// Fail-open: the TTL bounds how long the stale entry survives.
		c.logger.Warn().Err(err).Str("batch_id", batchID).Msg("cache invalidation failed")
	}
}

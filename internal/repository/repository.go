// Package repository handles all interactions with the database.
//
// It contains raw SQL queries and methods to fetch, persist, or update
// data, abstracting SQL logic away from the service layer. Every error
// leaving this package has already been mapped through sqlerr into the
// application taxonomy.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/batchd/internal/errs"
	"github.com/parcelworks/batchd/internal/sqlerr"
)

// BatchRepository is the durable store for batches, their member pairs,
// and their error entries.
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository constructs a BatchRepository over the shared pool.
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

const batchColumns = `b.id, b.batch_id, b.user_id, b.status, b.ship_date,
	b.label_layout, b.label_format, b.display_scheme, b.created_at, b.updated_at,
	(select count(*) from batch_members m where m.batch_id = b.id) as member_count`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	var userID *string
	var layout, format, scheme *string
	err := row.Scan(&b.ID, &b.BatchID, &userID, &b.Status, &b.ShipDate,
		&layout, &format, &scheme, &b.CreatedAt, &b.UpdatedAt, &b.MemberCount)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		b.UserID = *userID
	}
	if layout != nil {
		b.LabelLayout = *layout
	}
	if format != nil {
		b.LabelFormat = *format
	}
	if scheme != nil {
		b.DisplayScheme = *scheme
	}
	return &b, nil
}

// Get returns the batch identified by batchID, or NOT_FOUND.
func (r *BatchRepository) Get(ctx context.Context, batchID string) (*Batch, error) {
	row := r.pool.QueryRow(ctx,
		`select `+batchColumns+` from batches b where b.batch_id = $1`, batchID)

	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NewNotFoundError(fmt.Sprintf("Batch %s not found", batchID), true)
		}
		return nil, sqlerr.HandleError(err)
	}
	return b, nil
}

// CreateOrLoad returns the batch identified by batchID, creating it in
// status "open" on first touch. The insert is idempotent: two concurrent
// first touches converge on the same row.
func (r *BatchRepository) CreateOrLoad(ctx context.Context, batchID, userID string) (*Batch, error) {
	_, err := r.pool.Exec(ctx,
		`insert into batches (batch_id, user_id) values ($1, nullif($2, ''))
		 on conflict (batch_id) do nothing`, batchID, userID)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	return r.Get(ctx, batchID)
}

// lockBatch loads id+status for update within tx, so member mutations on
// one batch serialize at the row level even without the coordinator lock.
func lockBatch(ctx context.Context, tx pgx.Tx, batchID string) (int64, Status, error) {
	var id int64
	var status Status
	err := tx.QueryRow(ctx,
		`select id, status from batches where batch_id = $1 for update`, batchID).
		Scan(&id, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", errs.NewNotFoundError(fmt.Sprintf("Batch %s not found", batchID), true)
		}
		return 0, "", sqlerr.HandleError(err)
	}
	if status == StatusDeleted {
		return 0, "", errs.NewInvalidStateError(fmt.Sprintf("Batch %s is deleted", batchID))
	}
	return id, status, nil
}

// AddMembers appends member pairs to the batch. Adding a pair that is
// already present is a no-op, not an error.
func (r *BatchRepository) AddMembers(ctx context.Context, batchID string, pairs []MemberPair) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		id, _, err := lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, p := range pairs {
			batch.Queue(
				`insert into batch_members (batch_id, shipment_id, rate_id) values ($1, $2, $3)
				 on conflict (batch_id, shipment_id, rate_id) do nothing`,
				id, p.ShipmentID, p.RateID)
		}
		batch.Queue(`update batches set updated_at = now() where id = $1`, id)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return sqlerr.HandleError(err)
		}
		return nil
	})
}

// RemoveMembers removes member pairs from the batch. A pair with an empty
// rate id matches every member with that shipment id; removing an absent
// pair is a no-op.
func (r *BatchRepository) RemoveMembers(ctx context.Context, batchID string, pairs []MemberPair) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		id, _, err := lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, p := range pairs {
			if p.RateID == "" {
				batch.Queue(
					`delete from batch_members where batch_id = $1 and shipment_id = $2`,
					id, p.ShipmentID)
			} else {
				batch.Queue(
					`delete from batch_members where batch_id = $1 and shipment_id = $2 and rate_id = $3`,
					id, p.ShipmentID, p.RateID)
			}
		}
		batch.Queue(`update batches set updated_at = now() where id = $1`, id)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return sqlerr.HandleError(err)
		}
		return nil
	})
}

// ListMembers returns all member pairs of the batch.
func (r *BatchRepository) ListMembers(ctx context.Context, batchID string) ([]Member, error) {
	rows, err := r.pool.Query(ctx,
		`select m.shipment_id, m.rate_id, m.label_url, m.created_at
		 from batch_members m
		 join batches b on b.id = m.batch_id
		 where b.batch_id = $1
		 order by m.created_at, m.id`, batchID)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var labelURL *string
		if err := rows.Scan(&m.ShipmentID, &m.RateID, &labelURL, &m.CreatedAt); err != nil {
			return nil, sqlerr.HandleError(err)
		}
		if labelURL != nil {
			m.LabelURL = *labelURL
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.HandleError(err)
	}
	return members, nil
}

// SetMemberLabel records the label reference produced for one member.
func (r *BatchRepository) SetMemberLabel(ctx context.Context, batchID string, pair MemberPair, labelURL string) error {
	_, err := r.pool.Exec(ctx,
		`update batch_members m set label_url = $4
		 from batches b
		 where b.id = m.batch_id and b.batch_id = $1
		   and m.shipment_id = $2 and m.rate_id = $3`,
		batchID, pair.ShipmentID, pair.RateID, labelURL)
	if err != nil {
		return sqlerr.HandleError(err)
	}
	return nil
}

// AppendErrors appends error entries to the batch. Entries are immutable
// once written.
func (r *BatchRepository) AppendErrors(ctx context.Context, batchID string, batchErrors []BatchError) error {
	if len(batchErrors) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		id, _, err := lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, e := range batchErrors {
			batch.Queue(
				`insert into batch_errors (batch_id, shipment_id, rate_id, error_code, error_message, error_type, source)
				 values ($1, $2, $3, nullif($4, ''), $5, nullif($6, ''), nullif($7, ''))`,
				id, e.ShipmentID, e.RateID, e.ErrorCode, e.ErrorMessage, e.ErrorType, e.Source)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return sqlerr.HandleError(err)
		}
		return nil
	})
}

// ListErrors returns one page of the batch's error entries ordered by
// creation time ascending (id breaks ties, so the order is total and a
// page never skips or duplicates entries that predate the request), plus
// the total count at query time.
func (r *BatchRepository) ListErrors(ctx context.Context, batchID string, offset, limit int) ([]BatchError, int, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `select id from batches where batch_id = $1`, batchID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, errs.NewNotFoundError(fmt.Sprintf("Batch %s not found", batchID), true)
		}
		return nil, 0, sqlerr.HandleError(err)
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`select count(*) from batch_errors where batch_id = $1`, id).Scan(&total); err != nil {
		return nil, 0, sqlerr.HandleError(err)
	}

	rows, err := r.pool.Query(ctx,
		`select id, shipment_id, rate_id, coalesce(error_code, ''), error_message,
		        coalesce(error_type, ''), coalesce(source, ''), created_at
		 from batch_errors
		 where batch_id = $1
		 order by created_at, id
		 offset $2 limit $3`, id, offset, limit)
	if err != nil {
		return nil, 0, sqlerr.HandleError(err)
	}
	defer rows.Close()

	entries := []BatchError{}
	for rows.Next() {
		var e BatchError
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.RateID, &e.ErrorCode,
			&e.ErrorMessage, &e.ErrorType, &e.Source, &e.CreatedAt); err != nil {
			return nil, 0, sqlerr.HandleError(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqlerr.HandleError(err)
	}
	return entries, total, nil
}

// Delete removes the batch and all its members and errors in one
// transaction: either everything disappears or nothing does.
func (r *BatchRepository) Delete(ctx context.Context, batchID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		id, _, err := lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		batch.Queue(`delete from batch_errors where batch_id = $1`, id)
		batch.Queue(`delete from batch_members where batch_id = $1`, id)
		batch.Queue(`delete from batches where id = $1`, id)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return sqlerr.HandleError(err)
		}
		return nil
	})
}

// BeginProcessing atomically flips the batch from "open" to "processing"
// and stores the label parameters. It reports false when the batch exists
// but is not open, so the caller can distinguish Conflict/InvalidState
// from NotFound.
func (r *BatchRepository) BeginProcessing(ctx context.Context, batchID string, params LabelParams) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`update batches
		 set status = $2, ship_date = $3, label_layout = $4, label_format = $5,
		     display_scheme = $6, updated_at = now()
		 where batch_id = $1 and status = $7`,
		batchID, StatusProcessing, params.ShipDate, params.LabelLayout,
		params.LabelFormat, params.DisplayScheme, StatusOpen)
	if err != nil {
		return false, sqlerr.HandleError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// No row flipped: either the batch is missing or not open.
	if _, err := r.Get(ctx, batchID); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateStatus unconditionally sets the batch status.
func (r *BatchRepository) UpdateStatus(ctx context.Context, batchID string, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`update batches set status = $2, updated_at = now() where batch_id = $1`,
		batchID, status)
	if err != nil {
		return sqlerr.HandleError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFoundError(fmt.Sprintf("Batch %s not found", batchID), true)
	}
	return nil
}

// StuckProcessing lists batches that have sat in "processing" longer than
// olderThan. Used by the reconcile task to unstick aborted label jobs.
func (r *BatchRepository) StuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`select batch_id from batches
		 where status = $1 and updated_at < now() - $2::interval`,
		StatusProcessing, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, sqlerr.HandleError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.HandleError(err)
	}
	return ids, nil
}

// ReleaseProcessing reverts a stuck batch back to "open", guarded so a
// batch that completed in the meantime is left alone.
func (r *BatchRepository) ReleaseProcessing(ctx context.Context, batchID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`update batches set status = $2, updated_at = now()
		 where batch_id = $1 and status = $3`,
		batchID, StatusOpen, StatusProcessing)
	if err != nil {
		return false, sqlerr.HandleError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BatchRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return sqlerr.HandleError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return sqlerr.HandleError(err)
	}
	return nil
}

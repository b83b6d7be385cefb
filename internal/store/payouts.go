package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const payoutColumns = `
	id, vendor_id, payment_id, milestone_id, source_ref, amount, currency, status, retry_count,
	last_attempt_at, next_attempt_at, eligible_at, external_transfer_id, failure_reason,
	held_reason, created_at, updated_at, completed_at`

func scanPayout(row pgx.Row) (*domain.PayoutRecord, error) {
	var p domain.PayoutRecord
	if err := row.Scan(
		&p.ID,
		&p.VendorID,
		&p.PaymentID,
		&p.MilestoneID,
		&p.SourceRef,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.RetryCount,
		&p.LastAttemptAt,
		&p.NextAttemptAt,
		&p.EligibleAt,
		&p.ExternalTransferID,
		&p.FailureReason,
		&p.HeldReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// insertPayout creates a payout unless one already exists for its source. The source payment
// row is locked so concurrent inserts cannot overdraw the vendor's entitlement; the amount is
// capped at what remains of the payment's net share.
func insertPayout(ctx context.Context, q querier, p domain.PayoutRecord) (*domain.PayoutRecord, bool, error) {
	existing, err := scanPayout(q.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE source_ref = $1", p.SourceRef))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	var entitled int64
	err = q.QueryRow(ctx, `
		SELECT GREATEST(net_amount - refunded_amount, 0) FROM payments WHERE id = $1 FOR UPDATE
	`, p.PaymentID).Scan(&entitled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrPaymentNotFound
		}
		return nil, false, err
	}

	var committed int64
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE payment_id = $1 AND status <> 'FAILED'
	`, p.PaymentID).Scan(&committed); err != nil {
		return nil, false, err
	}

	remaining := entitled - committed
	if remaining <= 0 {
		return nil, false, ErrPayoutExceedsEntitlement
	}
	if p.Amount > remaining {
		p.Amount = remaining
	}

	created, err := scanPayout(q.QueryRow(ctx, `
		INSERT INTO payouts (
			id, vendor_id, payment_id, milestone_id, source_ref, amount, currency, status,
			retry_count, eligible_at, held_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $11)
		ON CONFLICT (source_ref) DO NOTHING
		RETURNING `+payoutColumns,
		p.ID, p.VendorID, p.PaymentID, p.MilestoneID, p.SourceRef, p.Amount, p.Currency, p.Status,
		p.EligibleAt, p.HeldReason, p.CreatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, findErr := scanPayout(q.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE source_ref = $1", p.SourceRef))
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// CreatePayout inserts a payout idempotently by source reference. The boolean reports
// whether a new row was created.
func (r *PostgresRepository) CreatePayout(ctx context.Context, p domain.PayoutRecord, audit []domain.AuditEntry) (*domain.PayoutRecord, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	payout, created, err := insertPayout(ctx, tx, p)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := insertAudit(ctx, tx, audit); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return payout, created, nil
}

func (r *PostgresRepository) GetPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRecord, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) GetPayoutByTransferID(ctx context.Context, transferID string) (*domain.PayoutRecord, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE external_transfer_id = $1", transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListVendorPayouts returns a vendor's payouts, newest first.
func (r *PostgresRepository) ListVendorPayouts(ctx context.Context, vendorID uuid.UUID, limit int) ([]domain.PayoutRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return r.queryPayouts(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE vendor_id = $1 ORDER BY created_at DESC LIMIT $2", vendorID, limit)
}

// ListVendorPayoutsByStatus returns a vendor's payouts in any of statuses, oldest first.
func (r *PostgresRepository) ListVendorPayoutsByStatus(ctx context.Context, vendorID uuid.UUID, statuses ...domain.PayoutStatus) ([]domain.PayoutRecord, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return r.queryPayouts(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE vendor_id = $1 AND status = ANY($2) ORDER BY eligible_at ASC, created_at ASC", vendorID, values)
}

// ListVendorsWithDuePayouts returns vendors with a held payout or a pending payout due by now.
func (r *PostgresRepository) ListVendorsWithDuePayouts(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT vendor_id
		FROM payouts
		WHERE status = 'HELD'
		   OR (status = 'PENDING' AND eligible_at <= $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vendors []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		vendors = append(vendors, id)
	}
	return vendors, rows.Err()
}

func (r *PostgresRepository) queryPayouts(ctx context.Context, query string, args ...any) ([]domain.PayoutRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// MutatePayout locks the payout row, applies fn and persists the result with its audit trail.
func (r *PostgresRepository) MutatePayout(ctx context.Context, id uuid.UUID, fn PayoutMutation) (*domain.PayoutRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanPayout(tx.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	next, audit, err := fn(*current)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payouts
		SET status = $2,
		    retry_count = $3,
		    last_attempt_at = $4,
		    next_attempt_at = $5,
		    external_transfer_id = COALESCE($6, external_transfer_id),
		    failure_reason = $7,
		    held_reason = $8,
		    updated_at = $9,
		    completed_at = $10
		WHERE id = $1
	`,
		id,
		next.Status,
		next.RetryCount,
		next.LastAttemptAt,
		next.NextAttemptAt,
		next.ExternalTransferID,
		next.FailureReason,
		next.HeldReason,
		next.UpdatedAt,
		next.CompletedAt,
	); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &next, nil
}

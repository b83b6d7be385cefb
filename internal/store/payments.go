package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const paymentColumns = `
	id, booking_id, vendor_id, milestone_id, category, amount, currency, escrowed,
	fee_amount, net_amount, applied_rate, refunded_amount, pending_refund_amount, pending_refund_id,
	status, external_transaction_id, client_secret, idempotency_key, failure_reason, requires_action_at, created_at, updated_at,
	processed_at`

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.VendorID,
		&p.MilestoneID,
		&p.Category,
		&p.Amount,
		&p.Currency,
		&p.Escrowed,
		&p.FeeAmount,
		&p.NetAmount,
		&p.AppliedRate,
		&p.RefundedAmount,
		&p.PendingRefundAmount,
		&p.PendingRefundID,
		&p.Status,
		&p.ExternalTransactionID,
		&p.ClientSecret,
		&p.IdempotencyKey,
		&p.FailureReason,
		&p.RequiresActionAt,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) findPayment(ctx context.Context, where string, arg any) (*domain.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// CreatePayment inserts a new payment. A reused idempotency key returns ErrDuplicatePayment.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p domain.PaymentRecord, audit []domain.AuditEntry) (*domain.PaymentRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payments (
			id, booking_id, vendor_id, milestone_id, category, amount, currency, escrowed,
			fee_amount, net_amount, applied_rate, refunded_amount, status, idempotency_key,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13, $14, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + paymentColumns

	created, err := scanPayment(tx.QueryRow(ctx, query,
		p.ID,
		p.BookingID,
		p.VendorID,
		p.MilestoneID,
		p.Category,
		p.Amount,
		p.Currency,
		p.Escrowed,
		p.FeeAmount,
		p.NetAmount,
		p.AppliedRate,
		p.Status,
		p.IdempotencyKey,
		p.CreatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDuplicatePayment
		}
		return nil, err
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	return r.findPayment(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentRecord, error) {
	return r.findPayment(ctx, "idempotency_key = $1", key)
}

func (r *PostgresRepository) GetPaymentByExternalID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error) {
	return r.findPayment(ctx, "external_transaction_id = $1", transactionID)
}

// FindFundingPayment returns the completed escrowed payment that funds a milestone: the
// milestone's own payment when one exists, otherwise the booking's prepayment.
func (r *PostgresRepository) FindFundingPayment(ctx context.Context, bookingID, milestoneID uuid.UUID) (*domain.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE booking_id = $1
		  AND escrowed = TRUE
		  AND status IN ('COMPLETED', 'REFUNDED')
		  AND (milestone_id = $2 OR milestone_id IS NULL)
		ORDER BY (milestone_id = $2) DESC NULLS LAST, created_at ASC
		LIMIT 1
	`
	p, err := scanPayment(r.db.QueryRow(ctx, query, bookingID, milestoneID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPayments returns payment history matching q, newest first.
func (r *PostgresRepository) ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.PaymentRecord, error) {
	var conditions []string
	var args []any
	if q.BookingID != nil {
		args = append(args, *q.BookingID)
		conditions = append(conditions, fmt.Sprintf("booking_id = $%d", len(args)))
	}
	if q.VendorID != nil {
		args = append(args, *q.VendorID)
		conditions = append(conditions, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if q.Status != nil {
		args = append(args, *q.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit)

	query := "SELECT " + paymentColumns + " FROM payments"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	return r.queryPayments(ctx, query, args...)
}

// ListStalePayments returns payments that have sat in status since before olderThan.
// REQUIRES_ACTION payments age from when action was requested.
func (r *PostgresRepository) ListStalePayments(ctx context.Context, status domain.PaymentStatus, olderThan time.Time, limit int) ([]domain.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1
		  AND COALESCE(requires_action_at, updated_at) < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.queryPayments(ctx, query, status, olderThan, limit)
}

// ListUnpaidDirectPayments returns completed, non-escrowed payments of a vendor that have no payout yet.
func (r *PostgresRepository) ListUnpaidDirectPayments(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.vendor_id = $1
		  AND p.status = 'COMPLETED'
		  AND p.escrowed = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM payouts po WHERE po.source_ref = 'payment:' || p.id::text
		  )
		ORDER BY p.created_at ASC
	`
	return r.queryPayments(ctx, query, vendorID)
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...any) ([]domain.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// MutatePayment locks the payment row, applies fn and persists the result with its audit trail.
func (r *PostgresRepository) MutatePayment(ctx context.Context, id uuid.UUID, fn PaymentMutation) (*domain.PaymentRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanPayment(tx.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
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

	query := `
		UPDATE payments
		SET status = $2,
		    external_transaction_id = COALESCE(external_transaction_id, $3),
		    client_secret = $4,
		    refunded_amount = $5,
		    pending_refund_amount = $6,
		    pending_refund_id = $7,
		    failure_reason = $8,
		    requires_action_at = $9,
		    processed_at = $10,
		    updated_at = $11
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query,
		id,
		next.Status,
		next.ExternalTransactionID,
		next.ClientSecret,
		next.RefundedAmount,
		next.PendingRefundAmount,
		next.PendingRefundID,
		next.FailureReason,
		next.RequiresActionAt,
		next.ProcessedAt,
		next.UpdatedAt,
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

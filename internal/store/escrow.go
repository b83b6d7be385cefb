package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const escrowColumns = `
	id, booking_id, currency, total_amount, held_amount, released_amount, refunded_amount,
	reserved_amount, status, created_at, updated_at`

const milestoneColumns = `id, booking_id, escrow_id, amount, status, completed_at, released_at`

func scanEscrow(row pgx.Row) (*domain.EscrowAccount, error) {
	var a domain.EscrowAccount
	if err := row.Scan(
		&a.ID,
		&a.BookingID,
		&a.Currency,
		&a.TotalAmount,
		&a.HeldAmount,
		&a.ReleasedAmount,
		&a.RefundedAmount,
		&a.ReservedAmount,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func loadMilestones(ctx context.Context, q querier, escrowID uuid.UUID) ([]domain.Milestone, error) {
	rows, err := q.Query(ctx, "SELECT "+milestoneColumns+" FROM escrow_milestones WHERE escrow_id = $1 ORDER BY id", escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	milestones := []domain.Milestone{}
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(&m.ID, &m.BookingID, &m.EscrowID, &m.Amount, &m.Status, &m.CompletedAt, &m.ReleasedAt); err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

func (r *PostgresRepository) loadEscrowView(ctx context.Context, where string, arg any) (*domain.EscrowView, error) {
	account, err := scanEscrow(r.db.QueryRow(ctx, "SELECT "+escrowColumns+" FROM escrow_accounts WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	milestones, err := loadMilestones(ctx, r.db, account.ID)
	if err != nil {
		return nil, err
	}
	return &domain.EscrowView{EscrowAccount: *account, Milestones: milestones}, nil
}

func (r *PostgresRepository) GetEscrow(ctx context.Context, id uuid.UUID) (*domain.EscrowView, error) {
	return r.loadEscrowView(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetEscrowByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.EscrowView, error) {
	return r.loadEscrowView(ctx, "booking_id = $1", bookingID)
}

// GetMilestone returns a single mirrored milestone.
func (r *PostgresRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*domain.Milestone, error) {
	var m domain.Milestone
	err := r.db.QueryRow(ctx, "SELECT "+milestoneColumns+" FROM escrow_milestones WHERE id = $1", id).
		Scan(&m.ID, &m.BookingID, &m.EscrowID, &m.Amount, &m.Status, &m.CompletedAt, &m.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMilestoneNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateEscrow inserts an escrow with its milestones and opening ledger entries.
func (r *PostgresRepository) CreateEscrow(ctx context.Context, view domain.EscrowView, ledger []domain.LedgerEntry, audit []domain.AuditEntry) (*domain.EscrowView, error) {
	if err := view.CheckBalanced(); err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a := view.EscrowAccount
	_, err = tx.Exec(ctx, `
		INSERT INTO escrow_accounts (
			id, booking_id, currency, total_amount, held_amount, released_amount, refunded_amount,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, a.ID, a.BookingID, a.Currency, a.TotalAmount, a.HeldAmount, a.ReleasedAmount, a.RefundedAmount, a.Status, a.CreatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, ErrDuplicateEscrow
		}
		return nil, err
	}

	for _, m := range view.Milestones {
		_, err := tx.Exec(ctx, `
			INSERT INTO escrow_milestones (id, booking_id, escrow_id, amount, status, completed_at, released_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.BookingID, a.ID, m.Amount, m.Status, m.CompletedAt, m.ReleasedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := insertLedgerEntries(ctx, tx, ledger); err != nil {
		return nil, err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &view, nil
}

// MutateEscrow locks the escrow row and its milestones, applies fn and persists the new
// balances, milestone states, ledger entries, payout and audit trail in one transaction.
// A ledger entry that was already recorded rolls the whole mutation back with ErrDuplicateLedgerEntry.
func (r *PostgresRepository) MutateEscrow(ctx context.Context, id uuid.UUID, fn EscrowMutation) (*domain.EscrowView, *domain.PayoutRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	account, err := scanEscrow(tx.QueryRow(ctx, "SELECT "+escrowColumns+" FROM escrow_accounts WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrEscrowNotFound
		}
		return nil, nil, err
	}
	milestones, err := loadMilestones(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	original := make(map[uuid.UUID]domain.Milestone, len(milestones))
	for _, m := range milestones {
		original[m.ID] = m
	}
	view := &domain.EscrowView{EscrowAccount: *account, Milestones: milestones}
	unchanged := domain.EscrowView{EscrowAccount: *account, Milestones: append([]domain.Milestone(nil), milestones...)}

	change, err := fn(view)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return &unchanged, nil, nil
		}
		return nil, nil, err
	}
	if err := view.CheckBalanced(); err != nil {
		return nil, nil, err
	}

	if err := insertLedgerEntries(ctx, tx, change.Ledger); err != nil {
		return nil, nil, err
	}

	a := view.EscrowAccount
	if _, err := tx.Exec(ctx, `
		UPDATE escrow_accounts
		SET total_amount = $2, held_amount = $3, released_amount = $4, refunded_amount = $5,
		    reserved_amount = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, id, a.TotalAmount, a.HeldAmount, a.ReleasedAmount, a.RefundedAmount, a.ReservedAmount, a.Status, a.UpdatedAt); err != nil {
		return nil, nil, err
	}

	for _, m := range view.Milestones {
		before, existed := original[m.ID]
		if !existed {
			if _, err := tx.Exec(ctx, `
				INSERT INTO escrow_milestones (id, booking_id, escrow_id, amount, status, completed_at, released_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, m.ID, m.BookingID, id, m.Amount, m.Status, m.CompletedAt, m.ReleasedAt); err != nil {
				return nil, nil, err
			}
			continue
		}
		if before.Status == m.Status {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE escrow_milestones SET status = $2, completed_at = $3, released_at = $4 WHERE id = $1
		`, m.ID, m.Status, m.CompletedAt, m.ReleasedAt); err != nil {
			return nil, nil, err
		}
	}

	var payout *domain.PayoutRecord
	if change.Payout != nil {
		var created bool
		payout, created, err = insertPayout(ctx, tx, *change.Payout)
		if err != nil && !errors.Is(err, ErrPayoutExceedsEntitlement) {
			return nil, nil, err
		}
		if created {
			if err := insertAudit(ctx, tx, change.PayoutAudit); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := insertAudit(ctx, tx, change.Audit); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return view, payout, nil
}

func insertLedgerEntries(ctx context.Context, q querier, entries []domain.LedgerEntry) error {
	for _, e := range entries {
		tag, err := q.Exec(ctx, `
			INSERT INTO escrow_ledger_entries (id, escrow_id, kind, amount, reference, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
			ON CONFLICT (kind, reference) DO NOTHING
		`, e.ID, e.EscrowID, e.Kind, e.Amount, e.Reference, e.Reason, e.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateLedgerEntry
		}
	}
	return nil
}

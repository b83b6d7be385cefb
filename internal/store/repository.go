/**
 * @description
 * PostgreSQL data access for payments, escrow, payouts and vendor payout configuration.
 *
 * @notes
 * - Every financial mutation runs in one transaction that starts with `SELECT ... FOR UPDATE`
 *   on the row being changed, and writes its audit entries before committing.
 * - The Mutate* methods hand the locked record to a callback. Returning ErrNoChange from the
 *   callback releases the lock without writing anything.
 */

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

var (
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrEscrowNotFound           = errors.New("escrow account not found")
	ErrMilestoneNotFound        = errors.New("milestone not found")
	ErrPayoutNotFound           = errors.New("payout not found")
	ErrVendorConfigNotFound     = errors.New("vendor payout config not found")
	ErrDuplicatePayment         = errors.New("payment with idempotency key already exists")
	ErrDuplicateEscrow          = errors.New("escrow already exists for booking")
	ErrDuplicateLedgerEntry     = errors.New("escrow ledger entry already recorded")
	ErrPayoutExceedsEntitlement = errors.New("payout exceeds vendor entitlement for payment")
	ErrNoChange                 = errors.New("no change")
)

// PaymentMutation receives the locked payment and returns its replacement.
type PaymentMutation func(current domain.PaymentRecord) (domain.PaymentRecord, []domain.AuditEntry, error)

// PayoutMutation receives the locked payout and returns its replacement.
type PayoutMutation func(current domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error)

// EscrowMutation receives the locked escrow with its milestones and changes them in place.
type EscrowMutation func(view *domain.EscrowView) (EscrowChange, error)

// EscrowChange lists the rows an escrow mutation adds alongside the updated balances.
// PayoutAudit is written only when Payout results in a new row.
type EscrowChange struct {
	Ledger      []domain.LedgerEntry
	Audit       []domain.AuditEntry
	Payout      *domain.PayoutRecord
	PayoutAudit []domain.AuditEntry
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements the service's storage on a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping verifies the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func insertAudit(ctx context.Context, q querier, entries []domain.AuditEntry) error {
	for _, e := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO audit_log (id, entity_type, entity_id, previous_status, new_status, event_id, source, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9)
		`, e.ID, e.EntityType, e.EntityID, e.PreviousStatus, e.NewStatus, e.EventID, e.Source, e.Detail, e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// RecordAudit writes audit entries that are not tied to a locked mutation.
func (r *PostgresRepository) RecordAudit(ctx context.Context, entries ...domain.AuditEntry) error {
	return insertAudit(ctx, r.db, entries)
}

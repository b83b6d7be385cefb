package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const vendorConfigColumns = `
	vendor_id, processor_account_id, auto_payout, payout_delay_hours, minimum_payout_amount,
	payouts_enabled, manual_payout_requested_at, updated_at`

func scanVendorConfig(row pgx.Row) (*domain.VendorPayoutConfig, error) {
	var c domain.VendorPayoutConfig
	if err := row.Scan(
		&c.VendorID,
		&c.ProcessorAccountID,
		&c.AutoPayout,
		&c.PayoutDelayHours,
		&c.MinimumPayoutAmount,
		&c.PayoutsEnabled,
		&c.ManualPayoutRequestedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.PayoutDelay = time.Duration(c.PayoutDelayHours) * time.Hour
	return &c, nil
}

func (r *PostgresRepository) GetVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID) (*domain.VendorPayoutConfig, error) {
	c, err := scanVendorConfig(r.db.QueryRow(ctx, "SELECT "+vendorConfigColumns+" FROM vendor_payout_configs WHERE vendor_id = $1", vendorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorConfigNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpsertVendorPayoutConfig creates or replaces a vendor's payout settings. payouts_enabled is
// owned by processor account events and is left untouched on update.
func (r *PostgresRepository) UpsertVendorPayoutConfig(ctx context.Context, cfg domain.VendorPayoutConfig, audit []domain.AuditEntry) (*domain.VendorPayoutConfig, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	saved, err := scanVendorConfig(tx.QueryRow(ctx, `
		INSERT INTO vendor_payout_configs (
			vendor_id, processor_account_id, auto_payout, payout_delay_hours, minimum_payout_amount,
			payouts_enabled, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vendor_id) DO UPDATE
		SET processor_account_id = EXCLUDED.processor_account_id,
		    auto_payout = EXCLUDED.auto_payout,
		    payout_delay_hours = EXCLUDED.payout_delay_hours,
		    minimum_payout_amount = EXCLUDED.minimum_payout_amount,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+vendorConfigColumns,
		cfg.VendorID, cfg.ProcessorAccountID, cfg.AutoPayout, cfg.PayoutDelayHours, cfg.MinimumPayoutAmount,
		cfg.PayoutsEnabled, cfg.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

// SetVendorPayoutsEnabled records the processor's view of a connected account. It returns
// the affected vendor, or ErrVendorConfigNotFound when no vendor uses the account.
func (r *PostgresRepository) SetVendorPayoutsEnabled(ctx context.Context, processorAccountID string, enabled bool, at time.Time) (*domain.VendorPayoutConfig, error) {
	c, err := scanVendorConfig(r.db.QueryRow(ctx, `
		UPDATE vendor_payout_configs
		SET payouts_enabled = $2, updated_at = $3
		WHERE processor_account_id = $1
		RETURNING `+vendorConfigColumns, processorAccountID, enabled, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorConfigNotFound
		}
		return nil, err
	}
	return c, nil
}

// SetManualPayoutRequested sets or clears the manual payout flag.
func (r *PostgresRepository) SetManualPayoutRequested(ctx context.Context, vendorID uuid.UUID, at *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE vendor_payout_configs SET manual_payout_requested_at = $2 WHERE vendor_id = $1
	`, vendorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVendorConfigNotFound
	}
	return nil
}

// GetVendorPayoutConfigByAccount resolves a processor connected account to its vendor.
func (r *PostgresRepository) GetVendorPayoutConfigByAccount(ctx context.Context, processorAccountID string) (*domain.VendorPayoutConfig, error) {
	c, err := scanVendorConfig(r.db.QueryRow(ctx, "SELECT "+vendorConfigColumns+" FROM vendor_payout_configs WHERE processor_account_id = $1", processorAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorConfigNotFound
		}
		return nil, err
	}
	return c, nil
}

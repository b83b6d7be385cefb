package store

import (
	"context"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

// BeginWebhookEvent records delivery of a processor event and reports whether an earlier
// delivery of the same event was already processed. Deployments without the events table
// fall back to state-based idempotency only.
func (r *PostgresRepository) BeginWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	var status domain.WebhookEventStatus
	err := r.db.QueryRow(ctx, `
		INSERT INTO processor_webhook_events (event_id, event_type, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE SET event_type = EXCLUDED.event_type
		RETURNING status
	`, eventID, eventType, domain.WebhookReceived).Scan(&status)
	if err != nil {
		if isUndefinedTableError(err) {
			return false, nil
		}
		return false, err
	}
	return status == domain.WebhookProcessed, nil
}

// FinishWebhookEvent stores the outcome of processing a delivery.
func (r *PostgresRepository) FinishWebhookEvent(ctx context.Context, eventID string, status domain.WebhookEventStatus, outcome, errText string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE processor_webhook_events
		SET status = $2, outcome = NULLIF($3, ''), error = NULLIF($4, ''), processed_at = NOW()
		WHERE event_id = $1
	`, eventID, status, outcome, errText)
	if err != nil && isUndefinedTableError(err) {
		return nil
	}
	return err
}

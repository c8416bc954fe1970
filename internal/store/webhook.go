package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
)

// WebhookEventRecord is a row of webhook_events, surfaced to reconciliation
// so stuck deliveries can be flagged for operator attention.
type WebhookEventRecord struct {
	EventID   string
	EventType string
	State     enum.WebhookState
	Error     string
	CreatedAt time.Time
}

// ClaimWebhookEvent inserts a processing-state row for eventID, returning
// false if a row already exists (the event was seen before — the caller
// should skip reprocessing). This is the durable half of the idempotency
// guard; internal/lock provides the in-flight distributed lock on top.
func (s *Store) ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, state) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, string(enum.WebhookProcessing))
	if err != nil {
		return false, fmt.Errorf("store: claim webhook event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim webhook event %s rows affected: %w", eventID, err)
	}
	return n == 1, nil
}

// FinishWebhookEvent transitions a claimed webhook event to completed or failed.
func (s *Store) FinishWebhookEvent(ctx context.Context, eventID string, state enum.WebhookState, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET state = $1, error = NULLIF($2, ''), updated_at = now() WHERE event_id = $3`,
		string(state), errMsg, eventID)
	if err != nil {
		return fmt.Errorf("store: finish webhook event %s: %w", eventID, err)
	}
	return nil
}

// FailedWebhookEventsSince returns webhook_events rows in the failed state
// created at or after since, oldest first, for the reconciliation job to
// flag — there is no stored raw payload to safely replay against, since
// Stripe signature verification needs the exact bytes Stripe sent, so this
// is a detection pass, not an automatic retry.
func (s *Store) FailedWebhookEventsSince(ctx context.Context, since time.Time) ([]WebhookEventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, state, COALESCE(error, ''), created_at
		 FROM webhook_events WHERE state = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		string(enum.WebhookFailed), since)
	if err != nil {
		return nil, fmt.Errorf("store: failed webhook events since: %w", err)
	}
	defer rows.Close()

	var out []WebhookEventRecord
	for rows.Next() {
		var r WebhookEventRecord
		var state string
		if err := rows.Scan(&r.EventID, &r.EventType, &state, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan failed webhook event: %w", err)
		}
		r.State = enum.WebhookState(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

// WebhookEventState returns the current state of a claimed event.
func (s *Store) WebhookEventState(ctx context.Context, eventID string) (enum.WebhookState, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM webhook_events WHERE event_id = $1`, eventID).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: webhook event state %s: %w", eventID, err)
	}
	return enum.WebhookState(state), nil
}

package appointment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox topics emitted by the state machine. The notification worker
// delivers them after commit; delivery failure never rolls anything back.
const (
	TopicAppointmentCreated   = "appointment.created"
	TopicAppointmentStatus    = "appointment.status_changed"
	TopicAppointmentReminder  = "appointment.reminder"
	TopicPaymentConfirmed     = "appointment.payment_confirmed"
	TopicDisputeStatusChanged = "dispute.status_changed"
)

// InsertEventTx appends an immutable appointment event in the caller's
// transaction. The events table is the audit trail for every transition.
func InsertEventTx(ctx context.Context, tx pgx.Tx, appointmentID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("appointment: marshal event payload: %w", err)
	}
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	const q = `
		INSERT INTO appointment_events (appointment_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4)
	`
	if _, err := tx.Exec(ctx, q, appointmentID, eventType, body, actor); err != nil {
		return fmt.Errorf("appointment: insert event: %w", err)
	}
	return nil
}

// EnqueueOutboxTx stores a notification for post-commit delivery.
func EnqueueOutboxTx(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("appointment: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("appointment: enqueue outbox: %w", err)
	}
	return nil
}

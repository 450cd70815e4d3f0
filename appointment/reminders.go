package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Reminder windows. A reminder fires once per (appointment, recipient,
// recipient type, reminder type); the unique constraint keeps concurrent
// sweep runs from double-sending.
const (
	ReminderDayBefore  = "day_before"
	ReminderHourBefore = "hour_before"
)

// Sweeper periodically scans upcoming appointments and enqueues reminder
// notifications. It is idempotent and safe to run on several instances.
type Sweeper struct {
	pool     *pgxpool.Pool
	repo     *Repository
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(pool *pgxpool.Pool, repo *Repository, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{pool: pool, repo: repo, interval: interval, log: log}
}

// Run sweeps until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Warn("reminder sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass over both reminder windows.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now()
	if err := s.sweepWindow(ctx, ReminderDayBefore, now.Add(23*time.Hour), now.Add(24*time.Hour)); err != nil {
		return err
	}
	return s.sweepWindow(ctx, ReminderHourBefore, now, now.Add(time.Hour))
}

func (s *Sweeper) sweepWindow(ctx context.Context, reminderType string, from, to time.Time) error {
	appts, err := s.repo.Upcoming(ctx, from, to)
	if err != nil {
		return err
	}

	for _, appt := range appts {
		recipients := []struct {
			id   string
			kind string
		}{
			{appt.CustomerID, "customer"},
			{appt.StylistID, "stylist"},
		}
		for _, rcpt := range recipients {
			if err := s.remindOnce(ctx, appt, rcpt.id, rcpt.kind, reminderType); err != nil {
				return err
			}
		}
	}
	return nil
}

// remindOnce records the reminder and enqueues its notification in one
// transaction; the conflict-skip makes replays free.
func (s *Sweeper) remindOnce(ctx context.Context, appt Appointment, recipientID, recipientType, reminderType string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointment: begin reminder tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO reminders (appointment_id, recipient_id, recipient_type, reminder_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id, recipient_id, recipient_type, reminder_type) DO NOTHING
	`, appt.ID, recipientID, recipientType, reminderType)
	if err != nil {
		return fmt.Errorf("appointment: insert reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already sent by this or another sweep run.
		return nil
	}

	if err := EnqueueOutboxTx(ctx, tx, TopicAppointmentReminder, map[string]any{
		"appointment_id": appt.ID,
		"recipient_id":   recipientID,
		"recipient_type": recipientType,
		"reminder_type":  reminderType,
		"scheduled_at":   appt.ScheduledAt.UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointment: commit reminder: %w", err)
	}
	return nil
}

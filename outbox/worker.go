package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Notifier delivers one outbox message. Implementations talk to the
// notification channel (push, email, in-app). Errors are retried by the
// worker and never surface to the transaction that enqueued the message.
type Notifier interface {
	Notify(ctx context.Context, topic string, payload []byte) error
}

// Worker drains pending outbox rows in batches. SKIP LOCKED lets several
// workers run against the same table without double delivery; a row that
// keeps failing is parked dead after maxAttempts.
type Worker struct {
	pool        *pgxpool.Pool
	notifier    Notifier
	batchSize   int
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
}

func NewWorker(pool *pgxpool.Pool, notifier Notifier, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		pool:        pool,
		notifier:    notifier,
		batchSize:   10,
		interval:    time.Second,
		maxAttempts: 5,
		log:         log,
	}
}

// Run drains until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				w.log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain processes one batch and reports how many rows it touched.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: select batch: %w", err)
	}

	type pending struct {
		id       string
		topic    string
		payload  []byte
		attempts int
	}
	batch := make([]pending, 0, w.batchSize)
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.topic, &p.payload, &p.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan row: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	for _, p := range batch {
		if err := w.notifier.Notify(ctx, p.topic, p.payload); err != nil {
			w.log.Warn("notification delivery failed",
				zap.String("outbox_id", p.id),
				zap.String("topic", p.topic),
				zap.Int("attempts", p.attempts+1),
				zap.Error(err),
			)
			status := "pending"
			if p.attempts+1 >= w.maxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = now()
				WHERE id = $1
			`, p.id, status); err != nil {
				return 0, fmt.Errorf("outbox: record failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now()
			WHERE id = $1
		`, p.id); err != nil {
			return 0, fmt.Errorf("outbox: mark processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return len(batch), nil
}

// LogNotifier writes deliveries to the log. It is the default sink when no
// real notification channel is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, topic string, payload []byte) error {
	n.log.Info("notification delivered", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

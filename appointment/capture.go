package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kingsloob1/snipfair-app-sub002/pouch"
)

var (
	// ErrDuplicateIdempotencyKey signals the capture webhook was already applied.
	ErrDuplicateIdempotencyKey = errors.New("appointment: duplicate idempotency key")
)

// CaptureRequest is the gateway's capture-confirmation webhook, normalized.
type CaptureRequest struct {
	AppointmentID  string
	IdempotencyKey string
	ProcessorRef   string
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CaptureRepository defines the data access required by the webhook service.
type CaptureRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	ExecuteCaptureTx(ctx context.Context, tx pgx.Tx, req CaptureRequest) error
}

// CaptureService applies gateway capture confirmations: exactly once, the
// appointment leaves `processing`, the pouch opens, and the payment row
// settles — all in one transaction.
type CaptureService struct {
	pool TxBeginner
	repo CaptureRepository
}

func NewCaptureService(pool TxBeginner, repo CaptureRepository) *CaptureService {
	return &CaptureService{pool: pool, repo: repo}
}

// HandleCaptureWebhook processes one webhook delivery. Replays with a seen
// idempotency key are silently dropped.
func (s *CaptureService) HandleCaptureWebhook(ctx context.Context, req CaptureRequest) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("appointment: missing idempotency key")
	}
	if req.AppointmentID == "" {
		return fmt.Errorf("appointment: missing appointment id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	if err := s.repo.ExecuteCaptureTx(ctx, tx, req); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointment: commit capture: %w", err)
	}
	return nil
}

// PGCaptureRepository is the PostgreSQL implementation of CaptureRepository.
type PGCaptureRepository struct {
	appts   *Repository
	pouches *pouch.Repository
}

func NewCaptureRepository(appts *Repository, pouches *pouch.Repository) *PGCaptureRepository {
	return &PGCaptureRepository{appts: appts, pouches: pouches}
}

// InsertIdempotencyKey reserves the key inside the active transaction.
func (r *PGCaptureRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("appointment: empty idempotency key")
	}
	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("appointment: insert idempotency key: %w", err)
	}
	return nil
}

// ExecuteCaptureTx performs the processing→pending transition, settles the
// payment row, and opens the escrow pouch.
func (r *PGCaptureRepository) ExecuteCaptureTx(ctx context.Context, tx pgx.Tx, req CaptureRequest) error {
	appt, err := r.appts.GetForUpdateTx(ctx, tx, req.AppointmentID)
	if err != nil {
		return err
	}
	if appt.Status != StatusProcessing {
		return ErrInvalidTransition
	}

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = 'approved', processor_ref = COALESCE($2, processor_ref)
		WHERE appointment_id = $1 AND type = 'payment' AND status = 'pending'
	`, appt.ID, nullable(req.ProcessorRef))
	if err != nil {
		return fmt.Errorf("appointment: settle payment row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment: no pending payment for %s", appt.ID)
	}

	if _, err := r.pouches.CreateTx(ctx, tx, appt.ID, appt.Amount); err != nil {
		return err
	}
	if err := r.appts.UpdateStatusTx(ctx, tx, appt.ID, StatusPending); err != nil {
		return err
	}

	if err := InsertEventTx(ctx, tx, appt.ID, "PAYMENT_CONFIRMED", nil, map[string]any{
		"processor_ref": req.ProcessorRef,
		"amount":        appt.Amount.String(),
	}); err != nil {
		return err
	}
	return EnqueueOutboxTx(ctx, tx, TopicPaymentConfirmed, map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

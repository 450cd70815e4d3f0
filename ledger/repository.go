package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no transaction row exists for the id.
	ErrNotFound = errors.New("ledger: transaction not found")
	// ErrStatusFinal signals an attempt to advance a transaction that has
	// already left pending.
	ErrStatusFinal = errors.New("ledger: status already final")
)

// Repository appends and reads ledger rows. There is deliberately no update
// or delete beyond AdvanceStatus.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertSQL = `
	INSERT INTO transactions (owner_id, appointment_id, amount, type, status, processor_ref, note)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, owner_id, appointment_id, amount::text, type, status, processor_ref, note, created_at
`

// InsertTx appends a transaction inside the caller's transaction so the
// append commits or rolls back together with the pouch/appointment writes.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Transaction, error) {
	rec, err := scanTransaction(tx.QueryRow(ctx, insertSQL,
		params.OwnerID, params.AppointmentID, params.Amount, params.Type, params.Status, params.ProcessorRef, params.Note))
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: insert: %w", err)
	}
	return rec, nil
}

// Insert appends a standalone transaction (top-ups, withdrawals) outside any
// escrow-coupled unit of work.
func (r *Repository) Insert(ctx context.Context, params InsertParams) (Transaction, error) {
	rec, err := scanTransaction(r.pool.QueryRow(ctx, insertSQL,
		params.OwnerID, params.AppointmentID, params.Amount, params.Type, params.Status, params.ProcessorRef, params.Note))
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: insert: %w", err)
	}
	return rec, nil
}

// AdvanceStatusTx moves a pending transaction to a terminal processor status.
// Any other mutation of a ledger row is forbidden by schema and by this API.
func (r *Repository) AdvanceStatusTx(ctx context.Context, tx pgx.Tx, id string, next Status) error {
	if next != StatusApproved && next != StatusFailed {
		return fmt.Errorf("ledger: %q is not a terminal status", next)
	}
	tag, err := tx.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1 AND status = 'pending'`, id, next)
	if err != nil {
		return fmt.Errorf("ledger: advance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: advance status check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusFinal
	}
	return nil
}

// ListByOwner returns the owner's ledger rows, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, appointment_id, amount::text, type, status, processor_ref, note, created_at
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by owner: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		rec, err := scanTransactionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate: %w", err)
	}
	return out, nil
}

// SettlementSum totals the refund and earning rows attributable to an
// appointment's pouch. Once the pouch has left holding this must equal the
// pinned pouch amount.
func (r *Repository) SettlementSum(ctx context.Context, appointmentID string) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE appointment_id = $1 AND type IN ('refund','earning')
	`, appointmentID).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: settlement sum: %w", err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: parse sum: %w", err)
	}
	return sum, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		rec    Transaction
		amount string
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.AppointmentID, &amount, &rec.Type, &rec.Status, &rec.ProcessorRef, &rec.Note, &rec.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, err
	}
	return rec, nil
}

func scanTransactionRows(rows pgx.Rows) (Transaction, error) {
	var (
		rec    Transaction
		amount string
	)
	err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.AppointmentID, &amount, &rec.Type, &rec.Status, &rec.ProcessorRef, &rec.Note, &rec.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, err
	}
	return rec, nil
}

package pouch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals no pouch exists for the appointment.
	ErrNotFound = errors.New("pouch: not found")
	// ErrAlreadySettled signals the pouch has already left holding; a second
	// settlement must never emit another transaction.
	ErrAlreadySettled = errors.New("pouch: already settled")
)

// Repository persists escrow pouches. All writes that settle a pouch run
// inside the caller's transaction so the ledger append is both-or-neither.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTx opens a holding pouch pinned to the booked amount.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, appointmentID string, amount decimal.Decimal) (Record, error) {
	const insertSQL = `
		INSERT INTO pouches (appointment_id, amount, status)
		VALUES ($1, $2, 'holding')
		RETURNING id, appointment_id, amount::text, status, admin_note, created_at, updated_at, deleted_at
	`
	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, appointmentID, amount))
	if err != nil {
		return Record{}, fmt.Errorf("pouch: create: %w", err)
	}
	return rec, nil
}

// GetByAppointment fetches the pouch for an appointment.
func (r *Repository) GetByAppointment(ctx context.Context, appointmentID string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, selectSQL+` WHERE appointment_id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("pouch: get by appointment: %w", err)
	}
	return rec, nil
}

// GetByAppointmentTx is GetByAppointment inside the caller's transaction.
func (r *Repository) GetByAppointmentTx(ctx context.Context, tx pgx.Tx, appointmentID string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, selectSQL+` WHERE appointment_id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("pouch: get by appointment: %w", err)
	}
	return rec, nil
}

const selectSQL = `
	SELECT id, appointment_id, amount::text, status, admin_note, created_at, updated_at, deleted_at
	FROM pouches
`

// SettleTx advances the pouch away from holding with a single compare-and-set.
// Exactly one settlement can ever succeed; later attempts observe zero rows
// affected and fail with ErrAlreadySettled. The caller appends the matching
// ledger rows in the same transaction.
func (r *Repository) SettleTx(ctx context.Context, tx pgx.Tx, pouchID string, next Status, adminNote *string) (Record, error) {
	if !next.Terminal() {
		return Record{}, fmt.Errorf("pouch: %q is not a settlement status", next)
	}

	const casSQL = `
		UPDATE pouches
		SET status = $2,
		    admin_note = COALESCE($3, admin_note),
		    updated_at = now()
		WHERE id = $1 AND status = 'holding' AND deleted_at IS NULL
		RETURNING id, appointment_id, amount::text, status, admin_note, created_at, updated_at, deleted_at
	`
	rec, err := scanRecord(tx.QueryRow(ctx, casSQL, pouchID, next, adminNote))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("pouch: settle: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pouches WHERE id = $1)`, pouchID).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("pouch: settle check: %w", err)
	}
	if !exists {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrAlreadySettled
}

// SoftDeleteTx flags the pouch together with its soft-deleted appointment.
// Pouches are never physically removed; the ledger must stay reconcilable.
func (r *Repository) SoftDeleteTx(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE pouches SET deleted_at = now(), updated_at = now()
		WHERE appointment_id = $1 AND deleted_at IS NULL
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("pouch: soft delete: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		amount string
	)
	err := row.Scan(&rec.ID, &rec.AppointmentID, &amount, &rec.Status, &rec.AdminNote, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

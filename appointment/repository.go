package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists appointments. Status writes take the caller's
// transaction; the per-appointment row lock is the logical lock that keeps
// transitions serial.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `
	id, customer_id, stylist_id, offering_id, amount::text, scheduled_at, address, extra,
	appointment_code, completion_code, appointment_code_used_at, completion_code_used_at,
	completion_proof_url, status, created_at, updated_at, deleted_at
`

// Get fetches an appointment by id.
func (r *Repository) Get(ctx context.Context, id string) (Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM appointments WHERE id = $1 AND deleted_at IS NULL`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("appointment: get: %w", err)
	}
	return appt, nil
}

// LatestForOffering returns the customer's most recent appointment for a
// service offering, feeding the idempotent booking-status read.
func (r *Repository) LatestForOffering(ctx context.Context, customerID, offeringID string) (Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM appointments
		WHERE customer_id = $1 AND offering_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, customerID, offeringID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("appointment: latest for offering: %w", err)
	}
	return appt, nil
}

// GetForUpdateTx locks the appointment row for the duration of the caller's
// transaction. NOWAIT turns lock contention into ErrConcurrentModification
// instead of blocking a second transition behind the first.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM appointments WHERE id = $1 AND deleted_at IS NULL FOR UPDATE NOWAIT`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
			return Appointment{}, ErrConcurrentModification
		}
		return Appointment{}, fmt.Errorf("appointment: lock: %w", err)
	}
	return appt, nil
}

// InsertParams contains write parameters for creating an appointment.
type InsertParams struct {
	CustomerID  string
	StylistID   string
	OfferingID  string
	Amount      decimal.Decimal
	ScheduledAt time.Time
	Address     string
	Extra       *string
	Status      Status
}

// InsertTx creates the appointment with freshly minted codes. Code
// uniqueness is enforced by unique indexes; a collision re-mints and retries.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Appointment, error) {
	const insertSQL = `
		INSERT INTO appointments
			(customer_id, stylist_id, offering_id, amount, scheduled_at, address, extra,
			 appointment_code, completion_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + selectColumns

	for attempt := 0; attempt < 5; attempt++ {
		apptCode, complCode, err := newCodePair()
		if err != nil {
			return Appointment{}, err
		}

		row := tx.QueryRow(ctx, insertSQL,
			params.CustomerID, params.StylistID, params.OfferingID, params.Amount,
			params.ScheduledAt, params.Address, params.Extra, apptCode, complCode, params.Status)
		appt, err := scanAppointment(row)
		if err == nil {
			return appt, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			(pgErr.ConstraintName == "appointments_appointment_code_key" || pgErr.ConstraintName == "appointments_completion_code_key") {
			continue
		}
		return Appointment{}, fmt.Errorf("appointment: insert: %w", err)
	}
	return Appointment{}, fmt.Errorf("appointment: insert: exhausted code mint retries")
}

// UpdateStatusTx writes the already-validated next status.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, next Status) error {
	tag, err := tx.Exec(ctx, `UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("appointment: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAppointmentCodeUsedTx consumes the arrival code.
func (r *Repository) MarkAppointmentCodeUsedTx(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE appointments SET appointment_code_used_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointment: consume appointment code: %w", err)
	}
	return nil
}

// MarkCompletionCodeUsedTx consumes the completion code and records proof.
func (r *Repository) MarkCompletionCodeUsedTx(ctx context.Context, tx pgx.Tx, id, proofURL string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET completion_code_used_at = now(), completion_proof_url = $2, updated_at = now()
		WHERE id = $1
	`, id, proofURL)
	if err != nil {
		return fmt.Errorf("appointment: consume completion code: %w", err)
	}
	return nil
}

// StylistBusyTx reports whether the stylist already has an active booking
// within the slot around at. Checked before any record is created.
func (r *Repository) StylistBusyTx(ctx context.Context, tx pgx.Tx, stylistID string, at time.Time) (bool, error) {
	var busy bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE stylist_id = $1
			  AND deleted_at IS NULL
			  AND status IN ('processing','pending','approved','confirmed','escalated')
			  AND scheduled_at > $2::timestamptz - interval '1 hour'
			  AND scheduled_at < $2::timestamptz + interval '1 hour'
		)
	`, stylistID, at).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("appointment: availability check: %w", err)
	}
	return busy, nil
}

// AdjustBalanceTx applies a wallet delta under the customer row lock. A
// debit below zero fails with ErrInsufficientBalance and rolls the unit back.
func (r *Repository) AdjustBalanceTx(ctx context.Context, tx pgx.Tx, userID string, delta decimal.Decimal) error {
	var raw string
	if err := tx.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("appointment: lock balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("appointment: parse balance: %w", err)
	}
	next := balance.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientBalance
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2, updated_at = now() WHERE id = $1`, userID, next); err != nil {
		return fmt.Errorf("appointment: update balance: %w", err)
	}
	return nil
}

// SoftDeleteTx flags the appointment; rows are never physically removed so
// the ledger stays reconcilable.
func (r *Repository) SoftDeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `UPDATE appointments SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("appointment: soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Upcoming lists active appointments scheduled within the window, for the
// reminder sweep.
func (r *Repository) Upcoming(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM appointments
		WHERE deleted_at IS NULL
		  AND status IN ('pending','approved','confirmed')
		  AND scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointment: upcoming: %w", err)
	}
	defer rows.Close()

	out := make([]Appointment, 0, 16)
	for rows.Next() {
		appt, err := scanAppointmentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: scan upcoming: %w", err)
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: iterate upcoming: %w", err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var (
		a      Appointment
		amount string
	)
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.StylistID, &a.OfferingID, &amount, &a.ScheduledAt, &a.Address, &a.Extra,
		&a.AppointmentCode, &a.CompletionCode, &a.AppointmentCodeUsedAt, &a.CompletionCodeUsedAt,
		&a.CompletionProofURL, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return Appointment{}, err
	}
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

func scanAppointmentRows(rows pgx.Rows) (Appointment, error) {
	var (
		a      Appointment
		amount string
	)
	err := rows.Scan(
		&a.ID, &a.CustomerID, &a.StylistID, &a.OfferingID, &amount, &a.ScheduledAt, &a.Address, &a.Extra,
		&a.AppointmentCode, &a.CompletionCode, &a.AppointmentCodeUsedAt, &a.CompletionCodeUsedAt,
		&a.CompletionProofURL, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return Appointment{}, err
	}
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

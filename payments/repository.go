package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMethodNotFound signals the payment method does not exist or is deleted.
var ErrMethodNotFound = errors.New("payments: method not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const methodColumns = `
	id, label, provider, account_name, account_number,
	is_default, is_active, created_at, updated_at, deleted_at
`

// InsertTx creates a payout method. The first active method becomes the
// default automatically.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, params CreateMethodParams) (AdminPaymentMethod, error) {
	const insertSQL = `
		INSERT INTO admin_payment_methods (label, provider, account_name, account_number, is_default)
		VALUES ($1, $2, $3, $4,
			NOT EXISTS (
				SELECT 1 FROM admin_payment_methods
				WHERE is_active AND deleted_at IS NULL
			))
		RETURNING ` + methodColumns

	m, err := scanMethod(tx.QueryRow(ctx, insertSQL, params.Label, params.Provider, params.AccountName, params.AccountNumber))
	if err != nil {
		return AdminPaymentMethod{}, fmt.Errorf("payments: insert method: %w", err)
	}
	return m, nil
}

// GetForUpdateTx locks a live method row.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (AdminPaymentMethod, error) {
	m, err := scanMethod(tx.QueryRow(ctx, `
		SELECT `+methodColumns+`
		FROM admin_payment_methods
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminPaymentMethod{}, ErrMethodNotFound
		}
		return AdminPaymentMethod{}, fmt.Errorf("payments: lock method: %w", err)
	}
	return m, nil
}

// ListActive returns live methods, default first.
func (r *Repository) ListActive(ctx context.Context) ([]AdminPaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+methodColumns+`
		FROM admin_payment_methods
		WHERE is_active AND deleted_at IS NULL
		ORDER BY is_default DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("payments: list methods: %w", err)
	}
	defer rows.Close()

	out := make([]AdminPaymentMethod, 0, 8)
	for rows.Next() {
		var m AdminPaymentMethod
		if err := rows.Scan(&m.ID, &m.Label, &m.Provider, &m.AccountName, &m.AccountNumber,
			&m.IsDefault, &m.IsActive, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("payments: scan method: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate methods: %w", err)
	}
	return out, nil
}

// ClearDefaultTx unsets the default flag on every live row.
func (r *Repository) ClearDefaultTx(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		UPDATE admin_payment_methods
		SET is_default = false, updated_at = now()
		WHERE is_default AND deleted_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("payments: clear default: %w", err)
	}
	return nil
}

// SetDefaultTx marks one live active row as the default.
func (r *Repository) SetDefaultTx(ctx context.Context, tx pgx.Tx, id string) (AdminPaymentMethod, error) {
	m, err := scanMethod(tx.QueryRow(ctx, `
		UPDATE admin_payment_methods
		SET is_default = true, updated_at = now()
		WHERE id = $1 AND is_active AND deleted_at IS NULL
		RETURNING `+methodColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminPaymentMethod{}, ErrMethodNotFound
		}
		return AdminPaymentMethod{}, fmt.Errorf("payments: set default: %w", err)
	}
	return m, nil
}

// SoftDeleteTx tombstones the row and reports whether it was the default.
func (r *Repository) SoftDeleteTx(ctx context.Context, tx pgx.Tx, id string) (wasDefault bool, err error) {
	// The CTE snapshots the default flag before the update clears it.
	err = tx.QueryRow(ctx, `
		WITH target AS (
			SELECT id, is_default FROM admin_payment_methods
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE
		)
		UPDATE admin_payment_methods m
		SET deleted_at = now(), is_default = false, is_active = false, updated_at = now()
		FROM target t
		WHERE m.id = t.id
		RETURNING t.is_default
	`, id).Scan(&wasDefault)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrMethodNotFound
		}
		return false, fmt.Errorf("payments: soft delete method: %w", err)
	}
	return wasDefault, nil
}

// PromoteLatestTx makes the most recent live active row the default, if any.
func (r *Repository) PromoteLatestTx(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		UPDATE admin_payment_methods
		SET is_default = true, updated_at = now()
		WHERE id = (
			SELECT id FROM admin_payment_methods
			WHERE is_active AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("payments: promote method: %w", err)
	}
	return nil
}

func scanMethod(row pgx.Row) (AdminPaymentMethod, error) {
	var m AdminPaymentMethod
	err := row.Scan(&m.ID, &m.Label, &m.Provider, &m.AccountName, &m.AccountNumber,
		&m.IsDefault, &m.IsActive, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return AdminPaymentMethod{}, err
	}
	return m, nil
}

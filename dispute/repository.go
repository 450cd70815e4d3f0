package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrForbidden signals the actor is not a party to the appointment.
	ErrForbidden = errors.New("dispute: forbidden")
	// ErrDuplicateDispute signals the appointment already has a dispute.
	ErrDuplicateDispute = errors.New("dispute: appointment already disputed")
	// ErrAlreadyResolved signals a second resolution attempt.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	// ErrChannelMismatch signals a non-admin posting outside their channel.
	ErrChannelMismatch = errors.New("dispute: conversation type does not match sender")
	// ErrBadStatus signals an action against a closed or resolved dispute.
	ErrBadStatus = errors.New("dispute: invalid status")
	// ErrEscrowSettled signals a monetary verdict against an appointment whose
	// pouch has already been settled; only no_action can resolve it.
	ErrEscrowSettled = errors.New("dispute: escrow already settled")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `
	id, ref_id, appointment_id, raised_by, comment, status, prior_status,
	resolution_type, resolution_amount::text, resolved_by, resolved_at, created_at, updated_at
`

// CreateTx opens a dispute bound to the appointment. The unique index on
// appointment_id enforces the one-dispute-per-appointment rule.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, refID, appointmentID string, raisedBy Side, comment string, priorStatus string) (Record, error) {
	const insertSQL = `
		INSERT INTO disputes (ref_id, appointment_id, raised_by, comment, status, prior_status)
		VALUES ($1, $2, $3, $4, 'open', $5)
		RETURNING ` + selectColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, refID, appointmentID, raisedBy, comment, priorStatus))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateDispute
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

// Get fetches a dispute by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// GetForUpdateTx locks the dispute row for the caller's transaction.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return rec, nil
}

// MarkInProgressTx moves an open dispute under admin engagement.
func (r *Repository) MarkInProgressTx(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `UPDATE disputes SET status = 'in_progress', updated_at = now() WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("dispute: mark in progress: %w", err)
	}
	return nil
}

// ResolveTx stamps the resolution with a compare-and-set on resolved_at.
// Exactly one resolution ever succeeds.
func (r *Repository) ResolveTx(ctx context.Context, tx pgx.Tx, id, adminID string, resolution ResolutionType, amount *decimal.Decimal, finalStatus Status) (Record, error) {
	const casSQL = `
		UPDATE disputes
		SET status = $5,
		    resolution_type = $3,
		    resolution_amount = $4,
		    resolved_by = $2,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + selectColumns

	rec, err := scanRecord(tx.QueryRow(ctx, casSQL, id, adminID, resolution, amount, finalStatus))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("dispute: resolve check: %w", err)
	}
	if !exists {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrAlreadyResolved
}

// InsertMessage appends a conversation message.
func (r *Repository) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	const insertSQL = `
		INSERT INTO dispute_messages (dispute_id, sender_kind, sender_id, conversation_type, body, attachments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, dispute_id, sender_kind, sender_id, conversation_type, body, attachments, created_at
	`
	out, err := scanMessage(r.pool.QueryRow(ctx, insertSQL,
		msg.DisputeID, msg.Sender.Kind, msg.Sender.ID, msg.ConversationType, msg.Body, msg.Attachments))
	if err != nil {
		return Message{}, fmt.Errorf("dispute: insert message: %w", err)
	}
	return out, nil
}

// MessagesFor returns the messages a viewer is allowed to read. Admins see
// everything; each side sees only its own private channel plus broadcasts.
func (r *Repository) MessagesFor(ctx context.Context, disputeID string, viewerKind SenderKind, viewerSide Side) ([]Message, error) {
	query := `
		SELECT id, dispute_id, sender_kind, sender_id, conversation_type, body, attachments, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
	`
	args := []any{disputeID}
	if viewerKind != SenderAdmin {
		channel := ConversationAdminCustomer
		if viewerSide == SideStylist {
			channel = ConversationAdminStylist
		}
		query += ` AND conversation_type IN ($2, 'all')`
		args = append(args, channel)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate messages: %w", err)
	}
	return out, nil
}

// ListByOwner returns disputes over appointments the user is a party to.
func (r *Repository) ListByOwner(ctx context.Context, userID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM disputes d
		WHERE EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.id = d.appointment_id AND (a.customer_id = $1 OR a.stylist_id = $1)
		)
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		amount *string
	)
	err := row.Scan(&rec.ID, &rec.RefID, &rec.AppointmentID, &rec.RaisedBy, &rec.Comment, &rec.Status, &rec.PriorStatus,
		&rec.ResolutionType, &amount, &rec.ResolvedBy, &rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return Record{}, err
		}
		rec.ResolutionAmount = &d
	}
	return rec, nil
}

func scanRecordRows(rows pgx.Rows) (Record, error) {
	var (
		rec    Record
		amount *string
	)
	err := rows.Scan(&rec.ID, &rec.RefID, &rec.AppointmentID, &rec.RaisedBy, &rec.Comment, &rec.Status, &rec.PriorStatus,
		&rec.ResolutionType, &amount, &rec.ResolvedBy, &rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return Record{}, err
		}
		rec.ResolutionAmount = &d
	}
	return rec, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.DisputeID, &msg.Sender.Kind, &msg.Sender.ID, &msg.ConversationType, &msg.Body, &msg.Attachments, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func scanMessageRows(rows pgx.Rows) (Message, error) {
	var msg Message
	err := rows.Scan(&msg.ID, &msg.DisputeID, &msg.Sender.Kind, &msg.Sender.ID, &msg.ConversationType, &msg.Body, &msg.Attachments, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

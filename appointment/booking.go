package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kingsloob1/snipfair-app-sub002/ledger"
)

// Gateway is the payment processor boundary. The core only needs a capture
// reference to await; webhook confirmation drives the rest.
type Gateway interface {
	CreateCapture(ctx context.Context, customerID string, amount decimal.Decimal) (ref string, err error)
}

// CreateParams carries a booking request.
type CreateParams struct {
	CustomerID  string
	StylistID   string
	OfferingID  string
	Amount      decimal.Decimal
	ScheduledAt time.Time
	Address     string
	Extra       *string
}

// CreateResult reports the created appointment plus, when a gateway capture
// is required, the processor reference the client must complete.
type CreateResult struct {
	Appointment Appointment
	// CaptureRef is non-empty when the booking is awaiting gateway capture.
	CaptureRef string
}

// CreateAppointment books a slot. With sufficient wallet balance the funds
// are escrowed immediately and the appointment starts `pending`; otherwise
// it starts `processing` and waits for gateway confirmation. The pouch is
// opened only once funds are actually captured.
func (s *Service) CreateAppointment(ctx context.Context, params CreateParams) (CreateResult, error) {
	if params.CustomerID == "" || params.StylistID == "" || params.OfferingID == "" {
		return CreateResult{}, fmt.Errorf("%w: missing party reference", ErrInsufficientInput)
	}
	if !params.Amount.IsPositive() {
		return CreateResult{}, fmt.Errorf("%w: amount must be positive", ErrInsufficientInput)
	}
	if params.ScheduledAt.IsZero() || !params.ScheduledAt.After(time.Now()) {
		return CreateResult{}, fmt.Errorf("%w: scheduled date/time required", ErrInsufficientInput)
	}
	if strings.TrimSpace(params.Address) == "" {
		return CreateResult{}, fmt.Errorf("%w: address required", ErrInsufficientInput)
	}

	// Peek at the wallet before opening the transaction so the gateway call
	// (an external round-trip) never runs while holding row locks.
	balance, err := s.readBalance(ctx, params.CustomerID)
	if err != nil {
		return CreateResult{}, err
	}
	var captureRef string
	if balance.LessThan(params.Amount) {
		captureRef, err = s.gateway.CreateCapture(ctx, params.CustomerID, params.Amount)
		if err != nil {
			return CreateResult{}, fmt.Errorf("appointment: gateway capture: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("appointment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var stylistRole string
	err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, params.StylistID).Scan(&stylistRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreateResult{}, ErrStylistUnavailable
		}
		return CreateResult{}, fmt.Errorf("appointment: load stylist: %w", err)
	}
	if stylistRole != "stylist" {
		return CreateResult{}, ErrStylistUnavailable
	}

	busy, err := s.repo.StylistBusyTx(ctx, tx, params.StylistID, params.ScheduledAt)
	if err != nil {
		return CreateResult{}, err
	}
	if busy {
		return CreateResult{}, ErrStylistUnavailable
	}

	status := StatusProcessing
	if captureRef == "" {
		status = StatusPending
	}

	appt, err := s.repo.InsertTx(ctx, tx, InsertParams{
		CustomerID:  params.CustomerID,
		StylistID:   params.StylistID,
		OfferingID:  params.OfferingID,
		Amount:      params.Amount,
		ScheduledAt: params.ScheduledAt,
		Address:     params.Address,
		Extra:       params.Extra,
		Status:      status,
	})
	if err != nil {
		return CreateResult{}, err
	}

	if captureRef == "" {
		// Wallet path: debit under the customer row lock, escrow the funds,
		// and record the approved payment — all in this unit.
		if err := s.repo.AdjustBalanceTx(ctx, tx, params.CustomerID, params.Amount.Neg()); err != nil {
			return CreateResult{}, err
		}
		if _, err := s.pouches.CreateTx(ctx, tx, appt.ID, appt.Amount); err != nil {
			return CreateResult{}, err
		}
		if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
			OwnerID:       params.CustomerID,
			AppointmentID: &appt.ID,
			Amount:        appt.Amount,
			Type:          ledger.TypePayment,
			Status:        ledger.StatusApproved,
		}); err != nil {
			return CreateResult{}, err
		}
	} else {
		// Gateway path: the pouch waits for the capture webhook.
		if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
			OwnerID:       params.CustomerID,
			AppointmentID: &appt.ID,
			Amount:        appt.Amount,
			Type:          ledger.TypePayment,
			Status:        ledger.StatusPending,
			ProcessorRef:  &captureRef,
		}); err != nil {
			return CreateResult{}, err
		}
	}

	if err := InsertEventTx(ctx, tx, appt.ID, "APPOINTMENT_CREATED", &params.CustomerID, map[string]any{
		"status":       string(appt.Status),
		"amount":       appt.Amount.String(),
		"scheduled_at": appt.ScheduledAt.UTC(),
	}); err != nil {
		return CreateResult{}, err
	}
	if err := EnqueueOutboxTx(ctx, tx, TopicAppointmentCreated, map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"stylist_id":     appt.StylistID,
		"status":         string(appt.Status),
	}); err != nil {
		return CreateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, fmt.Errorf("appointment: commit booking: %w", err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("status", string(appt.Status)),
		zap.String("amount", appt.Amount.String()),
	)

	return CreateResult{Appointment: appt, CaptureRef: captureRef}, nil
}

// GetBookingStatus is the idempotent booking-state read: the appointment
// (latest for the offering unless an id is given) plus the customer's wallet
// balance so clients can route to funding when needed.
func (s *Service) GetBookingStatus(ctx context.Context, customerID, offeringID string, appointmentID *string) (BookingStatus, error) {
	var (
		appt Appointment
		err  error
	)
	if appointmentID != nil && *appointmentID != "" {
		appt, err = s.repo.Get(ctx, *appointmentID)
	} else {
		appt, err = s.repo.LatestForOffering(ctx, customerID, offeringID)
	}
	if err != nil {
		return BookingStatus{}, err
	}
	if appt.CustomerID != customerID {
		return BookingStatus{}, ErrForbidden
	}

	balance, err := s.readBalance(ctx, customerID)
	if err != nil {
		return BookingStatus{}, err
	}
	return BookingStatus{Appointment: appt, UserBalance: balance}, nil
}

func (s *Service) readBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	if err := s.pool.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1`, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("appointment: read balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("appointment: parse balance: %w", err)
	}
	return balance, nil
}

package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kingsloob1/snipfair-app-sub002/config"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
	"github.com/kingsloob1/snipfair-app-sub002/pouch"
)

// Service drives the appointment state machine. Every transition that
// touches appointment, pouch and ledger executes in one transaction behind
// the appointment row lock, so exactly one transition commits at a time.
type Service struct {
	pool    *pgxpool.Pool
	repo    *Repository
	pouches *pouch.Repository
	ledger  *ledger.Repository
	calc    PenaltyCalculator
	policy  config.Policy
	gateway Gateway
	log     *zap.Logger
}

func NewService(pool *pgxpool.Pool, repo *Repository, pouches *pouch.Repository, lgr *ledger.Repository, policy config.Policy, gateway Gateway, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pool:    pool,
		repo:    repo,
		pouches: pouches,
		ledger:  lgr,
		calc:    NewPenaltyCalculator(policy),
		policy:  policy,
		gateway: gateway,
		log:     log,
	}
}

// AdvanceParams is the stylist-side progression request.
type AdvanceParams struct {
	AppointmentID string
	StylistID     string
	Verdict       Verdict
	// Code carries the recited appointment/completion code where required.
	Code string
	// ProofURL is the uploaded completion proof, required for completion.
	ProofURL string
}

// Advance applies stylist progress: pending→approved, approved→confirmed on
// a correct arrival code, confirmed→completed on a correct completion code
// plus proof. Completion disburses the pouch to the stylist.
func (s *Service) Advance(ctx context.Context, params AdvanceParams) (Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.repo.GetForUpdateTx(ctx, tx, params.AppointmentID)
	if err != nil {
		return Appointment{}, err
	}
	if appt.StylistID != params.StylistID {
		return Appointment{}, ErrForbidden
	}
	if appt.Status == StatusEscalated {
		// Escalated appointments are frozen until an admin resolves the
		// dispute; neither party can move them.
		return Appointment{}, ErrInvalidTransition
	}

	var next Status
	switch params.Verdict {
	case VerdictApproved:
		next = StatusApproved
	case VerdictConfirmed:
		next = StatusConfirmed
	case VerdictCompleted:
		next = StatusCompleted
	default:
		return Appointment{}, fmt.Errorf("appointment: verdict %q is not a stylist progression", params.Verdict)
	}
	if !appt.Status.CanTransition(next) {
		return Appointment{}, ErrInvalidTransition
	}

	switch next {
	case StatusConfirmed:
		// The customer recites the arrival code in person; a consumed code
		// can never re-confirm.
		if appt.AppointmentCodeUsedAt != nil {
			return Appointment{}, ErrInvalidTransition
		}
		if strings.TrimSpace(params.Code) != appt.AppointmentCode {
			return Appointment{}, ErrCodeMismatch
		}
		if err := s.repo.MarkAppointmentCodeUsedTx(ctx, tx, appt.ID); err != nil {
			return Appointment{}, err
		}

	case StatusCompleted:
		if appt.CompletionCodeUsedAt != nil {
			return Appointment{}, ErrInvalidTransition
		}
		if strings.TrimSpace(params.Code) != appt.CompletionCode {
			return Appointment{}, ErrCodeMismatch
		}
		if strings.TrimSpace(params.ProofURL) == "" {
			return Appointment{}, fmt.Errorf("%w: completion proof required", ErrInsufficientInput)
		}
		if err := s.repo.MarkCompletionCodeUsedTx(ctx, tx, appt.ID, params.ProofURL); err != nil {
			return Appointment{}, err
		}
		if err := s.disburseTx(ctx, tx, appt); err != nil {
			return Appointment{}, err
		}
	}

	if err := s.transitionTx(ctx, tx, appt, next, &params.StylistID, nil); err != nil {
		return Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Appointment{}, fmt.Errorf("appointment: commit advance: %w", err)
	}

	appt.Status = next
	s.log.Info("appointment advanced",
		zap.String("appointment_id", appt.ID),
		zap.String("status", string(next)),
	)
	return appt, nil
}

// UpdateParams is the cancel/reschedule request from either side.
type UpdateParams struct {
	AppointmentID string
	ActorID       string
	Verdict       Verdict
	// IsFreeOverride waives the penalty regardless of the policy window.
	IsFreeOverride bool
}

// UpdateResult reports the transition and the penalty actually applied.
type UpdateResult struct {
	Appointment Appointment
	Quote       PenaltyQuote
}

// Update cancels or reschedules an appointment, applying the penalty
// calculator first. Stylist-initiated exits are always free: the customer
// never pays for the stylist backing out.
func (s *Service) Update(ctx context.Context, params UpdateParams) (UpdateResult, error) {
	if params.Verdict != VerdictCanceled && params.Verdict != VerdictRescheduled {
		return UpdateResult{}, fmt.Errorf("appointment: verdict %q is not an exit", params.Verdict)
	}
	next := Status(params.Verdict)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("appointment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.repo.GetForUpdateTx(ctx, tx, params.AppointmentID)
	if err != nil {
		return UpdateResult{}, err
	}
	if params.ActorID != appt.CustomerID && params.ActorID != appt.StylistID {
		return UpdateResult{}, ErrForbidden
	}
	if appt.Status == StatusEscalated {
		// Frozen pending dispute resolution.
		return UpdateResult{}, ErrInvalidTransition
	}
	if !appt.Status.CanTransition(next) {
		return UpdateResult{}, ErrInvalidTransition
	}

	quote := PenaltyQuote{Free: true}
	stylistInitiated := params.ActorID == appt.StylistID
	if !params.IsFreeOverride && !stylistInitiated {
		quote, err = s.calc.Quote(params.Verdict, appt.Amount, appt.ScheduledAt, time.Now())
		if err != nil {
			return UpdateResult{}, err
		}
	}

	if appt.Status == StatusProcessing {
		// Funds never captured: no pouch exists yet, so fail the pending
		// payment row instead of refunding.
		if err := s.failPendingPaymentTx(ctx, tx, appt.ID); err != nil {
			return UpdateResult{}, err
		}
	} else if quote.Free {
		if err := s.refundAllTx(ctx, tx, appt, nil); err != nil {
			return UpdateResult{}, err
		}
	} else {
		if err := s.penaltySplitTx(ctx, tx, appt, quote); err != nil {
			return UpdateResult{}, err
		}
	}

	payload := map[string]any{
		"free":    quote.Free,
		"percent": quote.Percent.String(),
		"penalty": quote.Penalty.String(),
	}
	if err := s.transitionTx(ctx, tx, appt, next, &params.ActorID, payload); err != nil {
		return UpdateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, fmt.Errorf("appointment: commit update: %w", err)
	}

	appt.Status = next
	s.log.Info("appointment exited",
		zap.String("appointment_id", appt.ID),
		zap.String("status", string(next)),
		zap.Bool("free", quote.Free),
	)
	return UpdateResult{Appointment: appt, Quote: quote}, nil
}

// SoftDelete flags the appointment and its pouch together. Ledger rows are
// untouchable; this is an audit flag, not a removal.
func (s *Service) SoftDelete(ctx context.Context, appointmentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.repo.GetForUpdateTx(ctx, tx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Status.Terminal() {
		return ErrInvalidTransition
	}
	if err := s.repo.SoftDeleteTx(ctx, tx, appointmentID); err != nil {
		return err
	}
	if err := s.pouches.SoftDeleteTx(ctx, tx, appointmentID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointment: commit soft delete: %w", err)
	}
	return nil
}

// transitionTx validates and writes the status move plus its event/outbox
// records. Callers hold the row lock.
func (s *Service) transitionTx(ctx context.Context, tx pgx.Tx, appt Appointment, next Status, actorID *string, extra map[string]any) error {
	if !appt.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	if err := s.repo.UpdateStatusTx(ctx, tx, appt.ID, next); err != nil {
		return err
	}

	payload := map[string]any{
		"previous_status": string(appt.Status),
		"next_status":     string(next),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := InsertEventTx(ctx, tx, appt.ID, "APPOINTMENT_STATUS_CHANGED", actorID, payload); err != nil {
		return err
	}
	return EnqueueOutboxTx(ctx, tx, TopicAppointmentStatus, map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"stylist_id":     appt.StylistID,
		"previous":       string(appt.Status),
		"next":           string(next),
	})
}

// disburseTx settles the pouch to the stylist: one earning row for the full
// pinned amount keeps the ledger conserving, while the wallet credit is net
// of platform commission.
func (s *Service) disburseTx(ctx context.Context, tx pgx.Tx, appt Appointment) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusDisbursed, nil)
	if err != nil {
		return err
	}
	commission := settled.Amount.Mul(s.policy.CommissionPercent).Div(oneHundred).Round(2)
	note := fmt.Sprintf("commission %s withheld", commission.String())
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.StylistID,
		AppointmentID: &appt.ID,
		Amount:        settled.Amount,
		Type:          ledger.TypeEarning,
		Status:        ledger.StatusApproved,
		Note:          &note,
	}); err != nil {
		return err
	}
	return s.repo.AdjustBalanceTx(ctx, tx, appt.StylistID, settled.Amount.Sub(commission))
}

// refundAllTx settles the pouch back to the customer in full.
func (s *Service) refundAllTx(ctx context.Context, tx pgx.Tx, appt Appointment, adminNote *string) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusRefunded, adminNote)
	if err != nil {
		return err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.CustomerID,
		AppointmentID: &appt.ID,
		Amount:        settled.Amount,
		Type:          ledger.TypeRefund,
		Status:        ledger.StatusApproved,
	}); err != nil {
		return err
	}
	return s.repo.AdjustBalanceTx(ctx, tx, appt.CustomerID, settled.Amount)
}

// penaltySplitTx settles a late exit: the customer gets amount minus
// penalty, the stylist earns the penalty, the two rows sum to the pin.
func (s *Service) penaltySplitTx(ctx context.Context, tx pgx.Tx, appt Appointment, quote PenaltyQuote) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("late exit penalty %s%%", quote.Percent.String())
	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusOthers, &note)
	if err != nil {
		return err
	}

	refund := settled.Amount.Sub(quote.Penalty)
	if refund.IsNegative() {
		return fmt.Errorf("appointment: penalty %s exceeds pouch amount %s", quote.Penalty, settled.Amount)
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.CustomerID,
		AppointmentID: &appt.ID,
		Amount:        refund,
		Type:          ledger.TypeRefund,
		Status:        ledger.StatusApproved,
		Note:          &note,
	}); err != nil {
		return err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.StylistID,
		AppointmentID: &appt.ID,
		Amount:        quote.Penalty,
		Type:          ledger.TypeEarning,
		Status:        ledger.StatusApproved,
		Note:          &note,
	}); err != nil {
		return err
	}
	if err := s.repo.AdjustBalanceTx(ctx, tx, appt.CustomerID, refund); err != nil {
		return err
	}
	return s.repo.AdjustBalanceTx(ctx, tx, appt.StylistID, quote.Penalty)
}

func (s *Service) failPendingPaymentTx(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions SET status = 'failed'
		WHERE appointment_id = $1 AND type = 'payment' AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("appointment: fail pending payment: %w", err)
	}
	return nil
}

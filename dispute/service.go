package dispute

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/config"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
	"github.com/kingsloob1/snipfair-app-sub002/pouch"
)

// Service runs the dispute pipeline. Resolution re-enters the appointment
// state machine and moves escrow in the same transaction as the dispute
// stamp, so a resolved dispute and its money effects commit together.
type Service struct {
	pool    *pgxpool.Pool
	repo    *Repository
	appts   *appointment.Repository
	pouches *pouch.Repository
	ledger  *ledger.Repository
	policy  config.Policy
	log     *zap.Logger
}

func NewService(pool *pgxpool.Pool, repo *Repository, appts *appointment.Repository, pouches *pouch.Repository, lgr *ledger.Repository, policy config.Policy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{pool: pool, repo: repo, appts: appts, pouches: pouches, ledger: lgr, policy: policy, log: log}
}

// RaiseParams captures a customer- or stylist-raised escalation.
type RaiseParams struct {
	AppointmentID string
	ActorID       string
	Comment       string
	Attachments   []string
}

// Raise escalates an in-flight appointment into a dispute. The appointment
// is parked `escalated` and its prior status recorded for a possible
// no_action revert.
func (s *Service) Raise(ctx context.Context, params RaiseParams) (Record, error) {
	if params.AppointmentID == "" || params.ActorID == "" {
		return Record{}, fmt.Errorf("dispute: appointment and actor are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.appts.GetForUpdateTx(ctx, tx, params.AppointmentID)
	if err != nil {
		return Record{}, err
	}

	var side Side
	switch params.ActorID {
	case appt.CustomerID:
		side = SideCustomer
	case appt.StylistID:
		side = SideStylist
	default:
		return Record{}, ErrForbidden
	}

	if !appt.Status.CanTransition(appointment.StatusEscalated) {
		return Record{}, appointment.ErrInvalidTransition
	}

	rec, err := s.repo.CreateTx(ctx, tx, uuid.NewString(), appt.ID, side, params.Comment, string(appt.Status))
	if err != nil {
		return Record{}, err
	}

	if err := s.appts.UpdateStatusTx(ctx, tx, appt.ID, appointment.StatusEscalated); err != nil {
		return Record{}, err
	}
	if err := appointment.InsertEventTx(ctx, tx, appt.ID, "DISPUTE_RAISED", &params.ActorID, map[string]any{
		"dispute_id":      rec.ID,
		"ref_id":          rec.RefID,
		"raised_by":       string(side),
		"previous_status": string(appt.Status),
	}); err != nil {
		return Record{}, err
	}
	if err := appointment.EnqueueOutboxTx(ctx, tx, appointment.TopicDisputeStatusChanged, map[string]any{
		"dispute_id":     rec.ID,
		"appointment_id": appt.ID,
		"status":         string(StatusOpen),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit raise: %w", err)
	}

	if params.Comment != "" {
		// The opening statement lands on the raiser's private channel.
		channel := ConversationAdminCustomer
		if side == SideStylist {
			channel = ConversationAdminStylist
		}
		if _, err := s.repo.InsertMessage(ctx, Message{
			DisputeID:        rec.ID,
			Sender:           Sender{Kind: SenderUser, ID: params.ActorID},
			ConversationType: channel,
			Body:             params.Comment,
			Attachments:      params.Attachments,
		}); err != nil {
			s.log.Warn("dispute opening message failed", zap.Error(err), zap.String("dispute_id", rec.ID))
		}
	}

	s.log.Info("dispute raised",
		zap.String("dispute_id", rec.ID),
		zap.String("appointment_id", appt.ID),
		zap.String("raised_by", string(side)),
	)
	return rec, nil
}

// PostMessageParams appends to one of the segregated channels.
type PostMessageParams struct {
	DisputeID        string
	Sender           Sender
	ConversationType ConversationType
	Body             string
	Attachments      []string
}

// PostMessage validates channel membership and appends the message. An
// admin's first message engages the dispute (open → in_progress).
func (s *Service) PostMessage(ctx context.Context, params PostMessageParams) (Message, error) {
	rec, err := s.repo.Get(ctx, params.DisputeID)
	if err != nil {
		return Message{}, err
	}
	if rec.Status == StatusResolved || rec.Status == StatusClosed {
		return Message{}, ErrBadStatus
	}

	appt, err := s.appts.Get(ctx, rec.AppointmentID)
	if err != nil {
		return Message{}, err
	}

	switch params.Sender.Kind {
	case SenderAdmin:
		switch params.ConversationType {
		case ConversationAdminCustomer, ConversationAdminStylist, ConversationAll:
		default:
			return Message{}, ErrChannelMismatch
		}
		if rec.Status == StatusOpen {
			tx, err := s.pool.Begin(ctx)
			if err != nil {
				return Message{}, fmt.Errorf("dispute: begin tx: %w", err)
			}
			defer tx.Rollback(ctx)
			if err := s.repo.MarkInProgressTx(ctx, tx, rec.ID); err != nil {
				return Message{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return Message{}, fmt.Errorf("dispute: commit engage: %w", err)
			}
		}
	case SenderUser:
		// A party can only speak on their own private channel.
		var want ConversationType
		switch params.Sender.ID {
		case appt.CustomerID:
			want = ConversationAdminCustomer
		case appt.StylistID:
			want = ConversationAdminStylist
		default:
			return Message{}, ErrForbidden
		}
		if params.ConversationType != want {
			return Message{}, ErrChannelMismatch
		}
	default:
		return Message{}, fmt.Errorf("dispute: unknown sender kind %q", params.Sender.Kind)
	}

	return s.repo.InsertMessage(ctx, Message{
		DisputeID:        params.DisputeID,
		Sender:           params.Sender,
		ConversationType: params.ConversationType,
		Body:             params.Body,
		Attachments:      params.Attachments,
	})
}

// Messages returns the dispute conversation as seen by the viewer.
func (s *Service) Messages(ctx context.Context, disputeID string, viewer Sender) ([]Message, error) {
	if viewer.Kind == SenderAdmin {
		return s.repo.MessagesFor(ctx, disputeID, SenderAdmin, "")
	}

	rec, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	appt, err := s.appts.Get(ctx, rec.AppointmentID)
	if err != nil {
		return nil, err
	}
	var side Side
	switch viewer.ID {
	case appt.CustomerID:
		side = SideCustomer
	case appt.StylistID:
		side = SideStylist
	default:
		return nil, ErrForbidden
	}
	return s.repo.MessagesFor(ctx, disputeID, SenderUser, side)
}

// ResolveParams is the admin's terminal verdict.
type ResolveParams struct {
	DisputeID string
	AdminID   string
	Type      ResolutionType
	// Amount is the customer refund portion for split_refund; ignored otherwise.
	Amount  *decimal.Decimal
	Comment string
}

// Resolve applies the resolution exactly once: escrow moves, ledger rows
// append, and the appointment reaches its final state, all in one unit.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.ResolvedAt != nil {
		return Record{}, ErrAlreadyResolved
	}

	appt, err := s.appts.GetForUpdateTx(ctx, tx, rec.AppointmentID)
	if err != nil {
		return Record{}, err
	}

	var (
		finalStatus      = appointment.Status("")
		resolutionAmount *decimal.Decimal
	)

	if params.Type != ResolutionNoAction {
		// Monetary verdicts need a live escrow. A dispute raised after
		// completion finds the pouch already disbursed; the admin can only
		// close it with no_action.
		p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
		if err != nil {
			return Record{}, err
		}
		if p.Status != pouch.StatusHolding {
			return Record{}, ErrEscrowSettled
		}
	}

	switch params.Type {
	case ResolutionRefundCustomer:
		if err := s.refundAllTx(ctx, tx, appt, params.Comment); err != nil {
			return Record{}, err
		}
		finalStatus = appointment.StatusCanceled

	case ResolutionCompleteForStylist:
		if err := s.disburseTx(ctx, tx, appt, params.Comment); err != nil {
			return Record{}, err
		}
		finalStatus = appointment.StatusCompleted

	case ResolutionSplitRefund:
		if params.Amount == nil {
			return Record{}, fmt.Errorf("dispute: split_refund requires a refund amount")
		}
		if err := s.splitTx(ctx, tx, appt, *params.Amount, params.Comment); err != nil {
			return Record{}, err
		}
		resolutionAmount = params.Amount
		// The service was partially rendered; the record closes as completed.
		finalStatus = appointment.StatusCompleted

	case ResolutionNoAction:
		// Escrow stays holding; the appointment resumes where it was parked.
		finalStatus = appointment.Status(rec.PriorStatus)

	default:
		return Record{}, fmt.Errorf("dispute: unknown resolution type %q", params.Type)
	}

	resolved, err := s.repo.ResolveTx(ctx, tx, rec.ID, params.AdminID, params.Type, resolutionAmount, StatusResolved)
	if err != nil {
		return Record{}, err
	}

	if err := s.appts.UpdateStatusTx(ctx, tx, appt.ID, finalStatus); err != nil {
		return Record{}, err
	}
	if err := appointment.InsertEventTx(ctx, tx, appt.ID, "DISPUTE_RESOLVED", &params.AdminID, map[string]any{
		"dispute_id":      rec.ID,
		"resolution_type": string(params.Type),
		"final_status":    string(finalStatus),
		"comment":         params.Comment,
	}); err != nil {
		return Record{}, err
	}
	if err := appointment.EnqueueOutboxTx(ctx, tx, appointment.TopicDisputeStatusChanged, map[string]any{
		"dispute_id":      rec.ID,
		"appointment_id":  appt.ID,
		"status":          string(StatusResolved),
		"resolution_type": string(params.Type),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolution: %w", err)
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", rec.ID),
		zap.String("resolution_type", string(params.Type)),
		zap.String("final_status", string(finalStatus)),
	)
	return resolved, nil
}

// List returns disputes visible to the user.
func (s *Service) List(ctx context.Context, userID string) ([]Record, error) {
	return s.repo.ListByOwner(ctx, userID)
}

func (s *Service) refundAllTx(ctx context.Context, tx pgx.Tx, appt appointment.Appointment, note string) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusRefunded, notePtr(note))
	if err != nil {
		return err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.CustomerID,
		AppointmentID: &appt.ID,
		Amount:        settled.Amount,
		Type:          ledger.TypeRefund,
		Status:        ledger.StatusApproved,
		Note:          notePtr(note),
	}); err != nil {
		return err
	}
	return s.appts.AdjustBalanceTx(ctx, tx, appt.CustomerID, settled.Amount)
}

func (s *Service) disburseTx(ctx context.Context, tx pgx.Tx, appt appointment.Appointment, note string) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusDisbursed, notePtr(note))
	if err != nil {
		return err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.StylistID,
		AppointmentID: &appt.ID,
		Amount:        settled.Amount,
		Type:          ledger.TypeEarning,
		Status:        ledger.StatusApproved,
		Note:          notePtr(note),
	}); err != nil {
		return err
	}
	commission := settled.Amount.Mul(s.policy.CommissionPercent).Div(decimal.NewFromInt(100)).Round(2)
	return s.appts.AdjustBalanceTx(ctx, tx, appt.StylistID, settled.Amount.Sub(commission))
}

// splitTx routes refundAmount back to the customer and the remainder to the
// stylist; the two ledger rows sum to the pinned pouch amount.
func (s *Service) splitTx(ctx context.Context, tx pgx.Tx, appt appointment.Appointment, refundAmount decimal.Decimal, note string) error {
	p, err := s.pouches.GetByAppointmentTx(ctx, tx, appt.ID)
	if err != nil {
		return err
	}
	if refundAmount.IsNegative() || refundAmount.GreaterThan(p.Amount) {
		return fmt.Errorf("dispute: split amount %s outside pouch amount %s", refundAmount, p.Amount)
	}

	settled, err := s.pouches.SettleTx(ctx, tx, p.ID, pouch.StatusOthers, notePtr(note))
	if err != nil {
		return err
	}
	earning := settled.Amount.Sub(refundAmount)

	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.CustomerID,
		AppointmentID: &appt.ID,
		Amount:        refundAmount,
		Type:          ledger.TypeRefund,
		Status:        ledger.StatusApproved,
		Note:          notePtr(note),
	}); err != nil {
		return err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, ledger.InsertParams{
		OwnerID:       appt.StylistID,
		AppointmentID: &appt.ID,
		Amount:        earning,
		Type:          ledger.TypeEarning,
		Status:        ledger.StatusApproved,
		Note:          notePtr(note),
	}); err != nil {
		return err
	}
	if err := s.appts.AdjustBalanceTx(ctx, tx, appt.CustomerID, refundAmount); err != nil {
		return err
	}
	return s.appts.AdjustBalanceTx(ctx, tx, appt.StylistID, earning)
}

func notePtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

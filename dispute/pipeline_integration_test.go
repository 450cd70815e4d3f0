package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/config"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
	"github.com/kingsloob1/snipfair-app-sub002/payments"
	"github.com/kingsloob1/snipfair-app-sub002/pouch"
	"github.com/kingsloob1/snipfair-app-sub002/test/infra"
)

// setupIsolatedDB applies the migrations into a throwaway schema so the test
// never collides with existing rows; the schema is dropped on cleanup.
func setupIsolatedDB(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := teardown(dropCtx); err != nil {
			t.Logf("drop test schema: %v", err)
		}
	})
	return pool
}

// pipelineEnv wires the appointment and dispute services against one pool
// with a seeded customer/stylist/admin trio.
type pipelineEnv struct {
	pool       *pgxpool.Pool
	appts      *appointment.Service
	disputes   *Service
	customerID string
	stylistID  string
	adminID    string
}

func newPipelineEnv(ctx context.Context, t *testing.T, customerBalance int64) pipelineEnv {
	t.Helper()
	pool := setupIsolatedDB(ctx, t)

	policy := config.Policy{
		CancelFreeHours:          24,
		CancelPenaltyPercent:     decimal.NewFromInt(50),
		RescheduleFreeHours:      12,
		ReschedulePenaltyPercent: decimal.NewFromInt(25),
		CommissionPercent:        decimal.NewFromInt(10),
	}

	apptRepo := appointment.NewRepository(pool)
	pouchRepo := pouch.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)

	return pipelineEnv{
		pool:       pool,
		appts:      appointment.NewService(pool, apptRepo, pouchRepo, ledgerRepo, policy, payments.NewSimulatedGateway("itest", nil), nil),
		disputes:   NewService(pool, NewRepository(pool), apptRepo, pouchRepo, ledgerRepo, policy, nil),
		customerID: seedDisputeUser(ctx, t, pool, "customer", customerBalance),
		stylistID:  seedDisputeUser(ctx, t, pool, "stylist", 0),
		adminID:    seedDisputeUser(ctx, t, pool, "admin", 0),
	}
}

// bookConfirmed walks a wallet booking up to the confirmed state.
func bookConfirmed(ctx context.Context, t *testing.T, env pipelineEnv, amount int64) appointment.Appointment {
	t.Helper()
	result, err := env.appts.CreateAppointment(ctx, appointment.CreateParams{
		CustomerID:  env.customerID,
		StylistID:   env.stylistID,
		OfferingID:  fmt.Sprintf("offering-%d", time.Now().UnixNano()),
		Amount:      decimal.NewFromInt(amount),
		ScheduledAt: time.Now().Add(48 * time.Hour),
		Address:     "5 Integration Way",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	appt := result.Appointment
	if _, err := env.appts.Advance(ctx, appointment.AdvanceParams{AppointmentID: appt.ID, StylistID: env.stylistID, Verdict: appointment.VerdictApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.appts.Advance(ctx, appointment.AdvanceParams{AppointmentID: appt.ID, StylistID: env.stylistID, Verdict: appointment.VerdictConfirmed, Code: appt.AppointmentCode}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return appt
}

func queryAppointmentStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, appointmentID string) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, appointmentID).Scan(&status); err != nil {
		t.Fatalf("query appointment: %v", err)
	}
	return status
}

func queryEscrowStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, appointmentID string) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM pouches WHERE appointment_id = $1`, appointmentID).Scan(&status); err != nil {
		t.Fatalf("query pouch: %v", err)
	}
	return status
}

func queryWallet(ctx context.Context, t *testing.T, pool *pgxpool.Pool, userID string) decimal.Decimal {
	t.Helper()
	var raw string
	if err := pool.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1`, userID).Scan(&raw); err != nil {
		t.Fatalf("query balance: %v", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse balance: %v", err)
	}
	return balance
}

// TestDisputePipeline_Integration runs the full dispute flow against a live
// PostgreSQL: escalation parks and freezes the appointment, channels stay
// partitioned, and a refund_customer resolution returns the escrow exactly once.
func TestDisputePipeline_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	env := newPipelineEnv(ctx, t, 300)
	appt := bookConfirmed(ctx, t, env, 90)

	rec, err := env.disputes.Raise(ctx, RaiseParams{
		AppointmentID: appt.ID,
		ActorID:       env.customerID,
		Comment:       "stylist used the wrong product",
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if rec.RaisedBy != SideCustomer {
		t.Fatalf("expected customer side, got %s", rec.RaisedBy)
	}
	if rec.PriorStatus != appointment.StatusConfirmed {
		t.Fatalf("expected prior status confirmed, got %s", rec.PriorStatus)
	}
	if got := queryAppointmentStatus(ctx, t, env.pool, appt.ID); got != "escalated" {
		t.Fatalf("expected escalated appointment, got %q", got)
	}

	// neither party can move the appointment while the dispute is open: the
	// customer cannot cancel it out from under the escrow
	if _, err := env.appts.Update(ctx, appointment.UpdateParams{
		AppointmentID: appt.ID,
		ActorID:       env.customerID,
		Verdict:       appointment.VerdictCanceled,
	}); !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("canceling an escalated appointment must be rejected, got %v", err)
	}
	// and the stylist cannot complete it to grab the disbursement
	if _, err := env.appts.Advance(ctx, appointment.AdvanceParams{
		AppointmentID: appt.ID,
		StylistID:     env.stylistID,
		Verdict:       appointment.VerdictCompleted,
		Code:          appt.CompletionCode,
		ProofURL:      "https://cdn.test/proof.jpg",
	}); !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("completing an escalated appointment must be rejected, got %v", err)
	}
	if got := queryEscrowStatus(ctx, t, env.pool, appt.ID); got != "holding" {
		t.Fatalf("escrow must stay holding while escalated, got %q", got)
	}

	// a second dispute on the same appointment is rejected
	if _, err := env.disputes.Raise(ctx, RaiseParams{AppointmentID: appt.ID, ActorID: env.customerID, Comment: "again"}); !errors.Is(err, ErrDuplicateDispute) {
		t.Fatalf("expected ErrDuplicateDispute, got %v", err)
	}

	// the customer cannot write to the stylist channel
	if _, err := env.disputes.PostMessage(ctx, PostMessageParams{
		DisputeID:        rec.ID,
		Sender:           Sender{Kind: SenderUser, ID: env.customerID},
		ConversationType: ConversationAdminStylist,
		Body:             "wrong channel",
	}); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("expected ErrChannelMismatch, got %v", err)
	}

	// first admin message engages the dispute
	if _, err := env.disputes.PostMessage(ctx, PostMessageParams{
		DisputeID:        rec.ID,
		Sender:           Sender{Kind: SenderAdmin, ID: env.adminID},
		ConversationType: ConversationAdminCustomer,
		Body:             "looking into it",
	}); err != nil {
		t.Fatalf("admin message: %v", err)
	}
	engaged, err := env.disputes.repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload dispute: %v", err)
	}
	if engaged.Status != StatusInProgress {
		t.Fatalf("expected in_progress after admin message, got %s", engaged.Status)
	}

	resolved, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionRefundCustomer,
		Comment:   "full refund",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("expected resolved dispute, got %s", resolved.Status)
	}

	if got := queryAppointmentStatus(ctx, t, env.pool, appt.ID); got != "canceled" {
		t.Fatalf("refund_customer must cancel the appointment, got %q", got)
	}
	if got := queryEscrowStatus(ctx, t, env.pool, appt.ID); got != "refunded" {
		t.Fatalf("expected refunded pouch, got %q", got)
	}
	if got := queryWallet(ctx, t, env.pool, env.customerID); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("customer must be made whole: expected 300 got %s", got)
	}

	// resolution is single-shot
	if _, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionCompleteForStylist,
	}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

// TestSplitRefundResolution_Integration verifies the split verdict: one
// refund row and one earning row that together pin the escrow amount.
func TestSplitRefundResolution_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	env := newPipelineEnv(ctx, t, 300)
	appt := bookConfirmed(ctx, t, env, 90)

	rec, err := env.disputes.Raise(ctx, RaiseParams{
		AppointmentID: appt.ID,
		ActorID:       env.stylistID,
		Comment:       "customer disputes half the work",
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if rec.RaisedBy != SideStylist {
		t.Fatalf("expected stylist side, got %s", rec.RaisedBy)
	}

	refund := decimal.NewFromInt(30)
	resolved, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionSplitRefund,
		Amount:    &refund,
		Comment:   "partial service rendered",
	})
	if err != nil {
		t.Fatalf("resolve split: %v", err)
	}
	if resolved.ResolutionAmount == nil || !resolved.ResolutionAmount.Equal(refund) {
		t.Fatalf("expected recorded resolution amount 30, got %v", resolved.ResolutionAmount)
	}

	if got := queryAppointmentStatus(ctx, t, env.pool, appt.ID); got != "completed" {
		t.Fatalf("split_refund must complete the appointment, got %q", got)
	}
	if got := queryEscrowStatus(ctx, t, env.pool, appt.ID); got != "others" {
		t.Fatalf("expected split-settled pouch, got %q", got)
	}

	// exactly one refund row for the customer portion and one earning row for
	// the remainder, summing to the pinned 90
	var refundRows, earningRows int
	var refundSum, earningSum string
	err = env.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'refund'),
			COALESCE(SUM(amount) FILTER (WHERE type = 'refund'), 0)::text,
			COUNT(*) FILTER (WHERE type = 'earning'),
			COALESCE(SUM(amount) FILTER (WHERE type = 'earning'), 0)::text
		FROM transactions
		WHERE appointment_id = $1 AND type IN ('refund','earning')
	`, appt.ID).Scan(&refundRows, &refundSum, &earningRows, &earningSum)
	if err != nil {
		t.Fatalf("query settlement rows: %v", err)
	}
	if refundRows != 1 || earningRows != 1 {
		t.Fatalf("expected one refund and one earning row, got %d/%d", refundRows, earningRows)
	}
	gotRefund, _ := decimal.NewFromString(refundSum)
	gotEarning, _ := decimal.NewFromString(earningSum)
	if !gotRefund.Equal(refund) {
		t.Fatalf("refund row: expected 30 got %s", gotRefund)
	}
	if !gotEarning.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("earning row: expected 60 got %s", gotEarning)
	}
	if !gotRefund.Add(gotEarning).Equal(decimal.NewFromInt(90)) {
		t.Fatalf("settlement rows must sum to the pin, got %s", gotRefund.Add(gotEarning))
	}

	// wallets mirror the ledger: 300 - 90 + 30 and 0 + 60
	if got := queryWallet(ctx, t, env.pool, env.customerID); !got.Equal(decimal.NewFromInt(240)) {
		t.Fatalf("customer balance: expected 240 got %s", got)
	}
	if got := queryWallet(ctx, t, env.pool, env.stylistID); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("stylist balance: expected 60 got %s", got)
	}
}

// TestPostCompletionDispute_Integration covers a dispute raised after the
// escrow was already disbursed: monetary verdicts are rejected and only
// no_action can close it, restoring the completed status.
func TestPostCompletionDispute_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	env := newPipelineEnv(ctx, t, 300)
	appt := bookConfirmed(ctx, t, env, 90)

	if _, err := env.appts.Advance(ctx, appointment.AdvanceParams{
		AppointmentID: appt.ID,
		StylistID:     env.stylistID,
		Verdict:       appointment.VerdictCompleted,
		Code:          appt.CompletionCode,
		ProofURL:      "https://cdn.test/proof.jpg",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec, err := env.disputes.Raise(ctx, RaiseParams{
		AppointmentID: appt.ID,
		ActorID:       env.customerID,
		Comment:       "result not as agreed",
	})
	if err != nil {
		t.Fatalf("raise after completion: %v", err)
	}
	if rec.PriorStatus != appointment.StatusCompleted {
		t.Fatalf("expected prior status completed, got %s", rec.PriorStatus)
	}

	// the escrow is gone; a refund cannot be conjured from a disbursed pouch
	if _, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionRefundCustomer,
	}); !errors.Is(err, ErrEscrowSettled) {
		t.Fatalf("expected ErrEscrowSettled for refund_customer, got %v", err)
	}
	refund := decimal.NewFromInt(30)
	if _, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionSplitRefund,
		Amount:    &refund,
	}); !errors.Is(err, ErrEscrowSettled) {
		t.Fatalf("expected ErrEscrowSettled for split_refund, got %v", err)
	}

	// the rejections leave the dispute unresolved and the money untouched
	if got := queryEscrowStatus(ctx, t, env.pool, appt.ID); got != "disbursed" {
		t.Fatalf("pouch must stay disbursed, got %q", got)
	}
	if got := queryWallet(ctx, t, env.pool, env.stylistID); !got.Equal(decimal.NewFromInt(81)) {
		t.Fatalf("stylist payout must stand: expected 81 got %s", got)
	}

	resolved, err := env.disputes.Resolve(ctx, ResolveParams{
		DisputeID: rec.ID,
		AdminID:   env.adminID,
		Type:      ResolutionNoAction,
		Comment:   "proof shows the agreed result",
	})
	if err != nil {
		t.Fatalf("resolve no_action: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("expected resolved dispute, got %s", resolved.Status)
	}
	if got := queryAppointmentStatus(ctx, t, env.pool, appt.ID); got != "completed" {
		t.Fatalf("no_action must restore the completed status, got %q", got)
	}
}

// TestConversationVisibility_Integration pins the read-path filter: each
// party retrieves only its own private channel plus broadcasts, while the
// admin sees every message.
func TestConversationVisibility_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	env := newPipelineEnv(ctx, t, 300)
	appt := bookConfirmed(ctx, t, env, 90)

	rec, err := env.disputes.Raise(ctx, RaiseParams{AppointmentID: appt.ID, ActorID: env.customerID})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	post := func(sender Sender, channel ConversationType, body string) {
		t.Helper()
		if _, err := env.disputes.PostMessage(ctx, PostMessageParams{
			DisputeID:        rec.ID,
			Sender:           sender,
			ConversationType: channel,
			Body:             body,
		}); err != nil {
			t.Fatalf("post %q on %s: %v", body, channel, err)
		}
	}
	post(Sender{Kind: SenderAdmin, ID: env.adminID}, ConversationAdminCustomer, "for the customer only")
	post(Sender{Kind: SenderAdmin, ID: env.adminID}, ConversationAdminStylist, "for the stylist only")
	post(Sender{Kind: SenderAdmin, ID: env.adminID}, ConversationAll, "for everyone")
	post(Sender{Kind: SenderUser, ID: env.customerID}, ConversationAdminCustomer, "customer statement")
	post(Sender{Kind: SenderUser, ID: env.stylistID}, ConversationAdminStylist, "stylist statement")

	channelsSeen := func(viewer Sender) map[ConversationType]int {
		t.Helper()
		msgs, err := env.disputes.Messages(ctx, rec.ID, viewer)
		if err != nil {
			t.Fatalf("messages for %s: %v", viewer.ID, err)
		}
		seen := make(map[ConversationType]int)
		for _, m := range msgs {
			seen[m.ConversationType]++
		}
		return seen
	}

	customerSeen := channelsSeen(Sender{Kind: SenderUser, ID: env.customerID})
	if customerSeen[ConversationAdminStylist] != 0 {
		t.Fatal("customer must never see the stylist channel")
	}
	// the customer channel holds the admin message plus the customer's own
	if customerSeen[ConversationAdminCustomer] != 2 || customerSeen[ConversationAll] != 1 {
		t.Fatalf("customer view wrong: %v", customerSeen)
	}

	stylistSeen := channelsSeen(Sender{Kind: SenderUser, ID: env.stylistID})
	if stylistSeen[ConversationAdminCustomer] != 0 {
		t.Fatal("stylist must never see the customer channel")
	}
	if stylistSeen[ConversationAdminStylist] != 2 || stylistSeen[ConversationAll] != 1 {
		t.Fatalf("stylist view wrong: %v", stylistSeen)
	}

	adminSeen := channelsSeen(Sender{Kind: SenderAdmin, ID: env.adminID})
	if adminSeen[ConversationAdminCustomer] != 2 || adminSeen[ConversationAdminStylist] != 2 || adminSeen[ConversationAll] != 1 {
		t.Fatalf("admin view wrong: %v", adminSeen)
	}
}

func seedDisputeUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, role string, balance int64) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, role, balance)
		VALUES ($1, $2, 'x', $3, $4)
		RETURNING id
	`, fmt.Sprintf("%s+%d@itest.example.com", role, time.Now().UnixNano()), "Itest "+role, role, balance).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}

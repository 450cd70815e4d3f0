package appointment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// TestWalletLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and walks a wallet-funded booking through approval, both
// verification codes and disbursement, checking escrow conservation at the end.
func TestWalletLifecycle_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := setupIsolatedDB(ctx, t)

	customerID := seedUser(ctx, t, pool, "customer", 500)
	stylistID := seedUser(ctx, t, pool, "stylist", 0)

	policy := config.Policy{
		CancelFreeHours:          24,
		CancelPenaltyPercent:     decimal.NewFromInt(50),
		RescheduleFreeHours:      12,
		ReschedulePenaltyPercent: decimal.NewFromInt(25),
		CommissionPercent:        decimal.NewFromInt(10),
	}
	svc := NewService(pool, NewRepository(pool), pouch.NewRepository(pool), ledger.NewRepository(pool), policy, payments.NewSimulatedGateway("itest", nil), nil)

	amount := decimal.NewFromInt(120)
	result, err := svc.CreateAppointment(ctx, CreateParams{
		CustomerID:  customerID,
		StylistID:   stylistID,
		OfferingID:  fmt.Sprintf("offering-%d", time.Now().UnixNano()),
		Amount:      amount,
		ScheduledAt: time.Now().Add(48 * time.Hour),
		Address:     "5 Integration Way",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	appt := result.Appointment

	if appt.Status != StatusPending {
		t.Fatalf("wallet booking: expected pending, got %s", appt.Status)
	}
	if result.CaptureRef != "" {
		t.Fatalf("wallet booking must not open a gateway capture, got %q", result.CaptureRef)
	}
	if got := queryBalance(ctx, t, pool, customerID); !got.Equal(decimal.NewFromInt(380)) {
		t.Fatalf("customer balance after booking: expected 380 got %s", got)
	}
	if status := queryPouchStatus(ctx, t, pool, appt.ID); status != "holding" {
		t.Fatalf("expected holding pouch, got %q", status)
	}

	// stylist approves
	if _, err := svc.Advance(ctx, AdvanceParams{AppointmentID: appt.ID, StylistID: stylistID, Verdict: VerdictApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// wrong arrival code is rejected without side effects
	if _, err := svc.Advance(ctx, AdvanceParams{AppointmentID: appt.ID, StylistID: stylistID, Verdict: VerdictConfirmed, Code: "SF-000000"}); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	if _, err := svc.Advance(ctx, AdvanceParams{AppointmentID: appt.ID, StylistID: stylistID, Verdict: VerdictConfirmed, Code: appt.AppointmentCode}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// completion requires the second code plus proof, and disburses escrow
	if _, err := svc.Advance(ctx, AdvanceParams{AppointmentID: appt.ID, StylistID: stylistID, Verdict: VerdictCompleted, Code: appt.CompletionCode}); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected proof to be required, got %v", err)
	}
	if _, err := svc.Advance(ctx, AdvanceParams{
		AppointmentID: appt.ID,
		StylistID:     stylistID,
		Verdict:       VerdictCompleted,
		Code:          appt.CompletionCode,
		ProofURL:      "https://cdn.test/proof.jpg",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if status := queryPouchStatus(ctx, t, pool, appt.ID); status != "disbursed" {
		t.Fatalf("expected disbursed pouch, got %q", status)
	}
	// earning row pins the full escrow amount; the wallet credit is net of
	// the 10% commission
	if got := querySettledSum(ctx, t, pool, appt.ID); !got.Equal(amount) {
		t.Fatalf("settlement rows: expected sum %s got %s", amount, got)
	}
	if got := queryBalance(ctx, t, pool, stylistID); !got.Equal(decimal.NewFromInt(108)) {
		t.Fatalf("stylist balance after commission: expected 108 got %s", got)
	}

	// a consumed completion code can never disburse twice
	if _, err := svc.Advance(ctx, AdvanceParams{
		AppointmentID: appt.ID,
		StylistID:     stylistID,
		Verdict:       VerdictCompleted,
		Code:          appt.CompletionCode,
		ProofURL:      "https://cdn.test/proof.jpg",
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected replay to be rejected, got %v", err)
	}
}

// TestLateCancelPenalty_Integration verifies that canceling inside the
// penalty window splits the escrow between the two sides.
func TestLateCancelPenalty_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool := setupIsolatedDB(ctx, t)

	customerID := seedUser(ctx, t, pool, "customer", 200)
	stylistID := seedUser(ctx, t, pool, "stylist", 0)

	policy := config.Policy{
		CancelFreeHours:          24,
		CancelPenaltyPercent:     decimal.NewFromInt(50),
		RescheduleFreeHours:      12,
		ReschedulePenaltyPercent: decimal.NewFromInt(25),
		CommissionPercent:        decimal.NewFromInt(10),
	}
	svc := NewService(pool, NewRepository(pool), pouch.NewRepository(pool), ledger.NewRepository(pool), policy, payments.NewSimulatedGateway("itest", nil), nil)

	result, err := svc.CreateAppointment(ctx, CreateParams{
		CustomerID:  customerID,
		StylistID:   stylistID,
		OfferingID:  fmt.Sprintf("offering-%d", time.Now().UnixNano()),
		Amount:      decimal.NewFromInt(80),
		ScheduledAt: time.Now().Add(2 * time.Hour),
		Address:     "5 Integration Way",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	appt := result.Appointment

	exit, err := svc.Update(ctx, UpdateParams{
		AppointmentID: appt.ID,
		ActorID:       customerID,
		Verdict:       VerdictCanceled,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if exit.Quote.Free {
		t.Fatal("cancel 2h out must not be free under a 24h window")
	}
	if !exit.Quote.Penalty.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected penalty 40, got %s", exit.Quote.Penalty)
	}

	if status := queryPouchStatus(ctx, t, pool, appt.ID); status != "others" {
		t.Fatalf("expected penalty-split pouch, got %q", status)
	}
	// customer keeps 120+40 of the original 200, stylist earns the penalty
	if got := queryBalance(ctx, t, pool, customerID); !got.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("customer balance: expected 160 got %s", got)
	}
	if got := queryBalance(ctx, t, pool, stylistID); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("stylist balance: expected 40 got %s", got)
	}
	if got := querySettledSum(ctx, t, pool, appt.ID); !got.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("settlement rows: expected sum 80 got %s", got)
	}
}

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, role string, balance int64) string {
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

func queryBalance(ctx context.Context, t *testing.T, pool *pgxpool.Pool, userID string) decimal.Decimal {
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

func queryPouchStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, appointmentID string) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM pouches WHERE appointment_id = $1`, appointmentID).Scan(&status); err != nil {
		t.Fatalf("query pouch: %v", err)
	}
	return status
}

func querySettledSum(ctx context.Context, t *testing.T, pool *pgxpool.Pool, appointmentID string) decimal.Decimal {
	t.Helper()
	var raw string
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE appointment_id = $1 AND type IN ('refund','earning')
	`, appointmentID).Scan(&raw)
	if err != nil {
		t.Fatalf("query settlement sum: %v", err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse settlement sum: %v", err)
	}
	return sum
}


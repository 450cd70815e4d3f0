package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/dispute"
	"github.com/kingsloob1/snipfair-app-sub002/outbox"
)

// Deps bundles what the concurrent actors drive. Actors go through the
// domain services, not raw SQL, so the oracles observe exactly what real
// traffic would produce.
type Deps struct {
	Pool         *pgxpool.Pool
	Appointments *appointment.Service
	Captures     *appointment.CaptureService
	Disputes     *dispute.Service
	Worker       *outbox.Worker
}

func sleepJitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// swallow filters the domain rejections an actor expects under contention.
func swallow(err error) error {
	switch {
	case err == nil,
		errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrConcurrentModification),
		errors.Is(err, appointment.ErrStylistUnavailable),
		errors.Is(err, appointment.ErrCodeMismatch),
		errors.Is(err, appointment.ErrInsufficientBalance),
		errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, dispute.ErrDuplicateDispute),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrEscrowSettled),
		errors.Is(err, dispute.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Booker creates wallet-funded appointments for random future slots.
func Booker(ctx context.Context, deps Deps, customerID, stylistID string, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		_, err := deps.Appointments.CreateAppointment(ctx, appointment.CreateParams{
			CustomerID:  customerID,
			StylistID:   stylistID,
			OfferingID:  fmt.Sprintf("offering-%s-%d", customerID[:8], n),
			Amount:      decimal.NewFromInt(int64(20 + rand.Intn(80))),
			ScheduledAt: time.Now().Add(time.Duration(2+rand.Intn(96)) * time.Hour),
			Address:     "12 Test Lane",
		})
		if err := swallow(err); err != nil {
			return fmt.Errorf("booker: %w", err)
		}
		sleepJitter(15, 35)
	}
}

// Approver walks the stylist's pending appointments forward.
func Approver(ctx context.Context, deps Deps, stylistID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := deps.Pool.QueryRow(ctx, `
			SELECT id FROM appointments
			WHERE stylist_id = $1 AND status = 'pending' AND deleted_at IS NULL
			LIMIT 1
		`, stylistID).Scan(&id)
		if err == nil {
			_, aerr := deps.Appointments.Advance(ctx, appointment.AdvanceParams{
				AppointmentID: id,
				StylistID:     stylistID,
				Verdict:       appointment.VerdictApproved,
			})
			if aerr := swallow(aerr); aerr != nil {
				return fmt.Errorf("approver: %w", aerr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("approver scan: %w", err)
		}
		sleepJitter(20, 40)
	}
}

// CodeSubmitter recites codes for approved/confirmed appointments; roughly
// one in four submissions is deliberately wrong to exercise the mismatch
// rejection, and occasionally a consumed code is replayed.
func CodeSubmitter(ctx context.Context, deps Deps, stylistID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			id, status, apptCode, complCode string
		)
		err := deps.Pool.QueryRow(ctx, `
			SELECT id, status, appointment_code, completion_code FROM appointments
			WHERE stylist_id = $1 AND status IN ('approved','confirmed') AND deleted_at IS NULL
			LIMIT 1
		`, stylistID).Scan(&id, &status, &apptCode, &complCode)
		if err == nil {
			verdict := appointment.VerdictConfirmed
			code := apptCode
			proof := ""
			if status == "confirmed" {
				verdict = appointment.VerdictCompleted
				code = complCode
				proof = "https://cdn.test/proof.jpg"
			}
			if rand.Intn(4) == 0 {
				code = "SF-000000"
			}
			_, aerr := deps.Appointments.Advance(ctx, appointment.AdvanceParams{
				AppointmentID: id,
				StylistID:     stylistID,
				Verdict:       verdict,
				Code:          code,
				ProofURL:      proof,
			})
			if aerr := swallow(aerr); aerr != nil {
				return fmt.Errorf("code submitter: %w", aerr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("code submitter scan: %w", err)
		}
		sleepJitter(25, 50)
	}
}

// Canceler exits random in-flight appointments from the customer side.
func Canceler(ctx context.Context, deps Deps, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := deps.Pool.QueryRow(ctx, `
			SELECT id FROM appointments
			WHERE customer_id = $1 AND status IN ('pending','approved') AND deleted_at IS NULL
			ORDER BY random()
			LIMIT 1
		`, customerID).Scan(&id)
		if err == nil {
			verdict := appointment.VerdictCanceled
			if rand.Intn(3) == 0 {
				verdict = appointment.VerdictRescheduled
			}
			_, uerr := deps.Appointments.Update(ctx, appointment.UpdateParams{
				AppointmentID: id,
				ActorID:       customerID,
				Verdict:       verdict,
			})
			if uerr := swallow(uerr); uerr != nil {
				return fmt.Errorf("canceler: %w", uerr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("canceler scan: %w", err)
		}
		sleepJitter(60, 120)
	}
}

// Disputer escalates confirmed appointments.
func Disputer(ctx context.Context, deps Deps, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := deps.Pool.QueryRow(ctx, `
			SELECT id FROM appointments
			WHERE customer_id = $1 AND status IN ('confirmed','completed') AND deleted_at IS NULL
			ORDER BY random()
			LIMIT 1
		`, customerID).Scan(&id)
		if err == nil {
			_, derr := deps.Disputes.Raise(ctx, dispute.RaiseParams{
				AppointmentID: id,
				ActorID:       customerID,
				Comment:       "service not as described",
			})
			if derr := swallow(derr); derr != nil {
				return fmt.Errorf("disputer: %w", derr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("disputer scan: %w", err)
		}
		sleepJitter(150, 200)
	}
}

// Resolver plays the admin, resolving open disputes with random verdicts.
// Two resolvers racing on the same dispute exercise the single-shot rule.
func Resolver(ctx context.Context, deps Deps, adminID string, stop <-chan struct{}) error {
	resolutions := []dispute.ResolutionType{
		dispute.ResolutionRefundCustomer,
		dispute.ResolutionSplitRefund,
		dispute.ResolutionCompleteForStylist,
		dispute.ResolutionNoAction,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			id  string
			amt string
		)
		err := deps.Pool.QueryRow(ctx, `
			SELECT d.id, a.amount::text FROM disputes d
			JOIN appointments a ON a.id = d.appointment_id
			WHERE d.resolved_at IS NULL
			ORDER BY random()
			LIMIT 1
		`).Scan(&id, &amt)
		if err == nil {
			resolution := resolutions[rand.Intn(len(resolutions))]
			var amount *decimal.Decimal
			if resolution == dispute.ResolutionSplitRefund {
				total, perr := decimal.NewFromString(amt)
				if perr != nil {
					return fmt.Errorf("resolver parse amount: %w", perr)
				}
				half := total.Div(decimal.NewFromInt(2)).Round(2)
				amount = &half
			}
			_, rerr := deps.Disputes.Resolve(ctx, dispute.ResolveParams{
				DisputeID: id,
				AdminID:   adminID,
				Type:      resolution,
				Amount:    amount,
				Comment:   "stress resolution",
			})
			if rerr := swallow(rerr); rerr != nil {
				return fmt.Errorf("resolver: %w", rerr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("resolver scan: %w", err)
		}
		sleepJitter(100, 150)
	}
}

// CaptureConfirmer plays the gateway webhook: it confirms captures for
// appointments parked in processing. The idempotency key is derived from the
// appointment, so redelivery is a no-op by construction.
func CaptureConfirmer(ctx context.Context, deps Deps, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := deps.Pool.QueryRow(ctx, `
			SELECT id FROM appointments
			WHERE status = 'processing' AND deleted_at IS NULL
			LIMIT 1
		`).Scan(&id)
		if err == nil {
			werr := deps.Captures.HandleCaptureWebhook(ctx, appointment.CaptureRequest{
				AppointmentID:  id,
				IdempotencyKey: "cap-" + id,
				ProcessorRef:   "stress-" + id,
			})
			if werr := swallow(werr); werr != nil {
				return fmt.Errorf("capture confirmer: %w", werr)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("capture confirmer scan: %w", err)
		}
		sleepJitter(40, 80)
	}
}

// OutboxDrainer runs the delivery worker against the shared outbox.
func OutboxDrainer(ctx context.Context, deps Deps, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := deps.Worker.Drain(ctx); err != nil {
			return fmt.Errorf("outbox drainer: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

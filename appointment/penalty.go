package appointment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/config"
)

// Verdict names the customer- or stylist-side action being applied.
type Verdict string

const (
	VerdictApproved    Verdict = "approved"
	VerdictConfirmed   Verdict = "confirmed"
	VerdictCompleted   Verdict = "completed"
	VerdictCanceled    Verdict = "canceled"
	VerdictRescheduled Verdict = "rescheduled"
)

// PenaltyQuote is the calculator's answer: whether the action is free and,
// if not, the percentage and exact monetary penalty on the booked amount.
type PenaltyQuote struct {
	Free    bool
	Percent decimal.Decimal
	Penalty decimal.Decimal
}

// PenaltyCalculator applies the configured cancellation/reschedule policy.
// It is pure: the state machine decides what to do with the quote.
type PenaltyCalculator struct {
	policy config.Policy
}

func NewPenaltyCalculator(policy config.Policy) PenaltyCalculator {
	return PenaltyCalculator{policy: policy}
}

var oneHundred = decimal.NewFromInt(100)

// Quote computes the penalty for canceling or rescheduling an appointment
// scheduled at scheduledAt, as of now. Cancellation and reschedule carry
// independent threshold/percentage pairs.
func (c PenaltyCalculator) Quote(verdict Verdict, amount decimal.Decimal, scheduledAt, now time.Time) (PenaltyQuote, error) {
	var (
		freeHours int
		percent   decimal.Decimal
	)
	switch verdict {
	case VerdictCanceled:
		freeHours = c.policy.CancelFreeHours
		percent = c.policy.CancelPenaltyPercent
	case VerdictRescheduled:
		freeHours = c.policy.RescheduleFreeHours
		percent = c.policy.ReschedulePenaltyPercent
	default:
		return PenaltyQuote{}, fmt.Errorf("appointment: no penalty policy for verdict %q", verdict)
	}

	hoursUntil := scheduledAt.Sub(now).Hours()
	if hoursUntil >= float64(freeHours) {
		return PenaltyQuote{Free: true, Percent: decimal.Zero, Penalty: decimal.Zero}, nil
	}

	penalty := amount.Mul(percent).Div(oneHundred).Round(2)
	return PenaltyQuote{Free: false, Percent: percent, Penalty: penalty}, nil
}

package pouch

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the escrow settlement state. "holding" is the only non-terminal
// value; transitions are forward-only and happen exactly once.
type Status string

const (
	StatusHolding   Status = "holding"
	StatusDisbursed Status = "disbursed"
	StatusRefunded  Status = "refunded"
	// StatusOthers covers dispute outcomes and penalty-adjusted splits that
	// are neither a clean disbursement nor a clean refund.
	StatusOthers Status = "others"
)

// Record mirrors the pouches table. Amount is pinned to the booked price at
// creation and never changes.
type Record struct {
	ID            string
	AppointmentID string
	Amount        decimal.Decimal
	Status        Status
	AdminNote     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

func (s Status) Terminal() bool {
	return s == StatusDisbursed || s == StatusRefunded || s == StatusOthers
}

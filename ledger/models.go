package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies a money movement.
type Type string

const (
	TypePayment      Type = "payment"
	TypeEarning      Type = "earning"
	TypeRefund       Type = "refund"
	TypeWithdraw     Type = "withdraw"
	TypeTopup        Type = "topup"
	TypeSubscription Type = "subscription"
	TypeOther        Type = "other"
)

// Status tracks processor settlement. A transaction row is immutable apart
// from this field, which may only advance from pending to a terminal value.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusFailed   Status = "failed"
)

// Transaction is one append-only ledger row. Rows are never updated after
// creation and never deleted; corrections are new rows.
type Transaction struct {
	ID            string
	OwnerID       string
	AppointmentID *string
	Amount        decimal.Decimal
	Type          Type
	Status        Status
	// ProcessorRef carries the payment processor's identifier when the row
	// originated from a gateway capture or payout.
	ProcessorRef *string
	Note         *string
	CreatedAt    time.Time
}

// InsertParams contains write parameters for appending a transaction.
type InsertParams struct {
	OwnerID       string
	AppointmentID *string
	Amount        decimal.Decimal
	Type          Type
	Status        Status
	ProcessorRef  *string
	Note          *string
}

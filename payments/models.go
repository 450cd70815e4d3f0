package payments

import "time"

// AdminPaymentMethod is a payout destination managed by platform admins.
// At most one active row is the default at any time.
type AdminPaymentMethod struct {
	ID            string
	Label         string
	Provider      string
	AccountName   string
	AccountNumber string
	IsDefault     bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// CreateMethodParams carries the fields for a new payout destination.
type CreateMethodParams struct {
	Label         string
	Provider      string
	AccountName   string
	AccountNumber string
}

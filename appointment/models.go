package appointment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the appointment does not exist.
	ErrNotFound = errors.New("appointment: not found")
	// ErrInvalidTransition signals an action attempted outside its allowed
	// source state. The appointment is left untouched.
	ErrInvalidTransition = errors.New("appointment: invalid state transition")
	// ErrCodeMismatch signals a wrong verification code. No side effects.
	ErrCodeMismatch = errors.New("appointment: code mismatch")
	// ErrStylistUnavailable rejects a booking before any record is created.
	ErrStylistUnavailable = errors.New("appointment: stylist unavailable")
	// ErrInsufficientInput rejects a booking missing date, time or address.
	ErrInsufficientInput = errors.New("appointment: missing booking input")
	// ErrInsufficientBalance routes the caller to a funding step.
	ErrInsufficientBalance = errors.New("appointment: insufficient balance")
	// ErrConcurrentModification signals the per-appointment lock is held by
	// another in-flight transition.
	ErrConcurrentModification = errors.New("appointment: concurrent modification")
	// ErrForbidden signals the actor does not own this side of the appointment.
	ErrForbidden = errors.New("appointment: forbidden")
)

// Appointment mirrors the appointments table. Status is mutated only through
// the Service; both verification codes are disclosed exclusively through the
// customer's read path.
type Appointment struct {
	ID         string
	CustomerID string
	StylistID  string
	OfferingID string
	Amount     decimal.Decimal

	ScheduledAt time.Time
	Address     string
	Extra       *string

	AppointmentCode       string
	CompletionCode        string
	AppointmentCodeUsedAt *time.Time
	CompletionCodeUsedAt  *time.Time
	CompletionProofURL    *string

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Redacted returns a copy safe for non-customer viewers: the single-use
// codes are the customer's physical-presence proof and must never leak to
// the stylist ahead of time.
func (a Appointment) Redacted() Appointment {
	a.AppointmentCode = ""
	a.CompletionCode = ""
	return a
}

// BookingStatus is the idempotent read returned to booking clients.
type BookingStatus struct {
	Appointment Appointment
	UserBalance decimal.Decimal
}

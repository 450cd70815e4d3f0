package dispute

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
	StatusResolved   Status = "resolved"
)

// ResolutionType is the admin's monetary verdict.
type ResolutionType string

const (
	ResolutionRefundCustomer     ResolutionType = "refund_customer"
	ResolutionSplitRefund        ResolutionType = "split_refund"
	ResolutionCompleteForStylist ResolutionType = "complete_for_stylist"
	ResolutionNoAction           ResolutionType = "no_action"
)

// Side names which party raised the dispute or sent a message.
type Side string

const (
	SideCustomer Side = "customer"
	SideStylist  Side = "stylist"
)

// ConversationType partitions message visibility. The admin negotiates with
// each side privately; neither side ever sees the other's channel.
type ConversationType string

const (
	ConversationAdminCustomer ConversationType = "admin_customer"
	ConversationAdminStylist  ConversationType = "admin_stylist"
	ConversationAll           ConversationType = "all"
)

// SenderKind is the explicit discriminant of the message sender variant.
type SenderKind string

const (
	SenderAdmin SenderKind = "admin"
	SenderUser  SenderKind = "user"
)

// Sender is the tagged (Admin | User) variant: a discriminant plus an id,
// never inheritance. Display fields resolve via a lookup keyed by Kind.
type Sender struct {
	Kind SenderKind
	ID   string
}

// Record mirrors the disputes table. RefID is the external reference, bound
// one-to-one to the appointment the dispute targets.
type Record struct {
	ID            string
	RefID         string
	AppointmentID string
	RaisedBy      Side
	Comment       string
	Status        Status

	// PriorStatus is the appointment status at escalation time; a no_action
	// resolution reverts to it.
	PriorStatus appointment.Status

	ResolutionType   *ResolutionType
	ResolutionAmount *decimal.Decimal
	ResolvedBy       *string
	ResolvedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message belongs to a dispute. A non-admin sender's conversation type must
// match their side of the appointment.
type Message struct {
	ID               string
	DisputeID        string
	Sender           Sender
	ConversationType ConversationType
	Body             string
	Attachments      []string
	CreatedAt        time.Time
}

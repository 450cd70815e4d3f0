package appointment

// Status is the persisted appointment lifecycle state.
type Status string

const (
	// StatusProcessing is a booking awaiting payment-gateway capture.
	StatusProcessing Status = "processing"
	// StatusPending is a funded booking awaiting stylist approval.
	StatusPending Status = "pending"
	// StatusApproved means the stylist accepted; arrival code not yet given.
	StatusApproved Status = "approved"
	// StatusRescheduled is terminal for this record; the booking re-enters
	// the booking flow as a new appointment.
	StatusRescheduled Status = "rescheduled"
	// StatusConfirmed means the stylist proved arrival with the appointment code.
	StatusConfirmed Status = "confirmed"
	// StatusCompleted means the completion code was accepted and escrow disbursed.
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	// StatusEscalated parks the appointment while a dispute is in flight.
	StatusEscalated Status = "escalated"
)

// transitions is the single source of truth for legal status moves. Every
// write path consults it; a move not listed here is ErrInvalidTransition.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusPending, StatusCanceled, StatusRescheduled},
	StatusPending:    {StatusApproved, StatusCanceled, StatusRescheduled},
	StatusApproved:   {StatusConfirmed, StatusCanceled, StatusRescheduled, StatusEscalated},
	StatusConfirmed:  {StatusCompleted, StatusCanceled, StatusRescheduled, StatusEscalated},
	StatusCompleted:  {StatusEscalated},
	// Escalated appointments are finalized by dispute resolution only. A
	// no_action resolution additionally reverts to the recorded pre-dispute
	// status through the dispute pipeline's forced write.
	StatusEscalated:   {StatusCompleted, StatusCanceled},
	StatusCanceled:    {},
	StatusRescheduled: {},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the lifecycle of this record.
// Completed is terminal in every respect except dispute reopening.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusRescheduled:
		return true
	default:
		return false
	}
}

// Active reports whether the appointment still occupies the stylist's
// schedule slot.
func (s Status) Active() bool {
	switch s {
	case StatusProcessing, StatusPending, StatusApproved, StatusConfirmed, StatusEscalated:
		return true
	default:
		return false
	}
}

func validStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

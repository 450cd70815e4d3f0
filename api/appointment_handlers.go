package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/auth"
)

type appointmentResponse struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	StylistID   string `json:"stylist_id"`
	OfferingID  string `json:"offering_id"`
	Amount      string `json:"amount"`
	ScheduledAt string `json:"scheduled_at"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`

	// The verification codes appear only on the customer's own reads.
	AppointmentCode string `json:"appointment_code,omitempty"`
	CompletionCode  string `json:"completion_code,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment, viewerID string) appointmentResponse {
	if a.CustomerID != viewerID {
		a = a.Redacted()
	}
	return appointmentResponse{
		ID:              a.ID,
		CustomerID:      a.CustomerID,
		StylistID:       a.StylistID,
		OfferingID:      a.OfferingID,
		Amount:          a.Amount.String(),
		ScheduledAt:     a.ScheduledAt.Format(time.RFC3339),
		Address:         a.Address,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
		AppointmentCode: a.AppointmentCode,
		CompletionCode:  a.CompletionCode,
	}
}

type createAppointmentRequest struct {
	StylistID   string  `json:"stylist_id" validate:"required"`
	OfferingID  string  `json:"offering_id" validate:"required"`
	Amount      string  `json:"amount" validate:"required"`
	ScheduledAt string  `json:"scheduled_at" validate:"required"`
	Address     string  `json:"address" validate:"required"`
	Extra       *string `json:"extra"`
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	if userRole(r.Context()) != auth.RoleCustomer {
		respondJSON(w, http.StatusForbidden, false, "only customers can book", nil, nil)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondBadRequest(w, "invalid amount", nil)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		respondBadRequest(w, "scheduled_at must be RFC3339", nil)
		return
	}

	customerID := userID(r.Context())
	result, err := s.appointments.CreateAppointment(r.Context(), appointment.CreateParams{
		CustomerID:  customerID,
		StylistID:   req.StylistID,
		OfferingID:  req.OfferingID,
		Amount:      amount,
		ScheduledAt: scheduledAt,
		Address:     req.Address,
		Extra:       req.Extra,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondCreated(w, map[string]any{
		"appointment": toAppointmentResponse(result.Appointment, customerID),
		"capture_ref": result.CaptureRef,
	})
}

func (s *Server) handleBookingStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var apptID *string
	if id := q.Get("appointment_id"); id != "" {
		apptID = &id
	}

	customerID := userID(r.Context())
	status, err := s.appointments.GetBookingStatus(r.Context(), customerID, q.Get("offering_id"), apptID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, map[string]any{
		"appointment":  toAppointmentResponse(status.Appointment, customerID),
		"user_balance": status.UserBalance.String(),
	})
}

type advanceRequest struct {
	Verdict  string `json:"verdict" validate:"required,oneof=approved confirmed completed"`
	Code     string `json:"code"`
	ProofURL string `json:"proof_url"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if userRole(r.Context()) != auth.RoleStylist {
		respondJSON(w, http.StatusForbidden, false, "only the stylist can advance", nil, nil)
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	viewerID := userID(r.Context())
	appt, err := s.appointments.Advance(r.Context(), appointment.AdvanceParams{
		AppointmentID: chi.URLParam(r, "id"),
		StylistID:     viewerID,
		Verdict:       appointment.Verdict(req.Verdict),
		Code:          req.Code,
		ProofURL:      req.ProofURL,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, toAppointmentResponse(appt, viewerID))
}

type exitRequest struct {
	Verdict        string `json:"verdict" validate:"required,oneof=canceled rescheduled"`
	IsFreeOverride bool   `json:"is_free_override"`
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	// Only admins may waive the late penalty.
	if req.IsFreeOverride && userRole(r.Context()) != auth.RoleAdmin {
		respondJSON(w, http.StatusForbidden, false, "penalty override requires admin", nil, nil)
		return
	}

	viewerID := userID(r.Context())
	result, err := s.appointments.Update(r.Context(), appointment.UpdateParams{
		AppointmentID:  chi.URLParam(r, "id"),
		ActorID:        viewerID,
		Verdict:        appointment.Verdict(req.Verdict),
		IsFreeOverride: req.IsFreeOverride,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, map[string]any{
		"appointment": toAppointmentResponse(result.Appointment, viewerID),
		"penalty": map[string]any{
			"free":    result.Quote.Free,
			"percent": result.Quote.Percent.String(),
			"amount":  result.Quote.Penalty.String(),
		},
	})
}

func (s *Server) handleSoftDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := s.appointments.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, nil)
}

type captureWebhookRequest struct {
	AppointmentID  string `json:"appointment_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	ProcessorRef   string `json:"processor_ref"`
}

func (s *Server) handlePaymentCapture(w http.ResponseWriter, r *http.Request) {
	var req captureWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	err := s.captures.HandleCaptureWebhook(r.Context(), appointment.CaptureRequest{
		AppointmentID:  req.AppointmentID,
		IdempotencyKey: req.IdempotencyKey,
		ProcessorRef:   req.ProcessorRef,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, nil)
}

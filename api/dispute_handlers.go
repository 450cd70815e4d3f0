package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kingsloob1/snipfair-app-sub002/auth"
	"github.com/kingsloob1/snipfair-app-sub002/dispute"
)

type disputeResponse struct {
	ID               string  `json:"id"`
	RefID            string  `json:"ref_id"`
	AppointmentID    string  `json:"appointment_id"`
	RaisedBy         string  `json:"raised_by"`
	Comment          string  `json:"comment"`
	Status           string  `json:"status"`
	ResolutionType   *string `json:"resolution_type,omitempty"`
	ResolutionAmount *string `json:"resolution_amount,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	out := disputeResponse{
		ID:            rec.ID,
		RefID:         rec.RefID,
		AppointmentID: rec.AppointmentID,
		RaisedBy:      string(rec.RaisedBy),
		Comment:       rec.Comment,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ResolutionType != nil {
		t := string(*rec.ResolutionType)
		out.ResolutionType = &t
	}
	if rec.ResolutionAmount != nil {
		a := rec.ResolutionAmount.String()
		out.ResolutionAmount = &a
	}
	return out
}

type messageResponse struct {
	ID               string   `json:"id"`
	SenderKind       string   `json:"sender_kind"`
	SenderID         string   `json:"sender_id"`
	ConversationType string   `json:"conversation_type"`
	Body             string   `json:"body"`
	Attachments      []string `json:"attachments,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

func toMessageResponse(m dispute.Message) messageResponse {
	return messageResponse{
		ID:               m.ID,
		SenderKind:       string(m.Sender.Kind),
		SenderID:         m.Sender.ID,
		ConversationType: string(m.ConversationType),
		Body:             m.Body,
		Attachments:      m.Attachments,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
}

func viewerSender(r *http.Request) dispute.Sender {
	kind := dispute.SenderUser
	if userRole(r.Context()) == auth.RoleAdmin {
		kind = dispute.SenderAdmin
	}
	return dispute.Sender{Kind: kind, ID: userID(r.Context())}
}

type raiseDisputeRequest struct {
	AppointmentID string   `json:"appointment_id" validate:"required"`
	Comment       string   `json:"comment" validate:"required"`
	Attachments   []string `json:"attachments"`
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req raiseDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	rec, err := s.disputes.Raise(r.Context(), dispute.RaiseParams{
		AppointmentID: req.AppointmentID,
		ActorID:       userID(r.Context()),
		Comment:       req.Comment,
		Attachments:   req.Attachments,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, toDisputeResponse(rec))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	recs, err := s.disputes.List(r.Context(), userID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	items := make([]disputeResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toDisputeResponse(rec))
	}
	respondOK(w, map[string]any{"items": items})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.disputes.Messages(r.Context(), chi.URLParam(r, "id"), viewerSender(r))
	if err != nil {
		respondError(w, err)
		return
	}
	items := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toMessageResponse(m))
	}
	respondOK(w, map[string]any{"items": items})
}

type postMessageRequest struct {
	ConversationType string   `json:"conversation_type" validate:"required,oneof=admin_customer admin_stylist all"`
	Body             string   `json:"body" validate:"required"`
	Attachments      []string `json:"attachments"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	msg, err := s.disputes.PostMessage(r.Context(), dispute.PostMessageParams{
		DisputeID:        chi.URLParam(r, "id"),
		Sender:           viewerSender(r),
		ConversationType: dispute.ConversationType(req.ConversationType),
		Body:             req.Body,
		Attachments:      req.Attachments,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, toMessageResponse(msg))
}

type resolveDisputeRequest struct {
	Type    string  `json:"type" validate:"required,oneof=refund_customer split_refund complete_for_stylist no_action"`
	Amount  *string `json:"amount"`
	Comment string  `json:"comment"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		d, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			respondBadRequest(w, "invalid amount", nil)
			return
		}
		amount = &d
	}

	rec, err := s.disputes.Resolve(r.Context(), dispute.ResolveParams{
		DisputeID: chi.URLParam(r, "id"),
		AdminID:   userID(r.Context()),
		Type:      dispute.ResolutionType(req.Type),
		Amount:    amount,
		Comment:   req.Comment,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, toDisputeResponse(rec))
}

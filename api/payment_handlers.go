package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kingsloob1/snipfair-app-sub002/payments"
)

type paymentMethodResponse struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Provider    string `json:"provider"`
	AccountName string `json:"account_name"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at"`
}

func toPaymentMethodResponse(m payments.AdminPaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:          m.ID,
		Label:       m.Label,
		Provider:    m.Provider,
		AccountName: m.AccountName,
		IsDefault:   m.IsDefault,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.payoutMethods.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	items := make([]paymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		items = append(items, toPaymentMethodResponse(m))
	}
	respondOK(w, map[string]any{"items": items})
}

type createPaymentMethodRequest struct {
	Label         string `json:"label" validate:"required"`
	Provider      string `json:"provider" validate:"required"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number" validate:"required"`
}

func (s *Server) handleCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req createPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	m, err := s.payoutMethods.Create(r.Context(), payments.CreateMethodParams{
		Label:         req.Label,
		Provider:      req.Provider,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, toPaymentMethodResponse(m))
}

func (s *Server) handleSetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	m, err := s.payoutMethods.SetDefault(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, toPaymentMethodResponse(m))
}

func (s *Server) handleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	if err := s.payoutMethods.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, nil)
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kingsloob1/snipfair-app-sub002/auth"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		Balance:   u.Balance.String(),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCreated(w, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), userID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, toUserResponse(*user))
}

type transactionResponse struct {
	ID            string  `json:"id"`
	AppointmentID *string `json:"appointment_id,omitempty"`
	Amount        string  `json:"amount"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Note          *string `json:"note,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, err := s.ledger.ListByOwner(r.Context(), userID(r.Context()), limit)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		items = append(items, toTransactionResponse(t))
	}
	respondOK(w, map[string]any{"items": items})
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		AppointmentID: t.AppointmentID,
		Amount:        t.Amount.String(),
		Type:          string(t.Type),
		Status:        string(t.Status),
		Note:          t.Note,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

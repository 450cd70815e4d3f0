package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/auth"
	"github.com/kingsloob1/snipfair-app-sub002/dispute"
	"github.com/kingsloob1/snipfair-app-sub002/payments"
	"github.com/kingsloob1/snipfair-app-sub002/pouch"
)

type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, status bool, message string, data, errs any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Data: data, Errors: errs})
}

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, true, "success", data, nil)
}

func respondCreated(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusCreated, true, "success", data, nil)
}

func respondBadRequest(w http.ResponseWriter, message string, errs any) {
	respondJSON(w, http.StatusBadRequest, false, message, nil, errs)
}

func respondValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		respondBadRequest(w, "validation failed", fields)
		return
	}
	respondBadRequest(w, err.Error(), nil)
}

// respondError maps domain sentinels to HTTP status codes. Unknown errors
// become opaque 500s; the detail stays in the server log.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, pouch.ErrNotFound),
		errors.Is(err, payments.ErrMethodNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		respondJSON(w, http.StatusNotFound, false, err.Error(), nil, nil)

	case errors.Is(err, appointment.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden):
		respondJSON(w, http.StatusForbidden, false, err.Error(), nil, nil)

	case errors.Is(err, auth.ErrInvalidCredentials):
		respondJSON(w, http.StatusUnauthorized, false, err.Error(), nil, nil)

	case errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrCodeMismatch),
		errors.Is(err, appointment.ErrInsufficientInput),
		errors.Is(err, appointment.ErrStylistUnavailable),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, dispute.ErrChannelMismatch),
		errors.Is(err, dispute.ErrBadStatus):
		respondJSON(w, http.StatusUnprocessableEntity, false, err.Error(), nil, nil)

	case errors.Is(err, appointment.ErrInsufficientBalance):
		respondJSON(w, http.StatusPaymentRequired, false, err.Error(), nil, nil)

	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, dispute.ErrDuplicateDispute),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrEscrowSettled),
		errors.Is(err, pouch.ErrAlreadySettled),
		errors.Is(err, appointment.ErrConcurrentModification):
		respondJSON(w, http.StatusConflict, false, err.Error(), nil, nil)

	default:
		respondJSON(w, http.StatusInternalServerError, false, "internal server error", nil, nil)
	}
}

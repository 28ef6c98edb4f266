package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidID            = "invalid_id"
	codeInvalidLocation      = "invalid_location"
	codeInvalidCategory      = "invalid_category"
	codeInvalidAlertType     = "invalid_alert_type"
	codeInvalidBudget        = "invalid_budget"
	codeSlotTaken            = "slot_taken"
	codeRequestNotOpen       = "request_not_open"
	codeAlertNotActive       = "alert_not_active"
	codeAlreadyApplied       = "already_applied"
	codeApplicationNotOpen   = "application_not_open"
	codeInvalidTransition    = "invalid_transition"
	codeForbidden            = "forbidden"
	codeUnauthenticated      = "unauthenticated"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps domain sentinels onto HTTP statuses. Race
// losses surface as 409 so clients know the slot is gone, not that
// they did anything wrong.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrApplicationNotFound),
		errors.Is(err, domain.ErrAlertNotFound),
		errors.Is(err, domain.ErrHelperNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, codeSlotTaken, err.Error())
	case errors.Is(err, domain.ErrRequestNotOpen):
		writeError(w, http.StatusConflict, codeRequestNotOpen, err.Error())
	case errors.Is(err, domain.ErrAlertNotActive):
		writeError(w, http.StatusConflict, codeAlertNotActive, err.Error())
	case errors.Is(err, domain.ErrDuplicateApplication):
		writeError(w, http.StatusConflict, codeAlreadyApplied, err.Error())
	case errors.Is(err, domain.ErrApplicationNotOpen):
		writeError(w, http.StatusConflict, codeApplicationNotOpen, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, codeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrNotAssignedHelper),
		errors.Is(err, domain.ErrNotApplicationOwner),
		errors.Is(err, domain.ErrNotRequestOwner),
		errors.Is(err, domain.ErrNotAlertOwner),
		errors.Is(err, domain.ErrActorNotAllowed):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, codeInvalidLocation, err.Error())
	case errors.Is(err, domain.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, codeInvalidCategory, err.Error())
	case errors.Is(err, domain.ErrInvalidAlertType):
		writeError(w, http.StatusBadRequest, codeInvalidAlertType, err.Error())
	case errors.Is(err, domain.ErrInvalidBudget):
		writeError(w, http.StatusBadRequest, codeInvalidBudget, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

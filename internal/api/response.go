package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const (
	maxBodyBytes      = 1 << 20
	retryAfterSeconds = 1
)

var errUnknownWeekday = errors.New("unknown weekday")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, rule, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Rule: rule, Details: details})
}

func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleServiceError maps scheduling errors onto HTTP responses. Anything
// unrecognised is logged and reported as an internal error without details.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", "", err.Error())
		return
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", "", err.Error())
		return
	case errors.Is(err, appointment.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", "", err.Error())
		return
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "", err.Error())
		return
	}

	var domainErr *appointment.Error
	if !errors.As(err, &domainErr) {
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "", "")
		return
	}

	status := http.StatusInternalServerError
	switch domainErr.Kind {
	case appointment.KindValidation, appointment.KindCutoffExceeded:
		status = http.StatusUnprocessableEntity
	case appointment.KindConflict, appointment.KindInvalidState, appointment.KindInvalidTransition:
		status = http.StatusConflict
	case appointment.KindUnauthorized:
		status = http.StatusForbidden
	case appointment.KindBusy:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(domainErr.Kind), domainErr.Rule, domainErr.Message)
}

func badRequest(w http.ResponseWriter, details string) {
	writeError(w, http.StatusBadRequest, "invalid_request", "", details)
}

func invalidInput(w http.ResponseWriter, details string) {
	writeError(w, http.StatusUnprocessableEntity, string(appointment.KindValidation), appointment.RuleInvalidInput, details)
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

type handlers struct {
	svc *appointment.Service
	log *zap.Logger
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "providerID")
	if !ok {
		return
	}

	pa, err := h.svc.GetAvailability(r.Context(), providerID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAvailabilityBody(pa))
}

func (h *handlers) setAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "providerID")
	if !ok {
		return
	}

	var body AvailabilityBody
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "could not parse JSON")
		return
	}

	pa, field, err := fromAvailabilityBody(providerID, body)
	if err != nil {
		invalidInput(w, field+": "+err.Error())
		return
	}

	actor, _ := ActorFromContext(r.Context())
	saved, err := h.svc.SetAvailability(r.Context(), actor, pa)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAvailabilityBody(saved))
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "providerID")
	if !ok {
		return
	}

	date, err := appointment.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), providerID, date)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotList(providerID, date, slots))
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		invalidInput(w, "provider_id must be a valid UUID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		invalidInput(w, "patient_id must be a valid UUID")
		return
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		invalidInput(w, "date must be YYYY-MM-DD")
		return
	}
	start, err := appointment.ParseClock(req.StartTime)
	if err != nil {
		invalidInput(w, "start_time must be HH:MM")
		return
	}

	actor, _ := ActorFromContext(r.Context())
	appt, err := h.svc.Book(r.Context(), actor, appointment.BookRequest{
		ProviderID:      providerID,
		PatientID:       patientID,
		Date:            date,
		StartTime:       start,
		DurationMinutes: req.DurationMinutes,
		ReasonForVisit:  req.ReasonForVisit,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		badRequest(w, "offset must be an integer")
		return
	}

	q := r.URL.Query()
	var appts []*appointment.Appointment
	switch {
	case q.Get("patient_id") != "":
		patientID, perr := uuid.Parse(q.Get("patient_id"))
		if perr != nil {
			badRequest(w, "patient_id must be a valid UUID")
			return
		}
		appts, err = h.svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
	case q.Get("provider_id") != "":
		providerID, perr := uuid.Parse(q.Get("provider_id"))
		if perr != nil {
			badRequest(w, "provider_id must be a valid UUID")
			return
		}
		appts, err = h.svc.ListAppointmentsByProvider(r.Context(), providerID, limit, offset)
	default:
		badRequest(w, "one of patient_id or provider_id is required")
		return
	}
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	limit, offset = appointment.ClampPage(limit, offset)
	writeJSON(w, http.StatusOK, toAppointmentList(appts, limit, offset))
}

func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "could not parse JSON")
		return
	}

	appt, err := h.svc.ConfirmPayment(r.Context(), id, req.TransactionRef)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) acceptPayAtFacility(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.AcceptPayAtFacility(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "could not parse JSON")
		return
	}

	actor, _ := ActorFromContext(r.Context())
	target := appointment.ClinicalStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	appt, err := h.svc.Transition(r.Context(), id, target, actor)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "could not parse JSON")
		return
	}

	actor, _ := ActorFromContext(r.Context())
	appt, err := h.svc.Cancel(r.Context(), id, actor, strings.TrimSpace(req.Reason))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

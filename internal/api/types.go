package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	ProviderID      string `json:"provider_id"`
	PatientID       string `json:"patient_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	ReasonForVisit  string `json:"reason_for_visit"`
}

type ConfirmPaymentRequest struct {
	TransactionRef string `json:"transaction_ref"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DayAvailabilityBody struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

type AvailabilityBody struct {
	ProviderID  uuid.UUID                      `json:"provider_id"`
	SlotMinutes int                            `json:"slot_minutes,omitempty"`
	Days        map[string]DayAvailabilityBody `json:"days"`
	UpdatedAt   *time.Time                     `json:"updated_at,omitempty"`
}

type SlotResponse struct {
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type SlotListResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Date               string     `json:"date"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time"`
	DurationMinutes    int        `json:"duration_minutes"`
	ClinicalStatus     string     `json:"clinical_status"`
	PaymentStatus      string     `json:"payment_status"`
	FeeAmount          int64      `json:"fee_amount"`
	Specialization     string     `json:"specialization,omitempty"`
	ReasonForVisit     string     `json:"reason_for_visit"`
	TransactionRef     *string    `json:"transaction_ref,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	RefundEligible     bool       `json:"refund_eligible"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Rule    string `json:"rule,omitempty"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		PatientID:          a.PatientID,
		Date:               appointment.FormatDate(a.Date),
		StartTime:          a.StartTime.String(),
		EndTime:            a.End().String(),
		DurationMinutes:    a.DurationMinutes,
		ClinicalStatus:     string(a.ClinicalStatus),
		PaymentStatus:      string(a.PaymentStatus),
		FeeAmount:          a.FeeAmount,
		Specialization:     a.Specialization,
		ReasonForVisit:     a.ReasonForVisit,
		TransactionRef:     a.TransactionRef,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		RefundEligible:     a.RefundEligible,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		ConfirmedAt:        a.ConfirmedAt,
		StartedAt:          a.StartedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
	}
}

func toAppointmentList(appts []*appointment.Appointment, limit, offset int) AppointmentListResponse {
	items := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	return AppointmentListResponse{Items: items, Limit: limit, Offset: offset}
}

func toSlotList(providerID uuid.UUID, date time.Time, slots []appointment.Slot) SlotListResponse {
	out := SlotListResponse{
		ProviderID: providerID,
		Date:       appointment.FormatDate(date),
		Slots:      make([]SlotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		out.Slots = append(out.Slots, SlotResponse{
			Date:            appointment.FormatDate(s.Date),
			StartTime:       s.StartTime.String(),
			EndTime:         s.End().String(),
			DurationMinutes: s.DurationMinutes,
		})
	}
	return out
}

func toAvailabilityBody(pa *appointment.ProviderAvailability) AvailabilityBody {
	body := AvailabilityBody{
		ProviderID:  pa.ProviderID,
		SlotMinutes: pa.SlotMinutes,
		Days:        make(map[string]DayAvailabilityBody, len(pa.Days)),
	}
	if !pa.UpdatedAt.IsZero() {
		updated := pa.UpdatedAt
		body.UpdatedAt = &updated
	}
	for wd, d := range pa.Days {
		day := DayAvailabilityBody{Enabled: d.Enabled}
		if d.Enabled {
			day.StartTime = d.StartTime.String()
			day.EndTime = d.EndTime.String()
		}
		body.Days[strings.ToLower(wd.String())] = day
	}
	return body
}

// fromAvailabilityBody converts the wire form. Weekdays missing from the body
// are disabled. Unknown weekday names or bad clock strings are reported as
// validation errors by the caller.
func fromAvailabilityBody(providerID uuid.UUID, body AvailabilityBody) (*appointment.ProviderAvailability, string, error) {
	pa := appointment.NewProviderAvailability(providerID, body.SlotMinutes)
	for name, d := range body.Days {
		wd, ok := appointment.ParseWeekday(name)
		if !ok {
			return nil, "days." + name, errUnknownWeekday
		}
		day := appointment.DayAvailability{Enabled: d.Enabled}
		if d.StartTime != "" {
			start, err := appointment.ParseClock(d.StartTime)
			if err != nil {
				return nil, "days." + name + ".start_time", err
			}
			day.StartTime = start
		}
		if d.EndTime != "" {
			end, err := appointment.ParseClock(d.EndTime)
			if err != nil {
				return nil, "days." + name + ".end_time", err
			}
			day.EndTime = end
		}
		pa.Days[wd] = day
	}
	return pa, "", nil
}

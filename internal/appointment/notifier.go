package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventPayAtFacility        = "PAY_AT_FACILITY_ACCEPTED"
	EventAppointmentStarted   = "APPOINTMENT_STARTED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventRefundEligible       = "REFUND_ELIGIBLE"
)

// Event is what collaborators hear about after a transition has been committed.
type Event struct {
	Type           string         `json:"type"`
	AppointmentID  uuid.UUID      `json:"appointment_id"`
	ProviderID     uuid.UUID      `json:"provider_id"`
	PatientID      uuid.UUID      `json:"patient_id"`
	ClinicalStatus ClinicalStatus `json:"clinical_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	FeeAmount      int64          `json:"fee_amount"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Data           map[string]any `json:"data,omitempty"`
}

// Notifier delivers events to the notification and payment collaborators.
// Delivery is best-effort: errors are logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Implementations must make CreateAppointment reject a second non-cancelled
// appointment on the same (provider, date, start time) with ErrSlotTaken,
// whatever locking the caller does. The Postgres and memory implementations
// also reject any overlapping interval.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Rate/profile collaborator
	GetProviderProfile(ctx context.Context, id uuid.UUID) (*ProviderProfile, error)

	GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error)
	SaveAvailability(ctx context.Context, pa *ProviderAvailability) error

	// Conflict index source
	ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Appointment, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Appointment, error)

	// UpdateAppointmentState persists next only if the stored statuses still
	// equal fromClinical/fromPayment, otherwise ErrStaleAppointment.
	UpdateAppointmentState(ctx context.Context, next *Appointment, fromClinical ClinicalStatus, fromPayment PaymentStatus) (*Appointment, error)

	// Expiry worker
	FindUnpaidBefore(ctx context.Context, createdBefore time.Time) ([]*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// ProfileWriter is implemented by every repository so the seeder and tests
// can load patients and providers.
type ProfileWriter interface {
	UpsertPatient(ctx context.Context, p Patient) error
	UpsertProviderProfile(ctx context.Context, p ProviderProfile) error
}

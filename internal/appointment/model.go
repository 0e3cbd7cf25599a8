package appointment

import (
	"time"

	"github.com/google/uuid"
)

type ClinicalStatus string

const (
	StatusScheduled  ClinicalStatus = "scheduled"
	StatusConfirmed  ClinicalStatus = "confirmed"
	StatusInProgress ClinicalStatus = "in-progress"
	StatusCompleted  ClinicalStatus = "completed"
	StatusCancelled  ClinicalStatus = "cancelled"
)

func (s ClinicalStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is accepted from s.
func (s ClinicalStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentPayAtFacility PaymentStatus = "pay-at-facility"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is the authenticated caller as supplied by the identity collaborator.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is used for transitions the service performs on its own behalf.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderProfile carries the rate/profile data captured at booking time.
type ProviderProfile struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	ConsultationFee int64 // minor currency units
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Slot is a candidate interval on a given date. It is never stored on its own.
type Slot struct {
	Date            time.Time `json:"date"`
	StartTime       ClockTime `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (s Slot) End() ClockTime {
	return s.StartTime + ClockTime(s.DurationMinutes)
}

type Appointment struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	Date            time.Time
	StartTime       ClockTime
	DurationMinutes int
	ClinicalStatus  ClinicalStatus
	PaymentStatus   PaymentStatus
	FeeAmount       int64
	Specialization  string
	ReasonForVisit  string

	TransactionRef     *string
	CancellationReason *string
	CancelledBy        *uuid.UUID
	RefundEligible     bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

func (a *Appointment) End() ClockTime {
	return a.StartTime + ClockTime(a.DurationMinutes)
}

// StartsAt resolves the appointment's wall-clock start in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.StartTime.On(a.Date, loc)
}

func (a *Appointment) clone() *Appointment {
	c := *a
	return &c
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

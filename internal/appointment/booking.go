package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

const (
	MinReasonLength = 10
	MaxReasonLength = 500
)

type BookRequest struct {
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	Date            time.Time
	StartTime       ClockTime
	DurationMinutes int
	ReasonForVisit  string
}

func requiredID(v any) error {
	if id, _ := v.(uuid.UUID); id == uuid.Nil {
		return errors.New("is required")
	}
	return nil
}

// Validate checks the request shape. Each failing field maps to its own rule.
func (r BookRequest) Validate() error {
	if err := validation.Validate(r.ProviderID, validation.By(requiredID)); err != nil {
		return newError(KindValidation, RuleInvalidInput, "provider_id %v", err)
	}
	if err := validation.Validate(r.PatientID, validation.By(requiredID)); err != nil {
		return newError(KindValidation, RuleInvalidInput, "patient_id %v", err)
	}
	if r.Date.IsZero() {
		return newError(KindValidation, RuleInvalidInput, "date is required")
	}
	if err := validation.Validate(r.DurationMinutes, validation.Min(MinSlotMinutes), validation.Max(MaxSlotMinutes)); err != nil {
		return newError(KindValidation, RuleInvalidDuration, "duration_minutes %v", err)
	}
	if !r.StartTime.Valid() || !(r.StartTime + ClockTime(r.DurationMinutes)).Valid() {
		return newError(KindValidation, RuleInvalidDuration, "appointment must start and end within the same day")
	}
	reason := strings.TrimSpace(r.ReasonForVisit)
	if err := validation.Validate(reason, validation.Required, validation.RuneLength(MinReasonLength, MaxReasonLength)); err != nil {
		return newError(KindValidation, RuleReasonLength,
			"reason_for_visit must be %d-%d characters", MinReasonLength, MaxReasonLength)
	}
	return nil
}

func canBookFor(actor Actor, req BookRequest) bool {
	switch actor.Role {
	case RolePatient:
		return actor.ID == req.PatientID
	case RoleDoctor:
		return actor.ID == req.ProviderID
	case RoleStaff, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// checkWindow rejects dates in the past or beyond the booking horizon, and
// start times that have already passed.
func (s *Service) checkWindow(date time.Time, start ClockTime) error {
	now := s.clock()
	today := DateOf(now)
	if date.Before(today) {
		return newError(KindValidation, RuleDateInPast, "date %s is in the past", FormatDate(date))
	}
	horizon := today.AddDate(0, s.cfg.BookingHorizonMonths, 0)
	if s.cfg.BookingHorizonMonths > 0 && date.After(horizon) {
		return newError(KindValidation, RuleBeyondHorizon,
			"date %s is beyond the %d month booking horizon", FormatDate(date), s.cfg.BookingHorizonMonths)
	}
	if !start.On(date, s.cfg.Location).After(now) {
		return newError(KindValidation, RuleDateInPast, "slot %s %s has already started", FormatDate(date), start)
	}
	return nil
}

// Book reserves [StartTime, StartTime+DurationMinutes) with the provider. The
// conflict check and the insert run inside the provider's critical section,
// so of two racing overlapping requests exactly one succeeds. The fee is
// captured from the provider's current rate and never changes afterwards.
// A zero duration books one of the provider's slots.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	defaultDuration := req.DurationMinutes == 0
	if defaultDuration {
		req.DurationMinutes = s.cfg.SlotMinutes
	}
	req.Date = DateOf(req.Date)
	req.ReasonForVisit = strings.TrimSpace(req.ReasonForVisit)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !canBookFor(actor, req) {
		return nil, newError(KindUnauthorized, RuleNotPatient, "caller may not book for this patient")
	}
	if err := s.checkWindow(req.Date, req.StartTime); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	profile, err := s.repo.GetProviderProfile(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	pa, err := s.repo.GetAvailability(ctx, req.ProviderID)
	if err != nil && !errors.Is(err, ErrAvailabilityNotFound) {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if pa != nil && defaultDuration {
		req.DurationMinutes = pa.SlotMinutes
	}
	if pa == nil || !pa.Covers(req.Date, req.StartTime, req.DurationMinutes) {
		return nil, newError(KindValidation, RuleOutsideAvailability,
			"provider is not available %s %s for %d minutes", FormatDate(req.Date), req.StartTime, req.DurationMinutes)
	}

	var created *Appointment

	err = s.locker.WithProviderLock(ctx, req.ProviderID, req.Date, func(lockCtx context.Context) error {
		// Inside the critical section re-check against the current conflict set
		occ, err := s.loadOccupancy(lockCtx, req.ProviderID, req.Date)
		if err != nil {
			return err
		}
		if held := occ.firstOverlap(req.StartTime, req.DurationMinutes); held != nil {
			return newError(KindConflict, RuleSlotUnavailable,
				"slot %s %s is no longer available", FormatDate(req.Date), req.StartTime)
		}

		now := s.clock()
		appt := &Appointment{
			ID:              uuid.New(),
			ProviderID:      req.ProviderID,
			PatientID:       req.PatientID,
			Date:            req.Date,
			StartTime:       req.StartTime,
			DurationMinutes: req.DurationMinutes,
			ClinicalStatus:  StatusScheduled,
			PaymentStatus:   PaymentPending,
			FeeAmount:       profile.ConsultationFee,
			Specialization:  profile.Specialization,
			ReasonForVisit:  req.ReasonForVisit,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return newError(KindConflict, RuleSlotUnavailable,
					"slot %s %s is no longer available", FormatDate(req.Date), req.StartTime)
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.log.Info("provider busy, booking rejected",
				zap.String("provider_id", req.ProviderID.String()),
				zap.String("date", FormatDate(req.Date)),
			)
			return nil, newError(KindBusy, RuleProviderBusy, "provider schedule is being updated, retry shortly")
		}
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("provider_id", created.ProviderID.String()),
		zap.String("date", FormatDate(created.Date)),
		zap.Stringer("start", created.StartTime),
	)
	s.publish(ctx, created, EventAppointmentBooked, map[string]any{
		"date":             FormatDate(created.Date),
		"start_time":       created.StartTime.String(),
		"duration_minutes": created.DurationMinutes,
	})

	return created, nil
}

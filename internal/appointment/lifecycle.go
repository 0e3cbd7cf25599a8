package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxCancellationReasonLength = 500

	ReasonPaymentWindowElapsed = "payment_window_elapsed"
)

// Transition advances the clinical state of an appointment on behalf of actor.
// Confirmation only happens through the payment gate; cancellation is routed
// to Cancel with no reason.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target ClinicalStatus, actor Actor) (*Appointment, error) {
	if !target.Valid() {
		return nil, newError(KindValidation, RuleInvalidInput, "unknown status %q", target)
	}
	if target == StatusCancelled {
		return s.Cancel(ctx, id, actor, "")
	}

	_, updated, err := s.mutate(ctx, id, func(a *Appointment) error {
		from := a.ClinicalStatus
		if from.Terminal() {
			return newError(KindInvalidTransition, RuleTerminalState,
				"appointment is %s and accepts no further transitions", from)
		}
		if target == StatusConfirmed {
			return newError(KindInvalidTransition, RulePaymentRequired,
				"confirmation happens through payment or pay-at-facility acceptance")
		}
		if !canTransition(from, target) {
			return newError(KindInvalidTransition, RuleIllegalTransition,
				"cannot move appointment from %s to %s", from, target)
		}
		if actor.ID != a.ProviderID {
			return newError(KindUnauthorized, RuleNotAssignedProvider,
				"only the assigned provider may move an appointment to %s", target)
		}
		now := s.clock()
		if target == StatusInProgress && DateOf(now).Before(a.Date) {
			return newError(KindInvalidTransition, RuleTooEarly,
				"appointment on %s cannot start before its date", FormatDate(a.Date))
		}
		return advanceClinical(a, target, now)
	})
	if err != nil {
		return nil, err
	}

	eventType := EventAppointmentStarted
	if target == StatusCompleted {
		eventType = EventAppointmentCompleted
	}
	s.log.Info("appointment transitioned",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("status", string(updated.ClinicalStatus)),
	)
	s.publish(ctx, updated, eventType, nil)
	return updated, nil
}

// Cancel moves a scheduled or confirmed appointment to cancelled, freeing its
// slot. Patients and the assigned provider may cancel up to the configured
// cutoff before the start. A paid appointment becomes refund eligible; the
// refund itself belongs to the payment collaborator.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	if utf8.RuneCountInString(reason) > MaxCancellationReasonLength {
		return nil, newError(KindValidation, RuleInvalidInput,
			"reason must be at most %d characters", MaxCancellationReasonLength)
	}

	_, updated, err := s.mutate(ctx, id, func(a *Appointment) error {
		return s.applyCancel(a, actor, reason, s.clock())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("actor_role", string(actor.Role)),
		zap.Bool("refund_eligible", updated.RefundEligible),
	)
	s.publish(ctx, updated, EventAppointmentCancelled, map[string]any{"reason": reason})
	if updated.RefundEligible {
		data := map[string]any{"fee_amount": updated.FeeAmount}
		if updated.TransactionRef != nil {
			data["transaction_ref"] = *updated.TransactionRef
		}
		s.publish(ctx, updated, EventRefundEligible, data)
	}
	return updated, nil
}

func (s *Service) applyCancel(a *Appointment, actor Actor, reason string, now time.Time) error {
	if a.ClinicalStatus.Terminal() {
		return newError(KindInvalidTransition, RuleTerminalState,
			"appointment is %s and accepts no further transitions", a.ClinicalStatus)
	}
	if !canTransition(a.ClinicalStatus, StatusCancelled) {
		return newError(KindInvalidTransition, RuleIllegalTransition,
			"cannot cancel an appointment that is %s", a.ClinicalStatus)
	}

	system := actor.Role == RoleSystem
	if !system && actor.ID != a.PatientID && actor.ID != a.ProviderID {
		return newError(KindUnauthorized, RuleNotParticipant, "only the patient or the assigned provider may cancel")
	}
	if !system {
		deadline := a.StartsAt(s.cfg.Location).Add(-s.cfg.CancellationCutoff)
		if now.After(deadline) {
			return newError(KindCutoffExceeded, RuleCancellationCutoff,
				"cancellation closed at %s (%s before the appointment)",
				deadline.Format(time.RFC3339), s.cfg.CancellationCutoff)
		}
	}

	if err := advanceClinical(a, StatusCancelled, now); err != nil {
		return err
	}
	if reason != "" {
		a.CancellationReason = &reason
	}
	by := actor.ID
	a.CancelledBy = &by
	a.RefundEligible = a.PaymentStatus == PaymentPaid
	return nil
}

// ExpireUnpaidAppointments cancels bookings still awaiting payment after the
// payment window, releasing their slots. It is called by the expiry worker.
func (s *Service) ExpireUnpaidAppointments(ctx context.Context) (int, error) {
	if s.cfg.PaymentWindow <= 0 {
		return 0, nil
	}

	candidates, err := s.repo.FindUnpaidBefore(ctx, s.clock().Add(-s.cfg.PaymentWindow))
	if err != nil {
		return 0, fmt.Errorf("find unpaid appointments: %w", err)
	}

	expired := 0
	for _, c := range candidates {
		_, updated, err := s.mutate(ctx, c.ID, func(a *Appointment) error {
			if a.PaymentStatus != PaymentPending {
				return newError(KindInvalidState, RuleAlreadySettled, "payment arrived")
			}
			return s.applyCancel(a, SystemActor, ReasonPaymentWindowElapsed, s.clock())
		})
		if err != nil {
			var domainErr *Error
			if errors.As(err, &domainErr) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error("failed to expire appointment", zap.String("appointment_id", c.ID.String()), zap.Error(err))
			continue
		}
		expired++
		s.publish(ctx, updated, EventAppointmentCancelled, map[string]any{"reason": ReasonPaymentWindowElapsed})
	}

	return expired, nil
}

package appointment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmPayment records a successful online payment reported by the payment
// collaborator. The transaction reference is the idempotency anchor: a second
// call on a settled appointment fails with ErrInvalidState.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, transactionRef string) (*Appointment, error) {
	ref := strings.TrimSpace(transactionRef)
	if ref == "" {
		return nil, newError(KindValidation, RuleMissingTxRef, "transaction_ref is required")
	}

	_, updated, err := s.mutate(ctx, id, func(a *Appointment) error {
		if err := settlePayment(a, PaymentPaid, s.clock()); err != nil {
			return err
		}
		a.TransactionRef = &ref
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment confirmed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("transaction_ref", ref),
	)
	s.publish(ctx, updated, EventPaymentConfirmed, map[string]any{"transaction_ref": ref})
	return updated, nil
}

// AcceptPayAtFacility confirms the appointment with payment deferred to the visit.
func (s *Service) AcceptPayAtFacility(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	_, updated, err := s.mutate(ctx, id, func(a *Appointment) error {
		return settlePayment(a, PaymentPayAtFacility, s.clock())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("pay at facility accepted", zap.String("appointment_id", updated.ID.String()))
	s.publish(ctx, updated, EventPayAtFacility, nil)
	return updated, nil
}

package appointment

import (
	"time"
)

// clinicalTransitions lists every legal clinicalStatus edge. scheduled ->
// confirmed is present but reachable only through the payment gate.
var clinicalTransitions = map[ClinicalStatus][]ClinicalStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// paymentTransitions lists every legal paymentStatus edge. Both settled
// states are terminal for this service.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:       {PaymentPaid, PaymentPayAtFacility},
	PaymentPaid:          nil,
	PaymentPayAtFacility: nil,
}

func canTransition(from, to ClinicalStatus) bool {
	for _, next := range clinicalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func canSettle(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// advanceClinical is the single place clinicalStatus is written after creation.
// It stamps the timestamp belonging to the target state.
func advanceClinical(a *Appointment, to ClinicalStatus, at time.Time) error {
	from := a.ClinicalStatus
	if from.Terminal() {
		return newError(KindInvalidTransition, RuleTerminalState,
			"appointment is %s and accepts no further transitions", from)
	}
	if !canTransition(from, to) {
		return newError(KindInvalidTransition, RuleIllegalTransition,
			"cannot move appointment from %s to %s", from, to)
	}

	stamp := func(field **time.Time) {
		if *field == nil {
			t := at
			*field = &t
		}
	}
	switch to {
	case StatusConfirmed:
		stamp(&a.ConfirmedAt)
	case StatusInProgress:
		stamp(&a.StartedAt)
	case StatusCompleted:
		stamp(&a.CompletedAt)
	case StatusCancelled:
		stamp(&a.CancelledAt)
	}

	a.ClinicalStatus = to
	a.UpdatedAt = at
	return nil
}

// settlePayment is the single place paymentStatus is written after creation.
// Settlement also confirms the appointment.
func settlePayment(a *Appointment, to PaymentStatus, at time.Time) error {
	if !canSettle(a.PaymentStatus, to) {
		return newError(KindInvalidState, RuleAlreadySettled,
			"payment is already %s", a.PaymentStatus)
	}
	if a.ClinicalStatus != StatusScheduled {
		return newError(KindInvalidState, RuleNotAwaitingPayment,
			"appointment is %s, payment is only accepted while scheduled", a.ClinicalStatus)
	}
	if err := advanceClinical(a, StatusConfirmed, at); err != nil {
		return err
	}
	a.PaymentStatus = to
	return nil
}

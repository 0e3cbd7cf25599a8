package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrAvailabilityNotFound = errors.New("provider availability not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")

	// Repository level outcomes that the service translates into domain errors.
	ErrSlotTaken               = errors.New("an active appointment already holds this slot")
	ErrStaleAppointment        = errors.New("appointment state changed concurrently")
	ErrDuplicateTransactionRef = errors.New("transaction reference already recorded")
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
	KindBusy              ErrorKind = "busy"
	KindInvalidState      ErrorKind = "invalid_state"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindCutoffExceeded    ErrorKind = "cutoff_exceeded"
)

// Error is the structured rejection returned by every scheduling operation.
// Rule names the specific rule that was violated.
type Error struct {
	Kind    ErrorKind
	Rule    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Rule)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Rule, e.Message)
}

// Is matches on Kind, and on Rule when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Rule == "" || t.Rule == e.Rule)
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrCutoffExceeded    = &Error{Kind: KindCutoffExceeded}
)

// Rules carried by Error.Rule.
const (
	RuleReasonLength        = "reason_for_visit_length"
	RuleDateInPast          = "date_in_past"
	RuleBeyondHorizon       = "beyond_booking_horizon"
	RuleInvalidDuration     = "invalid_duration"
	RuleOutsideAvailability = "outside_availability"
	RuleInvalidAvailability = "invalid_availability"
	RuleInvalidInput        = "invalid_input"
	RuleSlotUnavailable     = "slot_no_longer_available"
	RuleProviderBusy        = "provider_busy"
	RuleAlreadySettled      = "payment_already_settled"
	RuleNotAwaitingPayment  = "not_awaiting_payment"
	RuleDuplicateTxRef      = "duplicate_transaction_ref"
	RuleMissingTxRef        = "missing_transaction_ref"
	RuleConcurrentUpdate    = "concurrent_update"
	RuleIllegalTransition   = "illegal_transition"
	RuleTerminalState       = "terminal_state"
	RulePaymentRequired     = "confirmation_requires_payment"
	RuleTooEarly            = "before_appointment_date"
	RuleNotAssignedProvider = "not_assigned_provider"
	RuleNotParticipant      = "not_participant"
	RuleNotOwner            = "not_availability_owner"
	RuleNotPatient          = "not_booking_patient"
	RuleCancellationCutoff  = "cancellation_cutoff"
)

func newError(kind ErrorKind, rule, format string, args ...any) *Error {
	return &Error{Kind: kind, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether the caller may resubmit the same request unchanged.
// Only a busy provider critical section qualifies.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// KindOf extracts the structured kind and rule from err, if any.
func KindOf(err error) (ErrorKind, string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Rule, true
	}
	return "", "", false
}

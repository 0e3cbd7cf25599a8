package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClinicalTransitionTable(t *testing.T) {
	legal := map[ClinicalStatus][]ClinicalStatus{
		StatusScheduled:  {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted},
	}
	all := []ClinicalStatus{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, canTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestAdvanceClinicalStampsOnce(t *testing.T) {
	first := testNow
	a := &Appointment{ClinicalStatus: StatusScheduled}

	require.NoError(t, advanceClinical(a, StatusConfirmed, first))
	require.NotNil(t, a.ConfirmedAt)
	assert.Equal(t, first, *a.ConfirmedAt)
	assert.Nil(t, a.StartedAt)
	assert.Nil(t, a.CancelledAt)

	require.NoError(t, advanceClinical(a, StatusInProgress, first.Add(time.Hour)))
	require.NoError(t, advanceClinical(a, StatusCompleted, first.Add(2*time.Hour)))
	assert.Equal(t, first, *a.ConfirmedAt)
	assert.Equal(t, first.Add(2*time.Hour), *a.CompletedAt)

	err := advanceClinical(a, StatusCancelled, first.Add(3*time.Hour))
	assert.ErrorIs(t, err, &Error{Kind: KindInvalidTransition, Rule: RuleTerminalState})
	assert.Nil(t, a.CancelledAt)
}

func TestAdvanceClinicalRejectsIllegal(t *testing.T) {
	a := &Appointment{ClinicalStatus: StatusInProgress}
	err := advanceClinical(a, StatusCancelled, testNow)
	assert.ErrorIs(t, err, &Error{Kind: KindInvalidTransition, Rule: RuleIllegalTransition})
	assert.Equal(t, StatusInProgress, a.ClinicalStatus)
}

func TestSettlePayment(t *testing.T) {
	t.Run("pending to paid confirms", func(t *testing.T) {
		a := &Appointment{ClinicalStatus: StatusScheduled, PaymentStatus: PaymentPending}
		require.NoError(t, settlePayment(a, PaymentPaid, testNow))
		assert.Equal(t, StatusConfirmed, a.ClinicalStatus)
		assert.Equal(t, PaymentPaid, a.PaymentStatus)
	})

	t.Run("settled states are terminal", func(t *testing.T) {
		for _, from := range []PaymentStatus{PaymentPaid, PaymentPayAtFacility} {
			for _, to := range []PaymentStatus{PaymentPaid, PaymentPayAtFacility} {
				a := &Appointment{ClinicalStatus: StatusConfirmed, PaymentStatus: from}
				err := settlePayment(a, to, testNow)
				assert.ErrorIs(t, err, &Error{Kind: KindInvalidState, Rule: RuleAlreadySettled}, "%s -> %s", from, to)
			}
		}
	})

	t.Run("cancelled appointment cannot be paid", func(t *testing.T) {
		a := &Appointment{ClinicalStatus: StatusCancelled, PaymentStatus: PaymentPending}
		err := settlePayment(a, PaymentPaid, testNow)
		assert.ErrorIs(t, err, &Error{Kind: KindInvalidState, Rule: RuleNotAwaitingPayment})
		assert.Equal(t, PaymentPending, a.PaymentStatus)
	})
}

func TestErrorMatching(t *testing.T) {
	err := newError(KindConflict, RuleSlotUnavailable, "slot %s taken", "09:00")

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, &Error{Kind: KindConflict, Rule: RuleSlotUnavailable})
	assert.NotErrorIs(t, err, &Error{Kind: KindConflict, Rule: RuleProviderBusy})
	assert.NotErrorIs(t, err, ErrValidation)
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(newError(KindBusy, RuleProviderBusy, "busy")))

	kind, rule, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindConflict, kind)
	assert.Equal(t, RuleSlotUnavailable, rule)
	assert.Contains(t, err.Error(), "slot 09:00 taken")
}

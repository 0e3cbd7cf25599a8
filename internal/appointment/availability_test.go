package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAvailabilityValidate(t *testing.T) {
	valid := func() *ProviderAvailability {
		pa := NewProviderAvailability(uuid.New(), 15)
		pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: at(9, 0), EndTime: at(17, 0)}
		return pa
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(pa *ProviderAvailability){
		"missing weekday":      func(pa *ProviderAvailability) { delete(pa.Days, time.Sunday) },
		"start after end":      func(pa *ProviderAvailability) { pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: at(17, 0), EndTime: at(9, 0)} },
		"empty window":         func(pa *ProviderAvailability) { pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: at(9, 0), EndTime: at(9, 0)} },
		"end past midnight":    func(pa *ProviderAvailability) { pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: at(9, 0), EndTime: 24*60 + 1} },
		"slot too short":       func(pa *ProviderAvailability) { pa.SlotMinutes = 1 },
		"slot too long":        func(pa *ProviderAvailability) { pa.SlotMinutes = 600 },
		"missing provider id":  func(pa *ProviderAvailability) { pa.ProviderID = uuid.Nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			pa := valid()
			mutate(pa)
			err := pa.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, &Error{Kind: KindValidation, Rule: RuleInvalidAvailability})
		})
	}

	t.Run("disabled day ignores bounds", func(t *testing.T) {
		pa := valid()
		pa.Days[time.Tuesday] = DayAvailability{Enabled: false, StartTime: at(17, 0), EndTime: at(9, 0)}
		assert.NoError(t, pa.Validate())
	})
}

func TestProviderAvailabilityCovers(t *testing.T) {
	pa := NewProviderAvailability(uuid.New(), 15)
	pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: at(9, 0), EndTime: at(10, 0)}

	assert.True(t, pa.Covers(monday, at(9, 0), 15))
	assert.True(t, pa.Covers(monday, at(9, 45), 15))
	assert.False(t, pa.Covers(monday, at(9, 50), 15))
	assert.False(t, pa.Covers(monday, at(8, 45), 15))
	assert.False(t, pa.Covers(monday.AddDate(0, 0, 1), at(9, 0), 15))
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pa := NewProviderAvailability(f.provider.ID, 0)
	pa.Days[time.Tuesday] = DayAvailability{Enabled: true, StartTime: at(13, 0), EndTime: at(15, 0)}

	t.Run("only the owning provider", func(t *testing.T) {
		_, err := f.svc.SetAvailability(ctx, f.staff, pa)
		assert.ErrorIs(t, err, &Error{Kind: KindUnauthorized, Rule: RuleNotOwner})

		other := Actor{ID: uuid.New(), Role: RoleDoctor}
		_, err = f.svc.SetAvailability(ctx, other, pa)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("overwrites wholesale", func(t *testing.T) {
		saved, err := f.svc.SetAvailability(ctx, f.provider, pa)
		require.NoError(t, err)
		assert.Equal(t, DefaultSlotMinutes, saved.SlotMinutes)
		assert.Equal(t, testNow, saved.UpdatedAt)

		got, err := f.svc.GetAvailability(ctx, f.provider.ID)
		require.NoError(t, err)
		assert.False(t, got.Day(time.Monday).Enabled)
		assert.True(t, got.Day(time.Tuesday).Enabled)
	})

	t.Run("rejects invalid", func(t *testing.T) {
		bad := NewProviderAvailability(f.provider.ID, 15)
		bad.Days[time.Friday] = DayAvailability{Enabled: true, StartTime: at(12, 0), EndTime: at(11, 0)}
		_, err := f.svc.SetAvailability(ctx, f.provider, bad)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown provider", func(t *testing.T) {
		ghost := Actor{ID: uuid.New(), Role: RoleDoctor}
		_, err := f.svc.SetAvailability(ctx, ghost, NewProviderAvailability(ghost.ID, 15))
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})
}

func TestListAvailableSlotsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.ListAvailableSlots(ctx, f.provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:15", "09:30", "09:45"}, startTimes(slots))

	appt := f.book(t, f.patient, at(9, 15))

	slots, err = f.svc.ListAvailableSlots(ctx, f.provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "09:45"}, startTimes(slots))

	occupied, err := f.svc.Occupied(ctx, f.provider.ID, monday)
	require.NoError(t, err)
	assert.Contains(t, occupied, at(9, 15))

	_, err = f.svc.Cancel(ctx, appt.ID, f.patient, "")
	require.NoError(t, err)

	slots, err = f.svc.ListAvailableSlots(ctx, f.provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:15", "09:30", "09:45"}, startTimes(slots))
}

func TestListAvailableSlotsEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("past date is empty", func(t *testing.T) {
		slots, err := f.svc.ListAvailableSlots(ctx, f.provider.ID, monday.AddDate(0, 0, -14))
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("started slots are hidden today", func(t *testing.T) {
		f.svc.now = func() time.Time { return monday.Add(9*time.Hour + 20*time.Minute) }
		defer func() { f.svc.now = func() time.Time { return testNow } }()

		slots, err := f.svc.ListAvailableSlots(ctx, f.provider.ID, monday)
		require.NoError(t, err)
		assert.Equal(t, []string{"09:30", "09:45"}, startTimes(slots))
	})

	t.Run("no availability is not found", func(t *testing.T) {
		_, err := f.svc.ListAvailableSlots(ctx, uuid.New(), monday)
		assert.ErrorIs(t, err, ErrAvailabilityNotFound)
	})
}

package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredAppointment(providerID, patientID uuid.UUID, date time.Time, start ClockTime) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		ProviderID:      providerID,
		PatientID:       patientID,
		Date:            date,
		StartTime:       start,
		DurationMinutes: 15,
		ClinicalStatus:  StatusScheduled,
		PaymentStatus:   PaymentPending,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func TestMemoryRepositoryCreateRejectsOverlap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	provider := uuid.New()

	require.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday, at(9, 0))))

	assert.ErrorIs(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday, at(9, 0))), ErrSlotTaken)

	overlapping := newStoredAppointment(provider, uuid.New(), monday, at(8, 50))
	assert.ErrorIs(t, repo.CreateAppointment(ctx, overlapping), ErrSlotTaken)

	assert.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday, at(9, 15))))
	assert.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(uuid.New(), uuid.New(), monday, at(9, 0))))
	assert.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday.AddDate(0, 0, 7), at(9, 0))))
}

func TestMemoryRepositoryCancelledFreesSlot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	provider := uuid.New()

	first := newStoredAppointment(provider, uuid.New(), monday, at(9, 0))
	require.NoError(t, repo.CreateAppointment(ctx, first))

	next := first.clone()
	next.ClinicalStatus = StatusCancelled
	_, err := repo.UpdateAppointmentState(ctx, next, StatusScheduled, PaymentPending)
	require.NoError(t, err)

	active, err := repo.ListActiveAppointments(ctx, provider, monday)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday, at(9, 0))))
}

func TestMemoryRepositoryCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	appt := newStoredAppointment(uuid.New(), uuid.New(), monday, at(9, 0))
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	next := appt.clone()
	next.ClinicalStatus = StatusConfirmed
	next.PaymentStatus = PaymentPaid
	updated, err := repo.UpdateAppointmentState(ctx, next, StatusScheduled, PaymentPending)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.ClinicalStatus)

	stale := appt.clone()
	stale.ClinicalStatus = StatusCancelled
	_, err = repo.UpdateAppointmentState(ctx, stale, StatusScheduled, PaymentPending)
	assert.ErrorIs(t, err, ErrStaleAppointment)

	_, err = repo.UpdateAppointmentState(ctx, newStoredAppointment(uuid.New(), uuid.New(), monday, at(9, 0)), StatusScheduled, PaymentPending)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	// Mutating a returned copy must not leak into the store.
	updated.ClinicalStatus = StatusCompleted
	got, err := repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.ClinicalStatus)
}

func TestMemoryRepositoryTransactionRefUnique(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	provider := uuid.New()
	ref := "txn-001"

	a := newStoredAppointment(provider, uuid.New(), monday, at(9, 0))
	b := newStoredAppointment(provider, uuid.New(), monday, at(9, 15))
	require.NoError(t, repo.CreateAppointment(ctx, a))
	require.NoError(t, repo.CreateAppointment(ctx, b))

	na := a.clone()
	na.TransactionRef = &ref
	_, err := repo.UpdateAppointmentState(ctx, na, StatusScheduled, PaymentPending)
	require.NoError(t, err)

	nb := b.clone()
	nb.TransactionRef = &ref
	_, err = repo.UpdateAppointmentState(ctx, nb, StatusScheduled, PaymentPending)
	assert.ErrorIs(t, err, ErrDuplicateTransactionRef)
}

func TestMemoryRepositoryListPaging(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	provider := uuid.New()
	patient := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, patient, monday.AddDate(0, 0, i), at(9, 0))))
	}
	require.NoError(t, repo.CreateAppointment(ctx, newStoredAppointment(provider, uuid.New(), monday, at(10, 0))))

	page, err := repo.ListAppointmentsByPatient(ctx, patient, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, monday.AddDate(0, 0, 4), page[0].Date, "newest first")
	assert.Equal(t, monday.AddDate(0, 0, 3), page[1].Date)

	page, err = repo.ListAppointmentsByPatient(ctx, patient, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, monday, page[0].Date)

	page, err = repo.ListAppointmentsByPatient(ctx, patient, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	all, err := repo.ListAppointmentsByProvider(ctx, provider, 100, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, at(10, 0), all[4].StartTime, "same day sorts by start descending")
}

func TestMemoryRepositoryFindUnpaidBefore(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	provider := uuid.New()

	old := newStoredAppointment(provider, uuid.New(), monday, at(9, 0))
	old.CreatedAt = testNow.Add(-time.Hour)
	recent := newStoredAppointment(provider, uuid.New(), monday, at(9, 15))
	settled := newStoredAppointment(provider, uuid.New(), monday, at(9, 30))
	settled.CreatedAt = testNow.Add(-time.Hour)
	settled.PaymentStatus = PaymentPayAtFacility
	settled.ClinicalStatus = StatusConfirmed

	for _, a := range []*Appointment{old, recent, settled} {
		require.NoError(t, repo.CreateAppointment(ctx, a))
	}

	found, err := repo.FindUnpaidBefore(ctx, testNow.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, old.ID, found[0].ID)
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.GetPatientByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPatientNotFound)
	_, err = repo.GetProviderProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, err = repo.GetAvailability(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAvailabilityNotFound)
	_, err = repo.GetAppointmentByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

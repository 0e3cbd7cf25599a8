package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

const testFee = int64(5000)

var (
	// Saturday noon; monday is two days later so cancellations clear the 24h cutoff.
	testNow = time.Date(2030, 1, 5, 12, 0, 0, 0, time.UTC)
	monday  = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	notifier *recordingNotifier

	provider     Actor
	patient      Actor
	otherPatient Actor
	staff        Actor
}

// newFixture builds a service over the memory store with one provider
// available on Mondays 09:00-10:00 in 15 minute slots.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	repo := NewMemoryRepository()
	notifier := &recordingNotifier{}

	f := &fixture{
		repo:         repo,
		notifier:     notifier,
		provider:     Actor{ID: uuid.New(), Role: RoleDoctor},
		patient:      Actor{ID: uuid.New(), Role: RolePatient},
		otherPatient: Actor{ID: uuid.New(), Role: RolePatient},
		staff:        Actor{ID: uuid.New(), Role: RoleStaff},
	}

	require.NoError(t, repo.UpsertProviderProfile(ctx, ProviderProfile{
		ID:              f.provider.ID,
		Name:            "Dr. Okafor",
		Specialization:  "Cardiology",
		ConsultationFee: testFee,
	}))
	require.NoError(t, repo.UpsertPatient(ctx, Patient{ID: f.patient.ID, Name: "Ada"}))
	require.NoError(t, repo.UpsertPatient(ctx, Patient{ID: f.otherPatient.ID, Name: "Ben"}))

	pa := NewProviderAvailability(f.provider.ID, 15)
	pa.Days[time.Monday] = DayAvailability{Enabled: true, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(10, 0)}
	require.NoError(t, repo.SaveAvailability(ctx, pa))

	cfg := config.DefaultScheduling()
	cfg.LockWait = time.Second
	f.svc = NewService(repo, redisclient.NewLocalProviderLocker(cfg.LockWait), notifier, cfg, zap.NewNop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) request(patient Actor, start ClockTime) BookRequest {
	return BookRequest{
		ProviderID:      f.provider.ID,
		PatientID:       patient.ID,
		Date:            monday,
		StartTime:       start,
		DurationMinutes: 15,
		ReasonForVisit:  "Follow-up on blood pressure",
	}
}

func (f *fixture) book(t *testing.T, patient Actor, start ClockTime) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), patient, f.request(patient, start))
	require.NoError(t, err)
	return appt
}

func (f *fixture) confirmed(t *testing.T, start ClockTime) *Appointment {
	t.Helper()
	appt := f.book(t, f.patient, start)
	appt, err := f.svc.ConfirmPayment(context.Background(), appt.ID, "txn-"+uuid.NewString())
	require.NoError(t, err)
	return appt
}

func startTimes(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime.String())
	}
	return out
}

func at(hour, minute int) ClockTime { return NewClockTime(hour, minute) }

package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	notifyTimeout = 3 * time.Second
	staleRetries  = 3
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Scheduling
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Scheduling, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = DefaultSlotMinutes
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("appointment"),
		now:      time.Now,
	}
}

func (s *Service) clock() time.Time {
	return s.now().In(s.cfg.Location)
}

// mutate applies fn to a fresh copy of the appointment and persists it with a
// compare-and-set on the statuses fn started from. A lost race re-reads and
// re-evaluates fn, so the caller sees the rejection the winning state implies.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, *Appointment, error) {
	for attempt := 0; attempt < staleRetries; attempt++ {
		cur, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("load appointment: %w", err)
		}

		next := cur.clone()
		if err := fn(next); err != nil {
			return nil, nil, err
		}

		updated, err := s.repo.UpdateAppointmentState(ctx, next, cur.ClinicalStatus, cur.PaymentStatus)
		switch {
		case err == nil:
			return cur, updated, nil
		case errors.Is(err, ErrStaleAppointment):
			s.log.Debug("appointment changed concurrently, re-evaluating",
				zap.String("appointment_id", id.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		case errors.Is(err, ErrDuplicateTransactionRef):
			return nil, nil, newError(KindInvalidState, RuleDuplicateTxRef, "transaction reference is already recorded")
		default:
			return nil, nil, fmt.Errorf("update appointment: %w", err)
		}
	}
	return nil, nil, newError(KindInvalidState, RuleConcurrentUpdate, "appointment keeps changing, reload and retry")
}

// publish records the audit event and informs collaborators. Both are
// best-effort: the transition is already committed. The notifier is expected
// to return quickly; bootstrap wraps it in notify.AsyncNotifier.
func (s *Service) publish(ctx context.Context, a *Appointment, eventType string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	ev := Event{
		Type:           eventType,
		AppointmentID:  a.ID,
		ProviderID:     a.ProviderID,
		PatientID:      a.PatientID,
		ClinicalStatus: a.ClinicalStatus,
		PaymentStatus:  a.PaymentStatus,
		FeeAmount:      a.FeeAmount,
		OccurredAt:     s.clock(),
		Data:           data,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		payload = nil
	}

	apptID := a.ID
	if err := s.repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
	}); err != nil {
		s.log.Error("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", a.ID.String()),
			zap.Error(err),
		)
	}

	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("notification delivery failed",
			zap.String("event", eventType),
			zap.String("appointment_id", a.ID.String()),
			zap.Error(err),
		)
	}
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListAppointmentsByPatient retrieves appointments for a specific patient, newest first
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	limit, offset = ClampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// ListAppointmentsByProvider retrieves appointments for a specific provider, newest first
func (s *Service) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	limit, offset = ClampPage(limit, offset)
	appts, err := s.repo.ListAppointmentsByProvider(ctx, providerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return appts, nil
}

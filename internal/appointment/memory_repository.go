package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	provider uuid.UUID
	date     string
	start    ClockTime
}

// MemoryRepository keeps everything in process memory. It backs tests and the
// "memory" store backend and enforces the same uniqueness rules as the
// database implementations.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]*Patient
	providers    map[uuid.UUID]*ProviderProfile
	availability map[uuid.UUID]*ProviderAvailability
	appointments map[uuid.UUID]*Appointment
	activeSlots  map[slotKey]uuid.UUID
	txRefs       map[string]uuid.UUID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]*Patient),
		providers:    make(map[uuid.UUID]*ProviderProfile),
		availability: make(map[uuid.UUID]*ProviderAvailability),
		appointments: make(map[uuid.UUID]*Appointment),
		activeSlots:  make(map[slotKey]uuid.UUID),
		txRefs:       make(map[string]uuid.UUID),
	}
}

// UpsertPatient and UpsertProviderProfile are used by the seeder and tests.
func (r *MemoryRepository) UpsertPatient(_ context.Context, p Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = &p
	return nil
}

func (r *MemoryRepository) UpsertProviderProfile(_ context.Context, p ProviderProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = &p
	return nil
}

func keyOf(a *Appointment) slotKey {
	return slotKey{provider: a.ProviderID, date: FormatDate(a.Date), start: a.StartTime}
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryRepository) GetProviderProfile(_ context.Context, id uuid.UUID) (*ProviderProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryRepository) GetAvailability(_ context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pa, ok := r.availability[providerID]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return copyAvailability(pa), nil
}

func (r *MemoryRepository) SaveAvailability(_ context.Context, pa *ProviderAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability[pa.ProviderID] = copyAvailability(pa)
	return nil
}

func copyAvailability(pa *ProviderAvailability) *ProviderAvailability {
	c := *pa
	c.Days = make(map[time.Weekday]DayAvailability, len(pa.Days))
	for k, v := range pa.Days {
		c.Days[k] = v
	}
	return &c
}

func (r *MemoryRepository) ListActiveAppointments(_ context.Context, providerID uuid.UUID, date time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := FormatDate(date)
	var out []*Appointment
	for _, a := range r.appointments {
		if a.ProviderID == providerID && FormatDate(a.Date) == day && a.ClinicalStatus != StatusCancelled {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(a)
	if _, taken := r.activeSlots[k]; taken {
		return ErrSlotTaken
	}
	for _, cur := range r.appointments {
		if cur.ProviderID == a.ProviderID && cur.ClinicalStatus != StatusCancelled &&
			FormatDate(cur.Date) == k.date && Overlaps(cur.StartTime, cur.DurationMinutes, a.StartTime, a.DurationMinutes) {
			return ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appointments[a.ID] = a.clone()
	r.activeSlots[k] = a.ID
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.ProviderID == providerID }, limit, offset), nil
}

func (r *MemoryRepository) list(match func(*Appointment) bool, limit, offset int) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Appointment
	for _, a := range r.appointments {
		if match(a) {
			all = append(all, a.clone())
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].StartTime > all[j].StartTime
	})
	if offset >= len(all) {
		return []*Appointment{}
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (r *MemoryRepository) UpdateAppointmentState(_ context.Context, next *Appointment, fromClinical ClinicalStatus, fromPayment PaymentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[next.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if cur.ClinicalStatus != fromClinical || cur.PaymentStatus != fromPayment {
		return nil, ErrStaleAppointment
	}
	if next.TransactionRef != nil {
		if owner, used := r.txRefs[*next.TransactionRef]; used && owner != next.ID {
			return nil, ErrDuplicateTransactionRef
		}
		r.txRefs[*next.TransactionRef] = next.ID
	}
	if next.ClinicalStatus == StatusCancelled && cur.ClinicalStatus != StatusCancelled {
		k := keyOf(cur)
		if r.activeSlots[k] == cur.ID {
			delete(r.activeSlots, k)
		}
	}
	stored := next.clone()
	r.appointments[next.ID] = stored
	return stored.clone(), nil
}

func (r *MemoryRepository) FindUnpaidBefore(_ context.Context, createdBefore time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.appointments {
		if a.ClinicalStatus == StatusScheduled && a.PaymentStatus == PaymentPending && a.CreatedAt.Before(createdBefore) {
			out = append(out, a.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"

	activeSlotIndex     = "appointments_active_slot_uniq"
	transactionRefIndex = "appointments_transaction_ref_uniq"

	appointmentColumns = `id, provider_id, patient_id, appt_date, start_minute, duration_minutes,
		clinical_status, payment_status, fee_amount, specialization, reason_for_visit,
		transaction_ref, cancellation_reason, cancelled_by, refund_eligible,
		created_at, updated_at, confirmed_at, started_at, completed_at, cancelled_at`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*ProviderProfile, error) {
	var p ProviderProfile

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialization,
		&p.ConsultationFee,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start int
	var clinical, payment string

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.Date,
		&start,
		&a.DurationMinutes,
		&clinical,
		&payment,
		&a.FeeAmount,
		&a.Specialization,
		&a.ReasonForVisit,
		&a.TransactionRef,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.RefundEligible,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = ClockTime(start)
	a.ClinicalStatus = ClinicalStatus(clinical)
	a.PaymentStatus = PaymentStatus(payment)
	a.Date = DateOf(a.Date)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderProfile(ctx context.Context, id uuid.UUID) (*ProviderProfile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, consultation_fee, created_at, updated_at
		FROM clinicians
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	var raw []byte
	pa := ProviderAvailability{ProviderID: providerID}

	err := r.pool.QueryRow(ctx, `
		SELECT days, slot_minutes, updated_at
		FROM provider_availability
		WHERE provider_id = $1
	`, providerID).Scan(&raw, &pa.SlotMinutes, &pa.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	var docs map[string]dayDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode availability days: %w", err)
	}
	pa.Days = docsToDays(docs)
	return &pa, nil
}

func (r *PgRepository) SaveAvailability(ctx context.Context, pa *ProviderAvailability) error {
	raw, err := json.Marshal(daysToDocs(pa.Days))
	if err != nil {
		return fmt.Errorf("encode availability days: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO provider_availability (provider_id, days, slot_minutes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id) DO UPDATE
		SET days = EXCLUDED.days,
		    slot_minutes = EXCLUDED.slot_minutes,
		    updated_at = EXCLUDED.updated_at
	`, pa.ProviderID, raw, pa.SlotMinutes, pa.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		  AND clinical_status <> 'cancelled'
		ORDER BY start_minute
	`, providerID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// CreateAppointment inserts inside a transaction holding an advisory lock on
// the provider-day and re-checks interval overlap, so overlapping rows are
// rejected even across instances that do not share a lock service. The
// partial unique index covers the exact-start case.
func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := a.ProviderID.String() + "|" + FormatDate(a.Date)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var overlapping bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1
			  AND appt_date = $2
			  AND clinical_status <> 'cancelled'
			  AND start_minute < $4
			  AND $3 < start_minute + duration_minutes
		)
	`, a.ProviderID, DateOf(a.Date), int(a.StartTime), int(a.End())).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if overlapping {
		return ErrSlotTaken
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, provider_id, patient_id, appt_date, start_minute, duration_minutes,
			clinical_status, payment_status, fee_amount, specialization, reason_for_visit,
			refund_eligible, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, $12, $12)
	`, a.ID, a.ProviderID, a.PatientID, DateOf(a.Date), int(a.StartTime), a.DurationMinutes,
		string(a.ClinicalStatus), string(a.PaymentStatus), a.FeeAmount, a.Specialization, a.ReasonForVisit,
		a.CreatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == activeSlotIndex {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appt_date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		ORDER BY appt_date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, providerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateAppointmentState(ctx context.Context, next *Appointment, fromClinical ClinicalStatus, fromPayment PaymentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET clinical_status = $2,
		    payment_status = $3,
		    transaction_ref = $4,
		    cancellation_reason = $5,
		    cancelled_by = $6,
		    refund_eligible = $7,
		    updated_at = $8,
		    confirmed_at = $9,
		    started_at = $10,
		    completed_at = $11,
		    cancelled_at = $12
		WHERE id = $1
		  AND clinical_status = $13
		  AND payment_status = $14
		RETURNING `+appointmentColumns,
		next.ID, string(next.ClinicalStatus), string(next.PaymentStatus),
		next.TransactionRef, next.CancellationReason, next.CancelledBy, next.RefundEligible,
		next.UpdatedAt, next.ConfirmedAt, next.StartedAt, next.CompletedAt, next.CancelledAt,
		string(fromClinical), string(fromPayment),
	)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if constraint, ok := uniqueViolation(err); ok && constraint == transactionRefIndex {
		return nil, ErrDuplicateTransactionRef
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// No row matched: either the id is unknown or the statuses moved on.
	if _, getErr := r.GetAppointmentByID(ctx, next.ID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleAppointment
}

func (r *PgRepository) FindUnpaidBefore(ctx context.Context, createdBefore time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinical_status = 'scheduled'
		  AND payment_status = 'pending'
		  AND created_at < $1
	`, createdBefore)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// UpsertPatient and UpsertProviderProfile are used by the seeder.
func (r *PgRepository) UpsertPatient(ctx context.Context, p Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Email, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PgRepository) UpsertProviderProfile(ctx context.Context, p ProviderProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinicians (id, name, specialization, consultation_fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialization = EXCLUDED.specialization,
		    consultation_fee = EXCLUDED.consultation_fee,
		    updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Specialization, p.ConsultationFee, p.CreatedAt, p.UpdatedAt)
	return err
}

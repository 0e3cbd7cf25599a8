package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	patientsCollection     = "patients"
	cliniciansCollection   = "clinicians"
	availabilityCollection = "provider_availability"
	appointmentsCollection = "appointments"
	eventsCollection       = "event_logs"
)

type patientDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     *string   `bson:"email,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type clinicianDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	Specialization  string    `bson:"specialization"`
	ConsultationFee int64     `bson:"consultation_fee"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

type availabilityDoc struct {
	ProviderID  string            `bson:"_id"`
	Days        map[string]dayDoc `bson:"days"`
	SlotMinutes int               `bson:"slot_minutes"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

// appointmentDoc mirrors Appointment. Active is true until the appointment is
// cancelled and backs the partial unique slot index.
type appointmentDoc struct {
	ID                 string     `bson:"_id"`
	ProviderID         string     `bson:"provider_id"`
	PatientID          string     `bson:"patient_id"`
	Date               string     `bson:"date"`
	StartMinute        int        `bson:"start_minute"`
	DurationMinutes    int        `bson:"duration_minutes"`
	ClinicalStatus     string     `bson:"clinical_status"`
	PaymentStatus      string     `bson:"payment_status"`
	Active             bool       `bson:"active"`
	FeeAmount          int64      `bson:"fee_amount"`
	Specialization     string     `bson:"specialization"`
	ReasonForVisit     string     `bson:"reason_for_visit"`
	TransactionRef     *string    `bson:"transaction_ref,omitempty"`
	CancellationReason *string    `bson:"cancellation_reason,omitempty"`
	CancelledBy        *string    `bson:"cancelled_by,omitempty"`
	RefundEligible     bool       `bson:"refund_eligible"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
	ConfirmedAt        *time.Time `bson:"confirmed_at,omitempty"`
	StartedAt          *time.Time `bson:"started_at,omitempty"`
	CompletedAt        *time.Time `bson:"completed_at,omitempty"`
	CancelledAt        *time.Time `bson:"cancelled_at,omitempty"`
}

type eventDoc struct {
	EventType     string    `bson:"event_type"`
	AppointmentID *string   `bson:"appointment_id,omitempty"`
	Payload       []byte    `bson:"payload,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toAppointmentDoc(a *Appointment) appointmentDoc {
	d := appointmentDoc{
		ID:                 a.ID.String(),
		ProviderID:         a.ProviderID.String(),
		PatientID:          a.PatientID.String(),
		Date:               FormatDate(a.Date),
		StartMinute:        int(a.StartTime),
		DurationMinutes:    a.DurationMinutes,
		ClinicalStatus:     string(a.ClinicalStatus),
		PaymentStatus:      string(a.PaymentStatus),
		Active:             a.ClinicalStatus != StatusCancelled,
		FeeAmount:          a.FeeAmount,
		Specialization:     a.Specialization,
		ReasonForVisit:     a.ReasonForVisit,
		TransactionRef:     a.TransactionRef,
		CancellationReason: a.CancellationReason,
		RefundEligible:     a.RefundEligible,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		ConfirmedAt:        a.ConfirmedAt,
		StartedAt:          a.StartedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
	}
	if a.CancelledBy != nil {
		by := a.CancelledBy.String()
		d.CancelledBy = &by
	}
	return d
}

func (d appointmentDoc) toAppointment() (*Appointment, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode appointment id: %w", err)
	}
	providerID, err := uuid.Parse(d.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("decode provider id: %w", err)
	}
	patientID, err := uuid.Parse(d.PatientID)
	if err != nil {
		return nil, fmt.Errorf("decode patient id: %w", err)
	}
	date, err := ParseDate(d.Date)
	if err != nil {
		return nil, fmt.Errorf("decode appointment date: %w", err)
	}

	a := &Appointment{
		ID:                 id,
		ProviderID:         providerID,
		PatientID:          patientID,
		Date:               date,
		StartTime:          ClockTime(d.StartMinute),
		DurationMinutes:    d.DurationMinutes,
		ClinicalStatus:     ClinicalStatus(d.ClinicalStatus),
		PaymentStatus:      PaymentStatus(d.PaymentStatus),
		FeeAmount:          d.FeeAmount,
		Specialization:     d.Specialization,
		ReasonForVisit:     d.ReasonForVisit,
		TransactionRef:     d.TransactionRef,
		CancellationReason: d.CancellationReason,
		RefundEligible:     d.RefundEligible,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		ConfirmedAt:        d.ConfirmedAt,
		StartedAt:          d.StartedAt,
		CompletedAt:        d.CompletedAt,
		CancelledAt:        d.CancelledAt,
	}
	if d.CancelledBy != nil {
		by, err := uuid.Parse(*d.CancelledBy)
		if err != nil {
			return nil, fmt.Errorf("decode cancelled_by: %w", err)
		}
		a.CancelledBy = &by
	}
	return a, nil
}

// MongoRepository stores the scheduling data in MongoDB. Exact-slot
// uniqueness is enforced by a partial unique index; interval overlap relies on
// the booking engine's provider lock.
type MongoRepository struct {
	db *mongo.Database
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

func (r *MongoRepository) appointments() *mongo.Collection {
	return r.db.Collection(appointmentsCollection)
}

// EnsureIndexes creates the indexes the repository depends on. It is safe to
// call on every start.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.appointments().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "date", Value: 1}, {Key: "start_minute", Value: 1}},
			Options: options.Index().
				SetName("active_slot_uniq").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys: bson.D{{Key: "transaction_ref", Value: 1}},
			Options: options.Index().
				SetName("transaction_ref_uniq").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"transaction_ref": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "date", Value: -1}, {Key: "start_minute", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "clinical_status", Value: 1}, {Key: "payment_status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var d patientDoc
	err := r.db.Collection(patientsCollection).FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &Patient{ID: id, Name: d.Name, Email: d.Email, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}, nil
}

func (r *MongoRepository) GetProviderProfile(ctx context.Context, id uuid.UUID) (*ProviderProfile, error) {
	var d clinicianDoc
	err := r.db.Collection(cliniciansCollection).FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &ProviderProfile{
		ID:              id,
		Name:            d.Name,
		Specialization:  d.Specialization,
		ConsultationFee: d.ConsultationFee,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

// UpsertPatient and UpsertProviderProfile are used by the seeder.
func (r *MongoRepository) UpsertPatient(ctx context.Context, p Patient) error {
	_, err := r.db.Collection(patientsCollection).ReplaceOne(ctx,
		bson.M{"_id": p.ID.String()},
		patientDoc{ID: p.ID.String(), Name: p.Name, Email: p.Email, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) UpsertProviderProfile(ctx context.Context, p ProviderProfile) error {
	_, err := r.db.Collection(cliniciansCollection).ReplaceOne(ctx,
		bson.M{"_id": p.ID.String()},
		clinicianDoc{
			ID:              p.ID.String(),
			Name:            p.Name,
			Specialization:  p.Specialization,
			ConsultationFee: p.ConsultationFee,
			CreatedAt:       p.CreatedAt,
			UpdatedAt:       p.UpdatedAt,
		},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) GetAvailability(ctx context.Context, providerID uuid.UUID) (*ProviderAvailability, error) {
	var d availabilityDoc
	err := r.db.Collection(availabilityCollection).FindOne(ctx, bson.M{"_id": providerID.String()}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	return &ProviderAvailability{
		ProviderID:  providerID,
		Days:        docsToDays(d.Days),
		SlotMinutes: d.SlotMinutes,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (r *MongoRepository) SaveAvailability(ctx context.Context, pa *ProviderAvailability) error {
	d := availabilityDoc{
		ProviderID:  pa.ProviderID.String(),
		Days:        daysToDocs(pa.Days),
		SlotMinutes: pa.SlotMinutes,
		UpdatedAt:   pa.UpdatedAt,
	}
	_, err := r.db.Collection(availabilityCollection).ReplaceOne(ctx,
		bson.M{"_id": d.ProviderID}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

func (r *MongoRepository) findAppointments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Appointment, error) {
	cur, err := r.appointments().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []*Appointment
	for cur.Next(ctx) {
		var d appointmentDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		a, err := d.toAppointment()
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *MongoRepository) ListActiveAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Appointment, error) {
	return r.findAppointments(ctx,
		bson.M{"provider_id": providerID.String(), "date": FormatDate(date), "active": true},
		options.Find().SetSort(bson.D{{Key: "start_minute", Value: 1}}),
	)
}

func (r *MongoRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	overlap, err := r.appointments().CountDocuments(ctx, bson.M{
		"provider_id":  a.ProviderID.String(),
		"date":         FormatDate(a.Date),
		"active":       true,
		"start_minute": bson.M{"$lt": int(a.End())},
		"$expr": bson.M{"$gt": bson.A{
			bson.M{"$add": bson.A{"$start_minute", "$duration_minutes"}},
			int(a.StartTime),
		}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if overlap > 0 {
		return ErrSlotTaken
	}

	if _, err := r.appointments().InsertOne(ctx, toAppointmentDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var d appointmentDoc
	err := r.appointments().FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return d.toAppointment()
}

func pageOptions(limit, offset int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "start_minute", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
}

func (r *MongoRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	return r.findAppointments(ctx, bson.M{"patient_id": patientID.String()}, pageOptions(limit, offset))
}

func (r *MongoRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Appointment, error) {
	return r.findAppointments(ctx, bson.M{"provider_id": providerID.String()}, pageOptions(limit, offset))
}

func (r *MongoRepository) UpdateAppointmentState(ctx context.Context, next *Appointment, fromClinical ClinicalStatus, fromPayment PaymentStatus) (*Appointment, error) {
	d := toAppointmentDoc(next)
	set := bson.M{
		"clinical_status": d.ClinicalStatus,
		"payment_status":  d.PaymentStatus,
		"active":          d.Active,
		"refund_eligible": d.RefundEligible,
		"updated_at":      d.UpdatedAt,
	}
	optional := map[string]any{
		"transaction_ref":     d.TransactionRef,
		"cancellation_reason": d.CancellationReason,
		"cancelled_by":        d.CancelledBy,
		"confirmed_at":        d.ConfirmedAt,
		"started_at":          d.StartedAt,
		"completed_at":        d.CompletedAt,
		"cancelled_at":        d.CancelledAt,
	}
	for k, v := range optional {
		switch p := v.(type) {
		case *string:
			if p != nil {
				set[k] = *p
			}
		case *time.Time:
			if p != nil {
				set[k] = *p
			}
		}
	}

	var out appointmentDoc
	err := r.appointments().FindOneAndUpdate(ctx,
		bson.M{"_id": d.ID, "clinical_status": string(fromClinical), "payment_status": string(fromPayment)},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err == nil {
		return out.toAppointment()
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrDuplicateTransactionRef
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	if _, getErr := r.GetAppointmentByID(ctx, next.ID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleAppointment
}

func (r *MongoRepository) FindUnpaidBefore(ctx context.Context, createdBefore time.Time) ([]*Appointment, error) {
	return r.findAppointments(ctx, bson.M{
		"clinical_status": string(StatusScheduled),
		"payment_status":  string(PaymentPending),
		"created_at":      bson.M{"$lt": createdBefore},
	}, nil)
}

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	d := eventDoc{EventType: ev.EventType, Payload: ev.Payload, CreatedAt: ev.CreatedAt}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if ev.AppointmentID != nil {
		id := ev.AppointmentID.String()
		d.AppointmentID = &id
	}
	if _, err := r.db.Collection(eventsCollection).InsertOne(ctx, d); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

// Manifest lists the seeded ids so the simulator can target them.
type Manifest struct {
	Providers []uuid.UUID `json:"providers"`
	Patients  []uuid.UUID `json:"patients"`
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app, err := bootstrap.Open(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("backend init error", zap.Error(err))
	}
	defer app.Close()

	_ = gofakeit.Seed(time.Now().UnixNano())

	providerCount := getIntEnv("SEED_PROVIDERS", 50)
	patientCount := getIntEnv("SEED_PATIENTS", 2000)

	var manifest Manifest
	if manifest.Providers, err = seedProviders(ctx, app.Store, cfg.Scheduling.SlotMinutes, providerCount, zl); err != nil {
		zl.Fatal("seed providers", zap.Error(err))
	}
	if manifest.Patients, err = seedPatients(ctx, app.Store, patientCount, zl); err != nil {
		zl.Fatal("seed patients", zap.Error(err))
	}

	out := getEnv("SEED_MANIFEST", "seed-manifest.json")
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zl.Fatal("marshal manifest", zap.Error(err))
	}
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		zl.Fatal("write manifest", zap.Error(err))
	}

	zl.Info("seed complete", zap.String("manifest", out))
}

// seedProviders creates clinicians with a fee, a specialization and a
// weekday availability window.
func seedProviders(ctx context.Context, store bootstrap.Store, slotMinutes, count int, zl *zap.Logger) ([]uuid.UUID, error) {
	zl.Info("seeding providers", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		p := appointment.ProviderProfile{
			ID:              uuid.New(),
			Name:            "Dr. " + gofakeit.LastName(),
			Specialization:  specialties[gofakeit.Number(0, len(specialties)-1)],
			ConsultationFee: int64(gofakeit.Number(20, 150)) * 100,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := store.UpsertProviderProfile(ctx, p); err != nil {
			return nil, err
		}

		pa := appointment.NewProviderAvailability(p.ID, slotMinutes)
		startHour := gofakeit.Number(7, 10)
		for wd := time.Monday; wd <= time.Friday; wd++ {
			pa.Days[wd] = appointment.DayAvailability{
				Enabled:   true,
				StartTime: appointment.NewClockTime(startHour, 0),
				EndTime:   appointment.NewClockTime(startHour+8, 0),
			}
		}
		if gofakeit.Bool() {
			pa.Days[time.Saturday] = appointment.DayAvailability{
				Enabled:   true,
				StartTime: appointment.NewClockTime(9, 0),
				EndTime:   appointment.NewClockTime(13, 0),
			}
		}
		if err := pa.Validate(); err != nil {
			return nil, err
		}
		pa.UpdatedAt = now
		if err := store.SaveAvailability(ctx, pa); err != nil {
			return nil, err
		}

		ids = append(ids, p.ID)
	}

	zl.Info("providers seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, store bootstrap.Store, count int, zl *zap.Logger) ([]uuid.UUID, error) {
	zl.Info("seeding patients", zap.Int("count", count))

	const progressEvery = 500

	ids := make([]uuid.UUID, 0, count)
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		email := gofakeit.Email()
		p := appointment.Patient{
			ID:        uuid.New(),
			Name:      gofakeit.Name(),
			Email:     &email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.UpsertPatient(ctx, p); err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)

		if (i+1)%progressEvery == 0 {
			zl.Info("patients seeded", zap.Int("done", i+1), zap.Int("total", count))
		}
	}

	return ids, nil
}

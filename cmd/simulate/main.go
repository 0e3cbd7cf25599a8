package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/api"
	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Providers     int
	DaysAhead     int
	BookingRatio  float64
	PaymentRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	ManifestPath  string
	JWTSigningKey []byte
}

type manifest struct {
	Providers []uuid.UUID `json:"providers"`
	Patients  []uuid.UUID `json:"patients"`
}

type booked struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

// DataPool holds the ids workers draw from and the appointments they created.
type DataPool struct {
	Providers []uuid.UUID
	Patients  []uuid.UUID
	Date      time.Time

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Simulator struct {
	config      SimConfig
	pool        *DataPool
	client      *http.Client
	metrics     Metrics
	staffToken  string
	systemToken string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	pool, err := loadDataPool(cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("config: duration=%s workers=%d providers=%d date=%s",
		cfg.Duration, cfg.Workers, len(pool.Providers), appointment.FormatDate(pool.Date))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if sim.staffToken, err = api.IssueToken(cfg.JWTSigningKey, appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff}, time.Hour); err != nil {
		log.Fatalf("issue staff token: %v", err)
	}
	if sim.systemToken, err = api.IssueToken(cfg.JWTSigningKey, appointment.Actor{ID: uuid.New(), Role: appointment.RoleSystem}, time.Hour); err != nil {
		log.Fatalf("issue system token: %v", err)
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := sim.Verify(context.Background())
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if overlaps > 0 {
		log.Printf("FAIL: %d overlapping active appointments", overlaps)
		os.Exit(1)
	}
	log.Println("OK: no overlapping active appointments")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 20),
		Providers:     getInt("SIM_PROVIDERS", 1),
		DaysAhead:     getInt("SIM_DAYS_AHEAD", 3),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		PaymentRatio:  getFloat("SIM_PAYMENT_RATIO", 0.2),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.2),
		ManifestPath:  getEnv("SEED_MANIFEST", "seed-manifest.json"),
		JWTSigningKey: []byte(baseCfg.JWTSigningKey),
	}

	total := cfg.BookingRatio + cfg.PaymentRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.PaymentRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Providers <= 0 {
		return fmt.Errorf("SIM_PROVIDERS must be > 0")
	}
	return nil
}

// loadDataPool reads the seed manifest and picks the first weekday at least
// DaysAhead days out, so cancellations stay ahead of the cutoff.
func loadDataPool(cfg SimConfig) (*DataPool, error) {
	raw, err := os.ReadFile(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Providers) == 0 || len(m.Patients) == 0 {
		return nil, fmt.Errorf("manifest has no providers or patients, run cmd/seed first")
	}

	date := appointment.DateOf(time.Now()).AddDate(0, 0, cfg.DaysAhead)
	for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		date = date.AddDate(0, 0, 1)
	}

	providers := m.Providers
	if len(providers) > cfg.Providers {
		providers = providers[:cfg.Providers]
	}
	return &DataPool{Providers: providers, Patients: m.Patients, Date: date}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.PaymentRatio:
			s.doPayment(ctx, rng)
		case r < s.config.BookingRatio+s.config.PaymentRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doListSlots(ctx, rng)
			} else {
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, err
}

func (s *Simulator) randomProvider(rng *rand.Rand) uuid.UUID {
	return s.pool.Providers[rng.Intn(len(s.pool.Providers))]
}

func (s *Simulator) listSlots(ctx context.Context, providerID uuid.UUID) ([]api.SlotResponse, error) {
	status, body, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/slots?date=%s", providerID, appointment.FormatDate(s.pool.Date)), "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list slots: status %d", status)
	}
	var out api.SlotListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	providerID := s.randomProvider(rng)
	slots, err := s.listSlots(ctx, providerID)
	if err != nil || len(slots) == 0 {
		return
	}

	slot := slots[rng.Intn(len(slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, body, err := s.do(ctx, http.MethodPost, "/appointments", s.staffToken, api.CreateAppointmentRequest{
		ProviderID:      providerID.String(),
		PatientID:       patientID.String(),
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		DurationMinutes: slot.DurationMinutes,
		ReasonForVisit:  gofakeit.Sentence(6),
	})
	latency := time.Since(start)

	if err == nil && status == http.StatusCreated {
		var appt api.AppointmentResponse
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: appt.ID, PatientID: appt.PatientID})
		}
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doPayment(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	var status int
	var err error
	if rng.Intn(4) == 0 {
		status, _, err = s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/payment/at-facility", s.systemToken, nil)
	} else {
		status, _, err = s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/payment/confirm", s.systemToken,
			api.ConfirmPaymentRequest{TransactionRef: "txn_" + gofakeit.UUID()})
	}
	s.metrics.Payment.Record(time.Since(start), status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	token, err := api.IssueToken(s.config.JWTSigningKey, appointment.Actor{ID: b.PatientID, Role: appointment.RolePatient}, time.Minute)
	if err != nil {
		return
	}

	start := time.Now()
	status, _, err := s.do(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", token,
		api.CancelRequest{Reason: "simulated cancellation"})
	s.metrics.Cancel.Record(time.Since(start), status, err)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	status, _, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/slots?date=%s", s.randomProvider(rng), appointment.FormatDate(s.pool.Date)), "", nil)
	s.metrics.ListSlots.Record(time.Since(start), status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.do(ctx, http.MethodGet, "/appointments/"+b.ID.String(), "", nil)
	s.metrics.ReadByID.Record(time.Since(start), status, err)
}

// Verify pages through each provider's appointments and counts pairs of
// active appointments on the simulated date whose intervals overlap.
func (s *Simulator) Verify(ctx context.Context) (int, error) {
	const pageSize = 100
	day := appointment.FormatDate(s.pool.Date)
	overlaps := 0

	for _, providerID := range s.pool.Providers {
		var active []api.AppointmentResponse
		for offset := 0; ; offset += pageSize {
			status, body, err := s.do(ctx, http.MethodGet,
				fmt.Sprintf("/appointments?provider_id=%s&limit=%d&offset=%d", providerID, pageSize, offset), "", nil)
			if err != nil {
				return 0, err
			}
			if status != http.StatusOK {
				return 0, fmt.Errorf("list appointments: status %d", status)
			}
			var page api.AppointmentListResponse
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, err
			}
			for _, a := range page.Items {
				if a.Date == day && a.ClinicalStatus != string(appointment.StatusCancelled) {
					active = append(active, a)
				}
			}
			if len(page.Items) < pageSize {
				break
			}
		}

		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				if intervalsOverlap(active[i], active[j]) {
					overlaps++
					log.Printf("overlap: %s %s-%s and %s %s-%s",
						active[i].ID, active[i].StartTime, active[i].EndTime,
						active[j].ID, active[j].StartTime, active[j].EndTime)
				}
			}
		}
		log.Printf("provider %s: %d active appointments on %s", providerID, len(active), day)
	}

	return overlaps, nil
}

func intervalsOverlap(a, b api.AppointmentResponse) bool {
	aStart, err1 := appointment.ParseClock(a.StartTime)
	bStart, err2 := appointment.ParseClock(b.StartTime)
	if err1 != nil || err2 != nil {
		return false
	}
	return appointment.Overlaps(aStart, a.DurationMinutes, bStart, b.DurationMinutes)
}

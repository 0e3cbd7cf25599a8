package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

var signingKey = []byte("test-signing-key")

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository

	provider appointment.Actor
	patient  appointment.Actor
	staff    appointment.Actor
	system   appointment.Actor

	date time.Time
}

func newTestServer(t *testing.T, rateLimit int, deps ...Dependency) *testServer {
	t.Helper()

	ctx := context.Background()
	repo := appointment.NewMemoryRepository()
	ts := &testServer{
		repo:     repo,
		provider: appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor},
		patient:  appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient},
		staff:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff},
		system:   appointment.Actor{ID: uuid.New(), Role: appointment.RoleSystem},
		date:     appointment.DateOf(time.Now().UTC()).AddDate(0, 0, 7),
	}

	require.NoError(t, repo.UpsertProviderProfile(ctx, appointment.ProviderProfile{
		ID: ts.provider.ID, Name: "Dr. Mensah", Specialization: "Dermatology", ConsultationFee: 7500,
	}))
	require.NoError(t, repo.UpsertPatient(ctx, appointment.Patient{ID: ts.patient.ID, Name: "Chidi"}))

	pa := appointment.NewProviderAvailability(ts.provider.ID, 30)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		pa.Days[wd] = appointment.DayAvailability{
			Enabled:   true,
			StartTime: appointment.NewClockTime(9, 0),
			EndTime:   appointment.NewClockTime(11, 0),
		}
	}
	require.NoError(t, repo.SaveAvailability(ctx, pa))

	cfg := config.DefaultScheduling()
	svc := appointment.NewService(repo, redisclient.NewLocalProviderLocker(cfg.LockWait), nil, cfg, zap.NewNop())

	ts.handler = NewRouter(RouterConfig{
		Service:         svc,
		Logger:          zap.NewNop(),
		Dependencies:    deps,
		JWTSigningKey:   signingKey,
		RateLimitPerSec: rateLimit,
		Env:             "test",
		Version:         "v0.0.0-test",
	})
	return ts
}

func (ts *testServer) token(t *testing.T, actor appointment.Actor) string {
	t.Helper()
	tok, err := IssueToken(signingKey, actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path string, actor *appointment.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *actor))
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bookBody(start string) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		ProviderID:     ts.provider.ID.String(),
		PatientID:      ts.patient.ID.String(),
		Date:           appointment.FormatDate(ts.date),
		StartTime:      start,
		ReasonForVisit: "Persistent rash on forearm",
	}
}

func (ts *testServer) book(t *testing.T, start string) AppointmentResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/appointments", &ts.patient, ts.bookBody(start))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBookAppointmentEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)

	appt := ts.book(t, "09:30")
	assert.Equal(t, ts.provider.ID, appt.ProviderID)
	assert.Equal(t, "09:30", appt.StartTime)
	assert.Equal(t, "10:00", appt.EndTime)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, "scheduled", appt.ClinicalStatus)
	assert.Equal(t, "pending", appt.PaymentStatus)
	assert.Equal(t, int64(7500), appt.FeeAmount)

	t.Run("double booking is a conflict", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/appointments", &ts.staff, ts.bookBody("09:30"))
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "conflict", body.Error)
		assert.Equal(t, appointment.RuleSlotUnavailable, body.Rule)
	})

	t.Run("validation failure", func(t *testing.T) {
		req := ts.bookBody("10:00")
		req.ReasonForVisit = "rash"
		rec := ts.do(t, http.MethodPost, "/appointments", &ts.patient, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, appointment.RuleReasonLength, decodeError(t, rec).Rule)
	})

	t.Run("malformed start time", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/appointments", &ts.patient, ts.bookBody("9.30am"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, appointment.RuleInvalidInput, decodeError(t, rec).Rule)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/appointments", &ts.patient, map[string]any{"provider": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("booking for someone else", func(t *testing.T) {
		other := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
		rec := ts.do(t, http.MethodPost, "/appointments", &other, ts.bookBody("10:00"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, appointment.RuleNotPatient, decodeError(t, rec).Rule)
	})

	t.Run("get by id", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, appt.ID, got.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, 0)

	t.Run("write without token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/appointments", nil, ts.bookBody("09:00"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthenticated", decodeError(t, rec).Error)
	})

	t.Run("token signed with another key", func(t *testing.T) {
		tok, err := IssueToken([]byte("other-key"), ts.patient, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/providers/"+ts.provider.ID.String()+"/availability", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		tok, err := IssueToken(signingKey, ts.patient, -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/providers/"+ts.provider.ID.String()+"/availability", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reads do not need identity", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/providers/"+ts.provider.ID.String()+"/availability", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPaymentEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	appt := ts.book(t, "09:00")
	path := "/appointments/" + appt.ID.String()

	t.Run("patients cannot report payments", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/payment/confirm", &ts.patient, ConfirmPaymentRequest{TransactionRef: "txn-1"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "role_not_permitted", decodeError(t, rec).Rule)
	})

	t.Run("missing transaction ref", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/payment/confirm", &ts.system, ConfirmPaymentRequest{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, appointment.RuleMissingTxRef, decodeError(t, rec).Rule)
	})

	t.Run("confirm", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/payment/confirm", &ts.system, ConfirmPaymentRequest{TransactionRef: "txn-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "paid", got.PaymentStatus)
		assert.Equal(t, "confirmed", got.ClinicalStatus)
		require.NotNil(t, got.TransactionRef)
		assert.Equal(t, "txn-1", *got.TransactionRef)
	})

	t.Run("second confirmation", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/payment/confirm", &ts.system, ConfirmPaymentRequest{TransactionRef: "txn-1"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "invalid_state", body.Error)
		assert.Equal(t, appointment.RuleAlreadySettled, body.Rule)
	})

	t.Run("pay at facility by staff", func(t *testing.T) {
		other := ts.book(t, "10:00")
		rec := ts.do(t, http.MethodPost, "/appointments/"+other.ID.String()+"/payment/at-facility", &ts.staff, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "pay-at-facility", got.PaymentStatus)
	})
}

func TestTransitionAndCancelEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	appt := ts.book(t, "09:00")
	path := "/appointments/" + appt.ID.String()

	t.Run("confirmation requires payment", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/transition", &ts.provider, TransitionRequest{Status: "Confirmed"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, appointment.RulePaymentRequired, decodeError(t, rec).Rule)
	})

	t.Run("unknown status", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/transition", &ts.provider, TransitionRequest{Status: "no-show"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("cancel without body", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/cancel", &ts.patient, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "cancelled", got.ClinicalStatus)
		assert.False(t, got.RefundEligible)
	})

	t.Run("cancel twice", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, path+"/cancel", &ts.patient, CancelRequest{Reason: "again"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, appointment.RuleTerminalState, decodeError(t, rec).Rule)
	})
}

func TestSlotsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.book(t, "09:30")

	rec := ts.do(t, http.MethodGet, "/providers/"+ts.provider.ID.String()+"/slots?date="+appointment.FormatDate(ts.date), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got SlotListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	starts := make([]string, 0, len(got.Slots))
	for _, s := range got.Slots {
		starts = append(starts, s.StartTime)
	}
	assert.Equal(t, []string{"09:00", "10:00", "10:30"}, starts)

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.provider.ID.String()+"/slots?date=tomorrow", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/providers/"+uuid.NewString()+"/slots?date="+appointment.FormatDate(ts.date), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	path := "/providers/" + ts.provider.ID.String() + "/availability"

	body := AvailabilityBody{
		SlotMinutes: 20,
		Days: map[string]DayAvailabilityBody{
			"monday": {Enabled: true, StartTime: "08:00", EndTime: "12:00"},
			"fri":    {Enabled: true, StartTime: "13:00", EndTime: "15:00"},
		},
	}

	t.Run("only doctors", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, path, &ts.staff, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("only the owner", func(t *testing.T) {
		other := appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor}
		rec := ts.do(t, http.MethodPut, path, &other, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, appointment.RuleNotOwner, decodeError(t, rec).Rule)
	})

	t.Run("unknown weekday", func(t *testing.T) {
		bad := AvailabilityBody{Days: map[string]DayAvailabilityBody{"funday": {Enabled: true}}}
		rec := ts.do(t, http.MethodPut, path, &ts.provider, bad)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("inverted window", func(t *testing.T) {
		bad := AvailabilityBody{Days: map[string]DayAvailabilityBody{
			"monday": {Enabled: true, StartTime: "12:00", EndTime: "08:00"},
		}}
		rec := ts.do(t, http.MethodPut, path, &ts.provider, bad)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, appointment.RuleInvalidAvailability, decodeError(t, rec).Rule)
	})

	t.Run("replace", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, path, &ts.provider, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = ts.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got AvailabilityBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 20, got.SlotMinutes)
		assert.Len(t, got.Days, 7)
		assert.Equal(t, DayAvailabilityBody{Enabled: true, StartTime: "13:00", EndTime: "15:00"}, got.Days["friday"])
		assert.False(t, got.Days["tuesday"].Enabled)
	})
}

func TestListAppointmentsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.book(t, "09:00")
	ts.book(t, "10:00")

	rec := ts.do(t, http.MethodGet, "/appointments?patient_id="+ts.patient.ID.String()+"&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page AppointmentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "10:00", page.Items[0].StartTime)
	assert.Equal(t, 1, page.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments?provider_id="+ts.provider.ID.String()+"&limit=500", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 100, page.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments?patient_id="+ts.patient.ID.String()+"&limit=ten", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitOnWrites(t *testing.T) {
	ts := newTestServer(t, 1)

	ts.book(t, "09:00")
	rec := ts.do(t, http.MethodPost, "/appointments", &ts.patient, ts.bookBody("10:00"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.provider.ID.String()+"/availability", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	down := errors.New("down")

	t.Run("live", func(t *testing.T) {
		ts := newTestServer(t, 0)
		rec := ts.do(t, http.MethodGet, "/health/live", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body LivenessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "v0.0.0-test", body.Version)
	})

	cases := []struct {
		name   string
		deps   []Dependency
		status int
		want   string
	}{
		{"all up", []Dependency{
			{Name: "postgres", Critical: true, Pinger: PingFunc(func(context.Context) error { return nil })},
		}, http.StatusOK, "ok"},
		{"optional down", []Dependency{
			{Name: "postgres", Critical: true, Pinger: PingFunc(func(context.Context) error { return nil })},
			{Name: "amqp", Pinger: PingFunc(func(context.Context) error { return down })},
		}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{
			{Name: "postgres", Critical: true, Pinger: PingFunc(func(context.Context) error { return down })},
			{Name: "amqp", Pinger: PingFunc(func(context.Context) error { return down })},
		}, http.StatusServiceUnavailable, "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, 0, tc.deps...)
			rec := ts.do(t, http.MethodGet, "/health/ready", nil, nil)
			assert.Equal(t, tc.status, rec.Code)

			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body.Status)
			assert.Len(t, body.Dependencies, len(tc.deps))
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service         *appointment.Service
	Logger          *zap.Logger
	Dependencies    []Dependency
	JWTSigningKey   []byte
	RateLimitPerSec int
	Env             string
	Version         string
}

// Roles allowed to report payment outcomes: the payment collaborator calls
// with a system token, front-desk staff record pay-at-facility.
var paymentRoles = []appointment.Role{
	appointment.RoleSystem,
	appointment.RoleStaff,
	appointment.RoleManager,
	appointment.RoleAdmin,
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{svc: cfg.Service, log: log.Named("api")}

	writeLimit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitPerSec > 0 {
		writeLimit = httprate.LimitByIP(cfg.RateLimitPerSec, time.Second)
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(h.log))
	r.Use(RecoverMiddleware(h.log))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.JWTSigningKey))

		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/availability", h.getAvailability)
			r.With(requireActor(appointment.RoleDoctor)).Put("/availability", h.setAvailability)
			r.Get("/slots", h.listSlots)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.With(writeLimit, requireActor()).Post("/", h.bookAppointment)
			r.Get("/", h.listAppointments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAppointment)

				r.Group(func(r chi.Router) {
					r.Use(writeLimit)
					r.With(requireActor(paymentRoles...)).Post("/payment/confirm", h.confirmPayment)
					r.With(requireActor(paymentRoles...)).Post("/payment/at-facility", h.acceptPayAtFacility)
					r.With(requireActor()).Post("/transition", h.transition)
					r.With(requireActor()).Post("/cancel", h.cancel)
				})
			})
		})
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/metrics"
)

type RouterConfig struct {
	Service  *appointment.Service
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   []DependencyCheck
	Env      string
	Version  string

	// BookingRate limits POST /bookings across all clients. Zero disables it.
	BookingRate  rate.Limit
	BookingBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	svc := cfg.Service

	r.Get("/providers", listProvidersHandler(svc))
	r.Route("/providers/{providerID}", func(r chi.Router) {
		r.Get("/schedule", getScheduleHandler(svc))
		r.Put("/schedule", replaceScheduleHandler(svc))
		r.Get("/slots", slotsHandler(svc))
		r.Get("/agenda", agendaHandler(svc))
		r.Get("/calendar", calendarHandler(svc))

		r.Get("/leaves", listLeavesHandler(svc))
		r.Put("/leaves/{date}", addLeaveHandler(svc))
		r.Delete("/leaves/{date}", removeLeaveHandler(svc))
		r.Post("/leaves/{date}/toggle", toggleLeaveHandler(svc))

		r.Get("/blocks", listBlocksHandler(svc))
		r.Post("/blocks", blockSlotHandler(svc))
		r.Delete("/blocks/{date}/{time}", unblockSlotHandler(svc))

		r.Get("/bookings", providerBookingsHandler(svc))
	})

	var limiter *rate.Limiter
	if cfg.BookingRate > 0 {
		limiter = rate.NewLimiter(cfg.BookingRate, cfg.BookingBurst)
	}

	r.Route("/bookings", func(r chi.Router) {
		r.With(RateLimitMiddleware(limiter)).Post("/", createBookingHandler(svc))
		r.Get("/{id}", getBookingHandler(svc))
		r.Post("/{id}/approve", transitionHandler(svc, approveBooking))
		r.Post("/{id}/cancel", transitionHandler(svc, cancelBooking))
		r.Post("/{id}/complete", transitionHandler(svc, completeBooking))
	})

	r.Get("/patients/{patientID}/bookings", patientBookingsHandler(svc))

	return r
}

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/exam-scheduling/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/exam-scheduling/internal/http/middleware"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	BookingHandler      *handlers.BookingHandler
	AvailabilityHandler *handlers.AvailabilityHandler
	AcuityWebhook       *handlers.AcuityWebhookHandler
	Health              http.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// AuthJWTSecret signs caller tokens for /api routes.
	AuthJWTSecret string
	// RateLimiter is applied per client IP to /api routes (optional).
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		} else {
			public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
				httpmiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			})
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.AcuityWebhook != nil {
			public.Post("/webhooks/acuity", cfg.AcuityWebhook.Handle)
		}
	})

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		api.Use(httpmiddleware.CallerJWT(cfg.AuthJWTSecret, cfg.Logger))

		if h := cfg.BookingHandler; h != nil {
			api.Route("/bookings", func(b chi.Router) {
				b.Post("/", h.Create)
				b.Get("/", h.List)
				b.Route("/{bookingID}", func(one chi.Router) {
					one.Get("/", h.Get)
					one.Get("/progress", h.History)
					one.Post("/progress", h.UpdateProgress)
				})
			})
		}
		if h := cfg.AvailabilityHandler; h != nil {
			api.Get("/appointment-types", h.AppointmentTypes)
			api.Route("/specialists/{specialistID}/availability", func(a chi.Router) {
				a.Get("/dates", h.Dates)
				a.Get("/times", h.Times)
			})
		}
	})

	return r
}

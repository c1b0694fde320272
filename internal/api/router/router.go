package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/blood-donor-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/blood-donor-assistant/internal/http/middleware"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Donor              *handlers.DonorHandler
	Live               http.HandlerFunc
	MetricsHandler     http.Handler
	APIToken           string
	RateLimiter        *httpmiddleware.RateLimiter
	CORSAllowedOrigins []string
	// Done stops background middleware work such as rate limiter cleanup.
	Done <-chan struct{}
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Donor.HealthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.BearerToken(cfg.APIToken))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter, cfg.Done))
		}

		api.Get("/state", cfg.Donor.GetState)
		api.Get("/calendar", cfg.Donor.GetCalendar)
		if cfg.Live != nil {
			api.Get("/live", cfg.Live)
		}
		api.Post("/refresh", cfg.Donor.Refresh)
		api.Post("/appointments/available", cfg.Donor.AvailableAppointments)
		api.Post("/appointments/book", cfg.Donor.BookAppointment)
		api.Post("/sessions/{sessionID}/slots", cfg.Donor.SessionSlots)
		api.Post("/booking-helper", cfg.Donor.BookingHelper)
		api.Post("/venues/search", cfg.Donor.VenueSearch)
	})

	return r
}

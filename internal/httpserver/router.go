package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"wayfarer-planner/internal/config"
	"wayfarer-planner/internal/handlers"
	"wayfarer-planner/internal/metrics"
	"wayfarer-planner/internal/middleware"
)

// Options carries what the router needs besides the handlers.
type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	JWTSecret      string
	CORS           config.CORSConfig
	Readiness      map[string]handlers.Pinger
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, itineraries *handlers.ItineraryHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 110 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 512 * 1024
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware(opts.CORS))

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Use(middleware.Authenticate(opts.JWTSecret))

		r.Route("/itineraries", func(r chi.Router) {
			r.Get("/", itineraries.List)
			r.Post("/generate", itineraries.Generate)
			r.Post("/reschedule", itineraries.Reschedule)
			r.Get("/{cache_key}", itineraries.Get)
			r.Get("/{cache_key}/reschedule-options", itineraries.RescheduleOptions)
			r.Get("/{cache_key}/pdf", itineraries.PDF)
		})
	})

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz(opts.Readiness))

	r.Handle("/metrics", metrics.Handler())
}

func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.UserIDHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           300,
	}).Handler
}

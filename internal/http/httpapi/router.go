package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"matrice/internal/http/handlers"
	"matrice/internal/middleware"
)

// Options configures the router middleware stack.
type Options struct {
	Logger          zerolog.Logger
	RateLimitPerMin int
	CORSOrigins     []string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID(opts.Logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	if app.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(app.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Post("/", app.SubmitJobs)
			r.Delete("/", app.ClearFinished)
			r.Get("/active", app.ActiveJob)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", app.GetJob)
				r.Delete("/", app.DeleteJob)
				r.Post("/select", app.SelectJob)
				r.Post("/retry", app.RetryJob)
			})
		})

		r.Get("/v1/stream", app.StreamState)
		r.Get("/v1/history", app.ListHistory)

		r.Route("/v1/presets", func(r chi.Router) {
			r.Get("/", app.ListPresets)
			r.Get("/{name}", app.GetPreset)
			r.Put("/{name}", app.PutPreset)
			r.Delete("/{name}", app.DeletePreset)
		})
	})

	return r
}

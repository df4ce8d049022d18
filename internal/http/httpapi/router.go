package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/middleware"
)

// NewRouter wires the full API surface. lookup may be nil when no GeoIP
// database is configured.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Locale("en", lookup),
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	// Provider push channel. Authenticated by the shared callback secret, not
	// by user tokens.
	r.Post("/v1/callbacks/{provider}", app.ProviderCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))

		r.Post("/v1/generations", app.Generate)

		r.Route("/v1/tasks", func(r chi.Router) {
			r.Get("/", app.ListTasks)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", app.TaskStatus)
				r.Get("/media", app.TaskMedia)
				r.Get("/download", app.DownloadTaskMedia)
				r.Get("/resume", app.ResumeTask)
				r.Post("/retry", app.RetryTask)
			})
		})

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/", app.CreditBalance)
			r.Get("/history", app.CreditHistory)
			r.Post("/purchase", app.PurchaseCredits)
		})

		r.Get("/v1/stats", app.DailyStats)
	})

	return r
}

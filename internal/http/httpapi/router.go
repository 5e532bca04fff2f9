package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the router-level wiring that does not belong on App.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	AllowedOrigins  []string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))

	// Health plus the two inbound webhook surfaces; both webhook receivers
	// authenticate their payloads themselves (provider task identity, payment
	// signature), not via user sessions.
	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/callbacks/kie", app.KieCallback)
	r.Post("/v1/webhooks/stripe", app.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Get("/me", app.Me)
		r.Route("/v1/videos/generations", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.VideosGenerate)
			r.Get("/{task_id}", app.VideoStatus)
		})
	})

	return r
}

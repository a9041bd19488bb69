/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     logrus access log
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters, labelled by route pattern
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /healthz, /metrics    Public
  /api/*                Bearer token required
  /api/admin/*          Bearer token with is_admin
  /api/admin/scenarios  Demo seeding, only with RouterOptions.Scenarios

  Claim and withdrawal endpoints are additionally rate limited per user.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/metrics"
)

// RouterOptions carries the cross-cutting pieces of the router. Auth is
// required; Limiter and Metrics are optional.
type RouterOptions struct {
	Auth           *Authenticator
	Limiter        Limiter
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
	AllowedOrigins []string

	// Scenarios mounts the demo seeding endpoints. Development only.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = h.Log
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	limited := func(scope string) func(http.Handler) http.Handler {
		if opts.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return RateLimit(opts.Limiter, scope, opts.Logger)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		r.Get("/account", h.GetAccount)
		r.Get("/transactions", h.ListTransactions)

		// Investment routes
		r.Route("/investments", func(r chi.Router) {
			r.Get("/", h.ListInvestments)
			r.Post("/", h.CreateInvestment)
			r.Get("/{id}", h.GetInvestment)
			r.Get("/{id}/claim", h.PreviewClaim)
			r.With(limited("claim")).Post("/{id}/claim", h.Claim)
		})

		r.With(limited("withdraw")).Post("/withdrawals", h.RequestWithdrawal)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/users", h.RegisterUser)
			r.Post("/users/{id}/flags", h.SetUserFlags)

			r.Post("/investments/{id}/activate", h.ActivateInvestment)
			r.Post("/investments/{id}/complete", h.CompleteInvestment)

			r.Get("/withdrawals/pending", h.ListPendingWithdrawals)
			r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)

			r.Post("/adjustments", h.CreateAdjustment)

			r.Get("/rates", h.GetRates)
			r.Post("/rates/refresh", h.RefreshRates)

			// Scenario routes
			if opts.Scenarios {
				r.Get("/scenarios", h.ListScenarios)
				r.Post("/scenarios/load", h.LoadScenario)
			}
		})
	})

	return r
}

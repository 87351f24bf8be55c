/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging through logrus
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters and latency
  6. CORS:       Cross-origin requests for the payout dashboard

ROUTE GROUPS:
  /, /healthz, /metrics   Public
  /api/coin/*             Coin operations        (X-API-Key)
  /api/redeem/*           Redemption workflow    (X-API-Key)
  /api/export/*           CSV export             (X-API-Key)

AUTHENTICATION:
  Every /api route requires the X-API-Key header to equal the configured
  key. Anything else gets 403 {"error":"Forbidden"}.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flipfactory/coin-ledger/metrics"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-Key"

// RouterConfig holds router settings that come from configuration.
type RouterConfig struct {
	APIKey      string
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.Log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
		}))
	}

	// Public routes
	r.Get("/", h.Home)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAPIKey(cfg.APIKey))

		r.Route("/coin", func(r chi.Router) {
			r.Post("/earn", h.Earn)
			r.Post("/redeem", h.Redeem)
			r.Post("/exchange", h.Exchange)
			r.Get("/status", h.Status)
			r.Post("/reset_monthly", h.ResetMonthly)
		})

		r.Route("/redeem", func(r chi.Router) {
			r.Get("/pending", h.ListPending)
			r.Post("/mark_paid", h.MarkPaid)
			r.Post("/expire_old", h.ExpireOld)
			r.Get("/export_csv", h.ExportCSV("redemptions.csv"))
		})

		r.Get("/export/redemptions", h.ExportCSV("redemptions_export.csv"))
	})

	return r
}

// RequireAPIKey rejects requests whose X-API-Key differs from key. An
// empty key rejects everything.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(APIKeyHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

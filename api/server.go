/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address for logs and rate limiting
  3. Logger:     zap access log
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters
  6. Secure:     Security headers (unrolled/secure)
  7. CORS:       Cross-origin requests for the till front-end
  8. no-store:   API responses are never cached; every read is recomputed

  Mutating routes are additionally rate limited per client IP (httprate).

ROUTE GROUPS:
  /api/movements, /api/days/*   Cash drawer
  /api/customers/*              Customers and their ledgers
  /api/credit/*                 Credit extension and settlement
  /api/events/*                 Corrections and the change feed (SSE)
  /api/admin/*                  Balance consistency, demo scenarios
  /metrics, /healthz            Operations

SECURITY NOTE:
  No authentication middleware. All endpoints are public to whoever can
  reach the listener.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/despensa/till/ledger"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	CORSOrigins []string
	// RateLimit is the number of mutating requests allowed per client IP per
	// minute. 0 disables limiting.
	RateLimit int
	// Development relaxes the security headers for local front-end work.
	Development bool
	// Scenarios mounts the demo data loaders under /api/admin/scenarios.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		IsDevelopment:      opts.Development,
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(noStore)
		r.Use(limitWrites(opts.RateLimit))

		r.Post("/movements", h.RecordMovement)

		r.Route("/days", func(r chi.Router) {
			r.Get("/summary", h.GetDaySummary)
			r.Get("/timeline", h.GetDayTimeline)
			r.Get("/history", h.GetHistory)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Get("/{id}/ledger", h.GetCustomerLedger)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/credit", func(r chi.Router) {
			r.Post("/", h.ExtendCredit)
			r.Post("/{id}/settle", h.SettleDebtItem)
		})

		r.Route("/events", func(r chi.Router) {
			if h.Hub != nil {
				r.Get("/stream", h.Hub.ServeHTTP)
			}
			r.Delete("/{kind}/{id}", h.DeleteEvent)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/consistency", h.ListConsistencyRuns)
			r.Post("/consistency/check", h.CheckConsistency)
			if opts.Scenarios {
				r.Get("/scenarios", h.ListScenarios)
				r.Post("/scenarios/{id}", h.LoadScenario)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, ledger.NotFoundf("route", "no route for %s %s", r.Method, r.URL.Path))
	})

	return r
}

// noStore marks API responses as uncacheable.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// limitWrites rate limits non-GET requests per client IP.
func limitWrites(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "RATE_LIMITED",
				Message: "too many requests, slow down",
			})
		}),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}

// requestLogger writes one zap line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", routePattern(r)),
				zap.Int("status", status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int("bytes_out", ww.BytesWritten()),
				zap.String("remote_ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				log.Error("request", fields...)
			case status >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

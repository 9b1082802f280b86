/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logging:    One zap line per request with status and duration
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/clients/*, /api/students/*, /api/trainers/*   Directory and accounts
  /api/training-types, /api/plans                     Catalog
  /api/templates/*, /api/trainings/*                  Schedule and booking
  /api/payments/*, /api/invoices/*                    Ledger corrections
  /api/subscriptions/*                                Freeze/unfreeze
  /api/admin/*                                        Bulk operations
  /api/scenarios/*                                    Demo data
  /healthz                                            Liveness

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
	"go.uber.org/zap"
)

// RouterOptions tunes the router. The zero value allows the local frontend
// dev servers only.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/clients", func(r chi.Router) {
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClientAccount)
			r.Post("/{id}/payments", h.ApplyPayment)
		})

		r.Route("/students", func(r chi.Router) {
			r.Post("/", h.CreateStudent)
			r.Get("/{id}/subscriptions", h.ListSubscriptions)
			r.Post("/{id}/subscriptions", h.SellSubscription)
		})

		r.Route("/trainers", func(r chi.Router) {
			r.Post("/", h.CreateTrainer)
			r.Post("/{id}/rates", h.SetTrainerRate)
			r.Get("/{id}/expenses", h.ListExpenses)
		})

		r.Post("/training-types", h.CreateTrainingType)
		r.Post("/plans", h.CreatePlan)

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.CreateTemplate)
			r.Post("/{id}/students", h.AssignTemplateStudent)
		})

		r.Route("/trainings", func(r chi.Router) {
			r.Post("/", h.CreateTraining)
			r.Get("/{id}", h.GetTraining)
			r.Post("/{id}/cancel", h.CancelTraining)
			r.Post("/{id}/students", h.RegisterStudent)
			r.Post("/{id}/students/{studentID}/cancel", h.CancelStudent)
			r.Put("/{id}/students/{studentID}/attendance", h.MarkAttendance)
		})

		r.Delete("/payments/{id}", h.CancelPayment)
		r.Post("/invoices/{id}/cancel", h.CancelInvoice)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/{id}/freeze", h.FreezeSubscription)
			r.Post("/{id}/unfreeze", h.UnfreezeSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/generate", h.GenerateNextWeek)
			r.Post("/daily-batch", h.RunDailyBatch)
			r.Post("/salaries", h.FinalizeSalaries)
			r.Get("/runs", h.ListRuns)
			r.Get("/schedule", h.GetSchedule)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

/*
handlers.go - HTTP API handlers for the training studio engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response and JSON
  serialization; every decision is delegated to engine.Engine.

ENDPOINTS:
  Directory:
    POST   /api/clients                          Create client
    GET    /api/clients/{id}                     Balance, invoices, journal
    POST   /api/clients/{id}/payments            Apply payment (FIFO settle)
    POST   /api/students                         Create student
    GET    /api/students/{id}/subscriptions      List subscriptions
    POST   /api/students/{id}/subscriptions      Sell subscription
    POST   /api/trainers                         Create trainer
    POST   /api/trainers/{id}/rates              Set per-type rate
    GET    /api/trainers/{id}/expenses           Salary expenses
    POST   /api/training-types                   Create training type
    POST   /api/plans                            Create subscription plan

  Schedule:
    POST   /api/templates                        Create template
    POST   /api/templates/{id}/students          Assign student
    POST   /api/trainings                        Create ad hoc training
    GET    /api/trainings/{id}                   Training with attendance

  Booking:
    POST   /api/trainings/{id}/cancel                             Cancel training
    POST   /api/trainings/{id}/students                           Register
    POST   /api/trainings/{id}/students/{studentID}/cancel        Cancel student
    PUT    /api/trainings/{id}/students/{studentID}/attendance    Mark

  Ledgers:
    DELETE /api/payments/{id}                    Cancel payment (LIFO reopen)
    POST   /api/invoices/{id}/cancel             Cancel invoice
    POST   /api/subscriptions/{id}/freeze        Freeze
    POST   /api/subscriptions/{id}/unfreeze      Unfreeze

  Admin:
    POST   /api/admin/generate                   Generate next week
    POST   /api/admin/daily-batch                Run daily batch
    POST   /api/admin/salaries                   Finalize salaries
    GET    /api/admin/runs?kind=                 Batch journal
    GET    /api/admin/schedule                   Cron state

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: validation, malformed body
  - 404: not found
  - 409: conflict (duplicate, capacity, already cancelled)
  - 412: precondition failed (inactive student, no subscription)
  - 500: everything else, logged

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: request/response bodies
  - scenarios.go: demo data loaders
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/engine"
	"github.com/aryzhykau/atlantis-engine/schedule"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler // nil when cron jobs are disabled
	log       *zap.Logger
}

func NewHandler(e *engine.Engine, scheduler *engine.Scheduler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: e, Scheduler: scheduler, log: log}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var in engine.ClientInput
	if !decode(w, r, &in) {
		return
	}
	c, err := h.Engine.CreateClient(r.Context(), in)
	h.respond(w, http.StatusCreated, c, err)
}

// GET /api/clients/{id}
func (h *Handler) GetClientAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Engine.ClientAccount(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, acc, err)
}

// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var in engine.StudentInput
	if !decode(w, r, &in) {
		return
	}
	s, err := h.Engine.CreateStudent(r.Context(), in)
	h.respond(w, http.StatusCreated, s, err)
}

// GET /api/students/{id}/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Engine.StudentSubscriptions(r.Context(), chi.URLParam(r, "id"))
	if subs == nil {
		subs = []studio.StudentSubscription{}
	}
	h.respond(w, http.StatusOK, subs, err)
}

// POST /api/students/{id}/subscriptions
func (h *Handler) SellSubscription(w http.ResponseWriter, r *http.Request) {
	var in engine.SubscriptionInput
	if !decode(w, r, &in) {
		return
	}
	in.StudentID = chi.URLParam(r, "id")
	sale, err := h.Engine.SellSubscription(r.Context(), in)
	h.respond(w, http.StatusCreated, sale, err)
}

// POST /api/trainers
func (h *Handler) CreateTrainer(w http.ResponseWriter, r *http.Request) {
	var in engine.TrainerInput
	if !decode(w, r, &in) {
		return
	}
	t, err := h.Engine.CreateTrainer(r.Context(), in)
	h.respond(w, http.StatusCreated, t, err)
}

// POST /api/trainers/{id}/rates
func (h *Handler) SetTrainerRate(w http.ResponseWriter, r *http.Request) {
	var in engine.RateInput
	if !decode(w, r, &in) {
		return
	}
	in.TrainerID = chi.URLParam(r, "id")
	rate, err := h.Engine.SetTrainerRate(r.Context(), in)
	h.respond(w, http.StatusOK, rate, err)
}

// GET /api/trainers/{id}/expenses
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Engine.Expenses(r.Context(), chi.URLParam(r, "id"))
	if expenses == nil {
		expenses = []studio.Expense{}
	}
	h.respond(w, http.StatusOK, expenses, err)
}

// POST /api/training-types
func (h *Handler) CreateTrainingType(w http.ResponseWriter, r *http.Request) {
	var in engine.TrainingTypeInput
	if !decode(w, r, &in) {
		return
	}
	tt, err := h.Engine.CreateTrainingType(r.Context(), in)
	h.respond(w, http.StatusCreated, tt, err)
}

// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var in engine.PlanInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.Engine.CreateSubscriptionPlan(r.Context(), in)
	h.respond(w, http.StatusCreated, p, err)
}

// =============================================================================
// SCHEDULE
// =============================================================================

// POST /api/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in schedule.TemplateInput
	if !decode(w, r, &in) {
		return
	}
	t, err := h.Engine.CreateTemplate(r.Context(), in)
	h.respond(w, http.StatusCreated, t, err)
}

// POST /api/templates/{id}/students
func (h *Handler) AssignTemplateStudent(w http.ResponseWriter, r *http.Request) {
	var in schedule.AssignInput
	if !decode(w, r, &in) {
		return
	}
	in.TemplateID = chi.URLParam(r, "id")
	ts, err := h.Engine.AssignTemplateStudent(r.Context(), in)
	h.respond(w, http.StatusCreated, ts, err)
}

// POST /api/trainings
func (h *Handler) CreateTraining(w http.ResponseWriter, r *http.Request) {
	var in schedule.TrainingInput
	if !decode(w, r, &in) {
		return
	}
	t, err := h.Engine.CreateTraining(r.Context(), in)
	h.respond(w, http.StatusCreated, t, err)
}

// GET /api/trainings/{id}
func (h *Handler) GetTraining(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.Training(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, d, err)
}

// =============================================================================
// BOOKING
// =============================================================================

// POST /api/trainings/{id}/cancel
func (h *Handler) CancelTraining(w http.ResponseWriter, r *http.Request) {
	var req CancelTrainingRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.CancelTraining(r.Context(), chi.URLParam(r, "id"), req.Reason)
	h.respond(w, http.StatusOK, res, err)
}

// POST /api/trainings/{id}/students
func (h *Handler) RegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Engine.RegisterStudent(r.Context(), booking.RegisterInput{
		TrainingID: chi.URLParam(r, "id"),
		StudentID:  req.StudentID,
	})
	h.respond(w, http.StatusCreated, rec, err)
}

// POST /api/trainings/{id}/students/{studentID}/cancel
func (h *Handler) CancelStudent(w http.ResponseWriter, r *http.Request) {
	var req CancelStudentRequest
	if !decode(w, r, &req) {
		return
	}
	in := booking.CancelStudentInput{
		TrainingID: chi.URLParam(r, "id"),
		StudentID:  chi.URLParam(r, "studentID"),
		Reason:     req.Reason,
	}
	if req.NotifiedAt != nil {
		in.NotifiedAt = *req.NotifiedAt
	}
	rec, err := h.Engine.CancelStudent(r.Context(), in)
	h.respond(w, http.StatusOK, rec, err)
}

// PUT /api/trainings/{id}/students/{studentID}/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Engine.MarkAttendance(r.Context(), booking.MarkInput{
		TrainingID: chi.URLParam(r, "id"),
		StudentID:  chi.URLParam(r, "studentID"),
		Status:     req.Status,
		MarkedBy:   req.MarkedBy,
	})
	h.respond(w, http.StatusOK, rec, err)
}

// =============================================================================
// LEDGERS
// =============================================================================

// POST /api/clients/{id}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.ApplyPayment(r.Context(), engine.PaymentInput{
		ClientID:    chi.URLParam(r, "id"),
		Amount:      req.Amount,
		Description: req.Description,
	})
	h.respond(w, http.StatusCreated, res, err)
}

// DELETE /api/payments/{id}
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// POST /api/invoices/{id}/cancel
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.CancelInvoice(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, inv, err)
}

// POST /api/subscriptions/{id}/freeze
func (h *Handler) FreezeSubscription(w http.ResponseWriter, r *http.Request) {
	var req FreezeRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.Engine.FreezeSubscription(r.Context(), engine.FreezeInput{
		SubscriptionID: chi.URLParam(r, "id"),
		StartDate:      req.StartDate,
		Days:           req.Days,
	})
	h.respond(w, http.StatusOK, sub, err)
}

// POST /api/subscriptions/{id}/unfreeze
func (h *Handler) UnfreezeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Engine.UnfreezeSubscription(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, sub, err)
}

// =============================================================================
// ADMIN
// =============================================================================

// POST /api/admin/generate
func (h *Handler) GenerateNextWeek(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.GenerateNextWeek(r.Context())
	h.respond(w, http.StatusOK, res, err)
}

// POST /api/admin/daily-batch
func (h *Handler) RunDailyBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.RunDailyBatch(r.Context())
	h.respond(w, http.StatusOK, res, err)
}

// POST /api/admin/salaries
func (h *Handler) FinalizeSalaries(w http.ResponseWriter, r *http.Request) {
	var req SalariesRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = h.Engine.Settings().Today()
	}
	res, err := h.Engine.FinalizeSalaries(r.Context(), req.Date)
	h.respond(w, http.StatusOK, res, err)
}

// GET /api/admin/runs?kind=daily_batch
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Runs(r.Context(), studio.RunKind(r.URL.Query().Get("kind")))
	if runs == nil {
		runs = []studio.BatchRun{}
	}
	h.respond(w, http.StatusOK, runs, err)
}

// GET /api/admin/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	dto := ScheduleDTO{NextRuns: []time.Time{}}
	if h.Scheduler != nil {
		dto.Enabled = true
		dto.NextRuns = h.Scheduler.NextRuns()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

// respond writes body with status on success, or the error mapped to its
// HTTP status.
func (h *Handler) respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "internal error", Details: err.Error()})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: studio.KindOf(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, studio.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, studio.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, studio.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into dst, answering 400 itself when it cannot.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

/*
engine.go - Facade over the training lifecycle

PURPOSE:
  The single entry point for callers (HTTP adapter, scheduler, tests).
  Validates inputs, opens one store transaction per operation and hands the
  transaction to the domain services:

    schedule   CreateTemplate, AssignTemplateStudent, CreateTraining,
               GenerateNextWeek
    booking    RegisterStudent, CancelStudent, CancelTraining, MarkAttendance
    ledger     ApplyPayment, CancelPayment, CancelInvoice,
               FreezeSubscription, UnfreezeSubscription
    reconcile  RunDailyBatch
    payroll    FinalizeSalaries

TRANSACTIONS:
  Single-entity operations run in exactly one transaction: any error rolls
  everything back. The bulk operations (GenerateNextWeek, RunDailyBatch,
  FinalizeSalaries) use one transaction per item and report per-item
  failures on their result instead of failing the call.

ERRORS:
  Domain errors are *studio.Error values and reach the caller unchanged.
  Invalid inputs are rejected with kind Validation before any transaction.

SEE ALSO:
  - scheduler.go: cron triggers for the bulk operations
  - api/handlers.go: HTTP mapping
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/payroll"
	"github.com/aryzhykau/atlantis-engine/reconcile"
	"github.com/aryzhykau/atlantis-engine/schedule"
	"github.com/aryzhykau/atlantis-engine/studio"
)

type Options struct {
	Settings studio.Settings
	Logger   *zap.Logger
}

type Engine struct {
	store    studio.TxStore
	settings studio.Settings
	log      *zap.Logger
	validate *validator.Validate
	batch    *reconcile.Batch
}

func New(store studio.TxStore, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    store,
		settings: opts.Settings,
		log:      log,
		validate: newValidator(),
		batch:    reconcile.NewBatch(store, opts.Settings, log.Named("batch")),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// check validates an input struct and reports the first failing field.
func (e *Engine) check(in any) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return studio.Invalid(f.Field(), "failed %q check", f.Tag())
	}
	return studio.Invalid("input", "%v", err)
}

// tx runs fn inside one store transaction with both ledgers opened on it.
func (e *Engine) tx(ctx context.Context, fn func(s studio.Store, books *ledger.Books) error) error {
	return e.store.WithTx(ctx, func(s studio.Store) error {
		return fn(s, ledger.Open(s, e.settings.Clock))
	})
}

// Settings exposes the studio settings the engine runs with.
func (e *Engine) Settings() studio.Settings { return e.settings }

// =============================================================================
// SCHEDULE
// =============================================================================

func (e *Engine) CreateTemplate(ctx context.Context, in schedule.TemplateInput) (*studio.TrainingTemplate, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.TrainingTemplate
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = schedule.NewPlanner(s, books, e.settings).CreateTemplate(ctx, in)
		return err
	})
	return out, err
}

func (e *Engine) AssignTemplateStudent(ctx context.Context, in schedule.AssignInput) (*studio.TemplateStudent, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.TemplateStudent
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = schedule.NewPlanner(s, books, e.settings).AssignStudent(ctx, in)
		return err
	})
	return out, err
}

func (e *Engine) CreateTraining(ctx context.Context, in schedule.TrainingInput) (*studio.Training, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.Training
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = schedule.NewPlanner(s, books, e.settings).CreateTraining(ctx, in)
		return err
	})
	return out, err
}

// GenerateNextWeek builds next week's trainings, one transaction per template.
func (e *Engine) GenerateNextWeek(ctx context.Context) (*schedule.Result, error) {
	today := e.settings.Today()
	result := &schedule.Result{WeekStart: schedule.NextWeekStart(today)}

	var templates []studio.TrainingTemplate
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		templates, err = schedule.NewPlanner(s, books, e.settings).Generable(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	run := e.startRun(ctx, studio.RunGeneration, today)
	for _, tmpl := range templates {
		var generated *schedule.Generated
		err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
			var err error
			generated, err = schedule.NewPlanner(s, books, e.settings).GenerateFor(ctx, tmpl.ID, result.WeekStart)
			return err
		})
		if err != nil {
			e.log.Warn("template generation failed", zap.String("template_id", tmpl.ID), zap.Error(err))
			result.Failures = append(result.Failures, studio.ItemFailure{Entity: "template", ID: tmpl.ID, Error: err.Error()})
			continue
		}
		result.Add(generated)
		for _, skip := range generated.Skipped {
			e.log.Info("student not booked",
				zap.String("template_id", skip.TemplateID),
				zap.String("student_id", skip.StudentID),
				zap.String("reason", string(skip.Reason)))
		}
	}
	e.finishRun(ctx, run, result.Created, len(result.Failures))

	e.log.Info("generated next week",
		zap.Stringer("week_start", result.WeekStart),
		zap.Int("created", result.Created),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failures", len(result.Failures)))
	return result, nil
}

// =============================================================================
// BOOKING
// =============================================================================

func (e *Engine) RegisterStudent(ctx context.Context, in booking.RegisterInput) (*studio.AttendanceRecord, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.AttendanceRecord
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(s, books, e.settings).Register(ctx, in)
		return err
	})
	return out, err
}

func (e *Engine) CancelStudent(ctx context.Context, in booking.CancelStudentInput) (*studio.AttendanceRecord, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.AttendanceRecord
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(s, books, e.settings).CancelStudent(ctx, in)
		return err
	})
	if err == nil {
		e.log.Info("student cancelled",
			zap.String("training_id", in.TrainingID),
			zap.String("student_id", in.StudentID),
			zap.String("status", string(out.Status)))
	}
	return out, err
}

func (e *Engine) CancelTraining(ctx context.Context, trainingID, reason string) (*booking.TrainingCancellation, error) {
	if trainingID == "" {
		return nil, studio.Invalid("training_id", "training id is required")
	}
	var out *booking.TrainingCancellation
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(s, books, e.settings).CancelTraining(ctx, trainingID, reason)
		return err
	})
	if err == nil {
		e.log.Info("training cancelled",
			zap.String("training_id", trainingID),
			zap.Int("records", len(out.Records)),
			zap.Int("sessions_returned", out.SessionsReturned))
	}
	return out, err
}

func (e *Engine) MarkAttendance(ctx context.Context, in booking.MarkInput) (*studio.AttendanceRecord, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *studio.AttendanceRecord
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(s, books, e.settings).MarkAttendance(ctx, in)
		return err
	})
	return out, err
}

// TrainingDetails is a training with all its attendance records.
type TrainingDetails struct {
	Training studio.Training           `json:"training"`
	Records  []studio.AttendanceRecord `json:"records"`
}

func (e *Engine) Training(ctx context.Context, trainingID string) (*TrainingDetails, error) {
	var out TrainingDetails
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		t, err := s.GetTraining(ctx, trainingID)
		if err != nil {
			return err
		}
		records, err := s.ListAttendance(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list attendance: %w", err)
		}
		out = TrainingDetails{Training: *t, Records: records}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// LEDGERS
// =============================================================================

type PaymentInput struct {
	ClientID    string          `json:"client_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

func (e *Engine) ApplyPayment(ctx context.Context, in PaymentInput) (*ledger.PaymentResult, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *ledger.PaymentResult
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.ApplyPayment(ctx, in.ClientID, in.Amount, in.Description)
		return err
	})
	return out, err
}

func (e *Engine) CancelPayment(ctx context.Context, paymentID string) (*ledger.PaymentCancellation, error) {
	var out *ledger.PaymentCancellation
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.CancelPayment(ctx, paymentID)
		return err
	})
	return out, err
}

func (e *Engine) CancelInvoice(ctx context.Context, invoiceID string) (*studio.Invoice, error) {
	var out *studio.Invoice
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.Cancel(ctx, invoiceID)
		return err
	})
	return out, err
}

// ClientAccount is a client's balance with its invoices and journal.
type ClientAccount struct {
	Client   studio.Client           `json:"client"`
	Invoices []studio.Invoice        `json:"invoices"`
	History  []studio.PaymentHistory `json:"history"`
}

func (e *Engine) ClientAccount(ctx context.Context, clientID string) (*ClientAccount, error) {
	var out ClientAccount
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		c, err := s.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		invoices, err := s.ListInvoices(ctx, studio.InvoiceFilter{ClientID: c.ID})
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		history, err := s.ListPaymentHistory(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list payment history: %w", err)
		}
		out = ClientAccount{Client: *c, Invoices: invoices, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type FreezeInput struct {
	SubscriptionID string      `json:"subscription_id" validate:"required"`
	StartDate      studio.Date `json:"start_date"`
	Days           int         `json:"days" validate:"min=1,max=365"`
}

func (e *Engine) FreezeSubscription(ctx context.Context, in FreezeInput) (*studio.StudentSubscription, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	today := e.settings.Today()
	start := in.StartDate
	if start.IsZero() {
		start = today
	}
	var out *studio.StudentSubscription
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Sessions.Freeze(ctx, in.SubscriptionID, start, in.Days, today)
		return err
	})
	return out, err
}

func (e *Engine) UnfreezeSubscription(ctx context.Context, subscriptionID string) (*studio.StudentSubscription, error) {
	var out *studio.StudentSubscription
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Sessions.Unfreeze(ctx, subscriptionID, e.settings.Today())
		return err
	})
	return out, err
}

// =============================================================================
// BATCHES
// =============================================================================

// RunDailyBatch runs the daily reconciliation for today.
func (e *Engine) RunDailyBatch(ctx context.Context) (*reconcile.Result, error) {
	return e.batch.Run(ctx)
}

// FinalizeSalaries settles trainer pay for every training of date, one
// transaction per training.
func (e *Engine) FinalizeSalaries(ctx context.Context, date studio.Date) (*payroll.Result, error) {
	if date.IsZero() {
		return nil, studio.Invalid("date", "date is required")
	}
	var due []studio.Training
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		var err error
		due, err = payroll.New(s, e.settings).DueOn(ctx, date)
		return err
	})
	if err != nil {
		return nil, err
	}

	run := e.startRun(ctx, studio.RunSalaryFinalization, date)
	result := &payroll.Result{Date: date}
	for _, t := range due {
		var expense *studio.Expense
		err := e.store.WithTx(ctx, func(s studio.Store) error {
			var err error
			expense, err = payroll.New(s, e.settings).FinalizeTraining(ctx, t.ID)
			return err
		})
		if err != nil {
			e.log.Warn("salary finalization failed", zap.String("training_id", t.ID), zap.Error(err))
			result.Failures = append(result.Failures, studio.ItemFailure{Entity: "training", ID: t.ID, Error: err.Error()})
			continue
		}
		result.Visited++
		if expense != nil {
			result.Expenses = append(result.Expenses, *expense)
		}
	}
	e.finishRun(ctx, run, result.Visited, len(result.Failures))

	e.log.Info("salaries finalized",
		zap.Stringer("date", date),
		zap.Int("visited", result.Visited),
		zap.Int("expenses", len(result.Expenses)),
		zap.Int("failures", len(result.Failures)))
	return result, nil
}

// Runs lists the batch journal, optionally for one kind.
func (e *Engine) Runs(ctx context.Context, kind studio.RunKind) ([]studio.BatchRun, error) {
	var out []studio.BatchRun
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		var err error
		out, err = s.ListBatchRuns(ctx, kind)
		return err
	})
	return out, err
}

// startRun journals the start of a bulk operation. Journal failures are
// logged, never fatal to the operation itself.
func (e *Engine) startRun(ctx context.Context, kind studio.RunKind, date studio.Date) studio.BatchRun {
	run := studio.BatchRun{
		ID:        studio.NewID(),
		Kind:      kind,
		RunDate:   date,
		Status:    studio.RunRunning,
		StartedAt: e.settings.Now().UTC().Truncate(time.Microsecond),
	}
	e.saveRun(ctx, run)
	return run
}

func (e *Engine) finishRun(ctx context.Context, run studio.BatchRun, processed, failed int) {
	completed := e.settings.Now().UTC().Truncate(time.Microsecond)
	run.Status = studio.RunCompleted
	run.Processed = processed
	run.Failed = failed
	run.CompletedAt = &completed
	e.saveRun(ctx, run)
}

func (e *Engine) saveRun(ctx context.Context, run studio.BatchRun) {
	err := e.store.WithTx(ctx, func(s studio.Store) error { return s.SaveBatchRun(ctx, run) })
	if err != nil {
		e.log.Warn("save batch run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

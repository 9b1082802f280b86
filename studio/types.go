/*
Package studio provides the core domain of the training studio engine.

PURPOSE:
  This package holds the entities, the closed status types, the cancellation
  policy, the typed errors and the store contract. It has no persistence or
  orchestration of its own; ledger, booking, schedule, reconcile and payroll
  build on it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Directory entities: Client (owns the balance), Student, Trainer,
    TrainingType, TrainerRate, SubscriptionPlan
  - Schedule entities: TrainingTemplate, TemplateStudent, Training,
    AttendanceRecord
  - Ledger entities: StudentSubscription, Invoice, Payment, PaymentHistory,
    Expense, BatchRun

REFERENCES:
  Aggregates point at each other by id only. An empty string means "no
  reference" (an ad hoc training has TemplateID == ""). Nothing holds a live
  pointer to its dependents.

MONEY:
  All amounts use decimal.Decimal. Floating point never touches a balance.

SEE ALSO:
  - attendance.go: AttendanceStatus transition table
  - policy.go: CancellationRules
  - subscription.go: derived subscription status and freeze arithmetic
  - store.go: persistence contract
*/
package studio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewID returns a fresh opaque identifier.
func NewID() string { return uuid.NewString() }

// =============================================================================
// DIRECTORY - Looked up by the engine, maintained elsewhere
// =============================================================================

// Client is the paying account. Its balance funds invoices.
type Client struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type Student struct {
	ID        string    `db:"id" json:"id"`
	ClientID  string    `db:"client_id" json:"client_id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Trainer struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Active      bool      `db:"active" json:"active"`
	FixedSalary bool      `db:"fixed_salary" json:"fixed_salary"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type TrainingType struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Active           bool            `db:"active" json:"active"`
	Price            decimal.Decimal `db:"price" json:"price"`
	MaxParticipants  int             `db:"max_participants" json:"max_participants"`
	SubscriptionOnly bool            `db:"subscription_only" json:"subscription_only"`
	CancellationRules
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TrainerRate is what a non-fixed trainer earns per eligible training of a type.
type TrainerRate struct {
	ID             string          `db:"id" json:"id"`
	TrainerID      string          `db:"trainer_id" json:"trainer_id"`
	TrainingTypeID string          `db:"training_type_id" json:"training_type_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type SubscriptionPlan struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	SessionsCount int             `db:"sessions_count" json:"sessions_count"`
	ValidityDays  int             `db:"validity_days" json:"validity_days"`
	Active        bool            `db:"active" json:"active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// TrainingTemplate is a recurring weekly slot. One per (trainer, weekday, start).
type TrainingTemplate struct {
	ID             string    `db:"id" json:"id"`
	Weekday        int       `db:"weekday" json:"weekday"` // 1 = Monday .. 7 = Sunday
	StartTime      ClockTime `db:"start_time" json:"start_time"`
	TrainerID      string    `db:"trainer_id" json:"trainer_id"`
	TrainingTypeID string    `db:"training_type_id" json:"training_type_id"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TemplateStudent assigns a student to a template from StartDate on.
type TemplateStudent struct {
	ID         string    `db:"id" json:"id"`
	TemplateID string    `db:"template_id" json:"template_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	StartDate  Date      `db:"start_date" json:"start_date"`
	Frozen     bool      `db:"frozen" json:"frozen"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Training is one concrete occurrence, generated from a template or ad hoc.
type Training struct {
	ID                    string     `db:"id" json:"id"`
	TemplateID            string     `db:"template_id" json:"template_id,omitempty"`
	TrainerID             string     `db:"trainer_id" json:"trainer_id"`
	TrainingTypeID        string     `db:"training_type_id" json:"training_type_id"`
	Date                  Date       `db:"training_date" json:"training_date"`
	StartTime             ClockTime  `db:"start_time" json:"start_time"`
	CancelledAt           *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason    string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ProcessedAt           *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	TrainerSalaryEligible bool       `db:"trainer_salary_eligible" json:"trainer_salary_eligible"`
	IsSalaryProcessed     bool       `db:"is_salary_processed" json:"is_salary_processed"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

func (t *Training) IsCancelled() bool { return t.CancelledAt != nil }
func (t *Training) IsProcessed() bool { return t.ProcessedAt != nil }

// StartsAt is the training start instant in the studio's location.
func (t *Training) StartsAt(loc *time.Location) time.Time { return t.Date.At(t.StartTime, loc) }

// DeductionSource records which counter paid for an attendance record, so a
// later refund can put the unit back where it came from.
type DeductionSource string

const (
	DeductionNone        DeductionSource = ""
	DeductionSessions    DeductionSource = "sessions_left"
	DeductionTransferred DeductionSource = "transferred"
	DeductionSkipped     DeductionSource = "skipped"
	DeductionBorrowed    DeductionSource = "borrowed"
	DeductionInvoice     DeductionSource = "invoice"
	DeductionFree        DeductionSource = "free"
)

// FromSubscription reports whether the unit came off a subscription counter.
func (s DeductionSource) FromSubscription() bool {
	switch s {
	case DeductionSessions, DeductionTransferred, DeductionSkipped, DeductionBorrowed:
		return true
	}
	return false
}

// AttendanceRecord is a student's booking and outcome on one training.
type AttendanceRecord struct {
	ID                 string           `db:"id" json:"id"`
	TrainingID         string           `db:"training_id" json:"training_id"`
	StudentID          string           `db:"student_id" json:"student_id"`
	SubscriptionID     string           `db:"subscription_id" json:"subscription_id,omitempty"`
	TemplateStudentID  string           `db:"template_student_id" json:"template_student_id,omitempty"`
	Status             AttendanceStatus `db:"status" json:"status"`
	SessionDeducted    bool             `db:"session_deducted" json:"session_deducted"`
	DeductionSource    DeductionSource  `db:"deduction_source" json:"deduction_source,omitempty"`
	RequiresPayment    bool             `db:"requires_payment" json:"requires_payment"`
	NotifiedAt         *time.Time       `db:"notified_at" json:"notified_at,omitempty"`
	CancelledAt        *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	MarkedAt           *time.Time       `db:"marked_at" json:"marked_at,omitempty"`
	MarkedBy           string           `db:"marked_by" json:"marked_by,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

// IsActive reports whether the record still occupies a seat.
func (r *AttendanceRecord) IsActive() bool { return !r.Status.IsCancelled() }

// =============================================================================
// LEDGERS
// =============================================================================

// StudentSubscription is one subscription instance owned by a student.
// Status is derived from the dates, see subscription.go.
type StudentSubscription struct {
	ID                   string    `db:"id" json:"id"`
	StudentID            string    `db:"student_id" json:"student_id"`
	PlanID               string    `db:"plan_id" json:"plan_id"`
	StartDate            Date      `db:"start_date" json:"start_date"`
	EndDate              Date      `db:"end_date" json:"end_date"`
	SessionsLeft         int       `db:"sessions_left" json:"sessions_left"`
	TransferredSessions  int       `db:"transferred_sessions" json:"transferred_sessions"`
	SkippedSessions      int       `db:"skipped_sessions" json:"skipped_sessions"`
	BorrowedSessions     int       `db:"borrowed_sessions" json:"borrowed_sessions"`
	FreezeStart          *Date     `db:"freeze_start" json:"freeze_start,omitempty"`
	FreezeEnd            *Date     `db:"freeze_end" json:"freeze_end,omitempty"`
	AutoRenew            bool      `db:"auto_renew" json:"auto_renew"`
	AutoRenewalInvoiceID string    `db:"auto_renewal_invoice_id" json:"auto_renewal_invoice_id,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

type InvoiceType string

const (
	InvoiceSubscription InvoiceType = "SUBSCRIPTION"
	InvoiceTraining     InvoiceType = "TRAINING"
	InvoicePenalty      InvoiceType = "PENALTY"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoiceUnpaid    InvoiceStatus = "UNPAID"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

type Invoice struct {
	ID             string          `db:"id" json:"id"`
	ClientID       string          `db:"client_id" json:"client_id"`
	StudentID      string          `db:"student_id" json:"student_id,omitempty"`
	TrainingID     string          `db:"training_id" json:"training_id,omitempty"`
	SubscriptionID string          `db:"subscription_id" json:"subscription_id,omitempty"`
	Type           InvoiceType     `db:"type" json:"type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Description    string          `db:"description" json:"description"`
	Status         InvoiceStatus   `db:"status" json:"status"`
	IsAutoRenewal  bool            `db:"is_auto_renewal" json:"is_auto_renewal"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

type Payment struct {
	ID          string          `db:"id" json:"id"`
	ClientID    string          `db:"client_id" json:"client_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CancelledAt *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

type Operation string

const (
	OpPayment        Operation = "PAYMENT"
	OpCancellation   Operation = "CANCELLATION"
	OpInvoicePayment Operation = "INVOICE_PAYMENT"
	OpInvoiceRefund  Operation = "INVOICE_REFUND"
	OpInvoiceReopen  Operation = "INVOICE_REOPEN"
)

// PaymentHistory journals one balance mutation.
type PaymentHistory struct {
	ID            string          `db:"id" json:"id"`
	ClientID      string          `db:"client_id" json:"client_id"`
	PaymentID     string          `db:"payment_id" json:"payment_id,omitempty"`
	InvoiceID     string          `db:"invoice_id" json:"invoice_id,omitempty"`
	Operation     Operation       `db:"operation" json:"operation"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	Description   string          `db:"description" json:"description"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

type ExpenseType string

const ExpenseTrainerSalary ExpenseType = "trainer_salary"

type Expense struct {
	ID          string          `db:"id" json:"id"`
	TrainerID   string          `db:"trainer_id" json:"trainer_id"`
	TrainingID  string          `db:"training_id" json:"training_id"`
	Type        ExpenseType     `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	ExpenseDate Date            `db:"expense_date" json:"expense_date"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// =============================================================================
// BATCH RUNS - Journal of scheduled/batch executions
// =============================================================================

type RunKind string

const (
	RunDailyBatch         RunKind = "daily_batch"
	RunSalaryFinalization RunKind = "salary_finalization"
	RunGeneration         RunKind = "generation"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type BatchRun struct {
	ID          string     `db:"id" json:"id"`
	Kind        RunKind    `db:"kind" json:"kind"`
	RunDate     Date       `db:"run_date" json:"run_date"`
	Status      RunStatus  `db:"status" json:"status"`
	Processed   int        `db:"processed" json:"processed"`
	Failed      int        `db:"failed" json:"failed"`
	Error       string     `db:"error" json:"error,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ItemFailure is one item a batch loop could not process. Sibling items are
// not affected.
type ItemFailure struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

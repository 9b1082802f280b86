/*
store.go - Persistence contract for the engine

PURPOSE:
  Defines the interface between the domain logic and the database. Every
  engine operation runs inside exactly one store transaction obtained from
  TxStore.WithTx; the Store handed to the callback is the transaction handle
  and is only valid until the callback returns.

KEY INTERFACES:
  DirectoryStore     clients, students, trainers, training types, rates, plans
  ScheduleStore      templates, template students, trainings, attendance
  SubscriptionStore  student subscriptions
  BillingStore       invoices, payments, payment history, expenses
  RunStore           batch run journal
  Store              all of the above
  TxStore            opens transactions

ERRORS:
  Get* methods return a studio.Error of kind NotFound when the row is absent.
  Find* methods return (nil, nil) instead, for lookups where absence is a
  normal outcome. Unique violations surface as kind Conflict.

IMPLEMENTATIONS:
  - studio/store/memory.go: in-memory, snapshot rollback (tests, demos)
  - store/sqlstore: SQLite and PostgreSQL through sqlx + goose migrations

SEE ALSO:
  - engine/engine.go: opens one transaction per operation
*/
package studio

import "context"

// =============================================================================
// STORE SEGMENTS
// =============================================================================

type DirectoryStore interface {
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	UpdateClient(ctx context.Context, c Client) error

	CreateStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)

	CreateTrainer(ctx context.Context, t Trainer) error
	GetTrainer(ctx context.Context, id string) (*Trainer, error)

	CreateTrainingType(ctx context.Context, t TrainingType) error
	GetTrainingType(ctx context.Context, id string) (*TrainingType, error)

	// SetTrainerRate inserts or replaces the rate for (trainer, type).
	SetTrainerRate(ctx context.Context, r TrainerRate) error
	FindTrainerRate(ctx context.Context, trainerID, trainingTypeID string) (*TrainerRate, error)

	CreateSubscriptionPlan(ctx context.Context, p SubscriptionPlan) error
	GetSubscriptionPlan(ctx context.Context, id string) (*SubscriptionPlan, error)
}

type ScheduleStore interface {
	CreateTemplate(ctx context.Context, t TrainingTemplate) error
	GetTemplate(ctx context.Context, id string) (*TrainingTemplate, error)
	ListTemplates(ctx context.Context) ([]TrainingTemplate, error)

	AddTemplateStudent(ctx context.Context, ts TemplateStudent) error
	// ListTemplateStudents is ordered by (start_date, id) ascending.
	ListTemplateStudents(ctx context.Context, templateID string) ([]TemplateStudent, error)

	CreateTraining(ctx context.Context, t Training) error
	GetTraining(ctx context.Context, id string) (*Training, error)
	UpdateTraining(ctx context.Context, t Training) error
	FindTrainingByTemplate(ctx context.Context, templateID string, date Date) (*Training, error)
	ListTrainingsOn(ctx context.Context, date Date) ([]Training, error)

	CreateAttendance(ctx context.Context, r AttendanceRecord) error
	UpdateAttendance(ctx context.Context, r AttendanceRecord) error
	// FindActiveAttendance returns the non-cancelled record of a student on a training.
	FindActiveAttendance(ctx context.Context, trainingID, studentID string) (*AttendanceRecord, error)
	GetAttendance(ctx context.Context, id string) (*AttendanceRecord, error)
	// ListAttendance returns every record of a training ordered by creation.
	ListAttendance(ctx context.Context, trainingID string) ([]AttendanceRecord, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s StudentSubscription) error
	GetSubscription(ctx context.Context, id string) (*StudentSubscription, error)
	UpdateSubscription(ctx context.Context, s StudentSubscription) error
	// ListStudentSubscriptions is ordered by start_date ascending.
	ListStudentSubscriptions(ctx context.Context, studentID string) ([]StudentSubscription, error)
	ListSubscriptionsEndingOn(ctx context.Context, date Date) ([]StudentSubscription, error)
	ListFrozenSubscriptions(ctx context.Context) ([]StudentSubscription, error)
}

// InvoiceFilter narrows ListInvoices. Zero fields match everything.
type InvoiceFilter struct {
	ClientID       string
	StudentID      string
	TrainingID     string
	SubscriptionID string
	Statuses       []InvoiceStatus
}

type BillingStore interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	// ListInvoices is ordered by created_at ascending.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error

	AppendPaymentHistory(ctx context.Context, h PaymentHistory) error
	// ListPaymentHistory is ordered by created_at ascending.
	ListPaymentHistory(ctx context.Context, clientID string) ([]PaymentHistory, error)

	// CreateExpense fails with Conflict if a salary expense for the training exists.
	CreateExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context, trainerID string) ([]Expense, error)
}

type RunStore interface {
	SaveBatchRun(ctx context.Context, r BatchRun) error
	ListBatchRuns(ctx context.Context, kind RunKind) ([]BatchRun, error)
}

// =============================================================================
// STORE / TXSTORE
// =============================================================================

type Store interface {
	DirectoryStore
	ScheduleStore
	SubscriptionStore
	BillingStore
	RunStore
}

// TxStore opens transactions.
// If fn returns an error the transaction is rolled back, otherwise committed.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

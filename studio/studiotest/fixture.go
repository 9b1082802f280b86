// Package studiotest seeds studio data for tests of the packages built on
// the studio domain. Every helper runs in its own store transaction and
// fails the test on error.
package studiotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/studio"
	"github.com/aryzhykau/atlantis-engine/studio/store"
)

// Monday is the default "today" of a fixture: Monday 2 March 2026, 09:00 UTC.
var Monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// TickingClock starts at start and moves forward by step on every call, so
// rows written by separate operations never share a timestamp.
func TickingClock(start time.Time, step time.Duration) studio.Clock {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

type Fixture struct {
	T        testing.TB
	Ctx      context.Context
	Store    studio.TxStore
	Settings studio.Settings
}

// New returns a fixture over a fresh in-memory store with the clock fixed
// at Monday.
func New(t testing.TB) *Fixture {
	return NewWith(t, store.NewMemory(), studio.FixedClock(Monday))
}

func NewWith(t testing.TB, s studio.TxStore, clock studio.Clock) *Fixture {
	return &Fixture{
		T:     t,
		Ctx:   context.Background(),
		Store: s,
		Settings: studio.Settings{
			Location:              time.UTC,
			SafeCancellationHours: studio.DefaultSafeCancellationHours,
			Clock:                 clock,
		},
	}
}

func (f *Fixture) Today() studio.Date { return f.Settings.Today() }

func (f *Fixture) now() time.Time { return f.Settings.Now().UTC().Truncate(time.Microsecond) }

// Tx runs fn in one transaction with both ledgers open and requires success.
func (f *Fixture) Tx(fn func(s studio.Store, books *ledger.Books) error) {
	f.T.Helper()
	require.NoError(f.T, f.TryTx(fn))
}

// TryTx is Tx without the assertion.
func (f *Fixture) TryTx(fn func(s studio.Store, books *ledger.Books) error) error {
	return f.Store.WithTx(f.Ctx, func(s studio.Store) error {
		return fn(s, ledger.Open(s, f.Settings.Clock))
	})
}

// =============================================================================
// SEEDING
// =============================================================================

func (f *Fixture) Client(balance int64) studio.Client {
	f.T.Helper()
	c := studio.Client{ID: studio.NewID(), Name: "client", Balance: decimal.NewFromInt(balance), CreatedAt: f.now()}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateClient(f.Ctx, c) })
	return c
}

// Student creates an active student, with a fresh client when clientID is empty.
func (f *Fixture) Student(clientID string) studio.Student {
	f.T.Helper()
	if clientID == "" {
		clientID = f.Client(0).ID
	}
	st := studio.Student{ID: studio.NewID(), ClientID: clientID, Name: "student", Active: true, CreatedAt: f.now()}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateStudent(f.Ctx, st) })
	return st
}

func (f *Fixture) Trainer(fixedSalary bool) studio.Trainer {
	f.T.Helper()
	tr := studio.Trainer{ID: studio.NewID(), Name: "trainer", Active: true, FixedSalary: fixedSalary, CreatedAt: f.now()}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateTrainer(f.Ctx, tr) })
	return tr
}

// Type creates a training type; ID, Name, Active and CreatedAt are filled in.
func (f *Fixture) Type(tt studio.TrainingType) studio.TrainingType {
	f.T.Helper()
	tt.ID = studio.NewID()
	if tt.Name == "" {
		tt.Name = "group"
	}
	tt.Active = true
	tt.CreatedAt = f.now()
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateTrainingType(f.Ctx, tt) })
	return tt
}

func (f *Fixture) Rate(trainerID, typeID string, amount int64) {
	f.T.Helper()
	r := studio.TrainerRate{
		ID:             studio.NewID(),
		TrainerID:      trainerID,
		TrainingTypeID: typeID,
		Amount:         decimal.NewFromInt(amount),
		CreatedAt:      f.now(),
	}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.SetTrainerRate(f.Ctx, r) })
}

func (f *Fixture) Plan(price int64, sessions, validityDays int) studio.SubscriptionPlan {
	f.T.Helper()
	p := studio.SubscriptionPlan{
		ID:            studio.NewID(),
		Name:          "plan",
		Price:         decimal.NewFromInt(price),
		SessionsCount: sessions,
		ValidityDays:  validityDays,
		Active:        true,
		CreatedAt:     f.now(),
	}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateSubscriptionPlan(f.Ctx, p) })
	return p
}

// Subscription stores sub as given; ID and CreatedAt are filled in, and
// StartDate/EndDate default to a 30 day window around today.
func (f *Fixture) Subscription(sub studio.StudentSubscription) studio.StudentSubscription {
	f.T.Helper()
	sub.ID = studio.NewID()
	if sub.StartDate.IsZero() {
		sub.StartDate = f.Today().AddDays(-7)
	}
	if sub.EndDate.IsZero() {
		sub.EndDate = sub.StartDate.AddDays(30)
	}
	sub.CreatedAt = f.now()
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateSubscription(f.Ctx, sub) })
	return sub
}

// Training stores a training on date at start.
func (f *Fixture) Training(trainerID, typeID string, date studio.Date, start studio.ClockTime) studio.Training {
	f.T.Helper()
	tr := studio.Training{
		ID:                    studio.NewID(),
		TrainerID:             trainerID,
		TrainingTypeID:        typeID,
		Date:                  date,
		StartTime:             start,
		TrainerSalaryEligible: true,
		CreatedAt:             f.now(),
	}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateTraining(f.Ctx, tr) })
	return tr
}

// Record stores a REGISTERED attendance record unless status says otherwise.
func (f *Fixture) Record(trainingID, studentID, subscriptionID string, status studio.AttendanceStatus) studio.AttendanceRecord {
	f.T.Helper()
	if status == "" {
		status = studio.StatusRegistered
	}
	rec := studio.AttendanceRecord{
		ID:             studio.NewID(),
		TrainingID:     trainingID,
		StudentID:      studentID,
		SubscriptionID: subscriptionID,
		Status:         status,
		CreatedAt:      f.now(),
	}
	f.Tx(func(s studio.Store, _ *ledger.Books) error { return s.CreateAttendance(f.Ctx, rec) })
	return rec
}

// Invoice raises an invoice through the ledger (UNPAID unless inv.Status
// says PENDING) without trying to pay it.
func (f *Fixture) Invoice(inv studio.Invoice) studio.Invoice {
	f.T.Helper()
	var out *studio.Invoice
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.Raise(f.Ctx, inv)
		return err
	})
	return *out
}

// =============================================================================
// READS
// =============================================================================

func (f *Fixture) GetClient(id string) studio.Client {
	f.T.Helper()
	var out *studio.Client
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.GetClient(f.Ctx, id)
		return err
	})
	return *out
}

func (f *Fixture) GetSubscription(id string) studio.StudentSubscription {
	f.T.Helper()
	var out *studio.StudentSubscription
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.GetSubscription(f.Ctx, id)
		return err
	})
	return *out
}

func (f *Fixture) Subscriptions(studentID string) []studio.StudentSubscription {
	f.T.Helper()
	var out []studio.StudentSubscription
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.ListStudentSubscriptions(f.Ctx, studentID)
		return err
	})
	return out
}

func (f *Fixture) GetTraining(id string) studio.Training {
	f.T.Helper()
	var out *studio.Training
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.GetTraining(f.Ctx, id)
		return err
	})
	return *out
}

func (f *Fixture) GetRecord(id string) studio.AttendanceRecord {
	f.T.Helper()
	var out *studio.AttendanceRecord
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.GetAttendance(f.Ctx, id)
		return err
	})
	return *out
}

func (f *Fixture) Records(trainingID string) []studio.AttendanceRecord {
	f.T.Helper()
	var out []studio.AttendanceRecord
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.ListAttendance(f.Ctx, trainingID)
		return err
	})
	return out
}

func (f *Fixture) Invoices(filter studio.InvoiceFilter) []studio.Invoice {
	f.T.Helper()
	var out []studio.Invoice
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.ListInvoices(f.Ctx, filter)
		return err
	})
	return out
}

func (f *Fixture) History(clientID string) []studio.PaymentHistory {
	f.T.Helper()
	var out []studio.PaymentHistory
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.ListPaymentHistory(f.Ctx, clientID)
		return err
	})
	return out
}

func (f *Fixture) Expenses(trainerID string) []studio.Expense {
	f.T.Helper()
	var out []studio.Expense
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		var err error
		out, err = s.ListExpenses(f.Ctx, trainerID)
		return err
	})
	return out
}

package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/reconcile"
	"github.com/aryzhykau/atlantis-engine/store/sqlstore"
	"github.com/aryzhykau/atlantis-engine/studio"
	"github.com/aryzhykau/atlantis-engine/studio/studiotest"
)

// SQLiteSuite runs every test against a fresh in-memory SQLite database with
// a clock that advances a millisecond per read.
type SQLiteSuite struct {
	suite.Suite
	store *sqlstore.Store
	f     *studiotest.Fixture
}

func TestSQLiteSuite(t *testing.T) {
	suite.Run(t, new(SQLiteSuite))
}

func (s *SQLiteSuite) SetupTest() {
	st, err := sqlstore.NewSQLite(context.Background(), ":memory:", nil)
	s.Require().NoError(err)
	s.store = st
	s.f = studiotest.NewWith(s.T(), st, studiotest.TickingClock(studiotest.Monday, time.Millisecond))
}

func (s *SQLiteSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *SQLiteSuite) tx(fn func(st studio.Store) error) error {
	return s.store.WithTx(s.f.Ctx, fn)
}

// subscription stores a subscription on a real plan; the schema requires one.
func (s *SQLiteSuite) subscription(sub studio.StudentSubscription) studio.StudentSubscription {
	if sub.PlanID == "" {
		sub.PlanID = s.f.Plan(100, 8, 30).ID
	}
	return s.f.Subscription(sub)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func (s *SQLiteSuite) TestTrainingTypeRoundTrip() {
	cutoff := studio.NewClockTime(12, 0)
	tt := s.f.Type(studio.TrainingType{
		Name:             "Private",
		Price:            decimal.RequireFromString("12.50"),
		MaxParticipants:  1,
		SubscriptionOnly: true,
		CancellationRules: studio.CancellationRules{
			Mode:        studio.ModeFixed,
			CutoffTime:  &cutoff,
			PreviousDay: true,
		},
	})

	var got *studio.TrainingType
	s.Require().NoError(s.tx(func(st studio.Store) error {
		var err error
		got, err = st.GetTrainingType(s.f.Ctx, tt.ID)
		return err
	}))

	s.Equal("Private", got.Name)
	s.True(decimal.RequireFromString("12.5").Equal(got.Price))
	s.Equal(1, got.MaxParticipants)
	s.True(got.SubscriptionOnly)
	s.Equal(studio.ModeFixed, got.Mode)
	s.Require().NotNil(got.CutoffTime)
	s.Equal(cutoff, *got.CutoffTime)
	s.True(got.PreviousDay)
}

func (s *SQLiteSuite) TestSubscriptionRoundTrip() {
	st := s.f.Student("")
	start, end := studio.NewDate(2026, 3, 10), studio.NewDate(2026, 3, 16)
	sub := s.subscription(studio.StudentSubscription{
		StudentID:    st.ID,
		StartDate:    studio.NewDate(2026, 3, 1),
		EndDate:      studio.NewDate(2026, 3, 31),
		SessionsLeft: 7,
		FreezeStart:  &start,
		FreezeEnd:    &end,
		AutoRenew:    true,
	})

	got := s.f.GetSubscription(sub.ID)

	s.Equal(sub.StartDate, got.StartDate)
	s.Equal(sub.EndDate, got.EndDate)
	s.Equal(7, got.SessionsLeft)
	s.Require().NotNil(got.FreezeStart)
	s.Equal(start, *got.FreezeStart)
	s.Equal(end, *got.FreezeEnd)
	s.True(got.AutoRenew)

	got.FreezeStart, got.FreezeEnd = nil, nil
	s.Require().NoError(s.tx(func(st studio.Store) error { return st.UpdateSubscription(s.f.Ctx, got) }))
	s.Nil(s.f.GetSubscription(sub.ID).FreezeEnd)

	s.Len(s.f.Subscriptions(st.ID), 1)
}

func (s *SQLiteSuite) TestTrainingRoundTrip() {
	tr := s.f.Trainer(false)
	tt := s.f.Type(studio.TrainingType{})
	training := s.f.Training(tr.ID, tt.ID, studio.NewDate(2026, 3, 5), studio.NewClockTime(18, 30))

	got := s.f.GetTraining(training.ID)

	s.Equal(training.Date, got.Date)
	s.Equal(studio.NewClockTime(18, 30), got.StartTime)
	s.Nil(got.ProcessedAt)
	s.Nil(got.CancelledAt)
	s.True(got.TrainerSalaryEligible)
	s.Equal("", got.TemplateID)

	var onDay []studio.Training
	s.Require().NoError(s.tx(func(st studio.Store) error {
		var err error
		onDay, err = st.ListTrainingsOn(s.f.Ctx, studio.NewDate(2026, 3, 5))
		return err
	}))
	s.Len(onDay, 1)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (s *SQLiteSuite) TestMissingRowsAreNotFound() {
	err := s.tx(func(st studio.Store) error {
		_, err := st.GetClient(s.f.Ctx, "missing")
		return err
	})
	s.ErrorIs(err, studio.ErrNotFound)

	err = s.tx(func(st studio.Store) error {
		return st.UpdateClient(s.f.Ctx, studio.Client{ID: "missing", Balance: decimal.Zero})
	})
	s.ErrorIs(err, studio.ErrNotFound)
}

func (s *SQLiteSuite) TestUniqueIndexesAreConflicts() {
	tr := s.f.Trainer(false)
	tt := s.f.Type(studio.TrainingType{})
	student := s.f.Student("")

	s.Run("template slot", func() {
		tmpl := studio.TrainingTemplate{
			ID: studio.NewID(), Weekday: 1, StartTime: studio.NewClockTime(9, 0),
			TrainerID: tr.ID, TrainingTypeID: tt.ID, Active: true, CreatedAt: studiotest.Monday,
		}
		s.Require().NoError(s.tx(func(st studio.Store) error { return st.CreateTemplate(s.f.Ctx, tmpl) }))
		tmpl.ID = studio.NewID()
		err := s.tx(func(st studio.Store) error { return st.CreateTemplate(s.f.Ctx, tmpl) })
		s.ErrorIs(err, studio.ErrConflict)
	})

	s.Run("active attendance", func() {
		training := s.f.Training(tr.ID, tt.ID, s.f.Today(), studio.NewClockTime(10, 0))
		s.f.Record(training.ID, student.ID, "", "")
		err := s.tx(func(st studio.Store) error {
			return st.CreateAttendance(s.f.Ctx, studio.AttendanceRecord{
				ID: studio.NewID(), TrainingID: training.ID, StudentID: student.ID,
				Status: studio.StatusRegistered, CreatedAt: studiotest.Monday,
			})
		})
		s.ErrorIs(err, studio.ErrConflict)
	})

	s.Run("cancelled attendance frees the pair", func() {
		training := s.f.Training(tr.ID, tt.ID, s.f.Today(), studio.NewClockTime(11, 0))
		s.f.Record(training.ID, student.ID, "", studio.StatusCancelledSafe)
		s.f.Record(training.ID, student.ID, "", "")

		var active *studio.AttendanceRecord
		s.Require().NoError(s.tx(func(st studio.Store) error {
			var err error
			active, err = st.FindActiveAttendance(s.f.Ctx, training.ID, student.ID)
			return err
		}))
		s.Require().NotNil(active)
		s.Equal(studio.StatusRegistered, active.Status)
	})

	s.Run("salary expense per training", func() {
		training := s.f.Training(tr.ID, tt.ID, s.f.Today(), studio.NewClockTime(12, 0))
		expense := studio.Expense{
			ID: studio.NewID(), TrainerID: tr.ID, TrainingID: training.ID, Type: studio.ExpenseTrainerSalary,
			Amount: decimal.NewFromInt(40), ExpenseDate: s.f.Today(), CreatedAt: studiotest.Monday,
		}
		s.Require().NoError(s.tx(func(st studio.Store) error { return st.CreateExpense(s.f.Ctx, expense) }))
		expense.ID = studio.NewID()
		err := s.tx(func(st studio.Store) error { return st.CreateExpense(s.f.Ctx, expense) })
		s.ErrorIs(err, studio.ErrConflict)
	})
}

func (s *SQLiteSuite) TestFailedTransactionRollsBack() {
	c := s.f.Client(10)
	boom := errors.New("boom")

	err := s.tx(func(st studio.Store) error {
		c.Balance = decimal.NewFromInt(999)
		if err := st.UpdateClient(s.f.Ctx, c); err != nil {
			return err
		}
		return boom
	})

	s.ErrorIs(err, boom)
	s.True(decimal.NewFromInt(10).Equal(s.f.GetClient(c.ID).Balance))
}

func (s *SQLiteSuite) TestBatchRunUpsert() {
	run := studio.BatchRun{
		ID: studio.NewID(), Kind: studio.RunDailyBatch, RunDate: s.f.Today(),
		Status: studio.RunRunning, StartedAt: studiotest.Monday,
	}
	s.Require().NoError(s.tx(func(st studio.Store) error { return st.SaveBatchRun(s.f.Ctx, run) }))
	done := studiotest.Monday.Add(time.Minute)
	run.Status, run.Processed, run.CompletedAt = studio.RunCompleted, 3, &done
	s.Require().NoError(s.tx(func(st studio.Store) error { return st.SaveBatchRun(s.f.Ctx, run) }))

	var runs []studio.BatchRun
	s.Require().NoError(s.tx(func(st studio.Store) error {
		var err error
		runs, err = st.ListBatchRuns(s.f.Ctx, studio.RunDailyBatch)
		return err
	}))

	s.Require().Len(runs, 1)
	s.Equal(studio.RunCompleted, runs[0].Status)
	s.Equal(3, runs[0].Processed)
	s.Require().NotNil(runs[0].CompletedAt)
}

// =============================================================================
// LEDGER OVER SQL
// =============================================================================

func (s *SQLiteSuite) TestPaymentsSettleAndReopenInOrder() {
	// GIVEN: Invoices of $50 and $30
	c := s.f.Client(0)
	older := s.f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: decimal.NewFromInt(50)})
	newer := s.f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: decimal.NewFromInt(30)})

	// WHEN: $80 is paid
	var paid *ledger.PaymentResult
	s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		paid, err = books.Invoices.ApplyPayment(s.f.Ctx, c.ID, decimal.NewFromInt(80), "cash")
		return err
	})

	// THEN: Both are settled oldest first
	s.Require().Len(paid.Settled, 2)
	s.Equal(older.ID, paid.Settled[0].ID)
	s.Equal(newer.ID, paid.Settled[1].ID)
	s.True(decimal.Zero.Equal(s.f.GetClient(c.ID).Balance))

	// WHEN: The payment is cancelled
	var cancelled *ledger.PaymentCancellation
	s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		cancelled, err = books.Invoices.CancelPayment(s.f.Ctx, paid.Payment.ID)
		return err
	})

	// THEN: Both reopen, the most recently paid first
	s.Require().Len(cancelled.Reopened, 2)
	s.Equal(newer.ID, cancelled.Reopened[0].ID)
	s.Equal(older.ID, cancelled.Reopened[1].ID)

	// AND: The journal reads back in order
	ops := make([]studio.Operation, 0)
	for _, h := range s.f.History(c.ID) {
		ops = append(ops, h.Operation)
	}
	s.Equal([]studio.Operation{
		studio.OpPayment, studio.OpInvoicePayment, studio.OpInvoicePayment,
		studio.OpCancellation, studio.OpInvoiceReopen, studio.OpInvoiceReopen,
	}, ops)
}

func (s *SQLiteSuite) TestInvoiceOrderSurvivesStoppedClock() {
	// Same store, but a clock that never moves.
	f := studiotest.NewWith(s.T(), s.store, studio.FixedClock(studiotest.Monday))
	c := f.Client(0)
	older := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: decimal.NewFromInt(50)})
	newer := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: decimal.NewFromInt(30)})

	var res *ledger.PaymentResult
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		res, err = books.Invoices.ApplyPayment(f.Ctx, c.ID, decimal.NewFromInt(30), "cash")
		return err
	})

	s.True(older.CreatedAt.Before(newer.CreatedAt))
	s.Empty(res.Settled)
	unpaid := f.Invoices(studio.InvoiceFilter{ClientID: c.ID, Statuses: []studio.InvoiceStatus{studio.InvoiceUnpaid}})
	s.Require().Len(unpaid, 2)
	s.Equal(older.ID, unpaid[0].ID)
}

func (s *SQLiteSuite) TestDailyBatchOverSQL() {
	// GIVEN: Tomorrow's training with a subscriber
	tt := s.f.Type(studio.TrainingType{Price: decimal.NewFromInt(20), MaxParticipants: 4})
	training := s.f.Training(s.f.Trainer(false).ID, tt.ID, s.f.Today().AddDays(1), studio.NewClockTime(18, 0))
	st := s.f.Student("")
	sub := s.subscription(studio.StudentSubscription{StudentID: st.ID, SessionsLeft: 5})
	rec := s.f.Record(training.ID, st.ID, sub.ID, "")

	// WHEN: The batch runs twice
	batch := reconcile.NewBatch(s.store, s.f.Settings, nil)
	first, err := batch.Run(s.f.Ctx)
	s.Require().NoError(err)
	second, err := batch.Run(s.f.Ctx)
	s.Require().NoError(err)

	// THEN: One session is taken and the record remembers where from
	s.Equal(1, first.Deducted)
	s.Zero(second.Deducted)
	s.Equal(4, s.f.GetSubscription(sub.ID).SessionsLeft)
	got := s.f.GetRecord(rec.ID)
	s.True(got.SessionDeducted)
	s.Equal(studio.DeductionSessions, got.DeductionSource)
	s.NotNil(s.f.GetTraining(training.ID).ProcessedAt)
}

// =============================================================================
// PLAIN TESTS
// =============================================================================

func TestNewSQLite_MigratesTwice(t *testing.T) {
	// GIVEN: A file database migrated once
	path := t.TempDir() + "/atlantis.db"
	first, err := sqlstore.NewSQLite(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// WHEN: It is opened again
	second, err := sqlstore.NewSQLite(context.Background(), path, nil)

	// THEN: The migrations are already applied and nothing fails
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, sqlstore.SQLite, second.Dialect())
}

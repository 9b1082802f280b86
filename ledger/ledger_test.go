package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/studio"
	"github.com/aryzhykau/atlantis-engine/studio/studiotest"
)

func usd(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func pay(f *studiotest.Fixture, clientID string, amount int64) *ledger.PaymentResult {
	f.T.Helper()
	var out *ledger.PaymentResult
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.ApplyPayment(f.Ctx, clientID, usd(amount), "payment")
		return err
	})
	return out
}

func invoiceStatus(f *studiotest.Fixture, id string) studio.InvoiceStatus {
	f.T.Helper()
	var st studio.InvoiceStatus
	f.Tx(func(s studio.Store, _ *ledger.Books) error {
		inv, err := s.GetInvoice(f.Ctx, id)
		if err == nil {
			st = inv.Status
		}
		return err
	})
	return st
}

// =============================================================================
// PAYMENTS - FIFO settlement
// =============================================================================

func TestApplyPayment_SettlesOldestFirst(t *testing.T) {
	// GIVEN: UNPAID invoices of $50 (oldest) and $30 (newest)
	f := studiotest.New(t)
	c := f.Client(0)
	older := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(50)})
	newer := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(30)})

	// WHEN: A $60 payment arrives
	res := pay(f, c.ID, 60)

	// THEN: The $50 invoice is paid, the $30 stays UNPAID, $10 remains
	require.Len(t, res.Settled, 1)
	assert.Equal(t, older.ID, res.Settled[0].ID)
	assert.True(t, usd(10).Equal(res.Balance))
	assert.Equal(t, studio.InvoicePaid, invoiceStatus(f, older.ID))
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, newer.ID))
	assert.True(t, usd(10).Equal(f.GetClient(c.ID).Balance))
}

func TestApplyPayment_StopsAtFirstUncoveredInvoice(t *testing.T) {
	// GIVEN: $50 (oldest) then $5
	f := studiotest.New(t)
	c := f.Client(0)
	big := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(50)})
	small := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(5)})

	// WHEN: $40 is paid
	res := pay(f, c.ID, 40)

	// THEN: Nothing is settled, the cheaper newer invoice does not jump the queue
	assert.Empty(t, res.Settled)
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, big.ID))
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, small.ID))
	assert.True(t, usd(40).Equal(res.Balance))
}

func TestApplyPayment_FIFOAcrossOperationsWithStoppedClock(t *testing.T) {
	// GIVEN: A clock that never moves, and invoices raised by separate operations
	f := studiotest.New(t)
	c := f.Client(0)
	var older studio.Invoice
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		if _, err := books.Invoices.ApplyPayment(f.Ctx, c.ID, usd(1), "deposit"); err != nil {
			return err
		}
		inv, err := books.Invoices.Raise(f.Ctx, studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(50)})
		if err == nil {
			older = *inv
		}
		return err
	})
	newer := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(30)})

	// WHEN: $30 arrives
	res := pay(f, c.ID, 30)

	// THEN: The older $50 invoice still blocks the queue
	assert.True(t, older.CreatedAt.Before(newer.CreatedAt))
	assert.Empty(t, res.Settled)
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, older.ID))
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, newer.ID))

	// AND: The journal keeps operation order
	history := f.History(c.ID)
	require.Len(t, history, 2)
	assert.Equal(t, "deposit", history[0].Description)
	assert.Equal(t, "payment", history[1].Description)
	assert.True(t, history[0].CreatedAt.Before(history[1].CreatedAt))
}

func TestApplyPayment_IgnoresPendingInvoices(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(0)
	pending := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(20), Status: studio.InvoicePending})

	res := pay(f, c.ID, 100)

	assert.Empty(t, res.Settled)
	assert.Equal(t, studio.InvoicePending, invoiceStatus(f, pending.ID))
}

func TestApplyPayment_RejectsNonPositiveAmount(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(0)

	for _, amount := range []int64{0, -5} {
		err := f.TryTx(func(_ studio.Store, books *ledger.Books) error {
			_, err := books.Invoices.ApplyPayment(f.Ctx, c.ID, usd(amount), "")
			return err
		})
		assert.ErrorIs(t, err, studio.ErrValidation)
	}
	assert.Empty(t, f.History(c.ID))
}

func TestApplyPayment_JournalsEveryMutation(t *testing.T) {
	// GIVEN: One $50 invoice
	f := studiotest.New(t)
	c := f.Client(0)
	inv := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(50)})

	// WHEN: $60 is paid
	res := pay(f, c.ID, 60)

	// THEN: The journal shows the credit then the settlement with running balances
	h := f.History(c.ID)
	require.Len(t, h, 2)
	assert.Equal(t, studio.OpPayment, h[0].Operation)
	assert.True(t, decimal.Zero.Equal(h[0].BalanceBefore))
	assert.True(t, usd(60).Equal(h[0].BalanceAfter))
	assert.Equal(t, res.Payment.ID, h[0].PaymentID)

	assert.Equal(t, studio.OpInvoicePayment, h[1].Operation)
	assert.Equal(t, inv.ID, h[1].InvoiceID)
	assert.True(t, usd(50).Equal(h[1].Amount))
	assert.True(t, usd(60).Equal(h[1].BalanceBefore))
	assert.True(t, usd(10).Equal(h[1].BalanceAfter))
}

// =============================================================================
// PAYMENT CANCELLATION - LIFO reopening
// =============================================================================

func TestCancelPayment_ReopensMostRecentlyPaidFirst(t *testing.T) {
	// GIVEN: A client with $60 on account and two $60 invoices (older, newer)
	//        that a $100 payment settled, leaving $40
	f := studiotest.New(t)
	c := f.Client(0)
	pay(f, c.ID, 60)
	older := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(60)})
	newer := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(60)})
	res := pay(f, c.ID, 100)
	require.Len(t, res.Settled, 2)
	require.True(t, usd(40).Equal(res.Balance))

	// WHEN: The $100 payment is cancelled (balance drops to -$60)
	var out *ledger.PaymentCancellation
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.CancelPayment(f.Ctx, res.Payment.ID)
		return err
	})

	// THEN: Only the newer invoice is reopened and the balance is back to zero
	require.Len(t, out.Reopened, 1)
	assert.Equal(t, newer.ID, out.Reopened[0].ID)
	assert.True(t, decimal.Zero.Equal(out.Balance))
	assert.Equal(t, studio.InvoiceUnpaid, invoiceStatus(f, newer.ID))
	assert.Equal(t, studio.InvoicePaid, invoiceStatus(f, older.ID))
	assert.NotNil(t, out.Payment.CancelledAt)
}

func TestCancelPayment_ReopensUntilBalanceIsNonNegative(t *testing.T) {
	// GIVEN: Two $60 invoices settled by a single $120 payment
	f := studiotest.New(t)
	c := f.Client(0)
	f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(60)})
	f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(60)})
	res := pay(f, c.ID, 120)
	require.Len(t, res.Settled, 2)

	// WHEN: It is cancelled
	var out *ledger.PaymentCancellation
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Invoices.CancelPayment(f.Ctx, res.Payment.ID)
		return err
	})

	// THEN: Both come back, newest first
	require.Len(t, out.Reopened, 2)
	assert.Equal(t, res.Settled[1].ID, out.Reopened[0].ID)
	assert.Equal(t, res.Settled[0].ID, out.Reopened[1].ID)
	assert.True(t, decimal.Zero.Equal(out.Balance))
}

func TestCancelPayment_Twice(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(0)
	res := pay(f, c.ID, 30)

	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Invoices.CancelPayment(f.Ctx, res.Payment.ID)
		return err
	})
	err := f.TryTx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Invoices.CancelPayment(f.Ctx, res.Payment.ID)
		return err
	})

	assert.ErrorIs(t, err, studio.ErrConflict)
	assert.True(t, decimal.Zero.Equal(f.GetClient(c.ID).Balance))
}

// =============================================================================
// INVOICES
// =============================================================================

func TestCancelInvoice_RefundsPaidInvoice(t *testing.T) {
	// GIVEN: A $40 invoice paid from a $100 balance
	f := studiotest.New(t)
	c := f.Client(100)
	var inv *studio.Invoice
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		inv, err = books.Invoices.RaiseAndCollect(f.Ctx, studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(40)})
		return err
	})
	require.True(t, usd(60).Equal(f.GetClient(c.ID).Balance))

	// WHEN: The invoice is cancelled
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Invoices.Cancel(f.Ctx, inv.ID)
		return err
	})

	// THEN: The debit is refunded and the invoice is CANCELLED
	assert.True(t, usd(100).Equal(f.GetClient(c.ID).Balance))
	assert.Equal(t, studio.InvoiceCancelled, invoiceStatus(f, inv.ID))

	// AND: Cancelling again is a conflict
	err := f.TryTx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Invoices.Cancel(f.Ctx, inv.ID)
		return err
	})
	assert.ErrorIs(t, err, studio.ErrConflict)
}

func TestActivate_PendingBecomesDueAndAutoPays(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(25)
	inv := f.Invoice(studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(25), Status: studio.InvoicePending})

	f.Tx(func(_ studio.Store, books *ledger.Books) error { return books.Invoices.Activate(f.Ctx, &inv) })

	assert.Equal(t, studio.InvoicePaid, invoiceStatus(f, inv.ID))
	assert.True(t, decimal.Zero.Equal(f.GetClient(c.ID).Balance))
}

func TestRaise_RejectsNegativeAmount(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(0)
	err := f.TryTx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Invoices.Raise(f.Ctx, studio.Invoice{ClientID: c.ID, Type: studio.InvoiceTraining, Amount: usd(-1)})
		return err
	})
	assert.ErrorIs(t, err, studio.ErrValidation)
}

// =============================================================================
// SESSIONS - Deduction priority
// =============================================================================

type sessionsSetup struct {
	f        *studiotest.Fixture
	student  studio.Student
	training studio.Training
}

func newSessionsSetup(t *testing.T, clientBalance, price int64) sessionsSetup {
	f := studiotest.New(t)
	c := f.Client(clientBalance)
	st := f.Student(c.ID)
	tt := f.Type(studio.TrainingType{Price: usd(price), MaxParticipants: 10})
	tr := f.Trainer(false)
	training := f.Training(tr.ID, tt.ID, f.Today(), studio.NewClockTime(18, 0))
	return sessionsSetup{f: f, student: st, training: training}
}

func (s sessionsSetup) deduct(rec *studio.AttendanceRecord) *ledger.Deduction {
	s.f.T.Helper()
	var out *ledger.Deduction
	s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Sessions.Deduct(s.f.Ctx, rec, &s.training)
		return err
	})
	return out
}

func TestDeduct_TransferredBeforeSkipped(t *testing.T) {
	// GIVEN: sessions_left=0, transferred=2, skipped=1 and a PRESENT record
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{
		StudentID: s.student.ID, TransferredSessions: 2, SkippedSessions: 1,
	})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)

	// WHEN: One session is deducted
	d := s.deduct(&rec)

	// THEN: transferred_sessions drops to 1, skipped is untouched
	assert.Equal(t, studio.DeductionTransferred, d.Source)
	got := s.f.GetSubscription(sub.ID)
	assert.Equal(t, 1, got.TransferredSessions)
	assert.Equal(t, 1, got.SkippedSessions)
	assert.Equal(t, 0, got.SessionsLeft)
	assert.True(t, s.f.GetRecord(rec.ID).SessionDeducted)
}

func TestDeduct_SessionsLeftFirst(t *testing.T) {
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{
		StudentID: s.student.ID, SessionsLeft: 3, TransferredSessions: 2, SkippedSessions: 1,
	})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)

	d := s.deduct(&rec)

	assert.Equal(t, studio.DeductionSessions, d.Source)
	got := s.f.GetSubscription(sub.ID)
	assert.Equal(t, 2, got.SessionsLeft)
	assert.Equal(t, 2, got.TransferredSessions)
}

func TestDeduct_SkippedOnlyForAttendedRecords(t *testing.T) {
	// GIVEN: Only a skipped session left, no auto-renew, record still REGISTERED
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, SkippedSessions: 1})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, "")

	// WHEN: Deducted
	d := s.deduct(&rec)

	// THEN: The skipped session is not used; an UNPAID penalty invoice is raised
	assert.Equal(t, studio.DeductionInvoice, d.Source)
	require.NotNil(t, d.Invoice)
	assert.Equal(t, studio.InvoicePenalty, d.Invoice.Type)
	assert.Equal(t, studio.InvoiceUnpaid, d.Invoice.Status)
	assert.Equal(t, 1, s.f.GetSubscription(sub.ID).SkippedSessions)
}

func TestDeduct_SkippedSessionForAttendedRecord(t *testing.T) {
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, SkippedSessions: 1})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusAbsent)

	d := s.deduct(&rec)

	assert.Equal(t, studio.DeductionSkipped, d.Source)
	assert.Equal(t, 0, s.f.GetSubscription(sub.ID).SkippedSessions)
}

func TestDeduct_BorrowsWhenAutoRenew(t *testing.T) {
	// GIVEN: An exhausted auto-renewing subscription
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, AutoRenew: true})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)

	// WHEN: Deducted
	d := s.deduct(&rec)

	// THEN: The debt is carried, no invoice
	assert.Equal(t, studio.DeductionBorrowed, d.Source)
	assert.Nil(t, d.Invoice)
	assert.Equal(t, 1, s.f.GetSubscription(sub.ID).BorrowedSessions)
	assert.Empty(t, s.f.Invoices(studio.InvoiceFilter{StudentID: s.student.ID}))
}

func TestDeduct_WithoutSubscriptionBillsTraining(t *testing.T) {
	// GIVEN: No subscription and $30 on account for a $20 training
	s := newSessionsSetup(t, 30, 20)
	rec := s.f.Record(s.training.ID, s.student.ID, "", studio.StatusPresent)

	// WHEN: Deducted
	d := s.deduct(&rec)

	// THEN: A TRAINING invoice is raised and auto-paid
	require.NotNil(t, d.Invoice)
	assert.Equal(t, studio.InvoiceTraining, d.Invoice.Type)
	assert.Equal(t, studio.InvoicePaid, d.Invoice.Status)
	assert.True(t, usd(10).Equal(s.f.GetClient(s.student.ClientID).Balance))
}

func TestDeduct_FreeTraining(t *testing.T) {
	s := newSessionsSetup(t, 0, 0)
	rec := s.f.Record(s.training.ID, s.student.ID, "", studio.StatusPresent)

	d := s.deduct(&rec)

	assert.Equal(t, studio.DeductionFree, d.Source)
	assert.Nil(t, d.Invoice)
	assert.True(t, s.f.GetRecord(rec.ID).SessionDeducted)
}

func TestDeduct_IsIdempotent(t *testing.T) {
	// GIVEN: A subscription with 5 sessions
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, SessionsLeft: 5})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)

	// WHEN: The same record is deducted twice
	first := s.deduct(&rec)
	stored := s.f.GetRecord(rec.ID)
	second := s.deduct(&stored)

	// THEN: Only one session is consumed
	assert.False(t, first.AlreadyDeducted)
	assert.True(t, second.AlreadyDeducted)
	assert.Equal(t, 4, s.f.GetSubscription(sub.ID).SessionsLeft)
}

// =============================================================================
// SESSIONS - Refunds
// =============================================================================

func TestSkip_BanksSessionUpToCap(t *testing.T) {
	cases := []struct {
		name          string
		skipped       int
		wantSkipped   int
		wantForfeited bool
	}{
		{"below cap", 0, 1, false},
		{"one below cap", 2, 3, false},
		{"at cap", 3, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN: A session deducted from sessions_left
			s := newSessionsSetup(t, 0, 20)
			sub := s.f.Subscription(studio.StudentSubscription{
				StudentID: s.student.ID, SessionsLeft: 4, SkippedSessions: tc.skipped,
			})
			rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, "")
			s.deduct(&rec)

			// WHEN: The student cancels safely
			var forfeited bool
			s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
				var err error
				forfeited, err = books.Sessions.Skip(s.f.Ctx, &rec)
				return err
			})

			// THEN: The session is banked, unless the bank is full
			assert.Equal(t, tc.wantForfeited, forfeited)
			got := s.f.GetSubscription(sub.ID)
			assert.Equal(t, tc.wantSkipped, got.SkippedSessions)
			assert.Equal(t, 3, got.SessionsLeft)
		})
	}
}

func TestSkip_BorrowedCancelsDebt(t *testing.T) {
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, AutoRenew: true})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, "")
	s.deduct(&rec)
	require.Equal(t, 1, s.f.GetSubscription(sub.ID).BorrowedSessions)

	s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Sessions.Skip(s.f.Ctx, &rec)
		return err
	})

	got := s.f.GetSubscription(sub.ID)
	assert.Equal(t, 0, got.BorrowedSessions)
	assert.Equal(t, 0, got.SkippedSessions)
}

func TestRestore_ReturnsSessionAndClearsFlag(t *testing.T) {
	s := newSessionsSetup(t, 0, 20)
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: s.student.ID, SessionsLeft: 2})
	rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)
	s.deduct(&rec)

	var restored bool
	s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		restored, err = books.Sessions.Restore(s.f.Ctx, &rec)
		return err
	})

	assert.True(t, restored)
	assert.False(t, rec.SessionDeducted)
	assert.Equal(t, 2, s.f.GetSubscription(sub.ID).SessionsLeft)
}

func TestRestore_ReturnsUnitToItsSource(t *testing.T) {
	cases := []struct {
		name   string
		sub    studio.StudentSubscription
		source studio.DeductionSource
	}{
		{"transferred", studio.StudentSubscription{TransferredSessions: 1, SkippedSessions: 1}, studio.DeductionTransferred},
		{"skipped", studio.StudentSubscription{SkippedSessions: 2}, studio.DeductionSkipped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN: A session taken from a carried-over counter
			s := newSessionsSetup(t, 0, 20)
			tc.sub.StudentID = s.student.ID
			sub := s.f.Subscription(tc.sub)
			rec := s.f.Record(s.training.ID, s.student.ID, sub.ID, studio.StatusPresent)
			require.Equal(t, tc.source, s.deduct(&rec).Source)

			// WHEN: It is restored
			s.f.Tx(func(_ studio.Store, books *ledger.Books) error {
				_, err := books.Sessions.Restore(s.f.Ctx, &rec)
				return err
			})

			// THEN: The same counter gets it back, sessions_left stays empty
			got := s.f.GetSubscription(sub.ID)
			assert.Equal(t, tc.sub.TransferredSessions, got.TransferredSessions)
			assert.Equal(t, tc.sub.SkippedSessions, got.SkippedSessions)
			assert.Equal(t, 0, got.SessionsLeft)
		})
	}
}

// =============================================================================
// AUTO-RENEWAL
// =============================================================================

func renew(f *studiotest.Fixture, subID string) *ledger.Renewal {
	f.T.Helper()
	var out *ledger.Renewal
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		out, err = books.Sessions.AutoRenew(f.Ctx, subID, f.Today())
		return err
	})
	return out
}

func TestAutoRenew_TransfersUpToThreeSessions(t *testing.T) {
	// GIVEN: An auto-renewing subscription ending today with 5 sessions left,
	//        on a plan of 8 sessions, and funds for the renewal
	f := studiotest.New(t)
	c := f.Client(100)
	st := f.Student(c.ID)
	plan := f.Plan(100, 8, 30)
	sub := f.Subscription(studio.StudentSubscription{
		StudentID: st.ID, PlanID: plan.ID, StartDate: f.Today().AddDays(-30), EndDate: f.Today(),
		SessionsLeft: 5, AutoRenew: true,
	})

	// WHEN: Auto-renewal runs
	r := renew(f, sub.ID)

	// THEN: The successor opens with 8 + 3 = 11 sessions, 3 of them transferred
	require.NotNil(t, r)
	assert.Equal(t, 11, r.Successor.SessionsLeft)
	assert.Equal(t, 3, r.Successor.TransferredSessions)
	assert.Equal(t, f.Today().AddDays(1), r.Successor.StartDate)
	assert.Equal(t, f.Today().AddDays(31), r.Successor.EndDate)
	assert.True(t, r.Successor.AutoRenew)

	// AND: The predecessor is emptied and linked to the paid renewal invoice
	pred := f.GetSubscription(sub.ID)
	assert.Equal(t, 0, pred.SessionsLeft)
	assert.Equal(t, r.Invoice.ID, pred.AutoRenewalInvoiceID)
	assert.Equal(t, studio.InvoicePaid, r.Invoice.Status)
	assert.True(t, r.Invoice.IsAutoRenewal)
	assert.True(t, decimal.Zero.Equal(f.GetClient(c.ID).Balance))
}

func TestAutoRenew_BorrowedSessionsReduceOpening(t *testing.T) {
	f := studiotest.New(t)
	st := f.Student("")
	plan := f.Plan(100, 8, 30)
	sub := f.Subscription(studio.StudentSubscription{
		StudentID: st.ID, PlanID: plan.ID, EndDate: f.Today(), BorrowedSessions: 2, AutoRenew: true,
	})

	r := renew(f, sub.ID)

	require.NotNil(t, r)
	assert.Equal(t, 6, r.Successor.SessionsLeft)
	assert.Equal(t, 0, r.Successor.TransferredSessions)
	assert.Equal(t, 0, f.GetSubscription(sub.ID).BorrowedSessions)
	assert.Equal(t, studio.InvoiceUnpaid, r.Invoice.Status, "no funds")
}

func TestAutoRenew_OnlyOnce(t *testing.T) {
	f := studiotest.New(t)
	st := f.Student("")
	plan := f.Plan(100, 8, 30)
	sub := f.Subscription(studio.StudentSubscription{
		StudentID: st.ID, PlanID: plan.ID, EndDate: f.Today(), SessionsLeft: 1, AutoRenew: true,
	})

	require.NotNil(t, renew(f, sub.ID))
	assert.Nil(t, renew(f, sub.ID))
	assert.Len(t, f.Subscriptions(st.ID), 2)
}

func TestAutoRenew_SkipsWhenNotDue(t *testing.T) {
	f := studiotest.New(t)
	st := f.Student("")
	plan := f.Plan(100, 8, 30)
	notToday := f.Subscription(studio.StudentSubscription{
		StudentID: st.ID, PlanID: plan.ID, EndDate: f.Today().AddDays(1), AutoRenew: true,
	})
	manual := f.Subscription(studio.StudentSubscription{
		StudentID: st.ID, PlanID: plan.ID, EndDate: f.Today(),
	})

	assert.Nil(t, renew(f, notToday.ID))
	assert.Nil(t, renew(f, manual.ID))
}

// =============================================================================
// SALE AND FREEZE
// =============================================================================

func TestSell_OpensSubscriptionAndBillsPlan(t *testing.T) {
	f := studiotest.New(t)
	c := f.Client(200)
	st := f.Student(c.ID)
	plan := f.Plan(160, 8, 30)

	var sub *studio.StudentSubscription
	var inv *studio.Invoice
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		sub, inv, err = books.Sessions.Sell(f.Ctx, st.ID, plan.ID, f.Today(), true)
		return err
	})

	assert.Equal(t, 8, sub.SessionsLeft)
	assert.Equal(t, f.Today().AddDays(30), sub.EndDate)
	assert.Equal(t, studio.InvoiceSubscription, inv.Type)
	assert.Equal(t, sub.ID, inv.SubscriptionID)
	assert.Equal(t, studio.InvoicePaid, inv.Status)
	assert.True(t, usd(40).Equal(f.GetClient(c.ID).Balance))
}

func TestFreeze_PersistsWindow(t *testing.T) {
	f := studiotest.New(t)
	st := f.Student("")
	sub := f.Subscription(studio.StudentSubscription{StudentID: st.ID, SessionsLeft: 4})

	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		_, err := books.Sessions.Freeze(f.Ctx, sub.ID, f.Today(), 10, f.Today())
		return err
	})

	got := f.GetSubscription(sub.ID)
	require.NotNil(t, got.FreezeEnd)
	assert.Equal(t, f.Today().AddDays(9), *got.FreezeEnd)
	assert.Equal(t, sub.EndDate.AddDays(10), got.EndDate)

	var released bool
	f.Tx(func(_ studio.Store, books *ledger.Books) error {
		var err error
		released, err = books.Sessions.ReleaseExpiredFreeze(f.Ctx, sub.ID, f.Today().AddDays(10))
		return err
	})
	assert.True(t, released)
	assert.Nil(t, f.GetSubscription(sub.ID).FreezeEnd)
}

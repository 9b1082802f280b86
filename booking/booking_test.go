package booking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/reconcile"
	"github.com/aryzhykau/atlantis-engine/studio"
	"github.com/aryzhykau/atlantis-engine/studio/studiotest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type setup struct {
	f        *studiotest.Fixture
	trainer  studio.Trainer
	tt       studio.TrainingType
	training studio.Training
}

// newSetup books nothing yet: one trainer and a training tomorrow at 18:00.
func newSetup(t *testing.T, tt studio.TrainingType) *setup {
	f := studiotest.New(t)
	tr := f.Trainer(false)
	if tt.MaxParticipants == 0 {
		tt.MaxParticipants = 10
	}
	typ := f.Type(tt)
	training := f.Training(tr.ID, typ.ID, f.Today().AddDays(1), studio.NewClockTime(18, 0))
	return &setup{f: f, trainer: tr, tt: typ, training: training}
}

func (s *setup) startsAt() time.Time { return s.training.StartsAt(time.UTC) }

func (s *setup) subscriber(sessions int) (studio.Student, studio.StudentSubscription) {
	st := s.f.Student("")
	sub := s.f.Subscription(studio.StudentSubscription{StudentID: st.ID, SessionsLeft: sessions})
	return st, sub
}

func (s *setup) register(studentID string) (*studio.AttendanceRecord, error) {
	var rec *studio.AttendanceRecord
	err := s.f.TryTx(func(st studio.Store, books *ledger.Books) error {
		var err error
		rec, err = booking.New(st, books, s.f.Settings).Register(s.f.Ctx, booking.RegisterInput{
			TrainingID: s.training.ID,
			StudentID:  studentID,
		})
		return err
	})
	return rec, err
}

func (s *setup) mustRegister(studentID string) *studio.AttendanceRecord {
	s.f.T.Helper()
	rec, err := s.register(studentID)
	require.NoError(s.f.T, err)
	return rec
}

func (s *setup) cancel(studentID string, notifiedAt time.Time) (*studio.AttendanceRecord, error) {
	var rec *studio.AttendanceRecord
	err := s.f.TryTx(func(st studio.Store, books *ledger.Books) error {
		var err error
		rec, err = booking.New(st, books, s.f.Settings).CancelStudent(s.f.Ctx, booking.CancelStudentInput{
			TrainingID: s.training.ID,
			StudentID:  studentID,
			Reason:     "sick",
			NotifiedAt: notifiedAt,
		})
		return err
	})
	return rec, err
}

func (s *setup) runBatch() *reconcile.Result {
	s.f.T.Helper()
	res, err := reconcile.NewBatch(s.f.Store, s.f.Settings, nil).Run(s.f.Ctx)
	require.NoError(s.f.T, err)
	return res
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegister_SubscriberIsCovered(t *testing.T) {
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st, sub := s.subscriber(5)

	rec := s.mustRegister(st.ID)

	assert.Equal(t, studio.StatusRegistered, rec.Status)
	assert.Equal(t, sub.ID, rec.SubscriptionID)
	assert.False(t, rec.RequiresPayment)
	assert.False(t, rec.SessionDeducted)
	assert.Equal(t, 5, s.f.GetSubscription(sub.ID).SessionsLeft, "nothing is charged before the batch")
	assert.Empty(t, s.f.Invoices(studio.InvoiceFilter{StudentID: st.ID}))
}

func TestRegister_PayPerSessionRaisesPendingInvoice(t *testing.T) {
	// GIVEN: A student without subscription and a $20 training
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st := s.f.Student("")

	// WHEN: The student registers
	rec := s.mustRegister(st.ID)

	// THEN: A PENDING training invoice is waiting for the batch
	assert.True(t, rec.RequiresPayment)
	invs := s.f.Invoices(studio.InvoiceFilter{StudentID: st.ID, TrainingID: s.training.ID})
	require.Len(t, invs, 1)
	assert.Equal(t, studio.InvoicePending, invs[0].Status)
	assert.Equal(t, studio.InvoiceTraining, invs[0].Type)
	assert.True(t, decimal.NewFromInt(20).Equal(invs[0].Amount))
}

func TestRegister_Rejections(t *testing.T) {
	t.Run("capacity reached", func(t *testing.T) {
		s := newSetup(t, studio.TrainingType{MaxParticipants: 1})
		s.mustRegister(s.f.Student("").ID)

		_, err := s.register(s.f.Student("").ID)

		assert.ErrorIs(t, err, studio.ErrConflict)
		assert.Len(t, s.f.Records(s.training.ID), 1)
	})

	t.Run("already registered", func(t *testing.T) {
		s := newSetup(t, studio.TrainingType{})
		st := s.f.Student("")
		s.mustRegister(st.ID)

		_, err := s.register(st.ID)

		assert.ErrorIs(t, err, studio.ErrConflict)
	})

	t.Run("subscription only without subscription", func(t *testing.T) {
		s := newSetup(t, studio.TrainingType{SubscriptionOnly: true, Price: decimal.NewFromInt(20)})

		_, err := s.register(s.f.Student("").ID)

		assert.ErrorIs(t, err, studio.ErrPreconditionFailed)
	})

	t.Run("subscription only with exhausted subscription", func(t *testing.T) {
		s := newSetup(t, studio.TrainingType{SubscriptionOnly: true})
		st, _ := s.subscriber(0)

		_, err := s.register(st.ID)

		assert.ErrorIs(t, err, studio.ErrPreconditionFailed)
	})

	t.Run("unknown student", func(t *testing.T) {
		s := newSetup(t, studio.TrainingType{})

		_, err := s.register("missing")

		assert.ErrorIs(t, err, studio.ErrNotFound)
	})
}

func TestRegister_CancelledSeatIsFreedForOthers(t *testing.T) {
	s := newSetup(t, studio.TrainingType{MaxParticipants: 1})
	first := s.f.Student("")
	s.mustRegister(first.ID)
	_, err := s.cancel(first.ID, s.startsAt().Add(-24*time.Hour))
	require.NoError(t, err)

	_, err = s.register(s.f.Student("").ID)

	assert.NoError(t, err)
}

func TestRegister_OnProcessedTrainingChargesImmediately(t *testing.T) {
	// GIVEN: Tomorrow's training was already processed by the batch
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	s.runBatch()
	require.NotNil(t, s.f.GetTraining(s.training.ID).ProcessedAt)
	st, sub := s.subscriber(5)

	// WHEN: A subscriber registers late
	rec := s.mustRegister(st.ID)

	// THEN: The session is deducted right away
	assert.True(t, rec.SessionDeducted)
	assert.Equal(t, 4, s.f.GetSubscription(sub.ID).SessionsLeft)
}

// =============================================================================
// STUDENT CANCELLATION
// =============================================================================

func TestCancelStudent_SafeAfterBatchBanksSkippedSession(t *testing.T) {
	// GIVEN: A subscriber with 5 sessions registered on tomorrow's training
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st, sub := s.subscriber(5)
	s.mustRegister(st.ID)

	// AND: The batch charged the session the day before
	res := s.runBatch()
	assert.Equal(t, 1, res.Deducted)
	require.Equal(t, 4, s.f.GetSubscription(sub.ID).SessionsLeft)

	// WHEN: The student cancels 13 hours before the start
	rec, err := s.cancel(st.ID, s.startsAt().Add(-13*time.Hour))
	require.NoError(t, err)

	// THEN: The cancellation is safe and the session is banked as skipped
	assert.Equal(t, studio.StatusCancelledSafe, rec.Status)
	got := s.f.GetSubscription(sub.ID)
	assert.Equal(t, 4, got.SessionsLeft)
	assert.Equal(t, 1, got.SkippedSessions)
	require.NotNil(t, rec.NotifiedAt)
	assert.Equal(t, "sick", rec.CancellationReason)

	// AND: The trainer has nobody left and loses the training
	assert.False(t, s.f.GetTraining(s.training.ID).TrainerSalaryEligible)
}

func TestCancelStudent_LateCancellationIsCharged(t *testing.T) {
	// GIVEN: A subscriber registered, nothing charged yet
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st, sub := s.subscriber(5)
	s.mustRegister(st.ID)

	// WHEN: The student cancels 3 hours before the start
	rec, err := s.cancel(st.ID, s.startsAt().Add(-3*time.Hour))
	require.NoError(t, err)

	// THEN: A session is charged as a penalty
	assert.Equal(t, studio.StatusCancelledPenalty, rec.Status)
	assert.True(t, rec.SessionDeducted)
	assert.Equal(t, 4, s.f.GetSubscription(sub.ID).SessionsLeft)

	// AND: A late cancellation still pays the trainer
	assert.True(t, s.f.GetTraining(s.training.ID).TrainerSalaryEligible)
}

func TestCancelStudent_LateWithoutSessionsRaisesPenaltyInvoice(t *testing.T) {
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st := s.f.Student("")
	s.mustRegister(st.ID)

	rec, err := s.cancel(st.ID, s.startsAt().Add(-1*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, studio.StatusCancelledPenalty, rec.Status)
	invs := s.f.Invoices(studio.InvoiceFilter{StudentID: st.ID})
	require.Len(t, invs, 1)
	assert.Equal(t, studio.InvoiceUnpaid, invs[0].Status, "pending invoice became due")
}

func TestCancelStudent_SafePayPerSessionCancelsInvoice(t *testing.T) {
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	st := s.f.Student("")
	s.mustRegister(st.ID)

	_, err := s.cancel(st.ID, s.startsAt().Add(-48*time.Hour))
	require.NoError(t, err)

	invs := s.f.Invoices(studio.InvoiceFilter{StudentID: st.ID})
	require.Len(t, invs, 1)
	assert.Equal(t, studio.InvoiceCancelled, invs[0].Status)
}

func TestCancelStudent_FixedCutoff(t *testing.T) {
	// GIVEN: A type whose cutoff is 12:00 the day before, training Tue 18:00
	cutoff := studio.NewClockTime(12, 0)
	s := newSetup(t, studio.TrainingType{CancellationRules: studio.CancellationRules{
		Mode: studio.ModeFixed, CutoffTime: &cutoff, PreviousDay: true,
	}})
	early, late := s.f.Student(""), s.f.Student("")
	s.mustRegister(early.ID)
	s.mustRegister(late.ID)
	dayBefore := s.training.Date.AddDays(-1)

	// WHEN: One cancels at 11:59 the day before, the other at 12:01
	a, err := s.cancel(early.ID, dayBefore.At(studio.NewClockTime(11, 59), time.UTC))
	require.NoError(t, err)
	b, err := s.cancel(late.ID, dayBefore.At(studio.NewClockTime(12, 1), time.UTC))
	require.NoError(t, err)

	// THEN: Only the first is safe, though both are 30 hours out
	assert.Equal(t, studio.StatusCancelledSafe, a.Status)
	assert.Equal(t, studio.StatusCancelledPenalty, b.Status)
}

func TestCancelStudent_NotRegistered(t *testing.T) {
	s := newSetup(t, studio.TrainingType{})

	_, err := s.cancel(s.f.Student("").ID, time.Time{})

	assert.ErrorIs(t, err, studio.ErrNotFound)
}

func TestCancelStudent_TwiceIsNotFound(t *testing.T) {
	s := newSetup(t, studio.TrainingType{})
	st := s.f.Student("")
	s.mustRegister(st.ID)
	_, err := s.cancel(st.ID, time.Time{})
	require.NoError(t, err)

	_, err = s.cancel(st.ID, time.Time{})

	assert.ErrorIs(t, err, studio.ErrNotFound)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestMarkAttendance_ManualAbsentOnly(t *testing.T) {
	s := newSetup(t, studio.TrainingType{})
	st := s.f.Student("")
	s.mustRegister(st.ID)

	mark := func(status studio.AttendanceStatus) (*studio.AttendanceRecord, error) {
		var rec *studio.AttendanceRecord
		err := s.f.TryTx(func(store studio.Store, books *ledger.Books) error {
			var err error
			rec, err = booking.New(store, books, s.f.Settings).MarkAttendance(s.f.Ctx, booking.MarkInput{
				TrainingID: s.training.ID, StudentID: st.ID, Status: status, MarkedBy: "coach",
			})
			return err
		})
		return rec, err
	}

	// WHEN: A trainer tries to mark PRESENT by hand
	_, err := mark(studio.StatusPresent)

	// THEN: Only the batch may do that
	assert.ErrorIs(t, err, studio.ErrPreconditionFailed)

	// WHEN: The trainer marks ABSENT
	rec, err := mark(studio.StatusAbsent)

	// THEN: It sticks, and a second move is rejected
	require.NoError(t, err)
	assert.Equal(t, studio.StatusAbsent, rec.Status)
	assert.Equal(t, "coach", rec.MarkedBy)
	_, err = mark(studio.StatusAbsent)
	assert.ErrorIs(t, err, studio.ErrPreconditionFailed)
}

// =============================================================================
// WHOLE-TRAINING CANCELLATION
// =============================================================================

func TestCancelTraining_ReturnsSessionsAndRefundsInvoices(t *testing.T) {
	// GIVEN: A subscriber and a paying student on tomorrow's $20 training,
	//        already processed by the batch
	s := newSetup(t, studio.TrainingType{Price: decimal.NewFromInt(20)})
	subscriber, sub := s.subscriber(5)
	payer := s.f.Student(s.f.Client(50).ID)
	s.mustRegister(subscriber.ID)
	s.mustRegister(payer.ID)
	s.runBatch()
	require.Equal(t, 4, s.f.GetSubscription(sub.ID).SessionsLeft)
	require.True(t, decimal.NewFromInt(30).Equal(s.f.GetClient(payer.ClientID).Balance))

	// WHEN: The studio cancels the training
	var out *booking.TrainingCancellation
	s.f.Tx(func(st studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(st, books, s.f.Settings).CancelTraining(s.f.Ctx, s.training.ID, "pool closed")
		return err
	})

	// THEN: Everyone is released without charge
	assert.Equal(t, 1, out.SessionsReturned)
	require.Len(t, out.Invoices, 1)
	assert.Equal(t, studio.InvoiceCancelled, out.Invoices[0].Status)
	assert.Equal(t, 5, s.f.GetSubscription(sub.ID).SessionsLeft)
	assert.True(t, decimal.NewFromInt(50).Equal(s.f.GetClient(payer.ClientID).Balance))
	for _, rec := range s.f.Records(s.training.ID) {
		assert.Equal(t, studio.StatusCancelledSafe, rec.Status)
	}

	// AND: The trainer is not paid
	training := s.f.GetTraining(s.training.ID)
	assert.NotNil(t, training.CancelledAt)
	assert.False(t, training.TrainerSalaryEligible)
	assert.Equal(t, "pool closed", training.CancellationReason)

	// AND: It cannot be cancelled twice
	err := s.f.TryTx(func(st studio.Store, books *ledger.Books) error {
		_, err := booking.New(st, books, s.f.Settings).CancelTraining(s.f.Ctx, s.training.ID, "")
		return err
	})
	assert.ErrorIs(t, err, studio.ErrConflict)
}

func TestCancelTraining_UnprocessedKeepsSessions(t *testing.T) {
	s := newSetup(t, studio.TrainingType{})
	st, sub := s.subscriber(5)
	s.mustRegister(st.ID)

	var out *booking.TrainingCancellation
	s.f.Tx(func(store studio.Store, books *ledger.Books) error {
		var err error
		out, err = booking.New(store, books, s.f.Settings).CancelTraining(s.f.Ctx, s.training.ID, "")
		return err
	})

	assert.Equal(t, 0, out.SessionsReturned)
	assert.Len(t, out.Records, 1)
	assert.Equal(t, 5, s.f.GetSubscription(sub.ID).SessionsLeft)

	_, err := s.register(s.f.Student("").ID)
	assert.ErrorIs(t, err, studio.ErrPreconditionFailed)
}

func TestCancelTraining_AttendedRecordsKeepStatusButHoldNoSeat(t *testing.T) {
	// GIVEN: A student marked ABSENT on tomorrow's training
	s := newSetup(t, studio.TrainingType{MaxParticipants: 1})
	st := s.f.Student("")
	s.mustRegister(st.ID)
	s.f.Tx(func(store studio.Store, books *ledger.Books) error {
		_, err := booking.New(store, books, s.f.Settings).MarkAttendance(s.f.Ctx, booking.MarkInput{
			TrainingID: s.training.ID, StudentID: st.ID, Status: studio.StatusAbsent, MarkedBy: "coach",
		})
		return err
	})

	// WHEN: The training is cancelled
	s.f.Tx(func(store studio.Store, books *ledger.Books) error {
		_, err := booking.New(store, books, s.f.Settings).CancelTraining(s.f.Ctx, s.training.ID, "coach ill")
		return err
	})

	// THEN: The record stays ABSENT, stamped with the cancellation
	rec := s.f.Records(s.training.ID)[0]
	assert.Equal(t, studio.StatusAbsent, rec.Status)
	assert.NotNil(t, rec.CancelledAt)
	assert.Equal(t, "coach ill", rec.CancellationReason)

	// AND: It holds no seat
	training := s.f.GetTraining(s.training.ID)
	var taken int
	s.f.Tx(func(store studio.Store, books *ledger.Books) error {
		var err error
		taken, err = booking.New(store, books, s.f.Settings).ActiveCount(s.f.Ctx, &training)
		return err
	})
	assert.Zero(t, taken)

	// AND: Nobody can book the cancelled training
	_, err := s.register(s.f.Student("").ID)
	assert.ErrorIs(t, err, studio.ErrPreconditionFailed)
}

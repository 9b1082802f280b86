/*
sessions.go - Subscription session ledger

PURPOSE:
  Accounts for the training credits of a student's subscription and decides
  who pays for one attendance record.

DEDUCTION ORDER (first success wins):
  1. sessions_left        > 0
  2. transferred_sessions > 0
  3. skipped_sessions     > 0, only for PRESENT/ABSENT records
  4. auto-renew on  -> borrowed_sessions += 1 (paid by the next renewal)
  5. auto-renew off -> UNPAID penalty invoice at the training type price

  Without any subscription the record is billed pay-per-session through the
  invoice ledger (PENDING invoice activated, or a new UNPAID one).

IDEMPOTENCY:
  AttendanceRecord.SessionDeducted is set by every path. Once set, Deduct
  is a no-op for that record.

AUTO-RENEWAL:
  A subscription ending today with auto-renew gets a successor starting
  tomorrow with the plan's base sessions plus up to 3 leftovers, minus any
  borrowed debt. The predecessor is zeroed and linked to the renewal
  invoice, which is what makes renewal happen at most once.

SEE ALSO:
  - invoices.go: penalty and renewal invoices
  - reconcile/batch.go: calls Deduct and AutoRenew nightly
  - booking/cancel.go: Skip, Restore and ChargePenalty
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// Sessions is the session ledger bound to one store transaction.
type Sessions struct {
	store    studio.Store
	invoices *Invoices
	now      studio.Clock
}

func NewSessions(store studio.Store, invoices *Invoices, now studio.Clock) *Sessions {
	if now == nil {
		now = studio.SystemClock
	}
	return &Sessions{store: store, invoices: invoices, now: now}
}

// Deduction describes how a record was paid for.
type Deduction struct {
	Source          studio.DeductionSource
	SubscriptionID  string
	Invoice         *studio.Invoice
	AlreadyDeducted bool
}

// =============================================================================
// SUBSCRIPTION LOOKUP
// =============================================================================

// ActiveSubscription returns the subscription that should pay for a training
// of the student on day: active on that day, preferring one with sessions
// left. Returns nil when none is active.
func (l *Sessions) ActiveSubscription(ctx context.Context, studentID string, day studio.Date) (*studio.StudentSubscription, error) {
	subs, err := l.store.ListStudentSubscriptions(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	var fallback *studio.StudentSubscription
	for i := range subs {
		s := &subs[i]
		if s.StatusOn(day) != studio.SubscriptionActive {
			continue
		}
		if s.SessionsLeft > 0 || s.TransferredSessions > 0 {
			return s, nil
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback, nil
}

func (l *Sessions) subscriptionFor(ctx context.Context, rec *studio.AttendanceRecord, day studio.Date) (*studio.StudentSubscription, error) {
	if rec.SubscriptionID != "" {
		sub, err := l.store.GetSubscription(ctx, rec.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.StatusOn(day) == studio.SubscriptionActive {
			return sub, nil
		}
	}
	return l.ActiveSubscription(ctx, rec.StudentID, day)
}

// =============================================================================
// DEDUCTION
// =============================================================================

// Deduct charges one session for rec following the deduction order.
func (l *Sessions) Deduct(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training) (*Deduction, error) {
	if rec.SessionDeducted {
		return &Deduction{Source: rec.DeductionSource, SubscriptionID: rec.SubscriptionID, AlreadyDeducted: true}, nil
	}

	sub, err := l.subscriptionFor(ctx, rec, training.Date)
	if err != nil {
		return nil, err
	}

	d := &Deduction{}
	if sub != nil {
		switch {
		case sub.SessionsLeft > 0:
			sub.SessionsLeft--
			d.Source = studio.DeductionSessions
		case sub.TransferredSessions > 0:
			sub.TransferredSessions--
			d.Source = studio.DeductionTransferred
		case sub.SkippedSessions > 0 && rec.Status.Attended():
			sub.SkippedSessions--
			d.Source = studio.DeductionSkipped
		case sub.AutoRenew:
			sub.BorrowedSessions++
			d.Source = studio.DeductionBorrowed
		}
		if d.Source != studio.DeductionNone {
			if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
				return nil, fmt.Errorf("update subscription: %w", err)
			}
			d.SubscriptionID = sub.ID
			rec.SubscriptionID = sub.ID
		}
	}

	if d.Source == studio.DeductionNone {
		invType := studio.InvoiceTraining
		if sub != nil {
			invType = studio.InvoicePenalty
		}
		inv, err := l.bill(ctx, rec, training, invType)
		if err != nil {
			return nil, err
		}
		d.Invoice = inv
		d.Source = studio.DeductionInvoice
		if inv == nil {
			d.Source = studio.DeductionFree
		}
	}

	return d, l.markDeducted(ctx, rec, d.Source)
}

// ChargePenalty charges a late cancellation as if the session was used:
// sessions_left when available, otherwise the invoice path.
func (l *Sessions) ChargePenalty(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training) (*Deduction, error) {
	if rec.SessionDeducted {
		return &Deduction{Source: rec.DeductionSource, SubscriptionID: rec.SubscriptionID, AlreadyDeducted: true}, nil
	}

	sub, err := l.subscriptionFor(ctx, rec, training.Date)
	if err != nil {
		return nil, err
	}
	d := &Deduction{}
	if sub != nil && sub.SessionsLeft > 0 {
		sub.SessionsLeft--
		if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
			return nil, fmt.Errorf("update subscription: %w", err)
		}
		rec.SubscriptionID = sub.ID
		d.SubscriptionID = sub.ID
		d.Source = studio.DeductionSessions
	} else {
		inv, err := l.bill(ctx, rec, training, studio.InvoicePenalty)
		if err != nil {
			return nil, err
		}
		d.Invoice = inv
		d.Source = studio.DeductionInvoice
		if inv == nil {
			d.Source = studio.DeductionFree
		}
	}
	return d, l.markDeducted(ctx, rec, d.Source)
}

// bill activates the record's existing invoice or raises a new one at the
// training type price. Returns nil for free trainings.
func (l *Sessions) bill(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training, invType studio.InvoiceType) (*studio.Invoice, error) {
	existing, err := l.invoices.FindForTraining(ctx, rec.StudentID, training.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, l.invoices.Activate(ctx, existing)
	}

	tt, err := l.store.GetTrainingType(ctx, training.TrainingTypeID)
	if err != nil {
		return nil, err
	}
	if !tt.Price.IsPositive() {
		return nil, nil
	}
	student, err := l.store.GetStudent(ctx, rec.StudentID)
	if err != nil {
		return nil, err
	}
	return l.invoices.RaiseAndCollect(ctx, studio.Invoice{
		ClientID:    student.ClientID,
		StudentID:   student.ID,
		TrainingID:  training.ID,
		Type:        invType,
		Amount:      tt.Price,
		Description: fmt.Sprintf("%s on %s %s", tt.Name, training.Date, training.StartTime),
	})
}

func (l *Sessions) markDeducted(ctx context.Context, rec *studio.AttendanceRecord, source studio.DeductionSource) error {
	rec.SessionDeducted = true
	rec.DeductionSource = source
	if err := l.store.UpdateAttendance(ctx, *rec); err != nil {
		return fmt.Errorf("mark session deducted: %w", err)
	}
	return nil
}

// =============================================================================
// REFUNDS
// =============================================================================

// Skip banks a deducted session after a safe cancellation. Past the cap the
// unit is forfeited. A borrowed session simply cancels the debt.
// Returns true when the unit was forfeited.
func (l *Sessions) Skip(ctx context.Context, rec *studio.AttendanceRecord) (bool, error) {
	if !rec.SessionDeducted || !rec.DeductionSource.FromSubscription() {
		return false, nil
	}
	sub, err := l.store.GetSubscription(ctx, rec.SubscriptionID)
	if err != nil {
		return false, err
	}

	forfeited := false
	switch {
	case rec.DeductionSource == studio.DeductionBorrowed:
		if sub.BorrowedSessions > 0 {
			sub.BorrowedSessions--
		}
	case sub.SkippedSessions < studio.MaxSkippedSessions:
		sub.SkippedSessions++
	default:
		forfeited = true
	}
	if forfeited {
		return true, nil
	}
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return false, fmt.Errorf("update subscription: %w", err)
	}
	return false, nil
}

// Restore gives a deducted subscription session back to the counter it was
// taken from (a borrowed one cancels the debt instead) and clears the
// deduction.
func (l *Sessions) Restore(ctx context.Context, rec *studio.AttendanceRecord) (bool, error) {
	if !rec.SessionDeducted || !rec.DeductionSource.FromSubscription() {
		return false, nil
	}
	sub, err := l.store.GetSubscription(ctx, rec.SubscriptionID)
	if err != nil {
		return false, err
	}
	switch rec.DeductionSource {
	case studio.DeductionBorrowed:
		if sub.BorrowedSessions > 0 {
			sub.BorrowedSessions--
		}
	case studio.DeductionTransferred:
		sub.TransferredSessions++
	case studio.DeductionSkipped:
		sub.SkippedSessions++
	default:
		sub.SessionsLeft++
	}
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return false, fmt.Errorf("update subscription: %w", err)
	}
	rec.SessionDeducted = false
	rec.DeductionSource = studio.DeductionNone
	return true, nil
}

// =============================================================================
// AUTO-RENEWAL
// =============================================================================

// Renewal is the outcome of AutoRenew.
type Renewal struct {
	Predecessor studio.StudentSubscription
	Successor   studio.StudentSubscription
	Invoice     studio.Invoice
}

// AutoRenew renews a subscription that ends today. Returns nil when the
// subscription is not due or was already renewed.
func (l *Sessions) AutoRenew(ctx context.Context, subID string, today studio.Date) (*Renewal, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.AutoRenew || sub.AutoRenewalInvoiceID != "" || !sub.EndDate.Equal(today) {
		return nil, nil
	}

	plan, err := l.store.GetSubscriptionPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	student, err := l.store.GetStudent(ctx, sub.StudentID)
	if err != nil {
		return nil, err
	}

	transfer := min(sub.SessionsLeft, studio.MaxTransferredSessions)
	opening := max(plan.SessionsCount+transfer-sub.BorrowedSessions, 0)
	start := today.AddDays(1)

	successor := studio.StudentSubscription{
		ID:                  studio.NewID(),
		StudentID:           sub.StudentID,
		PlanID:              plan.ID,
		StartDate:           start,
		EndDate:             start.AddDays(plan.ValidityDays),
		SessionsLeft:        opening,
		TransferredSessions: transfer,
		AutoRenew:           true,
		CreatedAt:           l.now().UTC(),
	}
	if err := l.store.CreateSubscription(ctx, successor); err != nil {
		return nil, fmt.Errorf("create renewed subscription: %w", err)
	}

	inv, err := l.invoices.RaiseAndCollect(ctx, studio.Invoice{
		ClientID:       student.ClientID,
		StudentID:      student.ID,
		SubscriptionID: successor.ID,
		Type:           studio.InvoiceSubscription,
		Amount:         plan.Price,
		Description:    fmt.Sprintf("auto-renewal of %s from %s", plan.Name, start),
		IsAutoRenewal:  true,
	})
	if err != nil {
		return nil, err
	}

	sub.SessionsLeft = 0
	sub.BorrowedSessions = 0
	sub.AutoRenewalInvoiceID = inv.ID
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return nil, fmt.Errorf("link renewal invoice: %w", err)
	}
	return &Renewal{Predecessor: *sub, Successor: successor, Invoice: *inv}, nil
}

// Sell opens a subscription on plan for a student from start and bills the
// plan price to the student's client, paying it from the balance when it
// covers the price.
func (l *Sessions) Sell(ctx context.Context, studentID, planID string, start studio.Date, autoRenew bool) (*studio.StudentSubscription, *studio.Invoice, error) {
	student, err := l.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := l.store.GetSubscriptionPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if !plan.Active {
		return nil, nil, studio.Precondition("subscription_plan", "plan %s is not active", plan.Name).WithID(plan.ID)
	}

	sub := studio.StudentSubscription{
		ID:           studio.NewID(),
		StudentID:    student.ID,
		PlanID:       plan.ID,
		StartDate:    start,
		EndDate:      start.AddDays(plan.ValidityDays),
		SessionsLeft: plan.SessionsCount,
		AutoRenew:    autoRenew,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("create subscription: %w", err)
	}
	inv, err := l.invoices.RaiseAndCollect(ctx, studio.Invoice{
		ClientID:       student.ClientID,
		StudentID:      student.ID,
		SubscriptionID: sub.ID,
		Type:           studio.InvoiceSubscription,
		Amount:         plan.Price,
		Description:    fmt.Sprintf("%s from %s", plan.Name, start),
	})
	if err != nil {
		return nil, nil, err
	}
	return &sub, inv, nil
}

// =============================================================================
// FREEZE
// =============================================================================

func (l *Sessions) Freeze(ctx context.Context, subID string, start studio.Date, days int, today studio.Date) (*studio.StudentSubscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if err := sub.Freeze(start, days, today); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return nil, fmt.Errorf("freeze subscription: %w", err)
	}
	return sub, nil
}

func (l *Sessions) Unfreeze(ctx context.Context, subID string, today studio.Date) (*studio.StudentSubscription, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if err := sub.Unfreeze(today); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return nil, fmt.Errorf("unfreeze subscription: %w", err)
	}
	return sub, nil
}

// ReleaseExpiredFreeze clears a freeze window that ended before today.
func (l *Sessions) ReleaseExpiredFreeze(ctx context.Context, subID string, today studio.Date) (bool, error) {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return false, err
	}
	if !sub.ClearExpiredFreeze(today) {
		return false, nil
	}
	if err := l.store.UpdateSubscription(ctx, *sub); err != nil {
		return false, fmt.Errorf("release freeze: %w", err)
	}
	return true, nil
}

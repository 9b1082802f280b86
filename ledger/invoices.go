/*
invoices.go - Invoice & payment ledger over the client balance

PURPOSE:
  Owns every mutation of a client's balance. Invoices move through

    PENDING --> UNPAID --> PAID
        \          \
         +----------+--> CANCELLED

  PENDING invoices are raised ahead of time for pay-per-session trainings and
  are not yet due. UNPAID invoices are due and eligible for auto-pay. PAID
  means the balance was debited exactly once. CANCELLED is terminal; when a
  PAID invoice is cancelled the debit is refunded first.

PAYMENTS:
  ApplyPayment credits the balance, then settles UNPAID invoices oldest
  first (FIFO). Settlement stops at the first invoice the balance cannot
  cover; that invoice and everything after it stay UNPAID.

  CancelPayment debits the payment back. While the balance is negative,
  PAID invoices are reopened newest payment first (LIFO), each one credited
  back and returned to UNPAID.

JOURNAL:
  Every balance mutation appends a PaymentHistory row with the balance
  before and after.

ORDERING:
  FIFO, LIFO and the journal all sort by timestamp. Every timestamp written
  for a client is strictly later than any the client already has stored, so
  order survives a clock that repeats across operations.

SEE ALSO:
  - sessions.go: raises penalty and renewal invoices through this ledger
  - booking/cancel.go: refunds on safe cancellation
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// BillingStore is what the invoice ledger needs from persistence.
type BillingStore interface {
	GetClient(ctx context.Context, id string) (*studio.Client, error)
	UpdateClient(ctx context.Context, c studio.Client) error
	studio.BillingStore
}

// Invoices is the invoice & payment ledger bound to one store transaction.
type Invoices struct {
	store BillingStore
	now   studio.Clock
	// latest timestamp per client, loaded from the store on first use
	latest map[string]time.Time
}

func NewInvoices(store BillingStore, now studio.Clock) *Invoices {
	if now == nil {
		now = studio.SystemClock
	}
	return &Invoices{store: store, now: now, latest: make(map[string]time.Time)}
}

// stamp returns the current time, bumped to one microsecond past the latest
// timestamp already on the client's invoices and journal.
func (l *Invoices) stamp(ctx context.Context, clientID string) (time.Time, error) {
	latest, ok := l.latest[clientID]
	if !ok {
		var err error
		if latest, err = l.storedLatest(ctx, clientID); err != nil {
			return time.Time{}, err
		}
	}
	t := l.now().UTC().Truncate(time.Microsecond)
	if !t.After(latest) {
		t = latest.Add(time.Microsecond)
	}
	l.latest[clientID] = t
	return t, nil
}

func (l *Invoices) storedLatest(ctx context.Context, clientID string) (time.Time, error) {
	var latest time.Time
	bump := func(t *time.Time) {
		if t != nil && t.After(latest) {
			latest = t.UTC()
		}
	}
	invs, err := l.store.ListInvoices(ctx, studio.InvoiceFilter{ClientID: clientID})
	if err != nil {
		return latest, fmt.Errorf("list client invoices: %w", err)
	}
	for i := range invs {
		bump(&invs[i].CreatedAt)
		bump(invs[i].PaidAt)
		bump(invs[i].CancelledAt)
	}
	history, err := l.store.ListPaymentHistory(ctx, clientID)
	if err != nil {
		return latest, fmt.Errorf("list payment history: %w", err)
	}
	for i := range history {
		bump(&history[i].CreatedAt)
	}
	return latest, nil
}

// =============================================================================
// INVOICES
// =============================================================================

// Raise persists a new invoice. Status defaults to UNPAID.
func (l *Invoices) Raise(ctx context.Context, inv studio.Invoice) (*studio.Invoice, error) {
	if inv.Amount.IsNegative() {
		return nil, studio.Invalid("amount", "invoice amount must not be negative, got %s", inv.Amount)
	}
	if _, err := l.store.GetClient(ctx, inv.ClientID); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		inv.ID = studio.NewID()
	}
	if inv.Status == "" {
		inv.Status = studio.InvoiceUnpaid
	}
	if inv.Status != studio.InvoicePending && inv.Status != studio.InvoiceUnpaid {
		return nil, studio.Invalid("status", "new invoices start PENDING or UNPAID, got %s", inv.Status)
	}
	createdAt, err := l.stamp(ctx, inv.ClientID)
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = createdAt
	inv.PaidAt = nil
	inv.CancelledAt = nil

	if err := l.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &inv, nil
}

// RaiseAndCollect raises an UNPAID invoice and tries to pay it from the balance.
func (l *Invoices) RaiseAndCollect(ctx context.Context, inv studio.Invoice) (*studio.Invoice, error) {
	inv.Status = studio.InvoiceUnpaid
	created, err := l.Raise(ctx, inv)
	if err != nil {
		return nil, err
	}
	if _, err := l.AutoPay(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Activate makes a PENDING invoice due and tries to pay it.
// UNPAID invoices just get another auto-pay attempt; PAID ones are left alone.
func (l *Invoices) Activate(ctx context.Context, inv *studio.Invoice) error {
	switch inv.Status {
	case studio.InvoicePaid:
		return nil
	case studio.InvoiceCancelled:
		return studio.Precondition("invoice", "cancelled invoice cannot become due").WithID(inv.ID)
	case studio.InvoicePending:
		inv.Status = studio.InvoiceUnpaid
		if err := l.store.UpdateInvoice(ctx, *inv); err != nil {
			return fmt.Errorf("activate invoice: %w", err)
		}
	}
	_, err := l.AutoPay(ctx, inv)
	return err
}

// AutoPay pays an UNPAID invoice when the client balance covers it.
func (l *Invoices) AutoPay(ctx context.Context, inv *studio.Invoice) (bool, error) {
	if inv.Status != studio.InvoiceUnpaid {
		return false, nil
	}
	client, err := l.store.GetClient(ctx, inv.ClientID)
	if err != nil {
		return false, err
	}
	if client.Balance.LessThan(inv.Amount) {
		return false, nil
	}
	if err := l.settle(ctx, client, inv, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Invoices) settle(ctx context.Context, client *studio.Client, inv *studio.Invoice, paymentID string) error {
	if err := l.moveBalance(ctx, client, inv.Amount.Neg(), studio.OpInvoicePayment, paymentID, inv.ID,
		"payment of invoice "+inv.ID); err != nil {
		return err
	}
	paidAt, err := l.stamp(ctx, client.ID)
	if err != nil {
		return err
	}
	inv.Status = studio.InvoicePaid
	inv.PaidAt = &paidAt
	if err := l.store.UpdateInvoice(ctx, *inv); err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	return nil
}

// Cancel cancels an invoice, refunding the balance first when it was PAID.
func (l *Invoices) Cancel(ctx context.Context, invoiceID string) (*studio.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == studio.InvoiceCancelled {
		return nil, studio.Conflict("invoice", "already cancelled").WithID(inv.ID)
	}
	if err := l.cancel(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (l *Invoices) cancel(ctx context.Context, inv *studio.Invoice) error {
	if inv.Status == studio.InvoicePaid {
		client, err := l.store.GetClient(ctx, inv.ClientID)
		if err != nil {
			return err
		}
		if err := l.moveBalance(ctx, client, inv.Amount, studio.OpInvoiceRefund, "", inv.ID,
			"refund of invoice "+inv.ID); err != nil {
			return err
		}
	}
	cancelledAt, err := l.stamp(ctx, inv.ClientID)
	if err != nil {
		return err
	}
	inv.Status = studio.InvoiceCancelled
	inv.CancelledAt = &cancelledAt
	if err := l.store.UpdateInvoice(ctx, *inv); err != nil {
		return fmt.Errorf("cancel invoice: %w", err)
	}
	return nil
}

// FindForTraining returns the live (non-cancelled) invoice of a student for a
// training, or nil.
func (l *Invoices) FindForTraining(ctx context.Context, studentID, trainingID string) (*studio.Invoice, error) {
	invs, err := l.store.ListInvoices(ctx, studio.InvoiceFilter{
		StudentID:  studentID,
		TrainingID: trainingID,
		Statuses:   []studio.InvoiceStatus{studio.InvoicePending, studio.InvoiceUnpaid, studio.InvoicePaid},
	})
	if err != nil {
		return nil, fmt.Errorf("list training invoices: %w", err)
	}
	if len(invs) == 0 {
		return nil, nil
	}
	return &invs[len(invs)-1], nil
}

// CancelForTraining voids the student's invoice for a training: cancelled
// when PENDING/UNPAID, refunded and cancelled when PAID. Returns nil when
// there was nothing to void.
func (l *Invoices) CancelForTraining(ctx context.Context, studentID, trainingID string) (*studio.Invoice, error) {
	inv, err := l.FindForTraining(ctx, studentID, trainingID)
	if err != nil || inv == nil {
		return nil, err
	}
	if err := l.cancel(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentResult is what ApplyPayment did.
type PaymentResult struct {
	Payment studio.Payment   `json:"payment"`
	Settled []studio.Invoice `json:"settled"`
	Balance decimal.Decimal  `json:"balance"`
}

// ApplyPayment credits the client and settles UNPAID invoices FIFO.
func (l *Invoices) ApplyPayment(ctx context.Context, clientID string, amount decimal.Decimal, description string) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, studio.Invalid("amount", "payment amount must be positive, got %s", amount)
	}
	client, err := l.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	createdAt, err := l.stamp(ctx, clientID)
	if err != nil {
		return nil, err
	}
	p := studio.Payment{
		ID:          studio.NewID(),
		ClientID:    clientID,
		Amount:      amount,
		Description: description,
		CreatedAt:   createdAt,
	}
	if err := l.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if err := l.moveBalance(ctx, client, amount, studio.OpPayment, p.ID, "", description); err != nil {
		return nil, err
	}

	unpaid, err := l.store.ListInvoices(ctx, studio.InvoiceFilter{
		ClientID: clientID,
		Statuses: []studio.InvoiceStatus{studio.InvoiceUnpaid},
	})
	if err != nil {
		return nil, fmt.Errorf("list unpaid invoices: %w", err)
	}

	result := &PaymentResult{Payment: p}
	for i := range unpaid {
		inv := &unpaid[i]
		if client.Balance.LessThan(inv.Amount) {
			break
		}
		if err := l.settle(ctx, client, inv, p.ID); err != nil {
			return nil, err
		}
		result.Settled = append(result.Settled, *inv)
	}
	result.Balance = client.Balance
	return result, nil
}

// PaymentCancellation is what CancelPayment did.
type PaymentCancellation struct {
	Payment  studio.Payment   `json:"payment"`
	Reopened []studio.Invoice `json:"reopened"`
	Balance  decimal.Decimal  `json:"balance"`
}

// CancelPayment reverses a payment and reopens PAID invoices LIFO while the
// balance is negative.
func (l *Invoices) CancelPayment(ctx context.Context, paymentID string) (*PaymentCancellation, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.CancelledAt != nil {
		return nil, studio.Conflict("payment", "already cancelled").WithID(p.ID)
	}
	client, err := l.store.GetClient(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}

	if err := l.moveBalance(ctx, client, p.Amount.Neg(), studio.OpCancellation, p.ID, "",
		"cancellation of payment "+p.ID); err != nil {
		return nil, err
	}
	cancelledAt, err := l.stamp(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}
	p.CancelledAt = &cancelledAt
	if err := l.store.UpdatePayment(ctx, *p); err != nil {
		return nil, fmt.Errorf("cancel payment: %w", err)
	}

	result := &PaymentCancellation{Payment: *p}
	if client.Balance.IsNegative() {
		paid, err := l.store.ListInvoices(ctx, studio.InvoiceFilter{
			ClientID: client.ID,
			Statuses: []studio.InvoiceStatus{studio.InvoicePaid},
		})
		if err != nil {
			return nil, fmt.Errorf("list paid invoices: %w", err)
		}
		sortMostRecentlyPaidFirst(paid)

		for i := range paid {
			if !client.Balance.IsNegative() {
				break
			}
			inv := &paid[i]
			if err := l.moveBalance(ctx, client, inv.Amount, studio.OpInvoiceReopen, p.ID, inv.ID,
				"reopen invoice "+inv.ID); err != nil {
				return nil, err
			}
			inv.Status = studio.InvoiceUnpaid
			inv.PaidAt = nil
			if err := l.store.UpdateInvoice(ctx, *inv); err != nil {
				return nil, fmt.Errorf("reopen invoice: %w", err)
			}
			result.Reopened = append(result.Reopened, *inv)
		}
	}
	result.Balance = client.Balance
	return result, nil
}

func sortMostRecentlyPaidFirst(invs []studio.Invoice) {
	sort.SliceStable(invs, func(i, j int) bool {
		pi, pj := paidAt(invs[i]), paidAt(invs[j])
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return invs[i].CreatedAt.After(invs[j].CreatedAt)
	})
}

func paidAt(inv studio.Invoice) time.Time {
	if inv.PaidAt == nil {
		return time.Time{}
	}
	return *inv.PaidAt
}

// =============================================================================
// BALANCE JOURNAL
// =============================================================================

// moveBalance applies delta to the client balance and journals it.
// client is updated in place so callers see the running balance.
func (l *Invoices) moveBalance(ctx context.Context, client *studio.Client, delta decimal.Decimal,
	op studio.Operation, paymentID, invoiceID, description string) error {
	createdAt, err := l.stamp(ctx, client.ID)
	if err != nil {
		return err
	}
	before := client.Balance
	client.Balance = before.Add(delta)
	if err := l.store.UpdateClient(ctx, *client); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return l.store.AppendPaymentHistory(ctx, studio.PaymentHistory{
		ID:            studio.NewID(),
		ClientID:      client.ID,
		PaymentID:     paymentID,
		InvoiceID:     invoiceID,
		Operation:     op,
		Amount:        delta.Abs(),
		BalanceBefore: before,
		BalanceAfter:  client.Balance,
		Description:   description,
		CreatedAt:     createdAt,
	})
}

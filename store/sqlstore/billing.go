package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (t *txStore) CreateSubscription(ctx context.Context, s studio.StudentSubscription) error {
	return t.insert(ctx, "subscription", `
		INSERT INTO student_subscriptions (id, student_id, plan_id, start_date, end_date, sessions_left,
			transferred_sessions, skipped_sessions, borrowed_sessions, freeze_start, freeze_end,
			auto_renew, auto_renewal_invoice_id, created_at)
		VALUES (:id, :student_id, :plan_id, :start_date, :end_date, :sessions_left,
			:transferred_sessions, :skipped_sessions, :borrowed_sessions, :freeze_start, :freeze_end,
			:auto_renew, :auto_renewal_invoice_id, :created_at)`, s)
}

func (t *txStore) GetSubscription(ctx context.Context, id string) (*studio.StudentSubscription, error) {
	var s studio.StudentSubscription
	if err := t.get(ctx, &s, "subscription", id, `SELECT * FROM student_subscriptions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *txStore) UpdateSubscription(ctx context.Context, s studio.StudentSubscription) error {
	return t.update(ctx, "subscription", s.ID, `
		UPDATE student_subscriptions SET
			start_date = :start_date,
			end_date = :end_date,
			sessions_left = :sessions_left,
			transferred_sessions = :transferred_sessions,
			skipped_sessions = :skipped_sessions,
			borrowed_sessions = :borrowed_sessions,
			freeze_start = :freeze_start,
			freeze_end = :freeze_end,
			auto_renew = :auto_renew,
			auto_renewal_invoice_id = :auto_renewal_invoice_id
		WHERE id = :id`, s)
}

func (t *txStore) listSubscriptions(ctx context.Context, where string, args ...any) ([]studio.StudentSubscription, error) {
	var out []studio.StudentSubscription
	query := `SELECT * FROM student_subscriptions WHERE ` + where + ` ORDER BY start_date, created_at, id`
	if err := t.list(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}

func (t *txStore) ListStudentSubscriptions(ctx context.Context, studentID string) ([]studio.StudentSubscription, error) {
	return t.listSubscriptions(ctx, `student_id = ?`, studentID)
}

func (t *txStore) ListSubscriptionsEndingOn(ctx context.Context, date studio.Date) ([]studio.StudentSubscription, error) {
	return t.listSubscriptions(ctx, `end_date = ?`, date)
}

func (t *txStore) ListFrozenSubscriptions(ctx context.Context) ([]studio.StudentSubscription, error) {
	return t.listSubscriptions(ctx, `freeze_end IS NOT NULL`)
}

// =============================================================================
// INVOICES
// =============================================================================

func (t *txStore) CreateInvoice(ctx context.Context, inv studio.Invoice) error {
	return t.insert(ctx, "invoice", `
		INSERT INTO invoices (id, client_id, student_id, training_id, subscription_id, type, amount,
			description, status, is_auto_renewal, created_at, paid_at, cancelled_at)
		VALUES (:id, :client_id, :student_id, :training_id, :subscription_id, :type, :amount,
			:description, :status, :is_auto_renewal, :created_at, :paid_at, :cancelled_at)`, inv)
}

func (t *txStore) GetInvoice(ctx context.Context, id string) (*studio.Invoice, error) {
	var inv studio.Invoice
	if err := t.get(ctx, &inv, "invoice", id, `SELECT * FROM invoices WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *txStore) UpdateInvoice(ctx context.Context, inv studio.Invoice) error {
	return t.update(ctx, "invoice", inv.ID, `
		UPDATE invoices SET
			amount = :amount,
			description = :description,
			status = :status,
			paid_at = :paid_at,
			cancelled_at = :cancelled_at
		WHERE id = :id`, inv)
}

func (t *txStore) ListInvoices(ctx context.Context, f studio.InvoiceFilter) ([]studio.Invoice, error) {
	var (
		conds []string
		args  []any
	)
	eq := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	eq("client_id", f.ClientID)
	eq("student_id", f.StudentID)
	eq("training_id", f.TrainingID)
	eq("subscription_id", f.SubscriptionID)
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN (?"+strings.Repeat(", ?", len(f.Statuses)-1)+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}

	query := `SELECT * FROM invoices`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var out []studio.Invoice
	if err := t.list(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *txStore) CreatePayment(ctx context.Context, p studio.Payment) error {
	return t.insert(ctx, "payment", `
		INSERT INTO payments (id, client_id, amount, description, created_at, cancelled_at)
		VALUES (:id, :client_id, :amount, :description, :created_at, :cancelled_at)`, p)
}

func (t *txStore) GetPayment(ctx context.Context, id string) (*studio.Payment, error) {
	var p studio.Payment
	if err := t.get(ctx, &p, "payment", id, `SELECT * FROM payments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txStore) UpdatePayment(ctx context.Context, p studio.Payment) error {
	return t.update(ctx, "payment", p.ID, `
		UPDATE payments SET description = :description, cancelled_at = :cancelled_at WHERE id = :id`, p)
}

func (t *txStore) AppendPaymentHistory(ctx context.Context, h studio.PaymentHistory) error {
	return t.insert(ctx, "payment_history", `
		INSERT INTO payment_history (id, client_id, payment_id, invoice_id, operation, amount,
			balance_before, balance_after, description, created_at)
		VALUES (:id, :client_id, :payment_id, :invoice_id, :operation, :amount,
			:balance_before, :balance_after, :description, :created_at)`, h)
}

func (t *txStore) ListPaymentHistory(ctx context.Context, clientID string) ([]studio.PaymentHistory, error) {
	var out []studio.PaymentHistory
	if err := t.list(ctx, &out, `
		SELECT * FROM payment_history WHERE client_id = ? ORDER BY created_at, id`, clientID); err != nil {
		return nil, fmt.Errorf("list payment history: %w", err)
	}
	return out, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (t *txStore) CreateExpense(ctx context.Context, e studio.Expense) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO expenses (id, trainer_id, training_id, type, amount, description, expense_date, created_at)
		VALUES (:id, :trainer_id, :training_id, :type, :amount, :description, :expense_date, :created_at)`, e)
	if isUniqueViolation(err) {
		return studio.Conflict("expense", "salary expense for training %s already exists", e.TrainingID)
	}
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (t *txStore) ListExpenses(ctx context.Context, trainerID string) ([]studio.Expense, error) {
	var out []studio.Expense
	query := `SELECT * FROM expenses`
	var args []any
	if trainerID != "" {
		query += ` WHERE trainer_id = ?`
		args = append(args, trainerID)
	}
	if err := t.list(ctx, &out, query+` ORDER BY expense_date, created_at, id`, args...); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func (t *txStore) SaveBatchRun(ctx context.Context, r studio.BatchRun) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO batch_runs (id, kind, run_date, status, processed, failed, error, started_at, completed_at)
		VALUES (:id, :kind, :run_date, :status, :processed, :failed, :error, :started_at, :completed_at)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at`, r)
	if err != nil {
		return fmt.Errorf("save batch run: %w", err)
	}
	return nil
}

func (t *txStore) ListBatchRuns(ctx context.Context, kind studio.RunKind) ([]studio.BatchRun, error) {
	var out []studio.BatchRun
	query := `SELECT * FROM batch_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	if err := t.list(ctx, &out, query+` ORDER BY started_at, id`, args...); err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	return out, nil
}

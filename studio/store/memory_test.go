package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryzhykau/atlantis-engine/studio"
	"github.com/aryzhykau/atlantis-engine/studio/store"
)

var created = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A store with one client
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.WithTx(ctx, func(s studio.Store) error {
		return s.CreateClient(ctx, studio.Client{ID: "c-1", Name: "Ivanov", Balance: decimal.Zero, CreatedAt: created})
	}))

	// WHEN: A transaction changes the balance and then fails
	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s studio.Store) error {
		c, err := s.GetClient(ctx, "c-1")
		if err != nil {
			return err
		}
		c.Balance = decimal.NewFromInt(100)
		if err := s.UpdateClient(ctx, *c); err != nil {
			return err
		}
		if err := s.CreateClient(ctx, studio.Client{ID: "c-2", Name: "Petrov", CreatedAt: created}); err != nil {
			return err
		}
		return boom
	})

	// THEN: Nothing of it is visible
	require.ErrorIs(t, err, boom)
	require.NoError(t, m.WithTx(ctx, func(s studio.Store) error {
		c, err := s.GetClient(ctx, "c-1")
		require.NoError(t, err)
		assert.True(t, c.Balance.IsZero())
		_, err = s.GetClient(ctx, "c-2")
		assert.True(t, studio.IsNotFound(err))
		return nil
	}))
}

func TestMemory_ActiveAttendanceIsUnique(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	record := studio.AttendanceRecord{
		ID: "r-1", TrainingID: "t-1", StudentID: "s-1", Status: studio.StatusRegistered, CreatedAt: created,
	}

	err := m.WithTx(ctx, func(s studio.Store) error {
		require.NoError(t, s.CreateTraining(ctx, studio.Training{
			ID: "t-1", Date: studio.NewDate(2026, 3, 3), StartTime: studio.NewClockTime(18, 0), CreatedAt: created,
		}))
		assert.True(t, studio.IsNotFound(s.CreateAttendance(ctx, studio.AttendanceRecord{
			ID: "r-0", TrainingID: "missing", StudentID: "s-1", Status: studio.StatusRegistered,
		})))
		require.NoError(t, s.CreateAttendance(ctx, record))

		second := record
		second.ID = "r-2"
		assert.True(t, studio.IsConflict(s.CreateAttendance(ctx, second)))

		// Cancelling frees the pair for a new booking.
		record.Status = studio.StatusCancelledSafe
		require.NoError(t, s.UpdateAttendance(ctx, record))
		require.NoError(t, s.CreateAttendance(ctx, second))

		active, err := s.FindActiveAttendance(ctx, "t-1", "s-1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "r-2", active.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_InvoicesOrderedByCreationThenInsertion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	later := created.Add(time.Minute)

	err := m.WithTx(ctx, func(s studio.Store) error {
		for _, inv := range []studio.Invoice{
			{ID: "late", ClientID: "c-1", Status: studio.InvoiceUnpaid, CreatedAt: later},
			{ID: "z-first", ClientID: "c-1", Status: studio.InvoiceUnpaid, CreatedAt: created},
			{ID: "a-second", ClientID: "c-1", Status: studio.InvoicePaid, CreatedAt: created},
		} {
			require.NoError(t, s.CreateInvoice(ctx, inv))
		}

		all, err := s.ListInvoices(ctx, studio.InvoiceFilter{ClientID: "c-1"})
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, inv := range all {
			ids = append(ids, inv.ID)
		}
		assert.Equal(t, []string{"z-first", "a-second", "late"}, ids)

		unpaid, err := s.ListInvoices(ctx, studio.InvoiceFilter{
			ClientID: "c-1", Statuses: []studio.InvoiceStatus{studio.InvoiceUnpaid},
		})
		require.NoError(t, err)
		assert.Len(t, unpaid, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_SalaryExpenseOncePerTraining(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	expense := studio.Expense{
		ID: "e-1", TrainerID: "tr-1", TrainingID: "t-1", Type: studio.ExpenseTrainerSalary,
		Amount: decimal.NewFromInt(40), CreatedAt: created,
	}

	err := m.WithTx(ctx, func(s studio.Store) error {
		require.NoError(t, s.CreateExpense(ctx, expense))
		expense.ID = "e-2"
		return s.CreateExpense(ctx, expense)
	})

	assert.True(t, studio.IsConflict(err))
}

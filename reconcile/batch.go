/*
batch.go - Daily reconciliation batch

PURPOSE:
  Nightly pass that brings the ledgers in line with the schedule. Every step
  is idempotent, so the batch can be re-run for the same day at will.

STEPS (in order, "today" is the studio's local day):
  1. Release freezes that ended before today
  2. Auto-renew subscriptions ending today
  3. Mark today's REGISTERED records PRESENT
  4. For every non-cancelled, unprocessed training of tomorrow, deduct a
     session (or bill) for each active record, then stamp processed_at

ISOLATION:
  Each subscription and each attendance record is reconciled in its own
  store transaction. A failure is recorded on the Result and logged; its
  siblings carry on. A training whose students did not all reconcile is left
  unprocessed so the next run picks it up again.

JOURNAL:
  Every run is saved as a BatchRun (running -> completed | failed).

SEE ALSO:
  - ledger/sessions.go: Deduct, AutoRenew, ReleaseExpiredFreeze
  - booking/attendance.go: MarkPresent
  - engine/scheduler.go: cron trigger
*/
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// Batch runs the daily reconciliation against a transactional store.
type Batch struct {
	store    studio.TxStore
	settings studio.Settings
	log      *zap.Logger
}

func NewBatch(store studio.TxStore, settings studio.Settings, log *zap.Logger) *Batch {
	if log == nil {
		log = zap.NewNop()
	}
	return &Batch{store: store, settings: settings, log: log}
}

// Result summarizes one run.
type Result struct {
	RunID              string               `json:"run_id"`
	Date               studio.Date          `json:"date"`
	FreezesReleased    int                  `json:"freezes_released"`
	Renewed            []string             `json:"renewed,omitempty"`
	MarkedPresent      int                  `json:"marked_present"`
	Deducted           int                  `json:"deducted"`
	TrainingsProcessed []string             `json:"trainings_processed,omitempty"`
	Failures           []studio.ItemFailure `json:"failures,omitempty"`
}

func (r *Result) fail(entity, id string, err error) {
	r.Failures = append(r.Failures, studio.ItemFailure{Entity: entity, ID: id, Error: err.Error()})
}

// Run executes the batch for the current day.
func (b *Batch) Run(ctx context.Context) (*Result, error) {
	today := b.settings.Today()
	run := studio.BatchRun{
		ID:        studio.NewID(),
		Kind:      studio.RunDailyBatch,
		RunDate:   today,
		Status:    studio.RunRunning,
		StartedAt: b.settings.Now().UTC(),
	}
	if err := b.saveRun(ctx, run); err != nil {
		return nil, err
	}

	result := &Result{RunID: run.ID, Date: today}
	err := b.steps(ctx, today, result)

	completed := b.settings.Now().UTC()
	run.CompletedAt = &completed
	run.Processed = result.MarkedPresent + result.Deducted + len(result.Renewed) + result.FreezesReleased
	run.Failed = len(result.Failures)
	run.Status = studio.RunCompleted
	if err != nil {
		run.Status = studio.RunFailed
		run.Error = err.Error()
	}
	if saveErr := b.saveRun(ctx, run); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		b.log.Error("daily batch failed", zap.String("run_id", run.ID), zap.Error(err))
		return nil, err
	}

	b.log.Info("daily batch completed",
		zap.String("run_id", run.ID),
		zap.Stringer("date", today),
		zap.Int("marked_present", result.MarkedPresent),
		zap.Int("deducted", result.Deducted),
		zap.Int("renewed", len(result.Renewed)),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

func (b *Batch) steps(ctx context.Context, today studio.Date, result *Result) error {
	if err := b.releaseFreezes(ctx, today, result); err != nil {
		return err
	}
	if err := b.renew(ctx, today, result); err != nil {
		return err
	}
	if err := b.markToday(ctx, today, result); err != nil {
		return err
	}
	return b.processTomorrow(ctx, today.AddDays(1), result)
}

func (b *Batch) saveRun(ctx context.Context, run studio.BatchRun) error {
	return b.store.WithTx(ctx, func(s studio.Store) error {
		if err := s.SaveBatchRun(ctx, run); err != nil {
			return fmt.Errorf("save batch run: %w", err)
		}
		return nil
	})
}

// read runs fn in a transaction of its own and returns what it loaded.
func read[T any](ctx context.Context, store studio.TxStore, fn func(studio.Store) (T, error)) (T, error) {
	var out T
	err := store.WithTx(ctx, func(s studio.Store) error {
		var err error
		out, err = fn(s)
		return err
	})
	return out, err
}

// =============================================================================
// STEP 1-2: SUBSCRIPTIONS
// =============================================================================

func (b *Batch) releaseFreezes(ctx context.Context, today studio.Date, result *Result) error {
	frozen, err := read(ctx, b.store, func(s studio.Store) ([]studio.StudentSubscription, error) {
		return s.ListFrozenSubscriptions(ctx)
	})
	if err != nil {
		return fmt.Errorf("list frozen subscriptions: %w", err)
	}
	expired := lo.Filter(frozen, func(sub studio.StudentSubscription, _ int) bool {
		return sub.FreezeEnd != nil && sub.FreezeEnd.Before(today)
	})

	for _, sub := range expired {
		var released bool
		err := b.store.WithTx(ctx, func(s studio.Store) error {
			var err error
			released, err = ledger.Open(s, b.settings.Clock).Sessions.ReleaseExpiredFreeze(ctx, sub.ID, today)
			return err
		})
		if err != nil {
			b.log.Warn("release freeze failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			result.fail("subscription", sub.ID, err)
			continue
		}
		if released {
			result.FreezesReleased++
		}
	}
	return nil
}

func (b *Batch) renew(ctx context.Context, today studio.Date, result *Result) error {
	ending, err := read(ctx, b.store, func(s studio.Store) ([]studio.StudentSubscription, error) {
		return s.ListSubscriptionsEndingOn(ctx, today)
	})
	if err != nil {
		return fmt.Errorf("list subscriptions ending today: %w", err)
	}
	due := lo.Filter(ending, func(sub studio.StudentSubscription, _ int) bool {
		return sub.AutoRenew && sub.AutoRenewalInvoiceID == ""
	})

	for _, sub := range due {
		var renewal *ledger.Renewal
		err := b.store.WithTx(ctx, func(s studio.Store) error {
			var err error
			renewal, err = ledger.Open(s, b.settings.Clock).Sessions.AutoRenew(ctx, sub.ID, today)
			return err
		})
		if err != nil {
			b.log.Warn("auto-renewal failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			result.fail("subscription", sub.ID, err)
			continue
		}
		if renewal != nil {
			result.Renewed = append(result.Renewed, renewal.Successor.ID)
		}
	}
	return nil
}

// =============================================================================
// STEP 3-4: ATTENDANCE
// =============================================================================

// dayRecords loads the non-cancelled trainings of a day and their records.
func (b *Batch) dayRecords(ctx context.Context, day studio.Date) ([]studio.Training, map[string][]studio.AttendanceRecord, error) {
	type loaded struct {
		trainings []studio.Training
		records   map[string][]studio.AttendanceRecord
	}
	out, err := read(ctx, b.store, func(s studio.Store) (loaded, error) {
		trainings, err := s.ListTrainingsOn(ctx, day)
		if err != nil {
			return loaded{}, err
		}
		trainings = lo.Reject(trainings, func(t studio.Training, _ int) bool { return t.IsCancelled() })
		records := make(map[string][]studio.AttendanceRecord, len(trainings))
		for _, t := range trainings {
			rs, err := s.ListAttendance(ctx, t.ID)
			if err != nil {
				return loaded{}, err
			}
			records[t.ID] = rs
		}
		return loaded{trainings: trainings, records: records}, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load trainings of %s: %w", day, err)
	}
	return out.trainings, out.records, nil
}

func (b *Batch) markToday(ctx context.Context, today studio.Date, result *Result) error {
	trainings, records, err := b.dayRecords(ctx, today)
	if err != nil {
		return err
	}
	for _, t := range trainings {
		for _, rec := range records[t.ID] {
			if rec.Status != studio.StatusRegistered {
				continue
			}
			var marked bool
			err := b.store.WithTx(ctx, func(s studio.Store) error {
				current, err := s.GetAttendance(ctx, rec.ID)
				if err != nil {
					return err
				}
				training, err := s.GetTraining(ctx, t.ID)
				if err != nil {
					return err
				}
				if current.Status != studio.StatusRegistered || training.IsCancelled() {
					return nil
				}
				svc := booking.New(s, ledger.Open(s, b.settings.Clock), b.settings)
				if err := svc.MarkPresent(ctx, current, training); err != nil {
					return err
				}
				marked = true
				return nil
			})
			if err != nil {
				b.log.Warn("auto-mark failed",
					zap.String("training_id", t.ID), zap.String("student_id", rec.StudentID), zap.Error(err))
				result.fail("attendance", rec.ID, err)
				continue
			}
			if marked {
				result.MarkedPresent++
			}
		}
	}
	return nil
}

func (b *Batch) processTomorrow(ctx context.Context, tomorrow studio.Date, result *Result) error {
	trainings, records, err := b.dayRecords(ctx, tomorrow)
	if err != nil {
		return err
	}
	for _, t := range trainings {
		if t.IsProcessed() {
			continue
		}
		failed := false
		for _, rec := range records[t.ID] {
			if !rec.IsActive() || rec.SessionDeducted {
				continue
			}
			deducted, err := b.deduct(ctx, t.ID, rec.ID)
			if err != nil {
				b.log.Warn("session deduction failed",
					zap.String("training_id", t.ID), zap.String("student_id", rec.StudentID), zap.Error(err))
				result.fail("attendance", rec.ID, err)
				failed = true
				continue
			}
			if deducted {
				result.Deducted++
			}
		}
		if failed {
			continue
		}
		if err := b.stampProcessed(ctx, t.ID); err != nil {
			b.log.Warn("stamp processed failed", zap.String("training_id", t.ID), zap.Error(err))
			result.fail("training", t.ID, err)
			continue
		}
		result.TrainingsProcessed = append(result.TrainingsProcessed, t.ID)
	}
	return nil
}

func (b *Batch) deduct(ctx context.Context, trainingID, recordID string) (bool, error) {
	var deducted bool
	err := b.store.WithTx(ctx, func(s studio.Store) error {
		training, err := s.GetTraining(ctx, trainingID)
		if err != nil {
			return err
		}
		rec, err := s.GetAttendance(ctx, recordID)
		if err != nil {
			return err
		}
		if training.IsCancelled() || !rec.IsActive() {
			return nil
		}
		d, err := ledger.Open(s, b.settings.Clock).Sessions.Deduct(ctx, rec, training)
		if err != nil {
			return err
		}
		deducted = !d.AlreadyDeducted
		return nil
	})
	return deducted, err
}

func (b *Batch) stampProcessed(ctx context.Context, trainingID string) error {
	return b.store.WithTx(ctx, func(s studio.Store) error {
		training, err := s.GetTraining(ctx, trainingID)
		if err != nil {
			return err
		}
		if training.IsProcessed() || training.IsCancelled() {
			return nil
		}
		processedAt := b.settings.Now().UTC().Truncate(time.Microsecond)
		training.ProcessedAt = &processedAt
		return s.UpdateTraining(ctx, *training)
	})
}

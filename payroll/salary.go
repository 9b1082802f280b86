/*
salary.go - Trainer salary eligibility and finalization

PURPOSE:
  Decides per training whether a trainer without a fixed salary is paid for
  it, and turns eligible trainings into salary expenses once per day.

ELIGIBILITY (re-evaluated on every student cancellation):
  fixed salary trainer                       -> not applicable, flag untouched
  >= 5h before start, other students remain  -> eligible
  >= 5h before start, nobody remains         -> not eligible
  <  5h before start                         -> eligible (late cancellation)

FINALIZATION:
  For each training of the day not yet salary-processed: an eligible,
  non-cancelled training of a non-fixed trainer with a positive
  (trainer, type) rate produces one trainer_salary expense. Every visited
  training is marked is_salary_processed. The store's unique salary expense
  per training backs the at-most-once guarantee.

SEE ALSO:
  - booking/cancel.go: calls OnStudentCancelled
  - engine/engine.go: FinalizeSalaries runs one transaction per training
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// LateCancellationHours is the lead time under which a cancellation no
// longer costs the trainer the training.
const LateCancellationHours = 5

// Eligible applies the eligibility table. applies is false for fixed salary
// trainers, whose per-training flag is not used.
func Eligible(fixedSalary bool, hoursBefore float64, othersActive int) (eligible, applies bool) {
	if fixedSalary {
		return false, false
	}
	if hoursBefore < LateCancellationHours {
		return true, true
	}
	return othersActive > 0, true
}

type Service struct {
	store    studio.Store
	settings studio.Settings
}

func New(store studio.Store, settings studio.Settings) *Service {
	return &Service{store: store, settings: settings}
}

// OnStudentCancelled re-evaluates the training's salary flag after one of
// its students cancelled hoursBefore the start. The cancelled record must
// already be stored as cancelled. Returns the resulting flag.
func (s *Service) OnStudentCancelled(ctx context.Context, trainingID string, hoursBefore float64) (bool, error) {
	training, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return false, err
	}
	trainer, err := s.store.GetTrainer(ctx, training.TrainerID)
	if err != nil {
		return false, err
	}
	records, err := s.store.ListAttendance(ctx, training.ID)
	if err != nil {
		return false, fmt.Errorf("list attendance: %w", err)
	}
	others := lo.CountBy(records, func(r studio.AttendanceRecord) bool { return r.IsActive() })

	eligible, applies := Eligible(trainer.FixedSalary, hoursBefore, others)
	if !applies || eligible == training.TrainerSalaryEligible {
		return training.TrainerSalaryEligible, nil
	}
	training.TrainerSalaryEligible = eligible
	if err := s.store.UpdateTraining(ctx, *training); err != nil {
		return false, fmt.Errorf("update salary eligibility: %w", err)
	}
	return eligible, nil
}

// =============================================================================
// FINALIZATION
// =============================================================================

// Result summarizes a finalization run.
type Result struct {
	Date     studio.Date          `json:"date"`
	Visited  int                  `json:"visited"`
	Expenses []studio.Expense     `json:"expenses"`
	Failures []studio.ItemFailure `json:"failures,omitempty"`
}

// DueOn lists the trainings of date that still await salary processing.
func (s *Service) DueOn(ctx context.Context, date studio.Date) ([]studio.Training, error) {
	trainings, err := s.store.ListTrainingsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list trainings: %w", err)
	}
	return lo.Reject(trainings, func(t studio.Training, _ int) bool { return t.IsSalaryProcessed }), nil
}

// FinalizeTraining settles the trainer's pay for one training. Returns the
// created expense, or nil when none is owed or the training was already
// settled.
func (s *Service) FinalizeTraining(ctx context.Context, trainingID string) (*studio.Expense, error) {
	training, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return nil, err
	}
	if training.IsSalaryProcessed {
		return nil, nil
	}
	trainer, err := s.store.GetTrainer(ctx, training.TrainerID)
	if err != nil {
		return nil, err
	}

	var expense *studio.Expense
	if !trainer.FixedSalary && training.TrainerSalaryEligible && !training.IsCancelled() {
		rate, err := s.store.FindTrainerRate(ctx, trainer.ID, training.TrainingTypeID)
		if err != nil {
			return nil, fmt.Errorf("find trainer rate: %w", err)
		}
		if rate != nil && rate.Amount.IsPositive() {
			expense = &studio.Expense{
				ID:          studio.NewID(),
				TrainerID:   trainer.ID,
				TrainingID:  training.ID,
				Type:        studio.ExpenseTrainerSalary,
				Amount:      rate.Amount,
				Description: fmt.Sprintf("Training salary %s %s", training.Date, training.StartTime),
				ExpenseDate: training.Date,
				CreatedAt:   s.settings.Now().UTC(),
			}
			if err := s.store.CreateExpense(ctx, *expense); err != nil {
				return nil, fmt.Errorf("create salary expense: %w", err)
			}
		}
	}

	training.IsSalaryProcessed = true
	if err := s.store.UpdateTraining(ctx, *training); err != nil {
		return nil, fmt.Errorf("mark salary processed: %w", err)
	}
	return expense, nil
}

// Package schedule turns weekly templates into concrete trainings.
package schedule

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// Planner manages templates and trainings inside one store transaction.
type Planner struct {
	store    studio.Store
	booking  *booking.Service
	settings studio.Settings
}

func NewPlanner(store studio.Store, books *ledger.Books, settings studio.Settings) *Planner {
	return &Planner{store: store, booking: booking.New(store, books, settings), settings: settings}
}

// =============================================================================
// TEMPLATES
// =============================================================================

type TemplateInput struct {
	Weekday        int              `json:"weekday" validate:"min=1,max=7"`
	StartTime      studio.ClockTime `json:"start_time"`
	TrainerID      string           `json:"trainer_id" validate:"required"`
	TrainingTypeID string           `json:"training_type_id" validate:"required"`
}

// CreateTemplate adds a weekly slot. A trainer has at most one template per
// (weekday, start time).
func (p *Planner) CreateTemplate(ctx context.Context, in TemplateInput) (*studio.TrainingTemplate, error) {
	if in.Weekday < 1 || in.Weekday > 7 {
		return nil, studio.Invalid("weekday", "weekday must be 1 (Monday) to 7 (Sunday), got %d", in.Weekday)
	}
	if !in.StartTime.Valid() {
		return nil, studio.Invalid("start_time", "invalid start time %s", in.StartTime)
	}
	if _, err := p.store.GetTrainer(ctx, in.TrainerID); err != nil {
		return nil, err
	}
	if _, err := p.store.GetTrainingType(ctx, in.TrainingTypeID); err != nil {
		return nil, err
	}

	t := studio.TrainingTemplate{
		ID:             studio.NewID(),
		Weekday:        in.Weekday,
		StartTime:      in.StartTime,
		TrainerID:      in.TrainerID,
		TrainingTypeID: in.TrainingTypeID,
		Active:         true,
		CreatedAt:      p.settings.Now().UTC(),
	}
	if err := p.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

type AssignInput struct {
	TemplateID string      `json:"template_id" validate:"required"`
	StudentID  string      `json:"student_id" validate:"required"`
	StartDate  studio.Date `json:"start_date"`
	Frozen     bool        `json:"frozen"`
}

// AssignStudent adds a student to a template from StartDate on (today when
// zero).
func (p *Planner) AssignStudent(ctx context.Context, in AssignInput) (*studio.TemplateStudent, error) {
	if _, err := p.store.GetTemplate(ctx, in.TemplateID); err != nil {
		return nil, err
	}
	if _, err := p.store.GetStudent(ctx, in.StudentID); err != nil {
		return nil, err
	}
	start := in.StartDate
	if start.IsZero() {
		start = p.settings.Today()
	}
	ts := studio.TemplateStudent{
		ID:         studio.NewID(),
		TemplateID: in.TemplateID,
		StudentID:  in.StudentID,
		StartDate:  start,
		Frozen:     in.Frozen,
		CreatedAt:  p.settings.Now().UTC(),
	}
	if err := p.store.AddTemplateStudent(ctx, ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// =============================================================================
// AD HOC TRAININGS
// =============================================================================

type TrainingInput struct {
	TrainerID      string           `json:"trainer_id" validate:"required"`
	TrainingTypeID string           `json:"training_type_id" validate:"required"`
	Date           studio.Date      `json:"training_date"`
	StartTime      studio.ClockTime `json:"start_time"`
}

// CreateTraining schedules a one-off training outside any template.
func (p *Planner) CreateTraining(ctx context.Context, in TrainingInput) (*studio.Training, error) {
	if in.Date.IsZero() {
		return nil, studio.Invalid("training_date", "training date is required")
	}
	if !in.StartTime.Valid() {
		return nil, studio.Invalid("start_time", "invalid start time %s", in.StartTime)
	}
	trainer, err := p.store.GetTrainer(ctx, in.TrainerID)
	if err != nil {
		return nil, err
	}
	if !trainer.Active {
		return nil, studio.Precondition("trainer", "trainer is not active").WithID(trainer.ID)
	}
	tt, err := p.store.GetTrainingType(ctx, in.TrainingTypeID)
	if err != nil {
		return nil, err
	}
	if !tt.Active {
		return nil, studio.Precondition("training_type", "training type is not active").WithID(tt.ID)
	}
	if err := p.ensureTrainerFree(ctx, trainer.ID, in.Date, in.StartTime); err != nil {
		return nil, err
	}

	t := p.newTraining("", trainer.ID, tt.ID, in.Date, in.StartTime)
	if err := p.store.CreateTraining(ctx, t); err != nil {
		return nil, fmt.Errorf("create training: %w", err)
	}
	return &t, nil
}

func (p *Planner) ensureTrainerFree(ctx context.Context, trainerID string, date studio.Date, start studio.ClockTime) error {
	sameDay, err := p.store.ListTrainingsOn(ctx, date)
	if err != nil {
		return fmt.Errorf("list trainings: %w", err)
	}
	busy := lo.ContainsBy(sameDay, func(t studio.Training) bool {
		return t.TrainerID == trainerID && t.StartTime == start && !t.IsCancelled()
	})
	if busy {
		return studio.Conflict("training", "trainer %s already has a training on %s at %s", trainerID, date, start)
	}
	return nil
}

func (p *Planner) newTraining(templateID, trainerID, typeID string, date studio.Date, start studio.ClockTime) studio.Training {
	return studio.Training{
		ID:                    studio.NewID(),
		TemplateID:            templateID,
		TrainerID:             trainerID,
		TrainingTypeID:        typeID,
		Date:                  date,
		StartTime:             start,
		TrainerSalaryEligible: true,
		CreatedAt:             p.settings.Now().UTC(),
	}
}

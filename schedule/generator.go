/*
generator.go - Next week's trainings from the weekly templates

PURPOSE:
  For each active template (with an active trainer and training type) builds
  the training of the next calendar week and books its assigned students.

  today = Wed 2024-03-13
  next week = Mon 2024-03-18 .. Sun 2024-03-24
  template weekday 3 (Wednesday) -> training on 2024-03-20

STUDENT SELECTION:
  Assignments are visited by (start_date, id). Frozen assignments and those
  starting after the training date are passed over. Once the training type's
  MaxParticipants is reached every remaining student is reported as a
  capacity skip. A subscription-only type books a student only with a
  subscription active on the training date that has sessions left or
  auto-renew; other students are reported as ineligible.

IDEMPOTENCY:
  A template never produces two trainings for the same date. Re-running
  finds the existing training and reports the template as already generated.

  The engine runs GenerateFor once per template, each in its own
  transaction, so one broken template does not stop the others.
*/
package schedule

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/aryzhykau/atlantis-engine/studio"
)

type SkipReason string

const (
	SkipCapacity   SkipReason = "capacity"
	SkipIneligible SkipReason = "ineligible"
)

// Skip is a template student that was not booked.
type Skip struct {
	TemplateID string     `json:"template_id"`
	StudentID  string     `json:"student_id"`
	Reason     SkipReason `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
}

// Generated is the outcome for one template.
type Generated struct {
	TemplateID string
	// Training is nil when the template already had a training that day.
	Training   *studio.Training
	Registered []studio.AttendanceRecord
	Skipped    []Skip
}

// Result summarizes a generation run.
type Result struct {
	WeekStart studio.Date               `json:"week_start"`
	Created   int                       `json:"created"`
	Trainings []studio.Training         `json:"trainings"`
	Records   []studio.AttendanceRecord `json:"records"`
	Skipped   []Skip                    `json:"skipped,omitempty"`
	Failures  []studio.ItemFailure      `json:"failures,omitempty"`
}

// Add folds one template's outcome into the run result.
func (r *Result) Add(g *Generated) {
	if g.Training != nil {
		r.Created++
		r.Trainings = append(r.Trainings, *g.Training)
	}
	r.Records = append(r.Records, g.Registered...)
	r.Skipped = append(r.Skipped, g.Skipped...)
}

// NextWeekStart is the Monday after today's week.
func NextWeekStart(today studio.Date) studio.Date {
	return today.StartOfWeek().AddDays(7)
}

// TargetDate is the day of the week starting at weekStart matching weekday.
func TargetDate(weekStart studio.Date, weekday int) studio.Date {
	return weekStart.AddDays(weekday - 1)
}

// Generable lists the templates the generator should visit.
func (p *Planner) Generable(ctx context.Context) ([]studio.TrainingTemplate, error) {
	templates, err := p.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return lo.Filter(templates, func(t studio.TrainingTemplate, _ int) bool { return t.Active }), nil
}

// GenerateFor builds the training of templateID in the week starting at
// weekStart.
func (p *Planner) GenerateFor(ctx context.Context, templateID string, weekStart studio.Date) (*Generated, error) {
	tmpl, err := p.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	out := &Generated{TemplateID: tmpl.ID}
	if !tmpl.Active {
		return out, nil
	}
	trainer, err := p.store.GetTrainer(ctx, tmpl.TrainerID)
	if err != nil {
		return nil, err
	}
	tt, err := p.store.GetTrainingType(ctx, tmpl.TrainingTypeID)
	if err != nil {
		return nil, err
	}
	if !trainer.Active || !tt.Active {
		return out, nil
	}

	date := TargetDate(weekStart, tmpl.Weekday)
	existing, err := p.store.FindTrainingByTemplate(ctx, tmpl.ID, date)
	if err != nil {
		return nil, fmt.Errorf("find training: %w", err)
	}
	if existing != nil {
		return out, nil
	}

	training := p.newTraining(tmpl.ID, tmpl.TrainerID, tmpl.TrainingTypeID, date, tmpl.StartTime)
	if err := p.store.CreateTraining(ctx, training); err != nil {
		return nil, fmt.Errorf("create training: %w", err)
	}
	out.Training = &training

	assigned, err := p.store.ListTemplateStudents(ctx, tmpl.ID)
	if err != nil {
		return nil, fmt.Errorf("list template students: %w", err)
	}
	candidates := lo.Filter(assigned, func(ts studio.TemplateStudent, _ int) bool {
		return !ts.Frozen && !ts.StartDate.After(date)
	})

	for _, ts := range candidates {
		if tt.MaxParticipants > 0 && len(out.Registered) >= tt.MaxParticipants {
			out.Skipped = append(out.Skipped, Skip{
				TemplateID: tmpl.ID,
				StudentID:  ts.StudentID,
				Reason:     SkipCapacity,
				Detail:     fmt.Sprintf("max %d participants", tt.MaxParticipants),
			})
			continue
		}
		rec, err := p.booking.RegisterOn(ctx, &training, tt, ts.StudentID, ts.ID)
		if studio.KindOf(err) == studio.KindPrecondition {
			out.Skipped = append(out.Skipped, Skip{
				TemplateID: tmpl.ID,
				StudentID:  ts.StudentID,
				Reason:     SkipIneligible,
				Detail:     err.Error(),
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("register student %s: %w", ts.StudentID, err)
		}
		out.Registered = append(out.Registered, *rec)
	}
	return out, nil
}

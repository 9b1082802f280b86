package sqlstore

import (
	"context"
	"fmt"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// TEMPLATES
// =============================================================================

func (t *txStore) CreateTemplate(ctx context.Context, tmpl studio.TrainingTemplate) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO training_templates (id, weekday, start_time, trainer_id, training_type_id, active, created_at)
		VALUES (:id, :weekday, :start_time, :trainer_id, :training_type_id, :active, :created_at)`, tmpl)
	if isUniqueViolation(err) {
		return studio.Conflict("template", "trainer %s already has a template on weekday %d at %s",
			tmpl.TrainerID, tmpl.Weekday, tmpl.StartTime)
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (t *txStore) GetTemplate(ctx context.Context, id string) (*studio.TrainingTemplate, error) {
	var tmpl studio.TrainingTemplate
	if err := t.get(ctx, &tmpl, "template", id, `SELECT * FROM training_templates WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (t *txStore) ListTemplates(ctx context.Context) ([]studio.TrainingTemplate, error) {
	var out []studio.TrainingTemplate
	if err := t.list(ctx, &out, `
		SELECT * FROM training_templates ORDER BY weekday, start_time, created_at, id`); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

func (t *txStore) AddTemplateStudent(ctx context.Context, ts studio.TemplateStudent) error {
	return t.insert(ctx, "template_student", `
		INSERT INTO template_students (id, template_id, student_id, start_date, frozen, created_at)
		VALUES (:id, :template_id, :student_id, :start_date, :frozen, :created_at)`, ts)
}

func (t *txStore) ListTemplateStudents(ctx context.Context, templateID string) ([]studio.TemplateStudent, error) {
	var out []studio.TemplateStudent
	if err := t.list(ctx, &out, `
		SELECT * FROM template_students WHERE template_id = ? ORDER BY start_date, id`, templateID); err != nil {
		return nil, fmt.Errorf("list template students: %w", err)
	}
	return out, nil
}

// =============================================================================
// TRAININGS
// =============================================================================

func (t *txStore) CreateTraining(ctx context.Context, tr studio.Training) error {
	return t.insert(ctx, "training", `
		INSERT INTO trainings (id, template_id, trainer_id, training_type_id, training_date, start_time,
			cancelled_at, cancellation_reason, processed_at, trainer_salary_eligible, is_salary_processed, created_at)
		VALUES (:id, :template_id, :trainer_id, :training_type_id, :training_date, :start_time,
			:cancelled_at, :cancellation_reason, :processed_at, :trainer_salary_eligible, :is_salary_processed, :created_at)`, tr)
}

func (t *txStore) GetTraining(ctx context.Context, id string) (*studio.Training, error) {
	var tr studio.Training
	if err := t.get(ctx, &tr, "training", id, `SELECT * FROM trainings WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *txStore) UpdateTraining(ctx context.Context, tr studio.Training) error {
	return t.update(ctx, "training", tr.ID, `
		UPDATE trainings SET
			trainer_id = :trainer_id,
			training_type_id = :training_type_id,
			training_date = :training_date,
			start_time = :start_time,
			cancelled_at = :cancelled_at,
			cancellation_reason = :cancellation_reason,
			processed_at = :processed_at,
			trainer_salary_eligible = :trainer_salary_eligible,
			is_salary_processed = :is_salary_processed
		WHERE id = :id`, tr)
}

func (t *txStore) FindTrainingByTemplate(ctx context.Context, templateID string, date studio.Date) (*studio.Training, error) {
	var tr studio.Training
	found, err := t.find(ctx, &tr, `
		SELECT * FROM trainings WHERE template_id = ? AND training_date = ?`, templateID, date)
	if err != nil {
		return nil, fmt.Errorf("find training: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &tr, nil
}

func (t *txStore) ListTrainingsOn(ctx context.Context, date studio.Date) ([]studio.Training, error) {
	var out []studio.Training
	if err := t.list(ctx, &out, `
		SELECT * FROM trainings WHERE training_date = ? ORDER BY start_time, created_at, id`, date); err != nil {
		return nil, fmt.Errorf("list trainings: %w", err)
	}
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (t *txStore) CreateAttendance(ctx context.Context, r studio.AttendanceRecord) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO attendance_records (id, training_id, student_id, subscription_id, template_student_id,
			status, session_deducted, deduction_source, requires_payment, notified_at, cancelled_at,
			cancellation_reason, marked_at, marked_by, created_at)
		VALUES (:id, :training_id, :student_id, :subscription_id, :template_student_id,
			:status, :session_deducted, :deduction_source, :requires_payment, :notified_at, :cancelled_at,
			:cancellation_reason, :marked_at, :marked_by, :created_at)`, r)
	if isUniqueViolation(err) {
		return studio.Conflict("attendance", "student %s already registered on training %s", r.StudentID, r.TrainingID)
	}
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

func (t *txStore) UpdateAttendance(ctx context.Context, r studio.AttendanceRecord) error {
	return t.update(ctx, "attendance", r.ID, `
		UPDATE attendance_records SET
			subscription_id = :subscription_id,
			status = :status,
			session_deducted = :session_deducted,
			deduction_source = :deduction_source,
			requires_payment = :requires_payment,
			notified_at = :notified_at,
			cancelled_at = :cancelled_at,
			cancellation_reason = :cancellation_reason,
			marked_at = :marked_at,
			marked_by = :marked_by
		WHERE id = :id`, r)
}

func (t *txStore) FindActiveAttendance(ctx context.Context, trainingID, studentID string) (*studio.AttendanceRecord, error) {
	var r studio.AttendanceRecord
	found, err := t.find(ctx, &r, `
		SELECT * FROM attendance_records
		WHERE training_id = ? AND student_id = ? AND status NOT IN (?, ?)`,
		trainingID, studentID, studio.StatusCancelledSafe, studio.StatusCancelledPenalty)
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

func (t *txStore) GetAttendance(ctx context.Context, id string) (*studio.AttendanceRecord, error) {
	var r studio.AttendanceRecord
	if err := t.get(ctx, &r, "attendance", id, `SELECT * FROM attendance_records WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *txStore) ListAttendance(ctx context.Context, trainingID string) ([]studio.AttendanceRecord, error) {
	var out []studio.AttendanceRecord
	if err := t.list(ctx, &out, `
		SELECT * FROM attendance_records WHERE training_id = ? ORDER BY created_at, id`, trainingID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return out, nil
}

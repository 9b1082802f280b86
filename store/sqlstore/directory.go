package sqlstore

import (
	"context"
	"fmt"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// DIRECTORY
// =============================================================================

func (t *txStore) CreateClient(ctx context.Context, c studio.Client) error {
	return t.insert(ctx, "client", `
		INSERT INTO clients (id, name, balance, created_at)
		VALUES (:id, :name, :balance, :created_at)`, c)
}

func (t *txStore) GetClient(ctx context.Context, id string) (*studio.Client, error) {
	var c studio.Client
	if err := t.get(ctx, &c, "client", id, `SELECT * FROM clients WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *txStore) UpdateClient(ctx context.Context, c studio.Client) error {
	return t.update(ctx, "client", c.ID, `
		UPDATE clients SET name = :name, balance = :balance WHERE id = :id`, c)
}

func (t *txStore) CreateStudent(ctx context.Context, s studio.Student) error {
	return t.insert(ctx, "student", `
		INSERT INTO students (id, client_id, name, active, created_at)
		VALUES (:id, :client_id, :name, :active, :created_at)`, s)
}

func (t *txStore) GetStudent(ctx context.Context, id string) (*studio.Student, error) {
	var s studio.Student
	if err := t.get(ctx, &s, "student", id, `SELECT * FROM students WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *txStore) CreateTrainer(ctx context.Context, tr studio.Trainer) error {
	return t.insert(ctx, "trainer", `
		INSERT INTO trainers (id, name, active, fixed_salary, created_at)
		VALUES (:id, :name, :active, :fixed_salary, :created_at)`, tr)
}

func (t *txStore) GetTrainer(ctx context.Context, id string) (*studio.Trainer, error) {
	var tr studio.Trainer
	if err := t.get(ctx, &tr, "trainer", id, `SELECT * FROM trainers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *txStore) CreateTrainingType(ctx context.Context, tt studio.TrainingType) error {
	return t.insert(ctx, "training_type", `
		INSERT INTO training_types (id, name, active, price, max_participants, subscription_only,
			cancellation_mode, safe_cancel_hours, safe_cancel_cutoff, safe_cancel_previous_day, created_at)
		VALUES (:id, :name, :active, :price, :max_participants, :subscription_only,
			:cancellation_mode, :safe_cancel_hours, :safe_cancel_cutoff, :safe_cancel_previous_day, :created_at)`, tt)
}

func (t *txStore) GetTrainingType(ctx context.Context, id string) (*studio.TrainingType, error) {
	var tt studio.TrainingType
	if err := t.get(ctx, &tt, "training_type", id, `SELECT * FROM training_types WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &tt, nil
}

func (t *txStore) SetTrainerRate(ctx context.Context, r studio.TrainerRate) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO trainer_rates (id, trainer_id, training_type_id, amount, created_at)
		VALUES (:id, :trainer_id, :training_type_id, :amount, :created_at)
		ON CONFLICT (trainer_id, training_type_id) DO UPDATE SET amount = excluded.amount`, r)
	if err != nil {
		return fmt.Errorf("set trainer rate: %w", err)
	}
	return nil
}

func (t *txStore) FindTrainerRate(ctx context.Context, trainerID, trainingTypeID string) (*studio.TrainerRate, error) {
	var r studio.TrainerRate
	found, err := t.find(ctx, &r, `
		SELECT * FROM trainer_rates WHERE trainer_id = ? AND training_type_id = ?`, trainerID, trainingTypeID)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (t *txStore) CreateSubscriptionPlan(ctx context.Context, p studio.SubscriptionPlan) error {
	return t.insert(ctx, "subscription_plan", `
		INSERT INTO subscription_plans (id, name, price, sessions_count, validity_days, active, created_at)
		VALUES (:id, :name, :price, :sessions_count, :validity_days, :active, :created_at)`, p)
}

func (t *txStore) GetSubscriptionPlan(ctx context.Context, id string) (*studio.SubscriptionPlan, error) {
	var p studio.SubscriptionPlan
	if err := t.get(ctx, &p, "subscription_plan", id, `SELECT * FROM subscription_plans WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

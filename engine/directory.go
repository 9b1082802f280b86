package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// DIRECTORY - Clients, students, trainers, types, rates and plans
// =============================================================================

type ClientInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (e *Engine) CreateClient(ctx context.Context, in ClientInput) (*studio.Client, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	c := studio.Client{ID: studio.NewID(), Name: in.Name, Balance: decimal.Zero, CreatedAt: e.stamp()}
	if err := e.store.WithTx(ctx, func(s studio.Store) error { return s.CreateClient(ctx, c) }); err != nil {
		return nil, err
	}
	return &c, nil
}

type StudentInput struct {
	ClientID string `json:"client_id" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
}

func (e *Engine) CreateStudent(ctx context.Context, in StudentInput) (*studio.Student, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	st := studio.Student{ID: studio.NewID(), ClientID: in.ClientID, Name: in.Name, Active: true, CreatedAt: e.stamp()}
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		if _, err := s.GetClient(ctx, in.ClientID); err != nil {
			return err
		}
		return s.CreateStudent(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

type TrainerInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	FixedSalary bool   `json:"fixed_salary"`
}

func (e *Engine) CreateTrainer(ctx context.Context, in TrainerInput) (*studio.Trainer, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	t := studio.Trainer{ID: studio.NewID(), Name: in.Name, Active: true, FixedSalary: in.FixedSalary, CreatedAt: e.stamp()}
	if err := e.store.WithTx(ctx, func(s studio.Store) error { return s.CreateTrainer(ctx, t) }); err != nil {
		return nil, err
	}
	return &t, nil
}

type TrainingTypeInput struct {
	Name             string                   `json:"name" validate:"required,max=200"`
	Price            decimal.Decimal          `json:"price"`
	MaxParticipants  int                      `json:"max_participants" validate:"min=1,max=500"`
	SubscriptionOnly bool                     `json:"subscription_only"`
	Cancellation     studio.CancellationRules `json:"cancellation"`
}

func (e *Engine) CreateTrainingType(ctx context.Context, in TrainingTypeInput) (*studio.TrainingType, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if in.Price.IsNegative() {
		return nil, studio.Invalid("price", "price must not be negative, got %s", in.Price)
	}
	tt := studio.TrainingType{
		ID:                studio.NewID(),
		Name:              in.Name,
		Active:            true,
		Price:             in.Price,
		MaxParticipants:   in.MaxParticipants,
		SubscriptionOnly:  in.SubscriptionOnly,
		CancellationRules: in.Cancellation,
		CreatedAt:         e.stamp(),
	}
	if err := e.store.WithTx(ctx, func(s studio.Store) error { return s.CreateTrainingType(ctx, tt) }); err != nil {
		return nil, err
	}
	return &tt, nil
}

type RateInput struct {
	TrainerID      string          `json:"trainer_id" validate:"required"`
	TrainingTypeID string          `json:"training_type_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
}

// SetTrainerRate sets what a trainer earns per training of a type,
// replacing any earlier rate.
func (e *Engine) SetTrainerRate(ctx context.Context, in RateInput) (*studio.TrainerRate, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, studio.Invalid("amount", "rate must not be negative, got %s", in.Amount)
	}
	var out *studio.TrainerRate
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		if _, err := s.GetTrainer(ctx, in.TrainerID); err != nil {
			return err
		}
		if _, err := s.GetTrainingType(ctx, in.TrainingTypeID); err != nil {
			return err
		}
		r := studio.TrainerRate{
			ID:             studio.NewID(),
			TrainerID:      in.TrainerID,
			TrainingTypeID: in.TrainingTypeID,
			Amount:         in.Amount,
			CreatedAt:      e.stamp(),
		}
		if err := s.SetTrainerRate(ctx, r); err != nil {
			return err
		}
		var err error
		out, err = s.FindTrainerRate(ctx, in.TrainerID, in.TrainingTypeID)
		return err
	})
	return out, err
}

type PlanInput struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Price         decimal.Decimal `json:"price"`
	SessionsCount int             `json:"sessions_count" validate:"min=1,max=1000"`
	ValidityDays  int             `json:"validity_days" validate:"min=1,max=3650"`
}

func (e *Engine) CreateSubscriptionPlan(ctx context.Context, in PlanInput) (*studio.SubscriptionPlan, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if in.Price.IsNegative() {
		return nil, studio.Invalid("price", "price must not be negative, got %s", in.Price)
	}
	p := studio.SubscriptionPlan{
		ID:            studio.NewID(),
		Name:          in.Name,
		Price:         in.Price,
		SessionsCount: in.SessionsCount,
		ValidityDays:  in.ValidityDays,
		Active:        true,
		CreatedAt:     e.stamp(),
	}
	if err := e.store.WithTx(ctx, func(s studio.Store) error { return s.CreateSubscriptionPlan(ctx, p) }); err != nil {
		return nil, err
	}
	return &p, nil
}

type SubscriptionInput struct {
	StudentID string      `json:"student_id" validate:"required"`
	PlanID    string      `json:"plan_id" validate:"required"`
	StartDate studio.Date `json:"start_date"`
	AutoRenew bool        `json:"auto_renew"`
}

// SubscriptionSale is a new subscription with the invoice that bills it.
type SubscriptionSale struct {
	Subscription studio.StudentSubscription `json:"subscription"`
	Invoice      studio.Invoice             `json:"invoice"`
}

// SellSubscription opens a subscription starting today unless a start date
// is given.
func (e *Engine) SellSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionSale, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	start := in.StartDate
	if start.IsZero() {
		start = e.settings.Today()
	}
	var out *SubscriptionSale
	err := e.tx(ctx, func(s studio.Store, books *ledger.Books) error {
		sub, inv, err := books.Sessions.Sell(ctx, in.StudentID, in.PlanID, start, in.AutoRenew)
		if err != nil {
			return err
		}
		out = &SubscriptionSale{Subscription: *sub, Invoice: *inv}
		return nil
	})
	return out, err
}

// StudentSubscriptions lists a student's subscriptions oldest first.
func (e *Engine) StudentSubscriptions(ctx context.Context, studentID string) ([]studio.StudentSubscription, error) {
	var out []studio.StudentSubscription
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		if _, err := s.GetStudent(ctx, studentID); err != nil {
			return err
		}
		var err error
		out, err = s.ListStudentSubscriptions(ctx, studentID)
		return err
	})
	return out, err
}

// Expenses lists salary expenses, all of them when trainerID is empty.
func (e *Engine) Expenses(ctx context.Context, trainerID string) ([]studio.Expense, error) {
	var out []studio.Expense
	err := e.store.WithTx(ctx, func(s studio.Store) error {
		var err error
		out, err = s.ListExpenses(ctx, trainerID)
		return err
	})
	return out, err
}

func (e *Engine) stamp() time.Time { return e.settings.Now().UTC().Truncate(time.Microsecond) }

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the studio with realistic data
  through the engine's own operations, so the seeded state obeys every rule
  the live API enforces.

AVAILABLE SCENARIOS:
  group-class:    one trainer, a capped group type, a weekly template with
                  a subscriber, a pay-per-session student and a waitlisted
                  third student
  renewal-due:    an auto-renewing subscription ending today with unused
                  sessions and enough balance to pay the renewal
  penalty-policy: a FIXED cutoff type and an ad hoc training for tomorrow
                  to try safe and penalty cancellations against

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "group-class"}

NOTE:
  Scenarios add data, they never reset the store. Loading one twice creates
  a second, independent set of entities.

SEE ALSO:
  - handlers.go: the endpoints these loaders mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/aryzhykau/atlantis-engine/booking"
	"github.com/aryzhykau/atlantis-engine/engine"
	"github.com/aryzhykau/atlantis-engine/schedule"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "group-class",
		Name:        "Group Class",
		Description: "Weekly template at capacity 2 with a subscriber, a pay-per-session student and one over capacity",
	},
	{
		ID:          "renewal-due",
		Name:        "Renewal Due",
		Description: "Auto-renewing subscription ending today with unused sessions and funds for the renewal",
	},
	{
		ID:          "penalty-policy",
		Name:        "Penalty Policy",
		Description: "FIXED cutoff type (12:00 the day before) with a booked training tomorrow",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context, *seeder) error
	switch req.ScenarioID {
	case "group-class":
		load = loadGroupClass
	case "renewal-due":
		load = loadRenewalDue
	case "penalty-policy":
		load = loadPenaltyPolicy
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	sd := &seeder{engine: h.Engine, ids: map[string]string{}}
	if err := load(r.Context(), sd); err != nil {
		h.writeDomainError(w, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			writeJSON(w, http.StatusCreated, SeededScenarioDTO{Scenario: s, IDs: sd.ids})
			return
		}
	}
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder creates entities through the engine and remembers their ids.
type seeder struct {
	engine *engine.Engine
	ids    map[string]string
}

func (sd *seeder) client(ctx context.Context, key, name string, deposit int64) (string, error) {
	c, err := sd.engine.CreateClient(ctx, engine.ClientInput{Name: name})
	if err != nil {
		return "", err
	}
	sd.ids["client:"+key] = c.ID
	if deposit > 0 {
		if _, err := sd.engine.ApplyPayment(ctx, engine.PaymentInput{
			ClientID:    c.ID,
			Amount:      decimal.NewFromInt(deposit),
			Description: "opening deposit",
		}); err != nil {
			return "", err
		}
	}
	return c.ID, nil
}

func (sd *seeder) student(ctx context.Context, key, clientID, name string) (string, error) {
	s, err := sd.engine.CreateStudent(ctx, engine.StudentInput{ClientID: clientID, Name: name})
	if err != nil {
		return "", err
	}
	sd.ids["student:"+key] = s.ID
	return s.ID, nil
}

func (sd *seeder) trainer(ctx context.Context, name string) (string, error) {
	t, err := sd.engine.CreateTrainer(ctx, engine.TrainerInput{Name: name})
	if err != nil {
		return "", err
	}
	sd.ids["trainer"] = t.ID
	return t.ID, nil
}

func (sd *seeder) trainingType(ctx context.Context, in engine.TrainingTypeInput) (string, error) {
	tt, err := sd.engine.CreateTrainingType(ctx, in)
	if err != nil {
		return "", err
	}
	sd.ids["training_type"] = tt.ID
	return tt.ID, nil
}

func (sd *seeder) plan(ctx context.Context, name string, price int64, sessions, days int) (string, error) {
	p, err := sd.engine.CreateSubscriptionPlan(ctx, engine.PlanInput{
		Name:          name,
		Price:         decimal.NewFromInt(price),
		SessionsCount: sessions,
		ValidityDays:  days,
	})
	if err != nil {
		return "", err
	}
	sd.ids["plan"] = p.ID
	return p.ID, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadGroupClass(ctx context.Context, sd *seeder) error {
	today := sd.engine.Settings().Today()

	trainerID, err := sd.trainer(ctx, "Olga Petrova")
	if err != nil {
		return err
	}
	typeID, err := sd.trainingType(ctx, engine.TrainingTypeInput{
		Name:            "Group Swim",
		Price:           decimal.NewFromInt(25),
		MaxParticipants: 2,
	})
	if err != nil {
		return err
	}
	if _, err := sd.engine.SetTrainerRate(ctx, engine.RateInput{
		TrainerID: trainerID, TrainingTypeID: typeID, Amount: decimal.NewFromInt(40),
	}); err != nil {
		return err
	}
	planID, err := sd.plan(ctx, "8 sessions / 30 days", 160, 8, 30)
	if err != nil {
		return err
	}

	tmpl, err := sd.engine.CreateTemplate(ctx, schedule.TemplateInput{
		Weekday:        1,
		StartTime:      studio.NewClockTime(18, 0),
		TrainerID:      trainerID,
		TrainingTypeID: typeID,
	})
	if err != nil {
		return err
	}
	sd.ids["template:monday"] = tmpl.ID

	students := []struct {
		key, client, name string
		deposit           int64
		subscribe         bool
	}{
		{"anna", "Ivanov family", "Anna Ivanova", 200, true},
		{"boris", "Smirnov family", "Boris Smirnov", 100, false},
		{"vera", "Kuznetsov family", "Vera Kuznetsova", 0, false},
	}
	for i, s := range students {
		clientID, err := sd.client(ctx, s.key, s.client, s.deposit)
		if err != nil {
			return err
		}
		studentID, err := sd.student(ctx, s.key, clientID, s.name)
		if err != nil {
			return err
		}
		if s.subscribe {
			sale, err := sd.engine.SellSubscription(ctx, engine.SubscriptionInput{
				StudentID: studentID, PlanID: planID, StartDate: today, AutoRenew: true,
			})
			if err != nil {
				return err
			}
			sd.ids["subscription:"+s.key] = sale.Subscription.ID
		}
		// Later start dates lose the seat when the template is full.
		if _, err := sd.engine.AssignTemplateStudent(ctx, schedule.AssignInput{
			TemplateID: tmpl.ID, StudentID: studentID, StartDate: today.AddDays(i - len(students)),
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadRenewalDue(ctx context.Context, sd *seeder) error {
	today := sd.engine.Settings().Today()

	planID, err := sd.plan(ctx, "8 sessions / 30 days", 160, 8, 30)
	if err != nil {
		return err
	}
	clientID, err := sd.client(ctx, "petrov", "Petrov family", 320)
	if err != nil {
		return err
	}
	studentID, err := sd.student(ctx, "dmitry", clientID, "Dmitry Petrov")
	if err != nil {
		return err
	}
	// Started 30 days ago so it ends today; the batch renews it.
	sale, err := sd.engine.SellSubscription(ctx, engine.SubscriptionInput{
		StudentID: studentID, PlanID: planID, StartDate: today.AddDays(-30), AutoRenew: true,
	})
	if err != nil {
		return err
	}
	sd.ids["subscription:dmitry"] = sale.Subscription.ID
	return nil
}

func loadPenaltyPolicy(ctx context.Context, sd *seeder) error {
	today := sd.engine.Settings().Today()

	trainerID, err := sd.trainer(ctx, "Igor Sokolov")
	if err != nil {
		return err
	}
	cutoff := studio.NewClockTime(12, 0)
	typeID, err := sd.trainingType(ctx, engine.TrainingTypeInput{
		Name:            "Private Lesson",
		Price:           decimal.NewFromInt(50),
		MaxParticipants: 1,
		Cancellation: studio.CancellationRules{
			Mode:        studio.ModeFixed,
			CutoffTime:  &cutoff,
			PreviousDay: true,
		},
	})
	if err != nil {
		return err
	}
	clientID, err := sd.client(ctx, "orlov", "Orlov family", 100)
	if err != nil {
		return err
	}
	studentID, err := sd.student(ctx, "maria", clientID, "Maria Orlova")
	if err != nil {
		return err
	}
	training, err := sd.engine.CreateTraining(ctx, schedule.TrainingInput{
		TrainerID:      trainerID,
		TrainingTypeID: typeID,
		Date:           today.AddDays(1),
		StartTime:      studio.NewClockTime(10, 0),
	})
	if err != nil {
		return err
	}
	sd.ids["training"] = training.ID
	_, err = sd.engine.RegisterStudent(ctx, booking.RegisterInput{TrainingID: training.ID, StudentID: studentID})
	return err
}

/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Most endpoints decode straight into the engine's input structs
  (engine.ClientInput, schedule.TemplateInput, booking.MarkInput, ...) and
  encode the engine's results. The types here cover what the URL carries
  instead of the body, plus the error envelope and the demo scenarios.

NAMING CONVENTION:
  - *Request: request bodies from clients
  - *DTO: response types returned to clients

SEE ALSO:
  - handlers.go: uses these types
  - engine/engine.go, engine/directory.go: input structs with validate tags
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Kind    studio.Kind `json:"kind,omitempty"`
	Details string      `json:"details,omitempty"`
}

// =============================================================================
// BOOKING
// =============================================================================

// RegisterRequest is the body of POST /api/trainings/{id}/students.
type RegisterRequest struct {
	StudentID string `json:"student_id"`
}

// CancelStudentRequest is the body of POST
// /api/trainings/{id}/students/{studentID}/cancel. NotifiedAt defaults to now.
type CancelStudentRequest struct {
	Reason     string     `json:"reason"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// CancelTrainingRequest is the body of POST /api/trainings/{id}/cancel.
type CancelTrainingRequest struct {
	Reason string `json:"reason"`
}

// MarkRequest is the body of PUT
// /api/trainings/{id}/students/{studentID}/attendance.
type MarkRequest struct {
	Status   studio.AttendanceStatus `json:"status"`
	MarkedBy string                  `json:"marked_by"`
}

// =============================================================================
// LEDGERS
// =============================================================================

// PaymentRequest is the body of POST /api/clients/{id}/payments.
type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// FreezeRequest is the body of POST /api/subscriptions/{id}/freeze.
type FreezeRequest struct {
	StartDate studio.Date `json:"start_date"`
	Days      int         `json:"days"`
}

// =============================================================================
// ADMIN
// =============================================================================

// SalariesRequest is the body of POST /api/admin/salaries. Date defaults
// to today.
type SalariesRequest struct {
	Date studio.Date `json:"date"`
}

// ScheduleDTO is the state of the cron scheduler.
type ScheduleDTO struct {
	Enabled  bool        `json:"enabled"`
	NextRuns []time.Time `json:"next_runs"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// SeededScenarioDTO lists the ids a scenario created, keyed by role
// ("client", "student:anna", "template:monday", ...).
type SeededScenarioDTO struct {
	Scenario ScenarioDTO       `json:"scenario"`
	IDs      map[string]string `json:"ids"`
}

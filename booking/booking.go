/*
booking.go - Student bookings on concrete trainings

PURPOSE:
  Drives the attendance record of one student on one training through its
  lifecycle and keeps the ledgers in step with it:

    Register        REGISTERED record, PENDING invoice when pay-per-session
    MarkAttendance  REGISTERED -> ABSENT (manual), see attendance.go
    CancelStudent   REGISTERED -> CANCELLED_SAFE | CANCELLED_PENALTY
    CancelTraining  every active record of the training, see cancel.go

  A Service is bound to one store transaction. The engine opens a fresh one
  per operation.

CAPACITY:
  Active (non-cancelled) records never exceed the training type's
  MaxParticipants. A MaxParticipants of 0 means unlimited.

LATE REGISTRATION:
  A registration on a training the daily batch already processed is charged
  immediately, since the batch will not come back to it.

SEE ALSO:
  - studio/attendance.go: transition table
  - studio/policy.go: safe/penalty classification
  - ledger/sessions.go: deductions and refunds
  - schedule/generator.go: registers template students in bulk
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/aryzhykau/atlantis-engine/ledger"
	"github.com/aryzhykau/atlantis-engine/payroll"
	"github.com/aryzhykau/atlantis-engine/studio"
)

// SystemMarker is recorded as MarkedBy when the daily batch marks attendance.
const SystemMarker = "system"

type Service struct {
	store    studio.Store
	books    *ledger.Books
	salaries *payroll.Service
	settings studio.Settings
}

func New(store studio.Store, books *ledger.Books, settings studio.Settings) *Service {
	return &Service{
		store:    store,
		books:    books,
		salaries: payroll.New(store, settings),
		settings: settings,
	}
}

// =============================================================================
// INPUTS
// =============================================================================

type RegisterInput struct {
	TrainingID string `json:"training_id" validate:"required"`
	StudentID  string `json:"student_id" validate:"required"`
	// TemplateStudentID links the record to the template assignment it was
	// generated from. Empty for manual registrations.
	TemplateStudentID string `json:"template_student_id,omitempty"`
}

type CancelStudentInput struct {
	TrainingID string `json:"training_id" validate:"required"`
	StudentID  string `json:"student_id" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
	// NotifiedAt is when the studio learned about the cancellation.
	// Zero means now.
	NotifiedAt time.Time `json:"notified_at"`
}

type MarkInput struct {
	TrainingID string                  `json:"training_id" validate:"required"`
	StudentID  string                  `json:"student_id" validate:"required"`
	Status     studio.AttendanceStatus `json:"status" validate:"required"`
	MarkedBy   string                  `json:"marked_by" validate:"max=200"`
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register books a student on a training.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*studio.AttendanceRecord, error) {
	training, err := s.store.GetTraining(ctx, in.TrainingID)
	if err != nil {
		return nil, err
	}
	if training.IsCancelled() {
		return nil, studio.Precondition("training", "training is cancelled").WithID(training.ID)
	}
	tt, err := s.store.GetTrainingType(ctx, training.TrainingTypeID)
	if err != nil {
		return nil, err
	}
	return s.RegisterOn(ctx, training, tt, in.StudentID, in.TemplateStudentID)
}

// RegisterOn books a student on an already loaded training.
func (s *Service) RegisterOn(ctx context.Context, training *studio.Training, tt *studio.TrainingType,
	studentID, templateStudentID string) (*studio.AttendanceRecord, error) {
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, studio.Precondition("student", "student is not active").WithID(student.ID)
	}

	existing, err := s.store.FindActiveAttendance(ctx, training.ID, student.ID)
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	if existing != nil {
		return nil, studio.Conflict("attendance", "student %s is already registered on training %s",
			student.ID, training.ID)
	}

	taken, err := s.ActiveCount(ctx, training)
	if err != nil {
		return nil, err
	}
	if tt.MaxParticipants > 0 && taken >= tt.MaxParticipants {
		return nil, studio.Conflict("training", "training is full (%d/%d)", taken, tt.MaxParticipants).
			WithID(training.ID)
	}

	sub, err := s.books.Sessions.ActiveSubscription(ctx, student.ID, training.Date)
	if err != nil {
		return nil, err
	}
	covered := sub != nil && sub.CoversSession(training.Date)
	if tt.SubscriptionOnly && !covered {
		return nil, studio.Precondition("subscription",
			"training type %s requires a subscription with sessions left or auto-renew", tt.Name).WithID(student.ID)
	}

	rec := studio.AttendanceRecord{
		ID:                studio.NewID(),
		TrainingID:        training.ID,
		StudentID:         student.ID,
		TemplateStudentID: templateStudentID,
		Status:            studio.StatusRegistered,
		RequiresPayment:   !covered && tt.Price.IsPositive(),
		CreatedAt:         s.settings.Now().UTC(),
	}
	if covered {
		rec.SubscriptionID = sub.ID
	}
	if err := s.store.CreateAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("create attendance: %w", err)
	}

	if rec.RequiresPayment {
		if err := s.raisePending(ctx, training, tt, student); err != nil {
			return nil, err
		}
	}
	if training.IsProcessed() {
		if _, err := s.books.Sessions.Deduct(ctx, &rec, training); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// raisePending issues the not-yet-due invoice of a pay-per-session booking
// unless the student already has a live one for the training.
func (s *Service) raisePending(ctx context.Context, training *studio.Training, tt *studio.TrainingType, student *studio.Student) error {
	inv, err := s.books.Invoices.FindForTraining(ctx, student.ID, training.ID)
	if err != nil || inv != nil {
		return err
	}
	_, err = s.books.Invoices.Raise(ctx, studio.Invoice{
		ClientID:    student.ClientID,
		StudentID:   student.ID,
		TrainingID:  training.ID,
		Type:        studio.InvoiceTraining,
		Status:      studio.InvoicePending,
		Amount:      tt.Price,
		Description: fmt.Sprintf("%s on %s %s", tt.Name, training.Date, training.StartTime),
	})
	return err
}

// ActiveCount is the number of seats taken on a training. A cancelled
// training has none, whatever its PRESENT/ABSENT records say.
func (s *Service) ActiveCount(ctx context.Context, training *studio.Training) (int, error) {
	if training.IsCancelled() {
		return 0, nil
	}
	records, err := s.store.ListAttendance(ctx, training.ID)
	if err != nil {
		return 0, fmt.Errorf("list attendance: %w", err)
	}
	return lo.CountBy(records, func(r studio.AttendanceRecord) bool { return r.IsActive() }), nil
}

func (s *Service) activeRecord(ctx context.Context, trainingID, studentID string) (*studio.AttendanceRecord, error) {
	rec, err := s.store.FindActiveAttendance(ctx, trainingID, studentID)
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	if rec == nil {
		return nil, studio.NotFound("attendance", trainingID+"/"+studentID)
	}
	return rec, nil
}

package booking

import (
	"context"
	"fmt"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// STUDENT CANCELLATION
// =============================================================================

// CancelStudent cancels one student's booking. The cancellation policy of the
// training type decides between a safe and a penalty cancellation:
//
//	safe     subscription: a deducted session moves to skipped_sessions (cap 3)
//	         invoice:      PENDING/UNPAID cancelled, PAID refunded and cancelled
//	penalty  charged as if attended, see ledger.Sessions.ChargePenalty
//
// The trainer's salary eligibility for the training is re-evaluated after.
func (s *Service) CancelStudent(ctx context.Context, in CancelStudentInput) (*studio.AttendanceRecord, error) {
	training, err := s.store.GetTraining(ctx, in.TrainingID)
	if err != nil {
		return nil, err
	}
	if training.IsCancelled() {
		return nil, studio.Precondition("training", "training is already cancelled").WithID(training.ID)
	}
	rec, err := s.activeRecord(ctx, training.ID, in.StudentID)
	if err != nil {
		return nil, err
	}
	tt, err := s.store.GetTrainingType(ctx, training.TrainingTypeID)
	if err != nil {
		return nil, err
	}

	now := s.settings.Now().UTC()
	notifiedAt := in.NotifiedAt
	if notifiedAt.IsZero() {
		notifiedAt = now
	}
	cls := tt.CancellationRules.Classify(training.StartsAt(s.settings.Loc()), notifiedAt,
		s.settings.Loc(), s.settings.SafeHours())

	target := studio.StatusCancelledPenalty
	if cls.Safe {
		target = studio.StatusCancelledSafe
	}
	if err := rec.Transition(target, studio.OriginCancellation); err != nil {
		return nil, err
	}
	notified := notifiedAt.UTC()
	rec.NotifiedAt = &notified
	rec.CancelledAt = &now
	rec.CancellationReason = in.Reason

	if cls.Safe {
		err = s.refundSafe(ctx, rec, training)
	} else {
		_, err = s.books.Sessions.ChargePenalty(ctx, rec, training)
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAttendance(ctx, *rec); err != nil {
		return nil, fmt.Errorf("cancel attendance: %w", err)
	}

	if _, err := s.salaries.OnStudentCancelled(ctx, training.ID, cls.HoursBefore); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) refundSafe(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training) error {
	if rec.DeductionSource.FromSubscription() {
		_, err := s.books.Sessions.Skip(ctx, rec)
		return err
	}
	_, err := s.books.Invoices.CancelForTraining(ctx, rec.StudentID, training.ID)
	return err
}

// =============================================================================
// WHOLE-TRAINING CANCELLATION
// =============================================================================

// TrainingCancellation is what CancelTraining did.
type TrainingCancellation struct {
	Training studio.Training `json:"training"`
	// Records are the records that were active before the cancellation.
	Records []studio.AttendanceRecord `json:"records"`
	// SessionsReturned counts subscription sessions given back.
	SessionsReturned int `json:"sessions_returned"`
	// Invoices are the invoices cancelled (and refunded when PAID).
	Invoices []studio.Invoice `json:"invoices"`
}

// CancelTraining cancels a training for everybody. REGISTERED records become
// CANCELLED_SAFE. Records the batch already marked PRESENT/ABSENT keep their
// status but are voided the same way. A deducted subscription session goes
// back to sessions_left only when the training was processed; invoices are
// cancelled or refunded. The trainer is not paid for a cancelled training.
func (s *Service) CancelTraining(ctx context.Context, trainingID, reason string) (*TrainingCancellation, error) {
	training, err := s.store.GetTraining(ctx, trainingID)
	if err != nil {
		return nil, err
	}
	if training.IsCancelled() {
		return nil, studio.Conflict("training", "training is already cancelled").WithID(training.ID)
	}

	records, err := s.store.ListAttendance(ctx, training.ID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}

	now := s.settings.Now().UTC()
	result := &TrainingCancellation{}
	for i := range records {
		rec := &records[i]
		if !rec.IsActive() {
			continue
		}
		if rec.Status == studio.StatusRegistered {
			if err := rec.Transition(studio.StatusCancelledSafe, studio.OriginCancellation); err != nil {
				return nil, err
			}
		}
		rec.CancelledAt = &now
		rec.CancellationReason = reason

		if rec.DeductionSource.FromSubscription() {
			if training.IsProcessed() {
				returned, err := s.books.Sessions.Restore(ctx, rec)
				if err != nil {
					return nil, err
				}
				if returned {
					result.SessionsReturned++
				}
			}
		} else {
			inv, err := s.books.Invoices.CancelForTraining(ctx, rec.StudentID, training.ID)
			if err != nil {
				return nil, err
			}
			if inv != nil {
				result.Invoices = append(result.Invoices, *inv)
			}
		}
		if err := s.store.UpdateAttendance(ctx, *rec); err != nil {
			return nil, fmt.Errorf("cancel attendance: %w", err)
		}
		result.Records = append(result.Records, *rec)
	}

	training.CancelledAt = &now
	training.CancellationReason = reason
	training.TrainerSalaryEligible = false
	if err := s.store.UpdateTraining(ctx, *training); err != nil {
		return nil, fmt.Errorf("cancel training: %w", err)
	}
	result.Training = *training
	return result, nil
}

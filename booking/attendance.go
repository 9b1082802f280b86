package booking

import (
	"context"
	"fmt"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// MarkAttendance records a manual attendance outcome. Only REGISTERED ->
// ABSENT is a manual move; PRESENT is set by the daily batch alone.
// On a processed training the session is charged right away.
func (s *Service) MarkAttendance(ctx context.Context, in MarkInput) (*studio.AttendanceRecord, error) {
	training, err := s.store.GetTraining(ctx, in.TrainingID)
	if err != nil {
		return nil, err
	}
	if training.IsCancelled() {
		return nil, studio.Precondition("training", "training is cancelled").WithID(training.ID)
	}
	rec, err := s.activeRecord(ctx, training.ID, in.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.mark(ctx, rec, training, in.Status, studio.OriginManual, in.MarkedBy); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkPresent is the batch auto-mark of a REGISTERED record.
func (s *Service) MarkPresent(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training) error {
	return s.mark(ctx, rec, training, studio.StatusPresent, studio.OriginBatch, SystemMarker)
}

func (s *Service) mark(ctx context.Context, rec *studio.AttendanceRecord, training *studio.Training,
	status studio.AttendanceStatus, origin studio.Origin, by string) error {
	if err := rec.Transition(status, origin); err != nil {
		return err
	}
	now := s.settings.Now().UTC()
	rec.MarkedAt = &now
	rec.MarkedBy = by
	if err := s.store.UpdateAttendance(ctx, *rec); err != nil {
		return fmt.Errorf("mark attendance: %w", err)
	}
	if training.IsProcessed() {
		if _, err := s.books.Sessions.Deduct(ctx, rec, training); err != nil {
			return err
		}
	}
	return nil
}

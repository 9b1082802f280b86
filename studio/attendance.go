package studio

import "errors"

// =============================================================================
// ATTENDANCE STATE MACHINE
// =============================================================================
//
//                 +--> PRESENT            (batch only)
//                 +--> ABSENT             (manual or batch)
//   REGISTERED ---+--> CANCELLED_SAFE     (cancellation only)
//                 +--> CANCELLED_PENALTY  (cancellation only)
//
// Every target state is terminal for the booking.
//
// Cancelling the whole training moves REGISTERED records to CANCELLED_SAFE.
// PRESENT and ABSENT records keep their status and only get cancelled_at, so
// IsActive stays true for them. Seat counts therefore only look at records
// of trainings that are not cancelled.

type AttendanceStatus string

const (
	StatusRegistered       AttendanceStatus = "REGISTERED"
	StatusPresent          AttendanceStatus = "PRESENT"
	StatusAbsent           AttendanceStatus = "ABSENT"
	StatusCancelledSafe    AttendanceStatus = "CANCELLED_SAFE"
	StatusCancelledPenalty AttendanceStatus = "CANCELLED_PENALTY"
)

// ParseAttendanceStatus rejects anything outside the closed set.
func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	st := AttendanceStatus(s)
	if !st.Valid() {
		return "", Invalid("status", "unknown attendance status %q", s)
	}
	return st, nil
}

func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusRegistered, StatusPresent, StatusAbsent, StatusCancelledSafe, StatusCancelledPenalty:
		return true
	}
	return false
}

func (s AttendanceStatus) IsCancelled() bool {
	return s == StatusCancelledSafe || s == StatusCancelledPenalty
}

func (s AttendanceStatus) IsTerminal() bool { return s.Valid() && s != StatusRegistered }

// Attended reports whether the student's outcome is a real attendance result,
// which is what lets a deduction fall back to skipped sessions.
func (s AttendanceStatus) Attended() bool { return s == StatusPresent || s == StatusAbsent }

// Origin identifies who is asking for a transition.
type Origin int

const (
	OriginManual Origin = 1 << iota
	OriginCancellation
	OriginBatch
)

func (o Origin) String() string {
	switch o {
	case OriginManual:
		return "manual"
	case OriginCancellation:
		return "cancellation"
	case OriginBatch:
		return "batch"
	}
	return "unknown"
}

// transitions[from][to] is the set of origins allowed to perform the move.
var transitions = map[AttendanceStatus]map[AttendanceStatus]Origin{
	StatusRegistered: {
		StatusPresent:          OriginBatch,
		StatusAbsent:           OriginManual | OriginBatch,
		StatusCancelledSafe:    OriginCancellation,
		StatusCancelledPenalty: OriginCancellation,
	},
}

// CheckTransition validates from -> to for the given origin.
func CheckTransition(from, to AttendanceStatus, origin Origin) error {
	if !to.Valid() {
		return Invalid("status", "unknown attendance status %q", to)
	}
	allowed, ok := transitions[from][to]
	if !ok {
		return Precondition("attendance", "transition %s -> %s is not allowed", from, to)
	}
	if allowed&origin == 0 {
		return Precondition("attendance", "transition %s -> %s is not allowed for %s updates", from, to, origin)
	}
	return nil
}

// Transition moves the record to the target status or returns why it can't.
func (r *AttendanceRecord) Transition(to AttendanceStatus, origin Origin) error {
	if err := CheckTransition(r.Status, to, origin); err != nil {
		var se *Error
		if errors.As(err, &se) {
			se.ID = r.ID
		}
		return err
	}
	r.Status = to
	return nil
}

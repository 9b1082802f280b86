/*
policy.go - Cancellation policy (safe vs. penalty)

PURPOSE:
  Classifies a cancellation by when the studio was notified relative to the
  training start. Configured per training type; types without usable rules
  fall back to FLEXIBLE with DefaultSafeCancellationHours.

MODES:
  FLEXIBLE  safe when hours-before >= SafeHours
  FIXED     safe when notified at or before CutoffTime on the training day,
            or on the day before when PreviousDay is set

EXAMPLE:
  Training Tuesday 18:00, FIXED cutoff 12:00, PreviousDay=true
    notified Monday 11:30  -> safe
    notified Monday 12:30  -> penalty

SEE ALSO:
  - booking/cancel.go: applies the classification to the ledgers
  - payroll/salary.go: uses HoursBefore for trainer eligibility
*/
package studio

import "time"

// DefaultSafeCancellationHours is the canonical FLEXIBLE threshold.
const DefaultSafeCancellationHours = 12

type CancellationMode string

const (
	ModeFlexible CancellationMode = "FLEXIBLE"
	ModeFixed    CancellationMode = "FIXED"
)

// CancellationRules is the training-type level configuration.
type CancellationRules struct {
	Mode        CancellationMode `db:"cancellation_mode" json:"cancellation_mode,omitempty"`
	SafeHours   int              `db:"safe_cancel_hours" json:"safe_cancel_hours,omitempty"`
	CutoffTime  *ClockTime       `db:"safe_cancel_cutoff" json:"safe_cancel_cutoff,omitempty"`
	PreviousDay bool             `db:"safe_cancel_previous_day" json:"safe_cancel_previous_day,omitempty"`
}

// Classification is the policy outcome.
type Classification struct {
	Safe        bool
	HoursBefore float64
	Mode        CancellationMode
}

// HoursBefore is the lead time between notification and start.
// Negative when the notification came after the start.
func HoursBefore(start, notifiedAt time.Time) float64 {
	return start.Sub(notifiedAt).Hours()
}

// Effective resolves missing or incomplete rules to the FLEXIBLE fallback.
func (r CancellationRules) Effective(defaultHours int) CancellationRules {
	if defaultHours <= 0 {
		defaultHours = DefaultSafeCancellationHours
	}
	switch r.Mode {
	case ModeFixed:
		if r.CutoffTime != nil && r.CutoffTime.Valid() {
			return r
		}
	case ModeFlexible:
		if r.SafeHours > 0 {
			return r
		}
	}
	return CancellationRules{Mode: ModeFlexible, SafeHours: defaultHours}
}

// Classify decides safe or penalty for a training starting at start in loc.
func (r CancellationRules) Classify(start, notifiedAt time.Time, loc *time.Location, defaultHours int) Classification {
	eff := r.Effective(defaultHours)
	c := Classification{HoursBefore: HoursBefore(start, notifiedAt), Mode: eff.Mode}

	if eff.Mode == ModeFixed {
		if loc == nil {
			loc = start.Location()
		}
		day := DateOf(start.In(loc))
		if eff.PreviousDay {
			day = day.AddDays(-1)
		}
		deadline := day.At(*eff.CutoffTime, loc)
		c.Safe = !notifiedAt.After(deadline)
		return c
	}

	c.Safe = c.HoursBefore >= float64(eff.SafeHours)
	return c
}

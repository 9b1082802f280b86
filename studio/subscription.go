package studio

// =============================================================================
// SUBSCRIPTION STATUS - Derived from dates, never stored
// =============================================================================

// MaxSkippedSessions caps how many safe-cancelled sessions a subscription banks.
const MaxSkippedSessions = 3

// MaxTransferredSessions caps how many leftover sessions survive an auto-renewal.
const MaxTransferredSessions = 3

type SubscriptionStatus string

const (
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionFrozen  SubscriptionStatus = "frozen"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// StatusOn derives the status on a given day.
func (s *StudentSubscription) StatusOn(day Date) SubscriptionStatus {
	switch {
	case day.Before(s.StartDate):
		return SubscriptionPending
	case day.After(s.EndDate):
		return SubscriptionExpired
	case s.FrozenOn(day):
		return SubscriptionFrozen
	default:
		return SubscriptionActive
	}
}

// FrozenOn reports whether day falls inside the freeze window.
func (s *StudentSubscription) FrozenOn(day Date) bool {
	if s.FreezeStart == nil || s.FreezeEnd == nil {
		return false
	}
	return !day.Before(*s.FreezeStart) && !day.After(*s.FreezeEnd)
}

// HasFreeze reports whether a freeze window is recorded and not yet over.
func (s *StudentSubscription) HasFreeze(today Date) bool {
	return s.FreezeEnd != nil && !today.After(*s.FreezeEnd)
}

// CoversSession reports whether the subscription can pay for a training on day:
// active on that day with a session left or auto-renew as a safety net.
func (s *StudentSubscription) CoversSession(day Date) bool {
	if s.StatusOn(day) != SubscriptionActive {
		return false
	}
	return s.SessionsLeft > 0 || s.TransferredSessions > 0 || s.AutoRenew
}

// Freeze pauses the subscription for days starting at start and pushes the
// end date out by the same amount.
func (s *StudentSubscription) Freeze(start Date, days int, today Date) error {
	if days <= 0 {
		return Invalid("freeze_days", "freeze length must be positive, got %d", days)
	}
	if s.HasFreeze(today) {
		return Precondition("subscription", "already frozen until %s", s.FreezeEnd).WithID(s.ID)
	}
	if start.After(s.EndDate) {
		return Invalid("freeze_start", "freeze starts after subscription end %s", s.EndDate)
	}
	end := start.AddDays(days - 1)
	s.FreezeStart = &start
	s.FreezeEnd = &end
	s.EndDate = s.EndDate.AddDays(days)
	return nil
}

// Unfreeze ends a freeze early. Unused freeze days are taken back off the
// end date.
func (s *StudentSubscription) Unfreeze(today Date) error {
	if !s.HasFreeze(today) {
		return Precondition("subscription", "not frozen").WithID(s.ID)
	}
	from := today
	if s.FreezeStart.After(today) {
		from = *s.FreezeStart
	}
	remaining := DaysBetween(from, *s.FreezeEnd) + 1
	if remaining > 0 {
		s.EndDate = s.EndDate.AddDays(-remaining)
	}
	s.FreezeStart = nil
	s.FreezeEnd = nil
	return nil
}

// ClearExpiredFreeze drops a freeze window that ended before today.
func (s *StudentSubscription) ClearExpiredFreeze(today Date) bool {
	if s.FreezeEnd == nil || !s.FreezeEnd.Before(today) {
		return false
	}
	s.FreezeStart = nil
	s.FreezeEnd = nil
	return true
}

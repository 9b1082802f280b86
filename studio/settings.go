package studio

import "time"

// Settings are the studio-wide knobs shared by the services.
type Settings struct {
	// Location is the studio's time zone. Training dates and clock times are
	// local to it. Defaults to UTC.
	Location *time.Location
	// SafeCancellationHours is the FLEXIBLE threshold used when a training
	// type has no rules of its own.
	SafeCancellationHours int
	Clock                 Clock
}

func (s Settings) Loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Settings) Now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

// Today is the current calendar day in the studio's location.
func (s Settings) Today() Date {
	return DateOf(s.Now().In(s.Loc()))
}

func (s Settings) SafeHours() int {
	if s.SafeCancellationHours <= 0 {
		return DefaultSafeCancellationHours
	}
	return s.SafeCancellationHours
}

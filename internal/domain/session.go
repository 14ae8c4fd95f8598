package domain

import "time"

// SessionName identifies one of the three daily trading windows.
type SessionName string

const (
	SessionPremarket  SessionName = "PREMARKET"
	SessionRTH        SessionName = "RTH"
	SessionAfterHours SessionName = "AFTERHOURS"
)

// Session is a daily trading window defined by wall-clock times in the
// exchange timezone. Start is inclusive, End exclusive, so adjacent
// sessions never overlap at the boundary minute.
type Session struct {
	Name        SessionName
	Start       TimeOfDay
	End         TimeOfDay
	CancelAtEnd bool
}

// Contains reports whether t (interpreted in the session's timezone by the
// caller) falls inside the window.
func (s Session) Contains(t time.Time) bool {
	tod := TimeOfDayFrom(t)
	return !tod.Before(s.Start) && tod.Before(s.End)
}

// TimeOfDay is a wall-clock instant within a day, minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// TimeOfDayFrom extracts the wall-clock component of t.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.minutes() < other.minutes()
}

// SessionChange is emitted when the active session rolls over, including
// into or out of the closed overnight period (nil session).
type SessionChange struct {
	Previous *Session
	Current  *Session
	At       time.Time
}

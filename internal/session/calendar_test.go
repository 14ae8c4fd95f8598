package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/domain"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar(config.Defaults().Sessions)
	require.NoError(t, err)
	return cal
}

// 2025-03-11 is a Tuesday.
func nyTime(t *testing.T, hour, min, sec int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2025, 3, 11, hour, min, sec, 0, loc)
}

func TestCurrentBoundaries(t *testing.T) {
	cal := newTestCalendar(t)

	tests := []struct {
		name string
		at   time.Time
		want domain.SessionName
		open bool
	}{
		{"before premarket", nyTime(t, 3, 59, 59), "", false},
		{"premarket open", nyTime(t, 4, 0, 0), domain.SessionPremarket, true},
		{"last premarket second", nyTime(t, 9, 29, 59), domain.SessionPremarket, true},
		{"rth open", nyTime(t, 9, 30, 0), domain.SessionRTH, true},
		{"rth afternoon", nyTime(t, 15, 59, 0), domain.SessionRTH, true},
		{"afterhours open", nyTime(t, 16, 0, 0), domain.SessionAfterHours, true},
		{"market close", nyTime(t, 20, 0, 0), "", false},
		{"overnight", nyTime(t, 23, 0, 0), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := cal.Current(tt.at)
			assert.Equal(t, tt.open, ok)
			if tt.open {
				assert.Equal(t, tt.want, s.Name)
			}
		})
	}
}

func TestCurrentClosedOnWeekends(t *testing.T) {
	cal := newTestCalendar(t)
	loc := cal.Location()

	// 2025-03-15 is a Saturday; noon falls inside RTH's clock window.
	saturdayNoon := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	_, ok := cal.Current(saturdayNoon)
	assert.False(t, ok)
	assert.False(t, cal.InTradingHours(saturdayNoon))
}

func TestCurrentConvertsTimezone(t *testing.T) {
	cal := newTestCalendar(t)

	// 14:30 UTC on 2025-03-11 is 10:30 in New York (EDT), inside RTH.
	utc := time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC)
	s, ok := cal.Current(utc)
	require.True(t, ok)
	assert.Equal(t, domain.SessionRTH, s.Name)
}

func TestSessionsAreDisjoint(t *testing.T) {
	cal := newTestCalendar(t)

	for _, s := range cal.Sessions() {
		assert.True(t, s.Start.Before(s.End), "session %s must start before it ends", s.Name)
		assert.True(t, s.CancelAtEnd)
	}

	// Any weekday minute maps to at most one session.
	loc := cal.Location()
	for minute := 0; minute < 24*60; minute++ {
		at := time.Date(2025, 3, 11, minute/60, minute%60, 0, 0, loc)
		matches := 0
		for _, s := range cal.Sessions() {
			if s.Contains(at) {
				matches++
			}
		}
		assert.LessOrEqual(t, matches, 1, "minute %02d:%02d in multiple sessions", minute/60, minute%60)
	}
}

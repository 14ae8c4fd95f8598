// Package session tracks the exchange trading calendar and reacts to
// session boundaries: orders in a cancel-at-end window are cancelled when
// the window closes and, if configured, resubmitted into the next one.
package session

import (
	"fmt"
	"time"

	"github.com/levtrade/corebot/internal/config"
	"github.com/levtrade/corebot/internal/domain"
)

// Calendar resolves wall-clock instants to trading sessions in the
// exchange's local timezone. Windows are half-open [start, end), so the
// instant a session ends belongs to the next one.
type Calendar struct {
	loc      *time.Location
	sessions []domain.Session
}

// NewCalendar builds the trading calendar from config.
func NewCalendar(cfg config.SessionsConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session: load timezone %q: %w", cfg.Timezone, err)
	}
	return &Calendar{
		loc: loc,
		sessions: []domain.Session{
			window(domain.SessionPremarket, cfg.Premarket),
			window(domain.SessionRTH, cfg.RTH),
			window(domain.SessionAfterHours, cfg.AfterHours),
		},
	}, nil
}

func window(name domain.SessionName, w config.SessionWindow) domain.Session {
	return domain.Session{
		Name:        name,
		Start:       domain.TimeOfDay{Hour: w.Start.Hour, Minute: w.Start.Minute},
		End:         domain.TimeOfDay{Hour: w.End.Hour, Minute: w.End.Minute},
		CancelAtEnd: w.CancelAtEnd,
	}
}

// Current returns the session containing now, if any. Weekends are closed
// regardless of the hour.
func (c *Calendar) Current(now time.Time) (domain.Session, bool) {
	local := now.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return domain.Session{}, false
	}
	for _, s := range c.sessions {
		if s.Contains(local) {
			return s, true
		}
	}
	return domain.Session{}, false
}

// InTradingHours reports whether any session contains now.
func (c *Calendar) InTradingHours(now time.Time) bool {
	_, ok := c.Current(now)
	return ok
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Sessions returns the configured windows in day order.
func (c *Calendar) Sessions() []domain.Session {
	out := make([]domain.Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

package calendar

import (
	"fmt"
	"time"
)

// Session is one trading window of the exchange day, expressed as offsets
// from local midnight. Gaps between sessions are clearing breaks.
type Session struct {
	Name   string
	Start  time.Duration
	End    time.Duration
	Weight float64 // liquidity weight, used only by the Liquidity model
}

func hm(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

// DefaultSessions: morning open to daytime clearing, daytime clearing to
// evening clearing, evening clearing to end of day.
func DefaultSessions() []Session {
	return []Session{
		{Name: "morning", Start: hm(10, 0), End: hm(14, 0), Weight: 1},
		{Name: "day", Start: hm(14, 5), End: hm(18, 45), Weight: 1},
		{Name: "evening", Start: hm(19, 5), End: hm(23, 50), Weight: 0.4},
	}
}

// ParseSession builds a session from "HH:MM" bounds.
func ParseSession(name, start, end string, weight float64) (Session, error) {
	s, err := parseClock(start)
	if err != nil {
		return Session{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Session{}, err
	}
	if e <= s {
		return Session{}, fmt.Errorf("session %s ends before it starts", name)
	}
	return Session{Name: name, Start: s, End: e, Weight: weight}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	return hm(t.Hour(), t.Minute()), nil
}

func sessionBudget(sessions []Session, weighted bool) float64 {
	return sessionMinutes(sessions, 24*time.Hour, weighted)
}

// sessionMinutes clips the time of day into every session window.
func sessionMinutes(sessions []Session, tod time.Duration, weighted bool) float64 {
	total := 0.0
	for _, s := range sessions {
		if tod <= s.Start {
			continue
		}
		end := s.End
		if tod < end {
			end = tod
		}
		w := 1.0
		if weighted {
			w = s.Weight
		}
		total += w * (end - s.Start).Minutes()
	}
	return total
}

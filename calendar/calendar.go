package calendar

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Model selects how wall-clock time between two instants is converted into
// trading days and year fractions.
type Model int

const (
	Calendar    Model = iota // raw elapsed time
	NoWeekends               // Saturdays and Sundays contribute nothing
	NoHolidays               // weekends and exchange holidays contribute nothing
	TradingTime              // only minutes inside trading sessions count
	Liquidity                // trading minutes weighted by session liquidity
)

var modelNames = map[Model]string{
	Calendar:    "calendar",
	NoWeekends:  "no-weekends",
	NoHolidays:  "no-holidays",
	TradingTime: "trading-time",
	Liquidity:   "liquidity",
}

func (m Model) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// Models lists every supported calendar model.
func Models() []Model {
	return []Model{Calendar, NoWeekends, NoHolidays, TradingTime, Liquidity}
}

// ParseModel accepts the names returned by Model.String.
func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modelNames {
		if name == s {
			return m, nil
		}
	}
	return Calendar, fmt.Errorf("unknown calendar model %q", s)
}

// DefaultReferenceYear is the calendar year used to derive days-in-year.
const DefaultReferenceYear = 2023

// Span is a time-to-expiry measured under one calendar model.
type Span struct {
	Days  float64
	Years float64
}

type yearKey struct {
	model Model
	year  int
}

// Engine converts (expiry, now) pairs into trading time. It is safe for
// concurrent use; the only mutable state is the days-in-year cache.
type Engine struct {
	loc      *time.Location
	holidays map[string]struct{}
	sessions []Session
	refYear  int

	mu         sync.Mutex
	daysInYear map[yearKey]float64
}

type Option func(*Engine)

// WithLocation sets the exchange timezone used to split days.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithHolidays registers exchange holidays. Only the date part is used.
func WithHolidays(days ...time.Time) Option {
	return func(e *Engine) {
		for _, d := range days {
			e.holidays[d.Format("2006-01-02")] = struct{}{}
		}
	}
}

func WithSessions(sessions []Session) Option {
	return func(e *Engine) {
		if len(sessions) > 0 {
			e.sessions = append([]Session(nil), sessions...)
		}
	}
}

func WithReferenceYear(year int) Option {
	return func(e *Engine) {
		if year > 0 {
			e.refYear = year
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		loc:        time.UTC,
		holidays:   make(map[string]struct{}),
		sessions:   DefaultSessions(),
		refYear:    DefaultReferenceYear,
		daysInYear: make(map[yearKey]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseHolidays parses yyyy-MM-dd dates.
func ParseHolidays(dates []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", d, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Time returns the time from now to expiry under model m. The result is
// antisymmetric: Time(e, n, m) == -Time(n, e, m).
func (e *Engine) Time(expiry, now time.Time, m Model) Span {
	if expiry.Before(now) {
		s := e.Time(now, expiry, m)
		return Span{Days: -s.Days, Years: -s.Years}
	}
	days := e.elapsed(expiry, now, m)
	return Span{Days: days, Years: days / e.DaysInYear(m)}
}

// DaysInYear is the model's day count over the reference calendar year,
// computed once per (model, year).
func (e *Engine) DaysInYear(m Model) float64 {
	key := yearKey{model: m, year: e.refYear}

	e.mu.Lock()
	v, ok := e.daysInYear[key]
	e.mu.Unlock()
	if ok {
		return v
	}

	start := time.Date(e.refYear, time.January, 1, 0, 0, 0, 0, e.loc)
	v = e.elapsed(start.AddDate(1, 0, 0), start, m)

	e.mu.Lock()
	e.daysInYear[key] = v
	e.mu.Unlock()
	return v
}

// IsTradingDay reports whether the date of t is neither a weekend nor a
// registered holiday.
func (e *Engine) IsTradingDay(t time.Time) bool {
	t = t.In(e.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	_, holiday := e.holidays[t.Format("2006-01-02")]
	return !holiday
}

// elapsed assumes now <= expiry.
func (e *Engine) elapsed(expiry, now time.Time, m Model) float64 {
	if m == Calendar {
		return expiry.Sub(now).Hours() / 24
	}

	now, expiry = now.In(e.loc), expiry.In(e.loc)
	first, last := midnight(now), midnight(expiry)

	if first.Equal(last) {
		return e.dayWeight(first, m) * (e.fraction(expiry, m) - e.fraction(now, m))
	}

	total := e.dayWeight(first, m) * (1 - e.fraction(now, m))
	for d := first.AddDate(0, 0, 1); d.Before(last); d = d.AddDate(0, 0, 1) {
		total += e.dayWeight(d, m)
	}
	total += e.dayWeight(last, m) * e.fraction(expiry, m)
	return total
}

func (e *Engine) dayWeight(day time.Time, m Model) float64 {
	switch m {
	case NoWeekends:
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			return 0
		}
		return 1
	default:
		if !e.IsTradingDay(day) {
			return 0
		}
		return 1
	}
}

// fraction is the share of the day's budget accrued by t's time of day.
func (e *Engine) fraction(t time.Time, m Model) float64 {
	tod := t.Sub(midnight(t))
	switch m {
	case TradingTime, Liquidity:
		budget := sessionBudget(e.sessions, m == Liquidity)
		if budget <= 0 {
			return 0
		}
		return sessionMinutes(e.sessions, tod, m == Liquidity) / budget
	default:
		length := midnight(t).AddDate(0, 0, 1).Sub(midnight(t))
		return math.Min(1, tod.Hours()/length.Hours())
	}
}

func midnight(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// RescaleVol converts a volatility measured over t1 to one measured over
// t2 keeping total variance fixed.
func RescaleVol(sigma, t1, t2 float64) float64 {
	return sigma * math.Sqrt(t1/t2)
}

// RescaleBetween converts sigma quoted under model from into model to for
// the same (expiry, now) pair.
func (e *Engine) RescaleBetween(sigma float64, expiry, now time.Time, from, to Model) float64 {
	return RescaleVol(sigma, e.Time(expiry, now, from).Years, e.Time(expiry, now, to).Years)
}

// Package positions estimates the sensitivities of an option position by
// repricing it against bumped smiles.
package positions

import (
	"math"

	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/bcdannyboy/volsmile/pricing"
	"github.com/sirupsen/logrus"
)

// Scenario perturbs the market a position is marked against. VolShift is
// added to every smile volatility; TimeShift (years) to the time to expiry.
type Scenario struct {
	VolShift  float64
	TimeShift float64
}

// Theta is the time decay of a position, per year of the calendar model and
// per day of it.
type Theta struct {
	PerYear float64 `json:"per_year"`
	PerDay  float64 `json:"per_day"`
}

type Estimator struct {
	pricer pricing.Pricer
	cal    *calendar.Engine
	logger *logrus.Logger
}

func NewEstimator(pricer pricing.Pricer, cal *calendar.Engine, logger *logrus.Logger) *Estimator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return &Estimator{pricer: pricer, cal: cal, logger: logger}
}

// Value marks the whole position: realised cash plus the model value of both
// legs at every strike. A strike with an open quantity but no usable
// volatility invalidates the mark.
func (e *Estimator) Value(pos models.Position, s *models.Smile, sc Scenario) (float64, bool) {
	if s == nil {
		return math.NaN(), false
	}
	t := math.Max(s.TimeToExpiry+sc.TimeShift, 0)

	total := 0.0
	for _, ps := range pos.Strikes {
		total += ps.Cash
		if ps.Put == 0 && ps.Call == 0 {
			continue
		}
		iv, err := s.Vol(ps.Strike)
		if err != nil || !(iv > 0) {
			e.logger.WithFields(logrus.Fields{
				"symbol": pos.Symbol,
				"strike": ps.Strike,
				"vol":    iv,
			}).Warn("No volatility to reprice strike")
			return math.NaN(), false
		}
		sigma := math.Max(iv+sc.VolShift, 0)
		if ps.Put != 0 {
			total += ps.Put * e.pricer.Price(s.Underlying, ps.Strike, t, sigma, s.RiskFreeRate, false)
		}
		if ps.Call != 0 {
			total += ps.Call * e.pricer.Price(s.Underlying, ps.Strike, t, sigma, s.RiskFreeRate, true)
		}
	}
	return total, true
}

// Vega is the change in value per unit of volatility, from states bumped by
// ±bumpSigma/2. A positive tte reprices at that time to expiry instead of
// the smile's own.
func (e *Estimator) Vega(pos models.Position, s *models.Smile, bumpSigma, tte float64) (float64, bool) {
	if s == nil || !(bumpSigma > 0) {
		return math.NaN(), false
	}
	var shift float64
	if tte > 0 {
		shift = tte - s.TimeToExpiry
	}
	hi, ok := e.Value(pos, s, Scenario{VolShift: bumpSigma / 2, TimeShift: shift})
	if !ok {
		return math.NaN(), false
	}
	lo, ok := e.Value(pos, s, Scenario{VolShift: -bumpSigma / 2, TimeShift: shift})
	if !ok {
		return math.NaN(), false
	}
	return (hi - lo) / bumpSigma, true
}

// Theta is the change in value as calendar time advances, from states with
// bumpDays more and fewer days to expiry under model.
func (e *Estimator) Theta(pos models.Position, s *models.Smile, bumpDays float64, model calendar.Model) (Theta, bool) {
	if s == nil || !(bumpDays > 0) {
		return Theta{}, false
	}
	daysInYear := e.cal.DaysInYear(model)
	bump := bumpDays / daysInYear

	tPlus := s.TimeToExpiry + bump
	tMinus := math.Max(s.TimeToExpiry-bump, 0)
	plus, ok := e.Value(pos, s, Scenario{TimeShift: tPlus - s.TimeToExpiry})
	if !ok {
		return Theta{}, false
	}
	minus, ok := e.Value(pos, s, Scenario{TimeShift: tMinus - s.TimeToExpiry})
	if !ok {
		return Theta{}, false
	}

	perYear := -(plus - minus) / (tPlus - tMinus)
	return Theta{PerYear: perYear, PerDay: perYear / daysInYear}, true
}

// Vomma is the second derivative of value in volatility.
func (e *Estimator) Vomma(pos models.Position, s *models.Smile, bumpSigma float64) (float64, bool) {
	if s == nil || !(bumpSigma > 0) {
		return math.NaN(), false
	}
	var v [3]float64
	for i, shift := range []float64{bumpSigma, 0, -bumpSigma} {
		val, ok := e.Value(pos, s, Scenario{VolShift: shift})
		if !ok {
			return math.NaN(), false
		}
		v[i] = val
	}
	return (v[0] - 2*v[1] + v[2]) / (bumpSigma * bumpSigma), true
}

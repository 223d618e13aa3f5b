package curve

import (
	"math"

	"gonum.org/v1/gonum/interp"
)

// Spline is a not-a-knot cubic spline through a knot set. It interpolates
// every knot exactly, has a continuous first and second derivative, and a
// continuous third derivative at the second and penultimate knots.
type Spline struct {
	knots Knots
	fit   interp.NotAKnotCubic
}

// Fit builds a spline over knots, which must already be sorted with distinct
// abscissas (see NewKnots). Failures are returned as *FitError.
func Fit(knots Knots) (*Spline, error) {
	if err := knots.validate(); err != nil {
		return nil, &FitError{Knots: knots, Err: err}
	}

	s := &Spline{knots: append(Knots(nil), knots...)}
	if err := s.fit.Fit(s.knots.Xs(), s.knots.Ys()); err != nil {
		return nil, &FitError{Knots: knots, Err: err}
	}

	// A near-singular system shows up as non-finite coefficients.
	for i := 0; i+1 < len(s.knots); i++ {
		mid := 0.5 * (s.knots[i].X + s.knots[i+1].X)
		if !finite(s.fit.Predict(mid)) || !finite(s.fit.PredictDerivative(mid)) {
			return nil, &FitError{Knots: knots, Err: ErrSingular}
		}
	}
	return s, nil
}

func (s *Spline) Knots() Knots { return append(Knots(nil), s.knots...) }

func (s *Spline) Domain() (float64, float64) {
	return s.knots[0].X, s.knots[len(s.knots)-1].X
}

func (s *Spline) Value(x float64) (float64, error) {
	lo, hi := s.Domain()
	x, ok := clampDomain(x, lo, hi)
	if !ok {
		return math.NaN(), ErrOutOfDomain
	}
	return s.fit.Predict(x), nil
}

func (s *Spline) Derivative() Curve { return splineDerivative{s: s} }

type splineDerivative struct {
	s *Spline
}

func (d splineDerivative) Domain() (float64, float64) { return d.s.Domain() }

func (d splineDerivative) Value(x float64) (float64, error) {
	lo, hi := d.s.Domain()
	x, ok := clampDomain(x, lo, hi)
	if !ok {
		return math.NaN(), ErrOutOfDomain
	}
	return d.s.fit.PredictDerivative(x), nil
}

func (d splineDerivative) Derivative() Curve {
	lo, hi := d.s.Domain()
	return NewNumeric(d, 1e-6*math.Max(1, hi-lo))
}

// Package curve holds the continuous-function abstraction shared by every
// smile representation, and the not-a-knot spline used to fit market knots.
package curve

import (
	"errors"
	"math"
)

var (
	ErrInsufficientKnots = errors.New("curve: insufficient knots")
	ErrDuplicateStrike   = errors.New("curve: duplicate strike")
	ErrInvalidKnot       = errors.New("curve: invalid knot")
	ErrSingular          = errors.New("curve: singular interpolation system")
	ErrOutOfDomain       = errors.New("curve: outside curve domain")
)

// Curve is a continuous function with a companion first derivative.
// Value fails with ErrOutOfDomain outside [lo, hi] as returned by Domain.
type Curve interface {
	Value(x float64) (float64, error)
	Derivative() Curve
	Domain() (lo, hi float64)
}

// Contains reports whether x lies within c's domain.
func Contains(c Curve, x float64) bool {
	lo, hi := c.Domain()
	return x >= lo && x <= hi
}

// clampDomain tolerates rounding noise at the domain edges.
func clampDomain(x, lo, hi float64) (float64, bool) {
	if math.IsNaN(x) {
		return x, false
	}
	if x < lo {
		if lo-x > edgeTol(lo) {
			return x, false
		}
		return lo, true
	}
	if x > hi {
		if x-hi > edgeTol(hi) {
			return x, false
		}
		return hi, true
	}
	return x, true
}

func edgeTol(b float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(b))
}

// Numeric differentiates any curve with central differences, falling back to
// one-sided differences at the domain edges.
type Numeric struct {
	c Curve
	h float64
}

func NewNumeric(c Curve, h float64) *Numeric {
	if h <= 0 {
		h = 1e-4
	}
	return &Numeric{c: c, h: h}
}

func (n *Numeric) Domain() (float64, float64) { return n.c.Domain() }

func (n *Numeric) Value(x float64) (float64, error) {
	lo, hi := n.c.Domain()
	if _, ok := clampDomain(x, lo, hi); !ok {
		return math.NaN(), ErrOutOfDomain
	}
	a, b := x-n.h, x+n.h
	if a < lo {
		a = x
	}
	if b > hi {
		b = x
	}
	if a == b {
		return math.NaN(), ErrOutOfDomain
	}
	va, err := n.c.Value(a)
	if err != nil {
		return math.NaN(), err
	}
	vb, err := n.c.Value(b)
	if err != nil {
		return math.NaN(), err
	}
	return (vb - va) / (b - a), nil
}

func (n *Numeric) Derivative() Curve { return NewNumeric(n, n.h) }

// Shifted adds a constant to every value of the inner curve.
type Shifted struct {
	inner Curve
	shift float64
}

func Shift(c Curve, shift float64) *Shifted {
	return &Shifted{inner: c, shift: shift}
}

func (s *Shifted) Domain() (float64, float64) { return s.inner.Domain() }

func (s *Shifted) Value(x float64) (float64, error) {
	v, err := s.inner.Value(x)
	if err != nil {
		return math.NaN(), err
	}
	return v + s.shift, nil
}

// Derivative of a vertical shift is the inner derivative.
func (s *Shifted) Derivative() Curve { return s.inner.Derivative() }

// Scaled multiplies every value of the inner curve by a constant factor.
type Scaled struct {
	inner  Curve
	factor float64
}

func Scale(c Curve, factor float64) *Scaled {
	return &Scaled{inner: c, factor: factor}
}

func (s *Scaled) Domain() (float64, float64) { return s.inner.Domain() }

func (s *Scaled) Value(x float64) (float64, error) {
	v, err := s.inner.Value(x)
	if err != nil {
		return math.NaN(), err
	}
	return v * s.factor, nil
}

func (s *Scaled) Derivative() Curve { return Scale(s.inner.Derivative(), s.factor) }

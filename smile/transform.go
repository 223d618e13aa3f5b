package smile

import (
	"fmt"
	"math"
	"strings"

	"github.com/bcdannyboy/volsmile/curve"
	"github.com/bcdannyboy/volsmile/models"
	"gonum.org/v1/gonum/floats"
)

type TransformMode int

const (
	Identity TransformMode = iota
	LogSymmetric
	SimpleSymmetric
)

func (m TransformMode) String() string {
	switch m {
	case Identity:
		return "identity"
	case LogSymmetric:
		return "log"
	case SimpleSymmetric:
		return "simple"
	}
	return fmt.Sprintf("TransformMode(%d)", int(m))
}

func ParseTransformMode(s string) (TransformMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "none", "":
		return Identity, nil
	case "log", "log-symmetric":
		return LogSymmetric, nil
	case "simple", "simple-symmetric":
		return SimpleSymmetric, nil
	}
	return Identity, fmt.Errorf("unknown transform mode %q", s)
}

// SymmetrizedCurve blends a curve with its mirror image in log-moneyness
// around the underlying: (1-w)·c(K) + w·c(F²/K).
type SymmetrizedCurve struct {
	inner      curve.Curve
	underlying float64
	weight     float64
}

func NewSymmetrizedCurve(c curve.Curve, underlying, weight float64) *SymmetrizedCurve {
	return &SymmetrizedCurve{inner: c, underlying: underlying, weight: weight}
}

func (s *SymmetrizedCurve) mirror(k float64) float64 {
	return s.underlying * s.underlying / k
}

// Domain is the part of the inner domain whose mirror image is also inside it.
func (s *SymmetrizedCurve) Domain() (float64, float64) {
	lo, hi := s.inner.Domain()
	if s.weight == 0 {
		return lo, hi
	}
	mlo, mhi := 0.0, math.Inf(1)
	if !math.IsInf(hi, 1) {
		mlo = s.mirror(hi)
	}
	if lo > 0 {
		mhi = s.mirror(lo)
	}
	return math.Max(lo, mlo), math.Min(hi, mhi)
}

func (s *SymmetrizedCurve) Value(k float64) (float64, error) {
	v, err := s.inner.Value(k)
	if err != nil {
		return math.NaN(), err
	}
	if s.weight == 0 {
		return v, nil
	}
	if !(k > 0) {
		return math.NaN(), curve.ErrOutOfDomain
	}
	m, err := s.inner.Value(s.mirror(k))
	if err != nil {
		return math.NaN(), err
	}
	return (1-s.weight)*v + s.weight*m, nil
}

func (s *SymmetrizedCurve) Derivative() curve.Curve {
	return symmetrizedDerivative{s: s, d: s.inner.Derivative()}
}

type symmetrizedDerivative struct {
	s *SymmetrizedCurve
	d curve.Curve
}

func (sd symmetrizedDerivative) Domain() (float64, float64) { return sd.s.Domain() }

func (sd symmetrizedDerivative) Value(k float64) (float64, error) {
	v, err := sd.d.Value(k)
	if err != nil {
		return math.NaN(), err
	}
	if sd.s.weight == 0 {
		return v, nil
	}
	if !(k > 0) {
		return math.NaN(), curve.ErrOutOfDomain
	}
	m, err := sd.d.Value(sd.s.mirror(k))
	if err != nil {
		return math.NaN(), err
	}
	f := sd.s.underlying
	return (1-sd.s.weight)*v - sd.s.weight*m*f*f/(k*k), nil
}

func (sd symmetrizedDerivative) Derivative() curve.Curve {
	return curve.NewNumeric(sd, 1e-4*sd.s.underlying)
}

// Transform projects s into a (partially) mirrored smile and adds shift to
// every volatility. weight runs from 0 (untouched) through 0.5 (fully
// symmetric) to 1 (fully mirrored). Nodes that no longer evaluate on the
// transformed curve are dropped.
func Transform(s *models.Smile, mode TransformMode, weight, shift float64) (*models.Smile, error) {
	if s == nil || s.Curve == nil {
		return nil, models.ErrNoCurve
	}
	if !(weight >= 0 && weight <= 1) {
		return nil, fmt.Errorf("%w: weight %v", ErrInvalidInput, weight)
	}
	if math.IsNaN(shift) || math.IsInf(shift, 0) {
		return nil, fmt.Errorf("%w: shift %v", ErrInvalidInput, shift)
	}

	var c curve.Curve
	switch mode {
	case Identity:
		c = s.Curve
	case LogSymmetric:
		c = NewSymmetrizedCurve(s.Curve, s.Underlying, weight)
	case SimpleSymmetric:
		spline, err := simpleSymmetric(s, weight)
		if err != nil {
			return nil, err
		}
		c = spline
	default:
		return nil, fmt.Errorf("%w: transform mode %v", ErrInvalidInput, mode)
	}
	if shift != 0 {
		c = curve.Shift(c, shift)
	}
	return s.WithCurve(c), nil
}

// simpleSymmetric mirrors in strike space, K -> 2F-K, resampling onto a grid
// symmetric around F whose half-width is the shorter distance from F to
// either end of the smile.
func simpleSymmetric(s *models.Smile, weight float64) (*curve.Spline, error) {
	f := s.Underlying
	lo, hi := s.Curve.Domain()
	if len(s.Nodes) > 0 {
		lo = math.Max(lo, s.Nodes[0].Strike)
		hi = math.Min(hi, s.Nodes[len(s.Nodes)-1].Strike)
	}
	width := math.Min(f-lo, hi-f)
	if !(width > 0) || math.IsInf(width, 0) {
		return nil, fmt.Errorf("%w: underlying %v outside smile range [%v, %v]", ErrInvalidInput, f, lo, hi)
	}

	n := 2*len(s.Nodes) + 1
	if n < 2*curve.MinKnots+1 {
		n = 2*curve.MinKnots + 1
	}
	grid := floats.Span(make([]float64, n), f-width, f+width)

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for _, k := range grid {
		v, err := s.Curve.Value(k)
		if err != nil {
			continue
		}
		m, err := s.Curve.Value(2*f - k)
		if err != nil {
			continue
		}
		xs = append(xs, k)
		ys = append(ys, (1-weight)*v+weight*m)
	}
	return curve.Fit(curve.NewKnots(xs, ys))
}

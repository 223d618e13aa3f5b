package curve

import (
	"fmt"
	"math"
)

// TailExtended continues a curve past both ends of its domain with a damped
// linear continuation v(b) + v'(b)·L·tanh((x-b)/L). Value and slope match
// at the boundary and the extension flattens out over a length L.
type TailExtended struct {
	inner  Curve
	lo, hi float64
	vLo    float64
	dLo    float64
	vHi    float64
	dHi    float64
	length float64
}

// ExtendTails wraps c. A non-positive length gives an undamped linear
// continuation.
func ExtendTails(c Curve, length float64) (*TailExtended, error) {
	lo, hi := c.Domain()
	d := c.Derivative()

	t := &TailExtended{inner: c, lo: lo, hi: hi, length: length}
	var err error
	if t.vLo, err = c.Value(lo); err != nil {
		return nil, fmt.Errorf("left boundary value: %w", err)
	}
	if t.dLo, err = d.Value(lo); err != nil {
		return nil, fmt.Errorf("left boundary slope: %w", err)
	}
	if t.vHi, err = c.Value(hi); err != nil {
		return nil, fmt.Errorf("right boundary value: %w", err)
	}
	if t.dHi, err = d.Value(hi); err != nil {
		return nil, fmt.Errorf("right boundary slope: %w", err)
	}
	return t, nil
}

func (t *TailExtended) Domain() (float64, float64) { return math.Inf(-1), math.Inf(1) }

// InnerDomain is the support of the wrapped curve.
func (t *TailExtended) InnerDomain() (float64, float64) { return t.lo, t.hi }

func (t *TailExtended) Value(x float64) (float64, error) {
	switch {
	case math.IsNaN(x):
		return math.NaN(), ErrOutOfDomain
	case x < t.lo:
		return t.vLo + t.dLo*t.damp(x-t.lo), nil
	case x > t.hi:
		return t.vHi + t.dHi*t.damp(x-t.hi), nil
	}
	return t.inner.Value(x)
}

func (t *TailExtended) damp(dx float64) float64 {
	if t.length <= 0 {
		return dx
	}
	return t.length * math.Tanh(dx/t.length)
}

func (t *TailExtended) slope(dx float64) float64 {
	if t.length <= 0 {
		return 1
	}
	c := math.Cosh(dx / t.length)
	return 1 / (c * c)
}

func (t *TailExtended) Derivative() Curve { return tailDerivative{t: t, inner: t.inner.Derivative()} }

type tailDerivative struct {
	t     *TailExtended
	inner Curve
}

func (d tailDerivative) Domain() (float64, float64) { return math.Inf(-1), math.Inf(1) }

func (d tailDerivative) Value(x float64) (float64, error) {
	switch {
	case math.IsNaN(x):
		return math.NaN(), ErrOutOfDomain
	case x < d.t.lo:
		return d.t.dLo * d.t.slope(x-d.t.lo), nil
	case x > d.t.hi:
		return d.t.dHi * d.t.slope(x-d.t.hi), nil
	}
	return d.inner.Value(x)
}

func (d tailDerivative) Derivative() Curve {
	return NewNumeric(d, 1e-6*math.Max(1, d.t.hi-d.t.lo))
}

package curve

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MinKnots is the smallest knot set a not-a-knot spline is fitted on.
const MinKnots = 4

// Knot is an interpolation anchor: a strike (or any abscissa) and its value.
type Knot struct {
	X float64
	Y float64
}

// Knots is ordered by strictly increasing X once built with NewKnots.
type Knots []Knot

// NewKnots pairs xs with ys, drops non-finite pairs, sorts by X and removes
// duplicate abscissas keeping the first occurrence.
func NewKnots(xs, ys []float64) Knots {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	out := make(Knots, 0, n)
	for i := 0; i < n; i++ {
		if !finite(xs[i]) || !finite(ys[i]) {
			continue
		}
		out = append(out, Knot{X: xs[i], Y: ys[i]})
	}
	return out.Normalize()
}

// Normalize returns a sorted copy with duplicate abscissas removed.
func (k Knots) Normalize() Knots {
	out := append(Knots(nil), k...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].X < out[j].X })
	if len(out) == 0 {
		return out
	}
	uniq := out[:1]
	for _, kn := range out[1:] {
		if kn.X != uniq[len(uniq)-1].X {
			uniq = append(uniq, kn)
		}
	}
	return uniq
}

func (k Knots) Xs() []float64 {
	xs := make([]float64, len(k))
	for i, kn := range k {
		xs[i] = kn.X
	}
	return xs
}

func (k Knots) Ys() []float64 {
	ys := make([]float64, len(k))
	for i, kn := range k {
		ys[i] = kn.Y
	}
	return ys
}

// String renders the knot table for diagnostics.
func (k Knots) String() string {
	var b strings.Builder
	for i, kn := range k {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%g:%.6g", kn.X, kn.Y)
	}
	return b.String()
}

func (k Knots) validate() error {
	if len(k) < MinKnots {
		return ErrInsufficientKnots
	}
	for i, kn := range k {
		if !finite(kn.X) || !finite(kn.Y) {
			return ErrInvalidKnot
		}
		if i == 0 {
			continue
		}
		switch prev := k[i-1].X; {
		case kn.X == prev:
			return ErrDuplicateStrike
		case kn.X < prev:
			return ErrInvalidKnot
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FitError carries the offending knot table alongside the failure cause.
type FitError struct {
	Knots Knots
	Err   error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("%v (%d knots: %s)", e.Err, len(e.Knots), e.Knots)
}

func (e *FitError) Unwrap() error { return e.Err }

package smile

import (
	"fmt"
	"math"

	"github.com/bcdannyboy/volsmile/models"
	"gonum.org/v1/gonum/optimize"
)

const maxShape = 1.0

// Calibrate fits (level, skew, shape) so that the parametric smile built on
// tmpl matches the visible nodes of s. It returns the fitted inputs and the
// root-mean-square volatility error.
func Calibrate(s *models.Smile, tmpl *Template, p float64) (Inputs, float64, error) {
	if tmpl == nil || tmpl.c == nil {
		return Inputs{}, math.NaN(), ErrMissingTemplate
	}
	var strikes, vols []float64
	for _, n := range s.Nodes {
		if n.Kind == models.Visible {
			strikes = append(strikes, n.Strike)
			vols = append(vols, n.Vol)
		}
	}
	if len(strikes) == 0 {
		return Inputs{}, math.NaN(), fmt.Errorf("%w: no visible nodes to calibrate", ErrInvalidInput)
	}

	level, err := s.ATM()
	if err != nil {
		return Inputs{}, math.NaN(), err
	}
	skew, err := s.Skew()
	if err != nil {
		return Inputs{}, math.NaN(), err
	}

	objective := func(x []float64) float64 {
		in := Inputs{Level: x[0], Skew: x[1], Shape: x[2], OverrideSkew: true}
		if !(in.Level > 0) || math.Abs(in.Shape) > maxShape {
			return math.Inf(1)
		}
		pc, err := NewParametricCurve(s.Underlying, s.TimeToExpiry, p, in, tmpl)
		if err != nil {
			return math.Inf(1)
		}
		mse := 0.0
		for i, k := range strikes {
			v, err := pc.Value(k)
			if err != nil {
				return math.Inf(1)
			}
			mse += math.Pow(v-vols[i], 2)
		}
		return mse / float64(len(strikes))
	}

	problem := optimize.Problem{Func: objective}
	result, err := optimize.Minimize(problem, []float64{level, skew, 0}, nil, &optimize.NelderMead{})
	if result == nil {
		return Inputs{}, math.NaN(), fmt.Errorf("calibrate: %w", err)
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return Inputs{}, math.NaN(), fmt.Errorf("calibrate: no feasible parameters")
	}

	in := Inputs{Level: result.X[0], Skew: result.X[1], Shape: result.X[2], OverrideSkew: true}
	return in, math.Sqrt(result.F), nil
}

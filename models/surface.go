package models

import (
	"math"
	"sort"
)

// VolatilitySurface stacks smiles of one underlying by time to expiry.
type VolatilitySurface struct {
	Smiles []*Smile
}

// NewVolatilitySurface keeps smiles that carry a curve, sorted by time to
// expiry, dropping repeated expiries.
func NewVolatilitySurface(smiles ...*Smile) VolatilitySurface {
	var kept []*Smile
	for _, s := range smiles {
		if s != nil && s.Curve != nil && s.TimeToExpiry > 0 {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].TimeToExpiry < kept[j].TimeToExpiry })

	surface := VolatilitySurface{}
	for _, s := range kept {
		if n := len(surface.Smiles); n > 0 && surface.Smiles[n-1].TimeToExpiry == s.TimeToExpiry {
			continue
		}
		surface.Smiles = append(surface.Smiles, s)
	}
	return surface
}

func (v VolatilitySurface) Times() []float64 {
	times := make([]float64, len(v.Smiles))
	for i, s := range v.Smiles {
		times[i] = s.TimeToExpiry
	}
	return times
}

// Vol interpolates total variance linearly in time between the two smiles
// bracketing t. Outside the quoted expiries the nearest smile is used flat.
func (v VolatilitySurface) Vol(strike, t float64) (float64, error) {
	if len(v.Smiles) == 0 {
		return math.NaN(), ErrNoCurve
	}

	idx := sort.SearchFloat64s(v.Times(), t)
	if idx == 0 {
		return v.Smiles[0].Vol(strike)
	}
	if idx == len(v.Smiles) {
		return v.Smiles[idx-1].Vol(strike)
	}

	near, far := v.Smiles[idx-1], v.Smiles[idx]
	if t == far.TimeToExpiry {
		return far.Vol(strike)
	}
	s0, err := near.Vol(strike)
	if err != nil {
		return math.NaN(), err
	}
	s1, err := far.Vol(strike)
	if err != nil {
		return math.NaN(), err
	}

	t0, t1 := near.TimeToExpiry, far.TimeToExpiry
	w := (t - t0) / (t1 - t0)
	variance := (1-w)*s0*s0*t0 + w*s1*s1*t1
	return math.Sqrt(variance / t), nil
}

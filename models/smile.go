package models

import (
	"errors"
	"math"
	"time"

	"github.com/bcdannyboy/volsmile/curve"
)

var ErrNoCurve = errors.New("smile has no curve")

// NodeKind tells whether a node is a tradable strike or a shape-only point.
type NodeKind int

const (
	Visible NodeKind = iota // real, tradable strike
	Light                   // density point, curve shape only
	Tail                    // invisible point beyond the extreme strikes
)

func (k NodeKind) String() string {
	switch k {
	case Visible:
		return "visible"
	case Light:
		return "light"
	case Tail:
		return "tail"
	}
	return "unknown"
}

type Node struct {
	Strike float64  `json:"strike"`
	Vol    float64  `json:"vol"`
	Kind   NodeKind `json:"kind"`
}

// Params is the (level, skew, shape) decomposition of a parametric smile.
type Params struct {
	Level float64 `json:"level"`
	Skew  float64 `json:"skew"`
	Shape float64 `json:"shape"`
}

// Smile is one computed implied-volatility curve. Smiles are rebuilt on every
// recomputation and treated as immutable; transforms return copies.
type Smile struct {
	Symbol     string    `json:"symbol"`
	Expiry     time.Time `json:"expiry"`
	ObservedAt time.Time `json:"observed_at"`

	Underlying   float64 `json:"underlying"`
	TimeToExpiry float64 `json:"time_to_expiry"`
	RiskFreeRate float64 `json:"risk_free_rate"`

	// Curve maps strike to implied volatility; its Derivative is the skew
	// curve, so the two are always present together.
	Curve  curve.Curve `json:"-"`
	Params *Params     `json:"params,omitempty"`
	Nodes  []Node      `json:"nodes"`
}

func (s *Smile) Vol(strike float64) (float64, error) {
	if s == nil || s.Curve == nil {
		return math.NaN(), ErrNoCurve
	}
	return s.Curve.Value(strike)
}

// Slope is dσ/dK at strike.
func (s *Smile) Slope(strike float64) (float64, error) {
	if s == nil || s.Curve == nil {
		return math.NaN(), ErrNoCurve
	}
	return s.Curve.Derivative().Value(strike)
}

// ATM is the volatility at the current underlying price.
func (s *Smile) ATM() (float64, error) {
	return s.Vol(s.Underlying)
}

// Skew is dσ/dK at the current underlying price.
func (s *Smile) Skew() (float64, error) {
	return s.Slope(s.Underlying)
}

// WithCurve returns a copy of s carrying c. Nodes are re-evaluated on c and
// those that fail to evaluate are dropped.
func (s *Smile) WithCurve(c curve.Curve) *Smile {
	out := *s
	out.Curve = c
	out.Nodes = make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		v, err := c.Value(n.Strike)
		if err != nil || math.IsNaN(v) {
			continue
		}
		n.Vol = v
		out.Nodes = append(out.Nodes, n)
	}
	if s.Params != nil {
		p := *s.Params
		out.Params = &p
	}
	return &out
}

// Strikes returns the strikes of nodes of the given kind.
func (s *Smile) Strikes(kind NodeKind) []float64 {
	var out []float64
	for _, n := range s.Nodes {
		if n.Kind == kind {
			out = append(out, n.Strike)
		}
	}
	return out
}

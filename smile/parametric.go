package smile

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bcdannyboy/volsmile/curve"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultExponent is the time exponent p of the moneyness coordinate.
const DefaultExponent = 0.56

var ErrMissingTemplate = errors.New("smile: missing template")

// Template is a normalized smile: IV/level as a function of the
// dimensionless coordinate x = ln(K/F) / T^(p+shape) / level.
type Template struct {
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	TailLength float64   `json:"tail_length"`

	c curve.Curve
}

// NewTemplate fits a template through knots and extends it past the
// outermost knots.
func NewTemplate(knots curve.Knots, tailLength float64) (*Template, error) {
	t := &Template{X: knots.Xs(), Y: knots.Ys(), TailLength: tailLength}
	if err := t.init(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) init() error {
	if t.c != nil {
		return nil
	}
	spline, err := curve.Fit(curve.NewKnots(t.X, t.Y))
	if err != nil {
		return fmt.Errorf("template: %w", err)
	}
	ext, err := curve.ExtendTails(spline, t.TailLength)
	if err != nil {
		return fmt.Errorf("template tails: %w", err)
	}
	t.c = ext
	return nil
}

// Curve is the tail-extended template, defined for every x.
func (t *Template) Curve() curve.Curve { return t.c }

// DefaultTemplate is the built-in normalized smile: a mild put skew and
// wings that curve up and then flatten.
func DefaultTemplate() *Template {
	xs := floats.Span(make([]float64, 17), -4, 4)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 1 + 0.08*x*x/(1+0.1*x*x) - 0.04*math.Tanh(x)
	}
	t, err := NewTemplate(curve.NewKnots(xs, ys), 2)
	if err != nil {
		panic(err)
	}
	return t
}

// LearnTemplate normalizes the visible nodes of an observed smile into
// template coordinates.
func LearnTemplate(s *models.Smile, shape, p, tailLength float64) (*Template, error) {
	level, err := s.ATM()
	if err != nil {
		return nil, fmt.Errorf("learn template: %w", err)
	}
	if !(level > 0) {
		return nil, fmt.Errorf("%w: atm level %v", ErrInvalidInput, level)
	}
	scale := math.Pow(s.TimeToExpiry, p+shape) * level

	var xs, ys []float64
	for _, n := range s.Nodes {
		if n.Kind != models.Visible {
			continue
		}
		xs = append(xs, math.Log(n.Strike/s.Underlying)/scale)
		ys = append(ys, n.Vol/level)
	}
	return NewTemplate(curve.NewKnots(xs, ys), tailLength)
}

// ParametricCurve is level·(template(x) + tilt·tanh(x)) as a function of
// strike. The tilt moves the at-the-money slope without touching the level
// and vanishes into a constant in the wings.
type ParametricCurve struct {
	underlying float64
	level      float64
	scale      float64 // T^(p+shape)·level
	tilt       float64
	tmpl       curve.Curve
}

// Inputs are the scalars a parametric smile is reconstructed from. Skew is
// dσ/dK at the money and only applies when OverrideSkew is set; otherwise
// the template's own slope is kept.
type Inputs struct {
	Level        float64 `json:"level"`
	Skew         float64 `json:"skew"`
	Shape        float64 `json:"shape"`
	OverrideSkew bool    `json:"override_skew"`
}

func NewParametricCurve(underlying, tte, p float64, in Inputs, tmpl *Template) (*ParametricCurve, error) {
	if tmpl == nil || tmpl.c == nil {
		return nil, ErrMissingTemplate
	}
	switch {
	case !(underlying > 0) || math.IsInf(underlying, 0):
		return nil, fmt.Errorf("%w: underlying price %v", ErrInvalidInput, underlying)
	case !(tte > 0) || math.IsInf(tte, 0):
		return nil, fmt.Errorf("%w: time to expiry %v", ErrInvalidInput, tte)
	case !(in.Level > 0) || math.IsInf(in.Level, 0):
		return nil, fmt.Errorf("%w: level %v", ErrInvalidInput, in.Level)
	case math.IsNaN(in.Shape) || math.IsNaN(in.Skew):
		return nil, fmt.Errorf("%w: shape %v skew %v", ErrInvalidInput, in.Shape, in.Skew)
	}

	timeScale := math.Pow(tte, p+in.Shape)
	pc := &ParametricCurve{
		underlying: underlying,
		level:      in.Level,
		scale:      timeScale * in.Level,
		tmpl:       tmpl.c,
	}
	if in.OverrideSkew {
		slope, err := tmpl.c.Derivative().Value(0)
		if err != nil {
			return nil, fmt.Errorf("template slope: %w", err)
		}
		pc.tilt = in.Skew*underlying*timeScale - slope
	}
	return pc, nil
}

func (c *ParametricCurve) Domain() (float64, float64) {
	return math.SmallestNonzeroFloat64, math.Inf(1)
}

// X maps a strike into template coordinates.
func (c *ParametricCurve) X(strike float64) float64 {
	return math.Log(strike/c.underlying) / c.scale
}

func (c *ParametricCurve) Value(strike float64) (float64, error) {
	if !(strike > 0) || math.IsInf(strike, 0) {
		return math.NaN(), curve.ErrOutOfDomain
	}
	x := c.X(strike)
	y, err := c.tmpl.Value(x)
	if err != nil {
		return math.NaN(), err
	}
	return c.level * (y + c.tilt*math.Tanh(x)), nil
}

func (c *ParametricCurve) Derivative() curve.Curve {
	return parametricDerivative{c: c, dt: c.tmpl.Derivative()}
}

type parametricDerivative struct {
	c  *ParametricCurve
	dt curve.Curve
}

func (d parametricDerivative) Domain() (float64, float64) { return d.c.Domain() }

func (d parametricDerivative) Value(strike float64) (float64, error) {
	if !(strike > 0) || math.IsInf(strike, 0) {
		return math.NaN(), curve.ErrOutOfDomain
	}
	x := d.c.X(strike)
	dy, err := d.dt.Value(x)
	if err != nil {
		return math.NaN(), err
	}
	sech := 1 / math.Cosh(x)
	return d.c.level * (dy + d.c.tilt*sech*sech) / (strike * d.c.scale), nil
}

func (d parametricDerivative) Derivative() curve.Curve {
	return curve.NewNumeric(d, 1e-4*d.c.underlying)
}

// ModelOptions shapes the node grid of a reconstructed smile.
type ModelOptions struct {
	Exponent float64
	// HalfCount density points are laid on each side of the underlying.
	HalfCount int
	// DensityFactor divides the typical strike spacing into the density step.
	DensityFactor float64
	// Real strikes further than WidthSigmas·level·sqrt(T)·F from the
	// underlying are not visible.
	WidthSigmas float64
	TailCount   int
	// TailLength is the damping length, in x, of learned template tails.
	TailLength float64
}

func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		Exponent:      DefaultExponent,
		HalfCount:     20,
		DensityFactor: 2,
		WidthSigmas:   4,
		TailCount:     3,
		TailLength:    2,
	}
}

// Model reconstructs smiles from parameters and a template.
type Model struct {
	opts   ModelOptions
	logger *logrus.Logger
}

func NewModel(opts ModelOptions, logger *logrus.Logger) *Model {
	if logger == nil {
		logger = newLogger()
	}
	def := DefaultModelOptions()
	if opts.Exponent == 0 {
		opts.Exponent = def.Exponent
	}
	if opts.DensityFactor <= 0 {
		opts.DensityFactor = def.DensityFactor
	}
	if opts.WidthSigmas <= 0 {
		opts.WidthSigmas = def.WidthSigmas
	}
	if opts.TailLength <= 0 {
		opts.TailLength = def.TailLength
	}
	return &Model{opts: opts, logger: logger}
}

func (m *Model) Options() ModelOptions { return m.opts }

// Reconstruct builds a smile from in and tmpl, evaluated on a dense grid
// around the underlying merged with the real strikes.
func (m *Model) Reconstruct(mkt Market, in Inputs, tmpl *Template, strikes []float64) (*models.Smile, error) {
	if err := mkt.validate(); err != nil {
		m.logger.WithFields(mkt.fields()).WithError(err).Warn("Skipping parametric smile")
		return nil, err
	}
	pc, err := NewParametricCurve(mkt.Underlying, mkt.TimeToExpiry, m.opts.Exponent, in, tmpl)
	if err != nil {
		m.logger.WithFields(mkt.fields()).WithFields(logrus.Fields{
			"level": in.Level,
			"skew":  in.Skew,
			"shape": in.Shape,
		}).WithError(err).Warn("Failed to build parametric smile")
		return nil, err
	}

	s := mkt.snapshot()
	s.Curve = pc
	for _, n := range m.grid(mkt, in.Level, strikes) {
		v, err := pc.Value(n.Strike)
		if err != nil || math.IsNaN(v) {
			continue
		}
		n.Vol = v
		s.Nodes = append(s.Nodes, n)
	}

	skew, err := s.Skew()
	if err != nil {
		return nil, err
	}
	s.Params = &models.Params{Level: in.Level, Skew: skew, Shape: in.Shape}
	return s, nil
}

// mergeTolerance is the relative distance, in density steps, below which
// two grid points are the same price.
const mergeTolerance = 1e-9

// gridPoint ranks candidates: a listed strike beats a density point, which
// beats a tail point.
type gridPoint struct {
	strike float64
	kind   models.NodeKind
	rank   int
}

// grid merges density points, real strikes and tail points into one sorted
// node set. Points closer than mergeTolerance·step collapse into the one with
// the highest rank, so a real strike keeps its price and kind.
func (m *Model) grid(mkt Market, level float64, strikes []float64) []models.Node {
	f := mkt.Underlying
	listed := make([]float64, 0, len(strikes))
	for _, k := range strikes {
		if k > 0 && !math.IsInf(k, 0) {
			listed = append(listed, k)
		}
	}
	sort.Float64s(listed)

	spacing := typicalSpacing(listed)
	if spacing <= 0 {
		spacing = f * level * math.Sqrt(mkt.TimeToExpiry) / float64(max(m.opts.HalfCount, 1))
	}
	step := spacing / m.opts.DensityFactor
	width := m.opts.WidthSigmas * level * math.Sqrt(mkt.TimeToExpiry) * f

	var points []gridPoint
	if m.opts.HalfCount > 0 {
		h := float64(m.opts.HalfCount)
		for _, k := range floats.Span(make([]float64, 2*m.opts.HalfCount+1), f-h*step, f+h*step) {
			if k > 0 {
				points = append(points, gridPoint{strike: k, kind: models.Light, rank: 1})
			}
		}
	}
	for _, k := range listed {
		kind := models.Light
		if math.Abs(k-f) <= width {
			kind = models.Visible
		}
		points = append(points, gridPoint{strike: k, kind: kind, rank: 2})
	}
	if len(listed) > 0 {
		lo, hi := listed[0], listed[len(listed)-1]
		for i := 1; i <= m.opts.TailCount; i++ {
			for _, k := range []float64{lo - float64(i)*spacing, hi + float64(i)*spacing} {
				if k > 0 {
					points = append(points, gridPoint{strike: k, kind: models.Tail})
				}
			}
		}
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].strike < points[j].strike })
	tol := mergeTolerance * step
	merged := make([]gridPoint, 0, len(points))
	for _, p := range points {
		n := len(merged)
		if n > 0 && p.strike-merged[n-1].strike <= tol {
			if p.rank > merged[n-1].rank {
				merged[n-1] = p
			}
			continue
		}
		merged = append(merged, p)
	}

	out := make([]models.Node, len(merged))
	for i, p := range merged {
		out[i] = models.Node{Strike: p.strike, Kind: p.kind}
	}
	return out
}

// typicalSpacing is the median gap between sorted strikes.
func typicalSpacing(sorted []float64) float64 {
	if len(sorted) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Float64s(gaps)
	return gaps[len(gaps)/2]
}

// Package engine turns market data into smiles and position greeks: quotes
// are fitted when they support a curve, otherwise the smile is rebuilt from
// the last known parameters of the same key.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bcdannyboy/volsmile/cache"
	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/bcdannyboy/volsmile/curve"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/bcdannyboy/volsmile/positions"
	"github.com/bcdannyboy/volsmile/pricing"
	"github.com/bcdannyboy/volsmile/smile"
	"github.com/sirupsen/logrus"
)

var (
	ErrExpired   = errors.New("engine: expiry is not in the future")
	ErrNoHistory = errors.New("engine: no parameter history")
)

// Source tells where a smile came from.
type Source int

const (
	FromQuotes Source = iota
	FromParams
	FromOverride
)

func (s Source) String() string {
	switch s {
	case FromQuotes:
		return "quotes"
	case FromParams:
		return "parametric"
	case FromOverride:
		return "override"
	}
	return "unknown"
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Options struct {
	Model calendar.Model
	// Rescale converts volatilities from the model's time measure to plain
	// calendar time.
	Rescale      bool
	RiskFreeRate float64

	Transform smile.TransformMode
	Weight    float64
	Shift     float64

	BumpSigma float64
	BumpDays  float64

	Concurrency int
	// Unattended turns missing cached data into hard failures.
	Unattended bool

	Quotes     smile.QuoteOptions
	Parametric smile.ModelOptions
}

func DefaultOptions() Options {
	return Options{
		Model:        calendar.Calendar,
		RiskFreeRate: 0.0379,
		BumpSigma:    0.01,
		BumpDays:     1,
		Concurrency:  4,
		Quotes:       smile.DefaultQuoteOptions(),
		Parametric:   smile.DefaultModelOptions(),
	}
}

// Request describes one smile to evaluate.
type Request struct {
	Symbol     string
	Expiry     time.Time
	Now        time.Time
	Underlying float64
	Quotes     []models.StrikeQuote
	// Override skips the quotes and reconstructs from these parameters.
	Override *smile.Inputs
	Position *models.Position
}

type Result struct {
	Symbol string        `json:"symbol"`
	Expiry time.Time     `json:"expiry"`
	Smile  *models.Smile `json:"smile,omitempty"`
	Source Source        `json:"source"`
	Span   calendar.Span `json:"span"`
	Fit    *smile.Inputs `json:"fit,omitempty"`
	Greeks *Greeks       `json:"greeks,omitempty"`
	// Err is set by EvaluateAll for requests that produced no smile.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

type Greeks struct {
	Vega  float64         `json:"vega"`
	Theta positions.Theta `json:"theta"`
	Vomma float64         `json:"vomma"`
	// VegaHedgeLots is the number of at-the-money calls that flattens Vega.
	VegaHedgeLots int `json:"vega_hedge_lots"`
}

type Engine struct {
	cal       *calendar.Engine
	store     cache.Store
	builder   *smile.Builder
	model     *smile.Model
	templates *smile.TemplateStore
	estimator *positions.Estimator
	opts      Options
	logger    *logrus.Logger
}

func New(cal *calendar.Engine, store cache.Store, pricer pricing.Pricer, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	if pricer == nil {
		pricer = pricing.NewBlackScholes()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Engine{
		cal:       cal,
		store:     store,
		builder:   smile.NewBuilder(pricer, opts.Quotes, logger),
		model:     smile.NewModel(opts.Parametric, logger),
		templates: smile.NewTemplateStore(store, opts.Unattended, logger),
		estimator: positions.NewEstimator(pricer, cal, logger),
		opts:      opts,
		logger:    logger,
	}
}

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) Calendar() *calendar.Engine { return e.cal }

func seriesKey(base, name string) string { return base + ":" + name }

// Evaluate computes one smile and, when the request carries a position, its
// greeks.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	span := e.cal.Time(req.Expiry, req.Now, e.opts.Model)
	res := &Result{Symbol: req.Symbol, Expiry: req.Expiry, Span: span}
	if !(span.Years > 0) {
		return res, fmt.Errorf("%w: %s %s", ErrExpired, req.Symbol, req.Expiry.Format("2006-01-02"))
	}

	mkt := smile.Market{
		Symbol:       req.Symbol,
		Expiry:       req.Expiry,
		ObservedAt:   req.Now,
		Underlying:   req.Underlying,
		TimeToExpiry: span.Years,
		RiskFreeRate: e.opts.RiskFreeRate,
	}
	key := cache.Key(req.Symbol, req.Expiry, e.opts.Model, e.opts.Rescale)
	log := e.logger.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"expiry": req.Expiry.Format("2006-01-02"),
		"model":  e.opts.Model.String(),
	})

	s, err := e.build(ctx, mkt, req, key, res)
	if err != nil {
		return res, err
	}

	if e.opts.Transform != smile.Identity || e.opts.Shift != 0 {
		if s, err = smile.Transform(s, e.opts.Transform, e.opts.Weight, e.opts.Shift); err != nil {
			log.WithError(err).Warn("Failed to transform smile")
			return res, err
		}
	}

	thetaModel := e.opts.Model
	if e.opts.Rescale && e.opts.Model != calendar.Calendar {
		factor := e.cal.RescaleBetween(1, req.Expiry, req.Now, e.opts.Model, calendar.Calendar)
		s = s.WithCurve(curve.Scale(s.Curve, factor))
		s.TimeToExpiry = e.cal.Time(req.Expiry, req.Now, calendar.Calendar).Years
		if s.Params != nil {
			s.Params.Level *= factor
			s.Params.Skew *= factor
		}
		thetaModel = calendar.Calendar
	}
	res.Smile = s

	if req.Position != nil && !req.Position.Empty() {
		res.Greeks = e.greeks(*req.Position, s, thetaModel, log)
	}
	return res, nil
}

func (e *Engine) build(ctx context.Context, mkt smile.Market, req Request, key string, res *Result) (*models.Smile, error) {
	strikes := make([]float64, len(req.Quotes))
	for i, q := range req.Quotes {
		strikes[i] = q.Strike
	}

	if req.Override != nil {
		tmpl, err := e.templates.Get(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		res.Source = FromOverride
		return e.model.Reconstruct(mkt, *req.Override, tmpl, strikes)
	}

	s, buildErr := e.builder.Build(mkt, req.Quotes)
	if buildErr == nil {
		res.Source = FromQuotes
		res.Fit = e.record(ctx, s, req, key)
		return s, nil
	}

	in, err := e.lastParams(ctx, key, req.Now)
	if err != nil {
		if e.opts.Unattended {
			return nil, fmt.Errorf("%w (quotes: %v)", err, buildErr)
		}
		e.logger.WithField("key", key).WithError(err).Warn("No smile: quotes unusable and no parameter history")
		return nil, buildErr
	}
	tmpl, err := e.templates.Get(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"key":   key,
		"level": in.Level,
		"skew":  in.Skew,
		"shape": in.Shape,
	}).Info("Rebuilding smile from last known parameters")
	res.Source = FromParams
	return e.model.Reconstruct(mkt, in, tmpl, strikes)
}

// record calibrates the fitted smile and appends its parameters to the
// history series. Failures are logged; the fitted smile stands regardless.
func (e *Engine) record(ctx context.Context, s *models.Smile, req Request, key string) *smile.Inputs {
	level, err := s.ATM()
	if err != nil {
		e.logger.WithField("key", key).WithError(err).Warn("Fitted smile does not cover the underlying")
		return nil
	}
	skew, err := s.Skew()
	if err != nil {
		e.logger.WithField("key", key).WithError(err).Warn("Fitted smile has no slope at the underlying")
		return nil
	}
	in := smile.Inputs{Level: level, Skew: skew, OverrideSkew: true}

	mo := e.model.Options()
	if tmpl, err := e.templates.Get(ctx, req.Symbol); err == nil {
		fit, rmse, err := smile.Calibrate(s, tmpl, mo.Exponent)
		if err == nil {
			in.Shape = fit.Shape
			e.logger.WithFields(logrus.Fields{"key": key, "rmse": rmse}).Debug("Calibrated smile")
		} else {
			e.logger.WithField("key", key).WithError(err).Warn("Failed to calibrate smile")
		}
	}
	s.Params = &models.Params{Level: in.Level, Skew: in.Skew, Shape: in.Shape}

	learned, err := smile.LearnTemplate(s, in.Shape, mo.Exponent, mo.TailLength)
	if err == nil {
		err = e.templates.Save(ctx, req.Symbol, learned)
	}
	if err != nil {
		e.logger.WithField("symbol", req.Symbol).WithError(err).Warn("Failed to learn smile template")
	}

	for name, v := range map[string]float64{"level": in.Level, "skew": in.Skew, "shape": in.Shape} {
		if err := e.store.Append(ctx, seriesKey(key, name), req.Now, v); err != nil {
			e.logger.WithField("key", seriesKey(key, name)).WithError(err).Warn("Failed to record parameter")
		}
	}
	return &in
}

// lastParams repeats the last recorded (level, skew, shape) at or before now.
func (e *Engine) lastParams(ctx context.Context, key string, now time.Time) (smile.Inputs, error) {
	var vals [3]float64
	for i, name := range []string{"level", "skew", "shape"} {
		series, err := e.store.Series(ctx, seriesKey(key, name))
		if errors.Is(err, cache.ErrNotFound) {
			return smile.Inputs{}, fmt.Errorf("%w: %s", ErrNoHistory, seriesKey(key, name))
		}
		if err != nil {
			return smile.Inputs{}, err
		}
		v, ok := series.At(now)
		if !ok {
			return smile.Inputs{}, fmt.Errorf("%w: %s before %s", ErrNoHistory, seriesKey(key, name), now.Format(time.RFC3339))
		}
		vals[i] = v
	}
	return smile.Inputs{Level: vals[0], Skew: vals[1], Shape: vals[2], OverrideSkew: true}, nil
}

func (e *Engine) greeks(pos models.Position, s *models.Smile, thetaModel calendar.Model, log *logrus.Entry) *Greeks {
	vega, okVega := e.estimator.Vega(pos, s, e.opts.BumpSigma, 0)
	theta, okTheta := e.estimator.Theta(pos, s, e.opts.BumpDays, thetaModel)
	vomma, okVomma := e.estimator.Vomma(pos, s, e.opts.BumpSigma)
	if !okVega || !okTheta || !okVomma {
		log.Warn("Greek estimate invalid: position has strikes without volatility")
		return nil
	}
	if math.IsNaN(vega) || math.IsNaN(vomma) {
		return nil
	}
	g := &Greeks{Vega: vega, Theta: theta, Vomma: vomma}

	atm := models.Position{Symbol: pos.Symbol, Expiry: pos.Expiry, Strikes: []models.PositionStrike{{Strike: s.Underlying, Call: 1}}}
	if lotVega, ok := e.estimator.Vega(atm, s, e.opts.BumpSigma, 0); ok && lotVega > 0 {
		g.VegaHedgeLots = positions.VegaHedgeLots(0, vega, lotVega)
	} else {
		log.Debug("No at-the-money vega to size a hedge")
	}
	return g
}

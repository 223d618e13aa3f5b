// Package smile builds implied-volatility smiles from option quotes,
// reconstructs them from (level, skew, shape) parameters and applies the
// symmetrization transforms.
package smile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bcdannyboy/volsmile/curve"
	"github.com/bcdannyboy/volsmile/models"
	"github.com/bcdannyboy/volsmile/pricing"
	"github.com/sirupsen/logrus"
)

var ErrInvalidInput = errors.New("smile: invalid input")

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}

// Market is the state a smile is computed against.
type Market struct {
	Symbol       string
	Expiry       time.Time
	ObservedAt   time.Time
	Underlying   float64
	TimeToExpiry float64
	RiskFreeRate float64
}

func (m Market) validate() error {
	switch {
	case !(m.Underlying > 0) || math.IsInf(m.Underlying, 0):
		return fmt.Errorf("%w: underlying price %v", ErrInvalidInput, m.Underlying)
	case !(m.TimeToExpiry > 0) || math.IsInf(m.TimeToExpiry, 0):
		return fmt.Errorf("%w: time to expiry %v", ErrInvalidInput, m.TimeToExpiry)
	case math.IsNaN(m.RiskFreeRate) || math.IsInf(m.RiskFreeRate, 0) || m.RiskFreeRate <= -1:
		return fmt.Errorf("%w: risk-free rate %v", ErrInvalidInput, m.RiskFreeRate)
	}
	return nil
}

func (m Market) fields() logrus.Fields {
	return logrus.Fields{
		"symbol":     m.Symbol,
		"expiry":     m.Expiry.Format("2006-01-02"),
		"underlying": m.Underlying,
		"tte":        m.TimeToExpiry,
	}
}

func (m Market) snapshot() *models.Smile {
	return &models.Smile{
		Symbol:       m.Symbol,
		Expiry:       m.Expiry,
		ObservedAt:   m.ObservedAt,
		Underlying:   m.Underlying,
		TimeToExpiry: m.TimeToExpiry,
		RiskFreeRate: m.RiskFreeRate,
	}
}

// Builder turns per-strike quotes into a fitted smile.
type Builder struct {
	pricer pricing.Pricer
	opts   QuoteOptions
	logger *logrus.Logger
}

func NewBuilder(pricer pricing.Pricer, opts QuoteOptions, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = newLogger()
	}
	if opts.VolCeiling <= 0 {
		opts.VolCeiling = DefaultQuoteOptions().VolCeiling
	}
	return &Builder{pricer: pricer, opts: opts, logger: logger}
}

// sideVol inverts the resolved price of one instrument. Volatilities above
// the ceiling are clamped to it; non-positive or NaN results are discarded.
func (b *Builder) sideVol(m Market, strike float64, q models.Quote, isCall bool) (float64, bool) {
	price, ok := b.opts.Resolve(q, m.Underlying)
	if !ok {
		return math.NaN(), false
	}
	sigma, _, err := b.pricer.ImpliedVol(m.Underlying, strike, m.TimeToExpiry, price, m.RiskFreeRate, isCall)
	if err != nil {
		return math.NaN(), false
	}
	if sigma > b.opts.VolCeiling {
		sigma = b.opts.VolCeiling
	}
	if !(sigma > 0) {
		return math.NaN(), false
	}
	return sigma, true
}

// pick chooses between the put and call volatility at one strike. Asks
// overstate volatility on the wider side so the lower one is kept; bids are
// the mirror case. Mid uses the out-of-the-money instrument.
func (b *Builder) pick(m Market, strike, put, call float64, okPut, okCall bool) (float64, bool) {
	switch {
	case okPut && !okCall:
		return put, true
	case okCall && !okPut:
		return call, true
	case !okPut && !okCall:
		return math.NaN(), false
	}
	switch b.opts.Mode {
	case Ask:
		return math.Min(put, call), true
	case Bid:
		return math.Max(put, call), true
	}
	if strike < m.Underlying {
		return put, true
	}
	return call, true
}

// Knots resolves one implied volatility per quoted strike inside the
// inclusion window.
func (b *Builder) Knots(m Market, quotes []models.StrikeQuote) curve.Knots {
	strikes := make([]float64, 0, len(quotes))
	vols := make([]float64, 0, len(quotes))
	for _, sq := range quotes {
		if !(sq.Strike > 0) || !b.opts.inWindow(sq.Strike) {
			continue
		}
		put, okPut := b.sideVol(m, sq.Strike, sq.Put, false)
		call, okCall := b.sideVol(m, sq.Strike, sq.Call, true)
		if v, ok := b.pick(m, sq.Strike, put, call, okPut, okCall); ok {
			strikes = append(strikes, sq.Strike)
			vols = append(vols, v)
		}
	}
	return curve.NewKnots(strikes, vols)
}

// Build fits a smile to quotes. It returns nil and an error when the market
// is invalid or the surviving knots cannot be fitted; it never returns a
// partially built smile.
func (b *Builder) Build(m Market, quotes []models.StrikeQuote) (*models.Smile, error) {
	if err := m.validate(); err != nil {
		b.logger.WithFields(m.fields()).WithError(err).Warn("Skipping smile construction")
		return nil, err
	}

	knots := b.Knots(m, quotes)
	spline, err := curve.Fit(knots)
	if err != nil {
		b.logger.WithFields(m.fields()).WithFields(logrus.Fields{
			"quotes": len(quotes),
			"knots":  knots.String(),
		}).WithError(err).Warn("Failed to fit smile")
		return nil, err
	}

	s := m.snapshot()
	s.Curve = spline
	s.Nodes = make([]models.Node, len(knots))
	for i, k := range knots {
		s.Nodes[i] = models.Node{Strike: k.X, Vol: k.Y, Kind: models.Visible}
	}
	return s, nil
}

package smile

import (
	"fmt"
	"math"
	"strings"

	"github.com/bcdannyboy/volsmile/models"
	"github.com/shopspring/decimal"
)

// PriceMode selects which side of the book an option is valued at.
type PriceMode int

const (
	Mid PriceMode = iota
	Bid
	Ask
)

func (m PriceMode) String() string {
	switch m {
	case Mid:
		return "mid"
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	}
	return fmt.Sprintf("PriceMode(%d)", int(m))
}

func ParsePriceMode(s string) (PriceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mid", "":
		return Mid, nil
	case "bid":
		return Bid, nil
	case "ask":
		return Ask, nil
	}
	return Mid, fmt.Errorf("unknown price mode %q", s)
}

// QuoteOptions controls how a quoted option is turned into one price.
type QuoteOptions struct {
	Mode PriceMode
	// Nudge moves each side towards the other: bids go up, asks go down.
	Nudge float64
	// TickSize rounds resolved prices to the nearest tick; zero disables it.
	TickSize float64
	// AskFallback substitutes twice the underlying price for a missing ask.
	AskFallback bool
	VolCeiling  float64
	// Strikes outside [MinStrike, MaxStrike] are dropped; zero means open.
	MinStrike float64
	MaxStrike float64
}

func DefaultQuoteOptions() QuoteOptions {
	return QuoteOptions{
		Mode:        Mid,
		AskFallback: true,
		VolCeiling:  5,
	}
}

func (o QuoteOptions) inWindow(strike float64) bool {
	if o.MinStrike > 0 && strike < o.MinStrike {
		return false
	}
	if o.MaxStrike > 0 && strike > o.MaxStrike {
		return false
	}
	return true
}

func (o QuoteOptions) bid(q models.Quote) (decimal.Decimal, bool) {
	if !q.HasBid() {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(q.Bid).Add(decimal.NewFromFloat(o.Nudge)), true
}

func (o QuoteOptions) ask(q models.Quote, underlying float64) (decimal.Decimal, bool) {
	if q.HasAsk() {
		return decimal.NewFromFloat(q.Ask).Sub(decimal.NewFromFloat(o.Nudge)), true
	}
	if o.AskFallback && q.HasBid() {
		return decimal.NewFromFloat(2 * underlying), true
	}
	return decimal.Zero, false
}

// Resolve returns the single price q is valued at, or false when the
// selected side is missing or non-positive after nudging.
func (o QuoteOptions) Resolve(q models.Quote, underlying float64) (float64, bool) {
	var (
		price decimal.Decimal
		ok    bool
	)
	switch o.Mode {
	case Bid:
		price, ok = o.bid(q)
	case Ask:
		price, ok = o.ask(q, underlying)
	default:
		b, okBid := o.bid(q)
		a, okAsk := o.ask(q, underlying)
		if ok = okBid && okAsk; ok {
			price = b.Add(a).Div(decimal.NewFromInt(2))
		}
	}
	if !ok {
		return math.NaN(), false
	}

	if o.TickSize > 0 {
		tick := decimal.NewFromFloat(o.TickSize)
		price = price.Div(tick).Round(0).Mul(tick)
	}
	if !price.IsPositive() {
		return math.NaN(), false
	}
	return price.InexactFloat64(), true
}

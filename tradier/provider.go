package tradier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bcdannyboy/volsmile/models"
)

// expiryHour is the settlement time of an expiration date in the exchange
// timezone.
const expiryHour = 16

// PivotChain groups a chain's contracts by strike into put/call quotes,
// sorted by strike. Missing sides stay zero and timestamps are only set when
// the API reports one.
func PivotChain(chain *OptionChain) []models.StrikeQuote {
	byStrike := make(map[float64]*models.StrikeQuote)
	for _, o := range chain.Options.Option {
		if o.Strike <= 0 {
			continue
		}
		sq, ok := byStrike[o.Strike]
		if !ok {
			sq = &models.StrikeQuote{Strike: o.Strike}
			byStrike[o.Strike] = sq
		}
		switch o.OptionType {
		case "put":
			sq.Put = toQuote(o)
		case "call":
			sq.Call = toQuote(o)
		}
	}

	out := make([]models.StrikeQuote, 0, len(byStrike))
	for _, sq := range byStrike {
		out = append(out, *sq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

func toQuote(o Option) models.Quote {
	q := models.Quote{
		Bid:     o.Bid,
		Ask:     o.Ask,
		BidSize: o.Bidsize,
		AskSize: o.Asksize,
	}
	if o.BidDate > 0 {
		q.BidTime = time.UnixMilli(o.BidDate).UTC()
	}
	if o.AskDate > 0 {
		q.AskTime = time.UnixMilli(o.AskDate).UTC()
	}
	return q
}

// ExpiryTime is the settlement instant of a yyyy-MM-dd expiration.
func (c *Client) ExpiryTime(date string) (time.Time, error) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse expiration date: %w", err)
	}
	return d.Add(expiryHour * time.Hour), nil
}

// Underlying returns the last trade price of symbol, falling back to the
// quote midpoint before the first trade.
func (c *Client) Underlying(ctx context.Context, symbol string) (float64, error) {
	q, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if q.Last > 0 {
		return q.Last, nil
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

// Expirations lists the settlement instants of every listed expiration.
func (c *Client) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	expirations, err := c.GetExpirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(expirations.Expirations.Expiration))
	for _, e := range expirations.Expirations.Expiration {
		t, err := c.ExpiryTime(e.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// StrikeQuotes fetches the chain of one expiry pivoted by strike.
func (c *Client) StrikeQuotes(ctx context.Context, symbol string, expiry time.Time) ([]models.StrikeQuote, error) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	chain, err := c.GetOptionChain(ctx, symbol, expiry.In(loc).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	return PivotChain(chain), nil
}

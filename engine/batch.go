package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bcdannyboy/volsmile/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MarketData supplies the inputs of a smile evaluation.
type MarketData interface {
	Underlying(ctx context.Context, symbol string) (float64, error)
	Expirations(ctx context.Context, symbol string) ([]time.Time, error)
	StrikeQuotes(ctx context.Context, symbol string, expiry time.Time) ([]models.StrikeQuote, error)
}

// EvaluateAll evaluates requests in parallel, at most Concurrency at a time.
// Results keep the order of reqs. A failed request is reported in its
// Result; only unattended engines abort the batch on the first failure.
func (e *Engine) EvaluateAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = &Result{Symbol: req.Symbol, Expiry: req.Expiry, Err: err, Error: err.Error()}
				return err
			}
			res, err := e.Evaluate(ctx, req)
			if err != nil {
				res.Err = err
				res.Error = err.Error()
				if e.opts.Unattended {
					results[i] = res
					return err
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// EvaluateSymbol evaluates every expiration of symbol between minDTE and
// maxDTE calendar days from now. held maps yyyy-MM-dd expirations to the
// positions whose greeks are wanted.
func (e *Engine) EvaluateSymbol(ctx context.Context, md MarketData, symbol string, now time.Time, minDTE, maxDTE int, held map[string]*models.Position) ([]*Result, error) {
	underlying, err := md.Underlying(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("underlying price of %s: %w", symbol, err)
	}
	expiries, err := md.Expirations(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("expirations of %s: %w", symbol, err)
	}

	var reqs []Request
	for _, expiry := range expiries {
		dte := int(expiry.Sub(now).Hours() / 24)
		if dte < minDTE || dte > maxDTE {
			continue
		}
		reqs = append(reqs, e.request(ctx, md, symbol, underlying, expiry, now, held[expiry.Format("2006-01-02")]))
	}
	return e.EvaluateAll(ctx, reqs)
}

// EvaluateExpiry fetches the market for one expiry of symbol and evaluates it.
func (e *Engine) EvaluateExpiry(ctx context.Context, md MarketData, symbol string, expiry, now time.Time, pos *models.Position) (*Result, error) {
	underlying, err := md.Underlying(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("underlying price of %s: %w", symbol, err)
	}
	return e.Evaluate(ctx, e.request(ctx, md, symbol, underlying, expiry, now, pos))
}

// request fetches the quotes of one expiry. A failed fetch leaves Quotes
// empty so the evaluation can still fall back to the parameter history.
func (e *Engine) request(ctx context.Context, md MarketData, symbol string, underlying float64, expiry, now time.Time, pos *models.Position) Request {
	quotes, err := md.StrikeQuotes(ctx, symbol, expiry)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"expiry": expiry.Format("2006-01-02"),
		}).WithError(err).Warn("Failed to fetch quotes")
	}
	return Request{
		Symbol:     symbol,
		Expiry:     expiry,
		Now:        now,
		Underlying: underlying,
		Quotes:     quotes,
		Position:   pos,
	}
}

package pricing

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	maxIterations = 100
	epsilon       = 1e-10
	maxVol        = 10.0
)

var (
	ErrInvalidInput  = errors.New("pricing: invalid input")
	ErrNoConvergence = errors.New("pricing: implied volatility did not converge")
)

// Pricer is the single-contract pricing primitive the smile engine relies on.
type Pricer interface {
	Price(f, k, t, sigma, r float64, isCall bool) float64
	ImpliedVol(f, k, t, price, r float64, isCall bool) (sigma, precision float64, err error)
	Vega(f, k, t, sigma, r float64) float64
	Theta(f, k, t, sigma, r float64, isCall bool) float64
}

// BlackScholes prices European options on an underlying at price f.
type BlackScholes struct {
	MaxIterations int
	Tolerance     float64
	MaxVol        float64
}

func NewBlackScholes() *BlackScholes {
	return &BlackScholes{
		MaxIterations: maxIterations,
		Tolerance:     epsilon,
		MaxVol:        maxVol,
	}
}

func d1d2(f, k, t, sigma, r float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(f/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

func (bs *BlackScholes) Price(f, k, t, sigma, r float64, isCall bool) float64 {
	df := math.Exp(-r * math.Max(t, 0))
	if t <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(f-k*df, 0)
		}
		return math.Max(k*df-f, 0)
	}

	d1, d2 := d1d2(f, k, t, sigma, r)
	if isCall {
		return f*distuv.UnitNormal.CDF(d1) - k*df*distuv.UnitNormal.CDF(d2)
	}
	return k*df*distuv.UnitNormal.CDF(-d2) - f*distuv.UnitNormal.CDF(-d1)
}

func (bs *BlackScholes) Vega(f, k, t, sigma, r float64) float64 {
	if t <= 0 || sigma <= 0 {
		return 0
	}
	d1, _ := d1d2(f, k, t, sigma, r)
	return f * distuv.UnitNormal.Prob(d1) * math.Sqrt(t)
}

// Theta is the per-year decay with respect to calendar time.
func (bs *BlackScholes) Theta(f, k, t, sigma, r float64, isCall bool) float64 {
	if t <= 0 || sigma <= 0 {
		return 0
	}
	d1, d2 := d1d2(f, k, t, sigma, r)
	df := math.Exp(-r * t)
	theta := -(f * distuv.UnitNormal.Prob(d1) * sigma) / (2 * math.Sqrt(t))
	if isCall {
		return theta - r*k*df*distuv.UnitNormal.CDF(d2)
	}
	return theta + r*k*df*distuv.UnitNormal.CDF(-d2)
}

// Bounds returns the no-arbitrage price range of the contract.
func Bounds(f, k, t, r float64, isCall bool) (lower, upper float64) {
	df := math.Exp(-r * t)
	if isCall {
		return math.Max(f-k*df, 0), f
	}
	return math.Max(k*df-f, 0), k * df
}

// ImpliedVol inverts Price for sigma with a safeguarded Newton iteration.
// A price at or below intrinsic value yields 0; a price at or above the
// upper bound (or beyond MaxVol) yields +Inf, both without error, so the
// caller decides whether to discard or clamp.
func (bs *BlackScholes) ImpliedVol(f, k, t, price, r float64, isCall bool) (float64, float64, error) {
	if !(f > 0) || !(k > 0) || !(t > 0) || math.IsNaN(price) || math.IsNaN(r) {
		return math.NaN(), math.NaN(), ErrInvalidInput
	}

	lower, upper := Bounds(f, k, t, r, isCall)
	if price <= lower {
		return 0, 0, nil
	}
	if price >= upper {
		return math.Inf(1), 0, nil
	}

	lo, hi := 0.0, bs.MaxVol
	if bs.Price(f, k, t, hi, r, isCall) < price {
		return math.Inf(1), 0, nil
	}

	// Brenner-Subrahmanyam starting point.
	sigma := math.Sqrt(2*math.Pi/t) * price / f
	if sigma <= lo || sigma >= hi || math.IsNaN(sigma) {
		sigma = 0.5
	}

	diff := math.Inf(1)
	for i := 0; i < bs.MaxIterations; i++ {
		diff = bs.Price(f, k, t, sigma, r, isCall) - price
		if math.Abs(diff) < bs.Tolerance {
			return sigma, math.Abs(diff), nil
		}
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		next := math.NaN()
		if vega := bs.Vega(f, k, t, sigma, r); vega > 1e-12 {
			next = sigma - diff/vega
		}
		if math.IsNaN(next) || next <= lo || next >= hi {
			next = 0.5 * (lo + hi)
		}
		sigma = next
	}
	return sigma, math.Abs(diff), ErrNoConvergence
}

package smile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"testing"

	"github.com/bcdannyboy/volsmile/cache"
	"github.com/bcdannyboy/volsmile/curve"
	"github.com/bcdannyboy/volsmile/models"
	"gonum.org/v1/gonum/floats"
)

func flatTemplate(t *testing.T) *Template {
	t.Helper()
	xs := floats.Span(make([]float64, 9), -4, 4)
	ys := make([]float64, len(xs))
	for i := range ys {
		ys[i] = 1
	}
	tmpl, err := NewTemplate(curve.NewKnots(xs, ys), 1)
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	return tmpl
}

var listedStrikes = []float64{80, 85, 90, 95, 100, 105, 110, 115, 120}

func TestFlatTemplateReducesToLevel(t *testing.T) {
	m := NewModel(DefaultModelOptions(), quietLogger())
	s, err := m.Reconstruct(testMarket(), Inputs{Level: 0.22}, flatTemplate(t), listedStrikes)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for _, k := range []float64{1, 50, 97.3, 100, 140, 400} {
		v, err := s.Vol(k)
		if err != nil {
			t.Fatalf("Vol(%v): %v", k, err)
		}
		if !almostEqual(v, 0.22, 1e-12) {
			t.Errorf("Vol(%v) = %v, want 0.22", k, v)
		}
	}
	for _, n := range s.Nodes {
		if !almostEqual(n.Vol, 0.22, 1e-12) {
			t.Errorf("node %v vol = %v, want 0.22", n.Strike, n.Vol)
		}
	}
	if s.Params == nil || s.Params.Level != 0.22 || !almostEqual(s.Params.Skew, 0, 1e-12) {
		t.Errorf("Params = %+v", s.Params)
	}
}

func TestSkewOverride(t *testing.T) {
	m := NewModel(DefaultModelOptions(), quietLogger())
	for _, tmpl := range []*Template{flatTemplate(t), DefaultTemplate()} {
		for _, skew := range []float64{-0.004, 0, 0.002} {
			in := Inputs{Level: 0.25, Skew: skew, Shape: 0.1, OverrideSkew: true}
			s, err := m.Reconstruct(testMarket(), in, tmpl, listedStrikes)
			if err != nil {
				t.Fatalf("Reconstruct: %v", err)
			}
			got, err := s.Skew()
			if err != nil {
				t.Fatal(err)
			}
			if !almostEqual(got, skew, 1e-9) {
				t.Errorf("Skew = %v, want %v", got, skew)
			}
			if atm, _ := s.ATM(); !almostEqual(atm, 0.25, 1e-9) {
				t.Errorf("ATM = %v, want 0.25", atm)
			}
			if !almostEqual(s.Params.Skew, skew, 1e-9) {
				t.Errorf("Params.Skew = %v, want %v", s.Params.Skew, skew)
			}
		}
	}
}

func TestParametricDerivativeMatchesDifferences(t *testing.T) {
	in := Inputs{Level: 0.3, Skew: -0.003, Shape: -0.05, OverrideSkew: true}
	pc, err := NewParametricCurve(100, 0.5, DefaultExponent, in, DefaultTemplate())
	if err != nil {
		t.Fatal(err)
	}
	d := pc.Derivative()
	for _, k := range []float64{60, 90, 100, 104, 150} {
		h := 1e-4
		hi, _ := pc.Value(k + h)
		lo, _ := pc.Value(k - h)
		want := (hi - lo) / (2 * h)
		got, err := d.Value(k)
		if err != nil {
			t.Fatal(err)
		}
		if !almostEqual(got, want, 1e-6) {
			t.Errorf("derivative at %v = %v, want %v", k, got, want)
		}
	}
	if _, err := pc.Value(-1); !errors.Is(err, curve.ErrOutOfDomain) {
		t.Errorf("negative strike err = %v", err)
	}
}

func TestReconstructGrid(t *testing.T) {
	opts := DefaultModelOptions()
	opts.HalfCount = 4
	opts.WidthSigmas = 2
	m := NewModel(opts, quietLogger())

	mkt := testMarket()
	s, err := m.Reconstruct(mkt, Inputs{Level: 0.2}, DefaultTemplate(), listedStrikes)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if !sort.SliceIsSorted(s.Nodes, func(i, j int) bool { return s.Nodes[i].Strike < s.Nodes[j].Strike }) {
		t.Fatal("nodes not sorted")
	}
	for i := 1; i < len(s.Nodes); i++ {
		if s.Nodes[i].Strike == s.Nodes[i-1].Strike {
			t.Fatalf("duplicate node at %v", s.Nodes[i].Strike)
		}
	}

	// width = 2 * 0.2 * sqrt(0.25) * 100 = 20
	visible := s.Strikes(models.Visible)
	want := []float64{80, 85, 90, 95, 100, 105, 110, 115, 120}
	if len(visible) != len(want) {
		t.Fatalf("visible = %v, want %v", visible, want)
	}

	// Density step is half the listed spacing; listed strikes win.
	light := s.Strikes(models.Light)
	wantLight := []float64{92.5, 97.5, 102.5, 107.5}
	if len(light) != len(wantLight) {
		t.Fatalf("light = %v, want %v", light, wantLight)
	}
	for i := range wantLight {
		if !almostEqual(light[i], wantLight[i], 1e-9) {
			t.Errorf("light = %v, want %v", light, wantLight)
		}
	}

	tails := s.Strikes(models.Tail)
	if len(tails) != 2*opts.TailCount {
		t.Fatalf("tails = %v, want %d points", tails, 2*opts.TailCount)
	}
	for _, k := range tails {
		if k > 80 && k < 120 {
			t.Errorf("tail point %v inside the listed strikes", k)
		}
	}

	narrow := opts
	narrow.WidthSigmas = 1
	s, err = NewModel(narrow, quietLogger()).Reconstruct(mkt, Inputs{Level: 0.2}, DefaultTemplate(), listedStrikes)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range s.Strikes(models.Visible) {
		if math.Abs(k-100) > 10 {
			t.Errorf("strike %v visible outside the window", k)
		}
	}
}

func TestReconstructGridDecimalStrikes(t *testing.T) {
	var strikes []float64
	for i := 0; i <= 15; i++ {
		k, err := strconv.ParseFloat(fmt.Sprintf("%.1f", 99+0.1*float64(i)), 64)
		if err != nil {
			t.Fatal(err)
		}
		strikes = append(strikes, k)
	}

	opts := DefaultModelOptions()
	opts.DensityFactor = 1
	s, err := NewModel(opts, quietLogger()).Reconstruct(testMarket(), Inputs{Level: 0.2}, DefaultTemplate(), strikes)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	for i := 1; i < len(s.Nodes); i++ {
		if gap := s.Nodes[i].Strike - s.Nodes[i-1].Strike; gap < 0.05 {
			t.Errorf("nodes %.15f (%v) and %.15f (%v) are %g apart", s.Nodes[i-1].Strike, s.Nodes[i-1].Kind, s.Nodes[i].Strike, s.Nodes[i].Kind, gap)
		}
	}

	// Listed strikes keep their exact price and stay visible.
	visible := s.Strikes(models.Visible)
	if len(visible) != len(strikes) {
		t.Fatalf("visible = %v, want %v", visible, strikes)
	}
	for i := range strikes {
		if visible[i] != strikes[i] {
			t.Errorf("visible[%d] = %.15f, want %.15f", i, visible[i], strikes[i])
		}
	}

	// 41 density points from 98.0 to 102.0 absorb every tail point.
	if len(s.Nodes) != 41 {
		t.Errorf("got %d nodes, want 41", len(s.Nodes))
	}
	if tails := s.Strikes(models.Tail); len(tails) != 0 {
		t.Errorf("tails = %v, want none", tails)
	}
}

func TestReconstructFailures(t *testing.T) {
	m := NewModel(DefaultModelOptions(), quietLogger())
	if _, err := m.Reconstruct(testMarket(), Inputs{Level: 0.2}, nil, listedStrikes); !errors.Is(err, ErrMissingTemplate) {
		t.Errorf("nil template err = %v", err)
	}
	if _, err := m.Reconstruct(testMarket(), Inputs{Level: 0}, DefaultTemplate(), listedStrikes); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero level err = %v", err)
	}
	bad := testMarket()
	bad.TimeToExpiry = 0
	if _, err := m.Reconstruct(bad, Inputs{Level: 0.2}, DefaultTemplate(), listedStrikes); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero time err = %v", err)
	}
}

func TestLearnTemplateRoundTrip(t *testing.T) {
	m := NewModel(DefaultModelOptions(), quietLogger())
	in := Inputs{Level: 0.3, Shape: 0.05}
	src, err := m.Reconstruct(testMarket(), in, DefaultTemplate(), listedStrikes)
	if err != nil {
		t.Fatal(err)
	}

	learned, err := LearnTemplate(src, in.Shape, DefaultExponent, 1)
	if err != nil {
		t.Fatalf("LearnTemplate: %v", err)
	}
	out, err := m.Reconstruct(testMarket(), in, learned, listedStrikes)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range listedStrikes {
		want, _ := src.Vol(k)
		got, _ := out.Vol(k)
		if !almostEqual(got, want, 1e-9) {
			t.Errorf("Vol(%v) = %v, want %v", k, got, want)
		}
	}
}

func TestCalibrateRecoversInputs(t *testing.T) {
	m := NewModel(DefaultModelOptions(), quietLogger())
	tmpl := DefaultTemplate()
	want := Inputs{Level: 0.27, Skew: -0.002, Shape: 0, OverrideSkew: true}
	src, err := m.Reconstruct(testMarket(), want, tmpl, listedStrikes)
	if err != nil {
		t.Fatal(err)
	}

	got, rmse, err := Calibrate(src, tmpl, DefaultExponent)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if rmse > 1e-4 {
		t.Errorf("rmse = %v", rmse)
	}
	if !almostEqual(got.Level, want.Level, 1e-3) {
		t.Errorf("level = %v, want %v", got.Level, want.Level)
	}

	if _, _, err := Calibrate(&models.Smile{}, nil, DefaultExponent); !errors.Is(err, ErrMissingTemplate) {
		t.Errorf("nil template err = %v", err)
	}
}

func TestTemplateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("attended seeds default", func(t *testing.T) {
		store := cache.NewMemory()
		ts := NewTemplateStore(store, false, quietLogger())
		tmpl, err := ts.Get(ctx, "SPY")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v, _ := tmpl.Curve().Value(0); !almostEqual(v, 1, 1e-12) {
			t.Errorf("default template at 0 = %v, want 1", v)
		}
		var stored Template
		if err := store.Load(ctx, DefaultTemplateKey, &stored); err != nil {
			t.Errorf("default template not persisted: %v", err)
		}
	})

	t.Run("unattended fails", func(t *testing.T) {
		ts := NewTemplateStore(cache.NewMemory(), true, quietLogger())
		if _, err := ts.Get(ctx, "SPY"); !errors.Is(err, ErrMissingTemplate) {
			t.Errorf("err = %v, want ErrMissingTemplate", err)
		}
	})

	t.Run("symbol template preferred", func(t *testing.T) {
		store := cache.NewMemory()
		ts := NewTemplateStore(store, true, quietLogger())
		if err := ts.Save(ctx, "SPY", flatTemplate(t)); err != nil {
			t.Fatal(err)
		}
		tmpl, err := ts.Get(ctx, "SPY")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v, _ := tmpl.Curve().Value(3); !almostEqual(v, 1, 1e-12) {
			t.Errorf("expected the flat template, got %v at x=3", v)
		}
	})
}

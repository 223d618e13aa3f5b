package models

import (
	"errors"
	"math"
	"testing"

	"github.com/bcdannyboy/volsmile/curve"
)

func flatSmile(t *testing.T, vol, tte float64) *Smile {
	t.Helper()
	s, err := curve.Fit(curve.NewKnots([]float64{80, 90, 100, 110, 120}, []float64{vol, vol, vol, vol, vol}))
	if err != nil {
		t.Fatal(err)
	}
	return &Smile{Underlying: 100, TimeToExpiry: tte, Curve: s}
}

func TestSmileWithoutCurve(t *testing.T) {
	var s Smile
	if _, err := s.ATM(); !errors.Is(err, ErrNoCurve) {
		t.Fatalf("expected ErrNoCurve, got %v", err)
	}
	if _, err := s.Skew(); !errors.Is(err, ErrNoCurve) {
		t.Fatalf("expected ErrNoCurve, got %v", err)
	}
}

func TestWithCurveDropsFailingNodes(t *testing.T) {
	s := flatSmile(t, 0.2, 0.5)
	s.Nodes = []Node{{Strike: 70, Kind: Tail}, {Strike: 100, Kind: Visible}, {Strike: 115, Kind: Light}}
	s.Params = &Params{Level: 0.2}

	out := s.WithCurve(curve.Shift(s.Curve, 0.05))
	if len(out.Nodes) != 2 {
		t.Fatalf("expected the out-of-domain node to be dropped, got %+v", out.Nodes)
	}
	for _, n := range out.Nodes {
		if math.Abs(n.Vol-0.25) > 1e-12 {
			t.Fatalf("node %+v not re-evaluated", n)
		}
	}
	out.Params.Level = 1
	if s.Params.Level != 0.2 {
		t.Fatal("params aliased between copies")
	}
	if got := out.Strikes(Visible); len(got) != 1 || got[0] != 100 {
		t.Fatalf("visible strikes: %v", got)
	}
}

func TestSurfaceTotalVarianceInterpolation(t *testing.T) {
	near := flatSmile(t, 0.2, 0.25)
	far := flatSmile(t, 0.3, 0.75)
	surface := NewVolatilitySurface(far, nil, near)

	if got := surface.Times(); len(got) != 2 || got[0] != 0.25 {
		t.Fatalf("times not sorted: %v", got)
	}

	got, err := surface.Vol(100, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	want := math.Sqrt((0.5*0.04*0.25 + 0.5*0.09*0.75) / 0.5)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("got=%v want=%v", got, want)
	}

	if v, _ := surface.Vol(100, 0.1); math.Abs(v-0.2) > 1e-12 {
		t.Fatalf("short extrapolation: %v", v)
	}
	if v, _ := surface.Vol(100, 2); math.Abs(v-0.3) > 1e-12 {
		t.Fatalf("long extrapolation: %v", v)
	}
	if _, err := (VolatilitySurface{}).Vol(100, 1); !errors.Is(err, ErrNoCurve) {
		t.Fatalf("empty surface: %v", err)
	}
}

package grid

import (
	"math"
	"testing"
)

func TestFloat32RoundTrip(t *testing.T) {
	g := New(2, 3)
	Apply(g, func(i, j int, _ float64) float64 { return float64(i*10 + j) })

	back, err := FromFloat32(2, 3, Float32(g))
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	if back.At(1, 2) != 12 || back.At(0, 1) != 1 {
		t.Fatalf("row-major order lost: %v", back.RawMatrix().Data)
	}
}

func TestFromFloat32RejectsBadLength(t *testing.T) {
	if _, err := FromFloat32(2, 2, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestCountAndCheckShape(t *testing.T) {
	g := Filled(3, 3, 1)
	g.Set(1, 1, math.NaN())
	if n := Count(g, func(_, _ int, v float64) bool { return Finite(v) }); n != 8 {
		t.Fatalf("expected 8 finite cells, got %d", n)
	}
	if err := CheckShape("depth", g, 3, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckShape("depth", g, 3, 4); err == nil {
		t.Fatal("expected shape error")
	}
}

package state

import (
	"math"
	"testing"

	"github.com/chrissnell/snowrunner/internal/grid"
	"gonum.org/v1/gonum/mat"
)

func TestZeroIsSnowFree(t *testing.T) {
	r := Zero(2, 3)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Depth.At(1, 2) != 0 || r.Density.At(0, 0) != 0 {
		t.Fatal("expected zero depth and density")
	}
	if r.BulkTemp.At(0, 1) != NoDataK {
		t.Fatalf("expected temperature sentinel %v, got %v", NoDataK, r.BulkTemp.At(0, 1))
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := Zero(2, 2)
	r.CurrentTime = 3600
	c := r.Clone()
	c.Depth.Set(0, 0, 1.5)
	if r.Depth.At(0, 0) != 0 {
		t.Fatal("clone shares depth grid with original")
	}
	if c.CurrentTime != 3600 {
		t.Fatalf("bookkeeping not copied: %v", c.CurrentTime)
	}
}

func TestResetAccumulatorsLeavesState(t *testing.T) {
	r := Zero(1, 1)
	r.Melt.Set(0, 0, 4)
	r.Depth.Set(0, 0, 1)
	r.ColdContent.Set(0, 0, -1e5)
	r.ResetAccumulators()
	if r.Melt.At(0, 0) != 0 {
		t.Fatal("melt not reset")
	}
	if r.Depth.At(0, 0) != 1 || r.ColdContent.At(0, 0) != -1e5 {
		t.Fatal("non-accumulated fields changed")
	}
}

func TestFromFieldsConvertsAndDerives(t *testing.T) {
	fields := map[string]*mat.Dense{
		"thickness":        grid.Filled(2, 2, 0.5),
		"snow_density":     grid.Filled(2, 2, 300),
		"temp_surf":        grid.Filled(2, 2, -5),
		"temp_lower":       grid.Filled(2, 2, -2),
		"temp_snowcover":   grid.Filled(2, 2, -3),
		"water_saturation": grid.Filled(2, 2, 0.5),
	}
	r, err := FromFields(2, 2, fields, Physical{ActiveLayer: 0.25, MaxH2OVol: 0.01})
	if err != nil {
		t.Fatalf("FromFields: %v", err)
	}
	if got := r.SurfaceTemp.At(0, 0); math.Abs(got-268.15) > 1e-9 {
		t.Errorf("surface temp = %v K, expected 268.15", got)
	}
	if got := r.SpecificMass.At(1, 1); math.Abs(got-150) > 1e-9 {
		t.Errorf("specific mass = %v, expected 150", got)
	}
	if got := r.LowerThickness.At(0, 1); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("lower thickness = %v, expected 0.25", got)
	}
	want := 0.5 * MaxLiquidWater(0.5, 300, 0.01)
	if got := r.LiquidWater.At(1, 0); math.Abs(got-want) > 1e-9 {
		t.Errorf("liquid water = %v, expected %v", got, want)
	}
	// The input grids must not be converted in place.
	if fields["temp_surf"].At(0, 0) != -5 {
		t.Error("input grid mutated")
	}
}

func TestFromFieldsMissingVariable(t *testing.T) {
	_, err := FromFields(1, 1, map[string]*mat.Dense{"thickness": grid.New(1, 1)}, Physical{})
	if err == nil {
		t.Fatal("expected missing variable error")
	}
}

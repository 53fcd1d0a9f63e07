package topo

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/rasterio"
	"gonum.org/v1/gonum/mat"
)

func coords() rasterio.Coords {
	return rasterio.Coords{X: []float64{0, 10, 20}, Y: []float64{20, 10, 0}}
}

func writeTopo(t *testing.T, vars ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topo.nc")
	var defs []rasterio.Variable
	for _, v := range vars {
		defs = append(defs, rasterio.Variable{Name: v, Static: true})
	}
	f, err := rasterio.Create(path, coords(), defs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, v := range vars {
		if err := f.WriteStatic(v, grid.Filled(3, 3, 1)); err != nil {
			t.Fatalf("WriteStatic %s: %v", v, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeTopo(t, VarMask, VarElevation, VarRoughness))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ny, nx := s.Dims(); ny != 3 || nx != 3 {
		t.Fatalf("dims %dx%d", ny, nx)
	}
	if !s.InDomain(1, 1) {
		t.Fatal("expected cell inside mask")
	}
	if s.CellSize() != 10 {
		t.Fatalf("cell size %v", s.CellSize())
	}
}

func TestLoadMissingRoughnessIsFatal(t *testing.T) {
	_, err := Load(writeTopo(t, VarMask, VarElevation))
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestGradient(t *testing.T) {
	// Elevation rises 10 m per 10 m cell to the east.
	dem := mat.NewDense(3, 3, []float64{
		0, 10, 20,
		0, 10, 20,
		0, 10, 20,
	})
	slope, aspect := Gradient(dem, 10)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"slope", slope.At(1, 1), 45},
		{"aspect faces west", aspect.At(1, 1), 270},
		{"edge slope", slope.At(0, 0), 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

// Package grid holds small helpers over gonum dense matrices used as
// co-registered rasters (row = y, column = x).
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// New returns a zero-filled ny by nx grid.
func New(ny, nx int) *mat.Dense {
	return mat.NewDense(ny, nx, nil)
}

// Filled returns an ny by nx grid with every cell set to v.
func Filled(ny, nx int, v float64) *mat.Dense {
	g := New(ny, nx)
	Fill(g, v)
	return g
}

// Fill sets every cell of g to v.
func Fill(g *mat.Dense, v float64) {
	data := g.RawMatrix().Data
	for i := range data {
		data[i] = v
	}
}

// Clone returns a deep copy of g.
func Clone(g *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(g)
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

// CheckShape returns an error naming the field when g does not match ny by nx.
func CheckShape(name string, g mat.Matrix, ny, nx int) error {
	if g == nil {
		return fmt.Errorf("grid %s is nil", name)
	}
	r, c := g.Dims()
	if r != ny || c != nx {
		return fmt.Errorf("grid %s is %dx%d, expected %dx%d", name, r, c, ny, nx)
	}
	return nil
}

// Apply replaces every cell of g with f(row, col, value).
func Apply(g *mat.Dense, f func(i, j int, v float64) float64) {
	ny, nx := g.Dims()
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			g.Set(i, j, f(i, j, g.At(i, j)))
		}
	}
}

// Count returns the number of cells for which pred is true.
func Count(g *mat.Dense, pred func(i, j int, v float64) bool) int {
	n := 0
	ny, nx := g.Dims()
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if pred(i, j, g.At(i, j)) {
				n++
			}
		}
	}
	return n
}

// Float32 flattens g row-major for raster output.
func Float32(g *mat.Dense) []float32 {
	data := g.RawMatrix().Data
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}

// FromFloat32 builds an ny by nx grid from row-major values.
func FromFloat32(ny, nx int, values []float32) (*mat.Dense, error) {
	if len(values) != ny*nx {
		return nil, fmt.Errorf("dims are %d but array length is %d", ny*nx, len(values))
	}
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	return mat.NewDense(ny, nx, data), nil
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

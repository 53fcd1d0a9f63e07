package updater

import (
	"math"
	"sort"

	"github.com/chrissnell/snowrunner/internal/grid"
	"gonum.org/v1/gonum/mat"
)

// Despike marks as unmeasured (NaN) every survey cell that differs from
// the median of its (2*halfWidth+1)² neighbourhood by more than tolerance
// metres. Unmeasured neighbours are left out of the median and cells near
// the edge use the part of the window inside the grid. Decisions use the
// unfiltered grid. It returns the number of cells removed.
func Despike(g *mat.Dense, halfWidth int, tolerance float64) int {
	if halfWidth < 1 {
		return 0
	}
	ny, nx := g.Dims()
	src := grid.Clone(g)
	window := make([]float64, 0, (2*halfWidth+1)*(2*halfWidth+1))
	removed := 0

	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			v := src.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			window = window[:0]
			for r := max(0, i-halfWidth); r <= min(ny-1, i+halfWidth); r++ {
				for c := max(0, j-halfWidth); c <= min(nx-1, j+halfWidth); c++ {
					if n := src.At(r, c); !math.IsNaN(n) {
						window = append(window, n)
					}
				}
			}
			if math.Abs(v-median(window)) > tolerance {
				g.Set(i, j, math.NaN())
				removed++
			}
		}
	}
	return removed
}

// median sorts vals in place.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return 0.5 * (vals[n/2-1] + vals[n/2])
}

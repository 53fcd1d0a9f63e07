// Package topo loads the static site description every run depends on:
// the active-domain mask, elevation and surface roughness.
package topo

import (
	"errors"
	"fmt"
	"math"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/rasterio"
	"gonum.org/v1/gonum/mat"
)

// Variable names in the topo file.
const (
	VarMask      = "mask"
	VarElevation = "dem"
	VarRoughness = "z_0"
)

// ErrMissingInput is returned when a required static input is absent.
var ErrMissingInput = errors.New("missing required static input")

// Site is the static description of the modelled domain.
type Site struct {
	Coords    rasterio.Coords
	Mask      *mat.Dense
	Elevation *mat.Dense
	Roughness *mat.Dense

	// Slope and Aspect are derived from Elevation, in degrees. Aspect is
	// clockwise from north.
	Slope  *mat.Dense
	Aspect *mat.Dense
}

// Load reads mask, dem and z_0 from a topo raster.
func Load(path string) (*Site, error) {
	f, err := rasterio.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := f.Coords()
	if err != nil {
		return nil, err
	}

	s := &Site{Coords: c}
	for _, in := range []struct {
		name string
		dst  **mat.Dense
	}{
		{VarMask, &s.Mask},
		{VarElevation, &s.Elevation},
		{VarRoughness, &s.Roughness},
	} {
		if !f.Has(in.name) {
			return nil, fmt.Errorf("topo %s: %s: %w", path, in.name, ErrMissingInput)
		}
		g, err := f.ReadStatic(in.name)
		if err != nil {
			return nil, fmt.Errorf("topo %s: %w", path, err)
		}
		*in.dst = g
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Slope, s.Aspect = Gradient(s.Elevation, s.CellSize())
	return s, nil
}

// New builds a Site from in-memory grids. Slope and aspect are derived.
func New(c rasterio.Coords, mask, elevation, roughness *mat.Dense) (*Site, error) {
	s := &Site{Coords: c, Mask: mask, Elevation: elevation, Roughness: roughness}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Slope, s.Aspect = Gradient(s.Elevation, s.CellSize())
	return s, nil
}

// Validate checks that every static input is present and co-registered.
func (s *Site) Validate() error {
	ny, nx := s.Dims()
	if ny == 0 || nx == 0 {
		return fmt.Errorf("topo: empty extent: %w", ErrMissingInput)
	}
	for name, g := range map[string]*mat.Dense{VarMask: s.Mask, VarElevation: s.Elevation, VarRoughness: s.Roughness} {
		if g == nil {
			return fmt.Errorf("topo: %s: %w", name, ErrMissingInput)
		}
		if err := grid.CheckShape(name, g, ny, nx); err != nil {
			return fmt.Errorf("topo: %w", err)
		}
	}
	return nil
}

// Dims returns rows and columns.
func (s *Site) Dims() (ny, nx int) {
	return s.Coords.Ny(), s.Coords.Nx()
}

// InDomain reports whether cell (i, j) is inside the active mask.
func (s *Site) InDomain(i, j int) bool {
	return s.Mask.At(i, j) != 0
}

// CellSize returns the grid spacing in metres, taken from the x vector.
func (s *Site) CellSize() float64 {
	x := s.Coords.X
	if len(x) < 2 {
		return 1
	}
	return math.Abs(x[1] - x[0])
}

// Gradient derives slope and aspect (degrees) from an elevation grid using
// central differences, falling back to one-sided differences at the edges.
func Gradient(dem *mat.Dense, cell float64) (slope, aspect *mat.Dense) {
	ny, nx := dem.Dims()
	slope, aspect = grid.New(ny, nx), grid.New(ny, nx)
	at := func(i, j int) float64 {
		i = clamp(i, 0, ny-1)
		j = clamp(j, 0, nx-1)
		return dem.At(i, j)
	}
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			dx := float64(min(j+1, nx-1) - max(j-1, 0))
			dy := float64(min(i+1, ny-1) - max(i-1, 0))
			var dzdx, dzdy float64
			if dx > 0 {
				dzdx = (at(i, j+1) - at(i, j-1)) / (dx * cell)
			}
			if dy > 0 {
				// Rows run north to south.
				dzdy = (at(i-1, j) - at(i+1, j)) / (dy * cell)
			}
			slope.Set(i, j, math.Atan(math.Hypot(dzdx, dzdy))*180/math.Pi)
			if dzdx == 0 && dzdy == 0 {
				continue
			}
			// Downslope direction, clockwise from north.
			a := math.Atan2(-dzdx, -dzdy) * 180 / math.Pi
			if a < 0 {
				a += 360
			}
			aspect.Set(i, j, a)
		}
	}
	return slope, aspect
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

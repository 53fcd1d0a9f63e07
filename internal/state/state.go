// Package state defines the per-pixel snowpack state advanced by the
// integration kernel. Temperatures are held in Kelvin; Celsius only exists
// at the raster I/O boundary.
package state

import (
	"fmt"

	"github.com/chrissnell/snowrunner/internal/grid"
	"gonum.org/v1/gonum/mat"
)

const (
	// FreezeK is the melting point of ice in Kelvin.
	FreezeK = 273.15

	// NoData marks snow-free or unresolved cells: -75 for density and
	// saturation, -75 °C for temperatures.
	NoData = -75.0

	// RhoWater is the density of liquid water (kg/m³).
	RhoWater = 1000.0
	// RhoIce is the density of ice (kg/m³).
	RhoIce = 917.0
)

// NoDataK is the temperature sentinel in Kelvin.
const NoDataK = NoData + FreezeK

func CelsiusToKelvin(c float64) float64 { return c + FreezeK }
func KelvinToCelsius(k float64) float64 { return k - FreezeK }

// ToKelvin converts a Celsius grid to Kelvin in place.
func ToKelvin(g *mat.Dense) {
	grid.Apply(g, func(_, _ int, v float64) float64 { return CelsiusToKelvin(v) })
}

// ToCelsius returns a Celsius copy of a Kelvin grid.
func ToCelsius(g *mat.Dense) *mat.Dense {
	out := grid.Clone(g)
	grid.Apply(out, func(_, _ int, v float64) float64 { return KelvinToCelsius(v) })
	return out
}

// Record is the mutable snowpack state plus output bookkeeping.
type Record struct {
	Ny, Nx int

	Depth          *mat.Dense // z_s, m
	Density        *mat.Dense // rho, kg/m³
	SpecificMass   *mat.Dense // m_s, kg/m²
	LiquidWater    *mat.Dense // h2o, kg/m²
	SurfaceTemp    *mat.Dense // T_s_0, K
	LowerTemp      *mat.Dense // T_s_l, K
	BulkTemp       *mat.Dense // T_s, K
	LowerThickness *mat.Dense // z_s_l, m
	Saturation     *mat.Dense // h2o_sat, fraction

	// Accumulated since the last output.
	NetRadiation *mat.Dense
	SensibleHeat *mat.Dense
	LatentHeat   *mat.Dense
	SoilHeat     *mat.Dense
	AdvectedHeat *mat.Dense
	EnergySum    *mat.Dense
	Evaporation  *mat.Dense
	Melt         *mat.Dense
	Runoff       *mat.Dense
	ColdContent  *mat.Dense

	// CurrentTime is seconds since the start of the water year.
	CurrentTime float64
	// TimeSinceOut is seconds since the last output flush.
	TimeSinceOut float64
}

// Zero returns a snow-free state: zero mass and the temperature sentinel.
func Zero(ny, nx int) *Record {
	r := &Record{Ny: ny, Nx: nx}
	for _, f := range Fields {
		*f.ref(r) = grid.New(ny, nx)
	}
	for _, g := range []*mat.Dense{r.SurfaceTemp, r.LowerTemp, r.BulkTemp} {
		grid.Fill(g, NoDataK)
	}
	return r
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := &Record{Ny: r.Ny, Nx: r.Nx, CurrentTime: r.CurrentTime, TimeSinceOut: r.TimeSinceOut}
	for _, f := range Fields {
		*f.ref(c) = grid.Clone(*f.ref(r))
	}
	return c
}

// Validate checks that every field is present and co-registered.
func (r *Record) Validate() error {
	for _, f := range Fields {
		if err := grid.CheckShape(f.Name, *f.ref(r), r.Ny, r.Nx); err != nil {
			return fmt.Errorf("invalid state: %w", err)
		}
	}
	return nil
}

// ResetAccumulators zeroes every accumulated-since-output term.
func (r *Record) ResetAccumulators() {
	for _, f := range Fields {
		if f.Accumulated {
			grid.Fill(*f.ref(r), 0)
		}
	}
}

// MaxLiquidWater is the liquid water (kg/m²) a layer of depth d (m) and
// density rho can hold at volumetric capacity maxH2OVol.
func MaxLiquidWater(d, rho, maxH2OVol float64) float64 {
	return maxH2OVol * d * RhoWater * (RhoIce - rho) / RhoIce
}

// LowerLayer returns the lower-layer thickness for a pack of depth d with
// an active surface layer of at most activeLayer metres.
func LowerLayer(d, activeLayer float64) float64 {
	if d <= activeLayer {
		return 0
	}
	return d - activeLayer
}

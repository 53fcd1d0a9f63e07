package forcing

import (
	"context"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/topo"
	"github.com/chrissnell/snowrunner/pkg/solar"
)

// SunAngle publishes the solar geometry grids that the radiation
// distributors depend on.
type SunAngle struct {
	Site     *topo.Site
	Lat, Lon float64
}

func (s *SunAngle) Name() string      { return "sun_angle" }
func (s *SunAngle) Inputs() []string  { return nil }
func (s *SunAngle) Outputs() []string { return []string{CosZenith, Azimuth, Illumination} }

func (s *SunAngle) Distribute(_ context.Context, t time.Time, _ Record) (Record, error) {
	ny, nx := s.Site.Dims()
	p := solar.SunPosition(t, s.Lat, s.Lon)

	illum := grid.New(ny, nx)
	grid.Apply(illum, func(i, j int, _ float64) float64 {
		return solar.Illumination(p, s.Site.Slope.At(i, j), s.Site.Aspect.At(i, j))
	})
	return Record{
		CosZenith:    grid.Filled(ny, nx, p.CosZenith),
		Azimuth:      grid.Filled(ny, nx, p.AzimuthDeg),
		Illumination: illum,
	}, nil
}

// ClearSkySolar estimates net shortwave radiation from clear-sky
// irradiance scaled by local illumination and a fixed snow albedo.
type ClearSkySolar struct {
	Lat, Lon  float64
	Albedo    float64
	Turbidity float64
}

func (c *ClearSkySolar) Name() string      { return "clear_sky_solar" }
func (c *ClearSkySolar) Inputs() []string  { return []string{CosZenith, Illumination} }
func (c *ClearSkySolar) Outputs() []string { return []string{NetSolar} }

func (c *ClearSkySolar) Distribute(_ context.Context, t time.Time, in Record) (Record, error) {
	illum := in[Illumination]
	ny, nx := illum.Dims()
	p := solar.SunPosition(t, c.Lat, c.Lon)
	global := solar.ClearSky(p, c.Turbidity)

	out := grid.New(ny, nx)
	if global > 0 && p.CosZenith > 0 {
		grid.Apply(out, func(i, j int, _ float64) float64 {
			return global * illum.At(i, j) / p.CosZenith * (1 - c.Albedo)
		})
	}
	return Record{NetSolar: out}, nil
}

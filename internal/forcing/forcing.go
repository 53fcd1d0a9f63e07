// Package forcing provides the gridded meteorological inputs valid at one
// timestamp, either read from per-variable raster files or produced by an
// in-process distribution engine.
package forcing

import (
	"context"
	"errors"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

// Forcing variable names.
const (
	Thermal       = "thermal"
	AirTemp       = "air_temp"
	VaporPressure = "vapor_pressure"
	WindSpeed     = "wind_speed"
	SoilTemp      = "soil_temp"
	NetSolar      = "net_solar"
	Precip        = "precip"
	PercentSnow   = "percent_snow"
	SnowDensity   = "snow_density"
	PrecipTemp    = "precip_temp"

	CosZenith    = "cos_zenith"
	Azimuth      = "azimuth"
	Illumination = "illumination"
)

// Variables are the inputs the integration kernel expects every step.
var Variables = []string{
	Thermal, AirTemp, VaporPressure, WindSpeed, SoilTemp,
	NetSolar, Precip, PercentSnow, SnowDensity, PrecipTemp,
}

// temperatures are stored in Celsius outside the kernel.
var temperatures = map[string]bool{
	AirTemp:    true,
	SoilTemp:   true,
	PrecipTemp: true,
}

// IsTemperature reports whether variable name is a Celsius temperature.
func IsTemperature(name string) bool {
	return temperatures[name]
}

// ErrTimestampAbsent is returned when no variable has data at a timestamp.
var ErrTimestampAbsent = errors.New("timestamp not present in forcing data")

// Record maps variable names to grids valid at one timestamp.
type Record map[string]*mat.Dense

// Clone deep-copies r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = grid.Clone(v)
	}
	return out
}

// Missing returns the names in want that r does not hold.
func (r Record) Missing(want []string) []string {
	var out []string
	for _, name := range want {
		if _, ok := r[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Kelvin returns a copy of r with temperature variables converted from
// Celsius to Kelvin. Non-temperature grids are shared, not copied.
func (r Record) Kelvin() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if IsTemperature(k) {
			c := grid.Clone(v)
			state.ToKelvin(c)
			out[k] = c
			continue
		}
		out[k] = v
	}
	return out
}

// Source returns the forcing record valid at t. A source may omit
// variables it has no data for; callers decide how to fill them.
type Source interface {
	Get(ctx context.Context, t time.Time) (Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, t time.Time) (Record, error)

func (f SourceFunc) Get(ctx context.Context, t time.Time) (Record, error) {
	return f(ctx, t)
}

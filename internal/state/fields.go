package state

import (
	"fmt"

	"github.com/chrissnell/snowrunner/internal/grid"
	"gonum.org/v1/gonum/mat"
)

// Group names an output file grouping.
type Group string

const (
	GroupEnergy Group = "em"
	GroupSnow   Group = "snow"
)

// Field describes one persisted state quantity.
type Field struct {
	Name        string
	Group       Group
	Units       string
	Description string
	Temperature bool
	Accumulated bool
	ref         func(*Record) **mat.Dense
}

// Grid returns the field's grid in r.
func (f Field) Grid(r *Record) *mat.Dense {
	return *f.ref(r)
}

// Set replaces the field's grid in r.
func (f Field) Set(r *Record, g *mat.Dense) {
	*f.ref(r) = g
}

// Fields lists every grid of a Record in output order.
var Fields = []Field{
	{Name: "net_rad", Group: GroupEnergy, Units: "W m-2", Description: "Average net all-wave radiation", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.NetRadiation }},
	{Name: "sensible_heat", Group: GroupEnergy, Units: "W m-2", Description: "Average sensible heat transfer", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.SensibleHeat }},
	{Name: "latent_heat", Group: GroupEnergy, Units: "W m-2", Description: "Average latent heat exchange", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.LatentHeat }},
	{Name: "snow_soil", Group: GroupEnergy, Units: "W m-2", Description: "Average snow/soil heat exchange", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.SoilHeat }},
	{Name: "precip_advected", Group: GroupEnergy, Units: "W m-2", Description: "Average advected heat from precipitation", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.AdvectedHeat }},
	{Name: "sum_EB", Group: GroupEnergy, Units: "W m-2", Description: "Average sum of energy balance terms", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.EnergySum }},
	{Name: "evaporation", Group: GroupEnergy, Units: "kg m-2", Description: "Total evaporation", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.Evaporation }},
	{Name: "snowmelt", Group: GroupEnergy, Units: "kg m-2", Description: "Total snowmelt", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.Melt }},
	{Name: "SWI", Group: GroupEnergy, Units: "kg m-2", Description: "Total surface water input (runoff)", Accumulated: true,
		ref: func(r *Record) **mat.Dense { return &r.Runoff }},
	{Name: "cold_content", Group: GroupEnergy, Units: "J m-2", Description: "Snowpack cold content",
		ref: func(r *Record) **mat.Dense { return &r.ColdContent }},

	{Name: "thickness", Group: GroupSnow, Units: "m", Description: "Predicted thickness of the snowcover",
		ref: func(r *Record) **mat.Dense { return &r.Depth }},
	{Name: "snow_density", Group: GroupSnow, Units: "kg m-3", Description: "Predicted average snow density",
		ref: func(r *Record) **mat.Dense { return &r.Density }},
	{Name: "specific_mass", Group: GroupSnow, Units: "kg m-2", Description: "Predicted specific mass of the snowcover",
		ref: func(r *Record) **mat.Dense { return &r.SpecificMass }},
	{Name: "liquid_water", Group: GroupSnow, Units: "kg m-2", Description: "Predicted mass of liquid water in the snowcover",
		ref: func(r *Record) **mat.Dense { return &r.LiquidWater }},
	{Name: "temp_surf", Group: GroupSnow, Units: "C", Description: "Predicted temperature of the surface layer", Temperature: true,
		ref: func(r *Record) **mat.Dense { return &r.SurfaceTemp }},
	{Name: "temp_lower", Group: GroupSnow, Units: "C", Description: "Predicted temperature of the lower layer", Temperature: true,
		ref: func(r *Record) **mat.Dense { return &r.LowerTemp }},
	{Name: "temp_snowcover", Group: GroupSnow, Units: "C", Description: "Predicted temperature of the snowcover", Temperature: true,
		ref: func(r *Record) **mat.Dense { return &r.BulkTemp }},
	{Name: "thickness_lower", Group: GroupSnow, Units: "m", Description: "Predicted thickness of the lower layer",
		ref: func(r *Record) **mat.Dense { return &r.LowerThickness }},
	{Name: "water_saturation", Group: GroupSnow, Units: "fraction", Description: "Predicted liquid water saturation",
		ref: func(r *Record) **mat.Dense { return &r.Saturation }},
}

// FieldByName looks up a field descriptor.
func FieldByName(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// requiredSnowFields must be present to rebuild a state from a snapshot.
var requiredSnowFields = []string{"thickness", "snow_density", "temp_surf", "temp_lower", "temp_snowcover", "water_saturation"}

// Physical holds the constants needed to derive dependent fields.
type Physical struct {
	ActiveLayer float64 // maximum active-layer thickness, m
	MaxH2OVol   float64 // volumetric liquid water capacity
}

// FromFields rebuilds a Record from named Celsius snow grids (as found in
// a snapshot or initial-conditions file). Specific mass, lower-layer
// thickness and liquid water are derived when absent.
func FromFields(ny, nx int, fields map[string]*mat.Dense, phys Physical) (*Record, error) {
	for _, name := range requiredSnowFields {
		g, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("snapshot is missing variable %s", name)
		}
		if err := grid.CheckShape(name, g, ny, nx); err != nil {
			return nil, err
		}
	}

	r := Zero(ny, nx)
	for name, g := range fields {
		f, ok := FieldByName(name)
		if !ok || f.Group != GroupSnow {
			continue
		}
		if err := grid.CheckShape(name, g, ny, nx); err != nil {
			return nil, err
		}
		c := grid.Clone(g)
		if f.Temperature {
			ToKelvin(c)
		}
		f.Set(r, c)
	}

	_, hasMass := fields["specific_mass"]
	_, hasLower := fields["thickness_lower"]
	_, hasWater := fields["liquid_water"]
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			d, rho := r.Depth.At(i, j), r.Density.At(i, j)
			if !hasMass {
				r.SpecificMass.Set(i, j, d*rho)
			}
			if !hasLower {
				r.LowerThickness.Set(i, j, LowerLayer(d, phys.ActiveLayer))
			}
			if !hasWater {
				r.LiquidWater.Set(i, j, r.Saturation.At(i, j)*MaxLiquidWater(d, rho, phys.MaxH2OVol))
			}
		}
	}
	return r, nil
}

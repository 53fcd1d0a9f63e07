package kernel

import (
	"context"
	"math"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

const (
	stefanBoltzmann = 5.6697e-8
	snowEmissivity  = 0.99
	cpIce           = 2102.0 // J/(kg K)
	defaultNewSnow  = 100.0  // kg/m³
)

// StatusBadInput is returned by DegreeDay for a non-finite forcing value.
const StatusBadInput = 1

// DegreeDay is a temperature-index stand-in for the energy balance kernel.
// It keeps every state field consistent so dry runs exercise the whole
// coupling engine, but it is not a physical snow model.
type DegreeDay struct {
	// MeltFactor is melt per degree-day above freezing, kg/m² per K per day.
	MeltFactor float64
}

var _ StepKernel = (*DegreeDay)(nil)

func (k *DegreeDay) Step(ctx context.Context, in Inputs, st *state.Record, p Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.FirstStep == 1 || st.TimeSinceOut == 0 {
		st.ResetAccumulators()
	}

	dt := p.Table[LevelData].StepSeconds
	tso := st.TimeSinceOut
	avg := func(g *mat.Dense, i, j int, v float64) {
		g.Set(i, j, (g.At(i, j)*tso+v*dt)/(tso+dt))
	}
	at := func(r forcing.Record, name string, i, j int) float64 {
		if g, ok := r[name]; ok {
			return g.At(i, j)
		}
		return 0
	}

	for i := 0; i < st.Ny; i++ {
		for j := 0; j < st.Nx; j++ {
			ta := 0.5 * (at(in.T0, forcing.AirTemp, i, j) + at(in.T1, forcing.AirTemp, i, j))
			precip := at(in.T1, forcing.Precip, i, j)
			if math.IsNaN(ta) || math.IsInf(ta, 0) || math.IsNaN(precip) {
				return &Error{Code: StatusBadInput, Row: i, Col: j}
			}
			pctSnow := math.Max(0, math.Min(1, at(in.T1, forcing.PercentSnow, i, j)))
			rhoNew := at(in.T1, forcing.SnowDensity, i, j)
			if rhoNew <= 0 {
				rhoNew = defaultNewSnow
			}

			mass := st.SpecificMass.At(i, j)
			depth := st.Depth.At(i, j)
			snowfall := precip * pctSnow
			rain := precip - snowfall
			if snowfall > 0 {
				mass += snowfall
				depth += snowfall / rhoNew
			}

			melt := 0.0
			if ta > state.FreezeK && mass > 0 {
				melt = math.Min(mass, k.MeltFactor*(ta-state.FreezeK)*dt/86400)
				depth *= (mass - melt) / mass
				mass -= melt
			}
			runoff := melt + rain

			if mass <= 0 {
				st.Depth.Set(i, j, 0)
				st.Density.Set(i, j, 0)
				st.SpecificMass.Set(i, j, 0)
				st.LiquidWater.Set(i, j, 0)
				st.SurfaceTemp.Set(i, j, state.NoDataK)
				st.LowerTemp.Set(i, j, state.NoDataK)
				st.BulkTemp.Set(i, j, state.NoDataK)
				st.LowerThickness.Set(i, j, 0)
				st.Saturation.Set(i, j, 0)
				st.ColdContent.Set(i, j, 0)
			} else {
				ts := math.Min(ta, state.FreezeK)
				st.Depth.Set(i, j, depth)
				st.Density.Set(i, j, mass/depth)
				st.SpecificMass.Set(i, j, mass)
				st.LiquidWater.Set(i, j, 0)
				st.SurfaceTemp.Set(i, j, ts)
				st.BulkTemp.Set(i, j, ts)
				lower := state.LowerLayer(depth, p.Constants.ActiveLayer)
				st.LowerThickness.Set(i, j, lower)
				if lower > 0 {
					st.LowerTemp.Set(i, j, ts)
				} else {
					st.LowerTemp.Set(i, j, state.NoDataK)
				}
				st.Saturation.Set(i, j, 0)
				st.ColdContent.Set(i, j, cpIce*mass*(ts-state.FreezeK))
			}

			tSurf := math.Min(ta, state.FreezeK)
			rn := at(in.T1, forcing.NetSolar, i, j) + at(in.T1, forcing.Thermal, i, j) -
				snowEmissivity*stefanBoltzmann*math.Pow(tSurf, 4)
			avg(st.NetRadiation, i, j, rn)
			avg(st.EnergySum, i, j, rn)
			st.Melt.Set(i, j, st.Melt.At(i, j)+melt)
			st.Runoff.Set(i, j, st.Runoff.At(i, j)+runoff)
		}
	}
	return nil
}

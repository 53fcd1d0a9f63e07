// Package kernel is the boundary to the snowpack mass and energy balance
// integrator. The integrator itself is opaque; this package fixes its
// calling contract so the coupling engine can drive a real kernel or a
// deterministic fake.
package kernel

import (
	"context"
	"fmt"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

// StatusOK is the success status returned by do_tstep style kernels.
const StatusOK = -1

// Inputs is the forcing pair bracketing one data timestep. Temperatures
// are Kelvin.
type Inputs struct {
	T0 forcing.Record
	T1 forcing.Record
}

// Constants are the fixed physical and site parameters of a run.
type Constants struct {
	MaxH2OVol   float64 // volumetric liquid water holding capacity
	ActiveLayer float64 // maximum active (surface) layer thickness, m
	HeightAir   float64 // air temperature measurement height, m
	HeightWind  float64 // wind measurement height, m
	SoilDepth   float64 // depth of soil temperature, m
	Elevation   *mat.Dense
	Roughness   *mat.Dense
	Mask        *mat.Dense
}

// Params are passed unchanged, other than FirstStep, to every call.
type Params struct {
	Table     TimestepTable
	Constants Constants
	// FirstStep is the scheduler's step index, or 1 right after the state
	// was corrected. Kernels restart their accumulators when it is 1 or
	// when the state's TimeSinceOut is zero.
	FirstStep int
	Threads   int
}

// StepKernel advances st by one data timestep.
type StepKernel interface {
	Step(ctx context.Context, in Inputs, st *state.Record, p Params) error
}

// Error is a non-success kernel status with the offending cell.
type Error struct {
	Code int
	Row  int
	Col  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("kernel returned status %d at cell (%d, %d)", e.Code, e.Row, e.Col)
}

// Func adapts a do_tstep style function, which reports success with
// StatusOK and failure with any other status plus the failing cell.
type Func func(ctx context.Context, in Inputs, st *state.Record, p Params) (status, row, col int)

// Step implements StepKernel.
func (f Func) Step(ctx context.Context, in Inputs, st *state.Record, p Params) error {
	status, row, col := f(ctx, in, st, p)
	if status != StatusOK {
		return &Error{Code: status, Row: row, Col: col}
	}
	return nil
}

var _ StepKernel = Func(nil)

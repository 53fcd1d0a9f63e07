// Package updater corrects the simulated snowpack by direct insertion of
// airborne depth surveys. Measured depths replace modelled depths; where
// the survey finds snow the model lacks, density and temperatures are
// filled from an expanding window of neighbouring cells.
package updater

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/state"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrBufferTooSmall means interpolation left cells with snow but no
// density, so the search window parameters are too small for the survey.
var ErrBufferTooSmall = errors.New("update buffer parameters too small")

// Class is a cell's survey/model classification.
type Class int

const (
	// NoSurvey cells have no measurement and keep model values.
	NoSurvey Class = iota
	SnowFree
	// LidarOnly cells have measured snow but no model snow.
	LidarOnly
	// ModelOnly cells have model snow the survey did not see.
	ModelOnly
	Both
)

func (c Class) String() string {
	switch c {
	case NoSurvey:
		return "no_survey"
	case SnowFree:
		return "snow_free"
	case LidarOnly:
		return "lidar_only"
	case ModelOnly:
		return "model_only"
	case Both:
		return "both"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// UnresolvedPolicy decides what happens to a cell the window search
// cannot fill.
type UnresolvedPolicy int

const (
	// Warn logs an error and leaves the cell at its prior-step values.
	Warn UnresolvedPolicy = iota
	// Fail aborts the update with an *UnresolvedError wrapping
	// ErrBufferTooSmall.
	Fail
)

// UnresolvedError lists cells that could not be interpolated.
type UnresolvedError struct {
	Time  time.Time
	Cells [][2]int
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("update at %s: %d cells unresolved after maximum search radius, first at (%d, %d)",
		e.Time.Format(time.RFC3339), len(e.Cells), e.Cells[0][0], e.Cells[0][1])
}

// Config holds the update parameters.
type Config struct {
	// MinDepth is the measured depth (m) below which a cell is snow-free.
	MinDepth float64
	// ActiveLayer is the maximum active-layer thickness (m).
	ActiveLayer float64
	// MaxH2OVol is the volumetric liquid water capacity.
	MaxH2OVol float64
	// InitialHalfWidth is the half width of the first search window
	// (5 gives an 11 by 11 window).
	InitialHalfWidth int
	// Increment grows the half width between attempts.
	Increment int
	// MinCount is the fewest valid neighbours a window must hold.
	MinCount int
	Policy   UnresolvedPolicy
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		MinDepth:         0.05,
		ActiveLayer:      0.25,
		MaxH2OVol:        0.01,
		InitialHalfWidth: 5,
		Increment:        10,
		MinCount:         10,
		Policy:           Warn,
	}
}

// Survey is one dated depth grid. NaN cells were not measured.
type Survey struct {
	Time  time.Time
	Depth *mat.Dense
	// Buffer is the maximum search half width in cells.
	Buffer int
}

// Delta is the change an update applied, for audit output.
type Delta struct {
	Time    time.Time
	Depth   *mat.Dense
	Density *mat.Dense
	SWE     *mat.Dense
	Counts  map[Class]int
	// Unresolved counts cells left at prior values under the Warn policy.
	Unresolved int
}

// Updater applies surveys to a state record.
type Updater struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// New returns an Updater.
func New(cfg Config, logger *zap.SugaredLogger) *Updater {
	if cfg.MinCount <= 0 {
		cfg.MinCount = 1
	}
	if cfg.Increment <= 0 {
		cfg.Increment = 1
	}
	return &Updater{cfg: cfg, logger: logger}
}

// work holds the grids being rebuilt. Density and saturation use
// state.NoData as the unresolved marker, temperatures state.NoDataK.
type work struct {
	depth, rho, tSurf, tLower, tBulk, sat *mat.Dense
}

// Apply inserts survey into st. Cells outside mask are never changed.
func (u *Updater) Apply(st *state.Record, sv Survey, mask *mat.Dense) (*Delta, error) {
	ny, nx := st.Ny, st.Nx
	if err := grid.CheckShape("survey depth", sv.Depth, ny, nx); err != nil {
		return nil, err
	}
	if err := grid.CheckShape("mask", mask, ny, nx); err != nil {
		return nil, err
	}
	prev := st.Clone()
	in := func(i, j int) bool { return mask.At(i, j) != 0 }

	class := make([]Class, ny*nx)
	counts := make(map[Class]int)
	w := work{
		depth:  grid.Clone(prev.Depth),
		rho:    grid.Clone(prev.Density),
		tSurf:  grid.Clone(prev.SurfaceTemp),
		tLower: grid.Clone(prev.LowerTemp),
		tBulk:  grid.Clone(prev.BulkTemp),
		sat:    grid.Clone(prev.Saturation),
	}

	// Reclassify. Cells that must be filled, or that carry no snow, are
	// marked no-data so they cannot feed the interpolation.
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			c := NoSurvey
			d := sv.Depth.At(i, j)
			if in(i, j) && grid.Finite(d) {
				lidar := d >= u.cfg.MinDepth
				model := prev.SpecificMass.At(i, j) > 0
				switch {
				case lidar && model:
					c = Both
				case lidar:
					c = LidarOnly
				case model:
					c = ModelOnly
				default:
					c = SnowFree
				}
				if !lidar {
					d = 0
				}
				w.depth.Set(i, j, d)
				if c != Both {
					w.setNoData(i, j)
				}
			}
			class[i*nx+j] = c
			counts[c]++
		}
	}

	// Pass 1 reads only the frozen reclassified grids, so the result does
	// not depend on iteration order. Only snow-covered cells are sources.
	src := w.clone()
	valid := func(g *mat.Dense, sentinel float64) func(i, j int) bool {
		return func(i, j int) bool {
			v := g.At(i, j)
			return in(i, j) && src.depth.At(i, j) > 0 && grid.Finite(v) && v != sentinel
		}
	}
	maxRadius := sv.Buffer
	unresolved := make(map[int]bool)

	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if class[i*nx+j] != LidarOnly {
				continue
			}
			ok := true
			for _, f := range []struct {
				src, dst *mat.Dense
				sentinel float64
			}{
				{src.rho, w.rho, state.NoData},
				{src.tSurf, w.tSurf, state.NoDataK},
				{src.tBulk, w.tBulk, state.NoDataK},
				{src.sat, w.sat, state.NoData},
			} {
				v, found := u.windowMean(f.src, valid(f.src, f.sentinel), i, j, maxRadius)
				if !found {
					ok = false
					continue
				}
				f.dst.Set(i, j, v)
			}
			if !ok {
				unresolved[i*nx+j] = true
			}
		}
	}

	// Pass 2: the lower layer of cells whose new depth only just exceeds
	// the active layer takes its temperature from neighbouring lower
	// layers; deeper new lower layers take the bulk temperature.
	src = w.clone()
	lowerValid := valid(src.tLower, state.NoDataK)
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			c := class[i*nx+j]
			if (c != LidarOnly && c != Both) || unresolved[i*nx+j] {
				continue
			}
			d := w.depth.At(i, j)
			if d <= u.cfg.ActiveLayer {
				w.tLower.Set(i, j, state.NoDataK)
				continue
			}
			if w.tLower.At(i, j) != state.NoDataK {
				continue
			}
			if d <= 1.2*u.cfg.ActiveLayer && prev.Depth.At(i, j) <= u.cfg.ActiveLayer {
				if v, found := u.windowMean(src.tLower, lowerValid, i, j, maxRadius); found {
					w.tLower.Set(i, j, v)
					continue
				}
			}
			w.tLower.Set(i, j, w.tBulk.At(i, j))
		}
	}

	var unresolvedCells [][2]int
	for k := range unresolved {
		unresolvedCells = append(unresolvedCells, [2]int{k / nx, k % nx})
	}
	if len(unresolvedCells) > 0 {
		if u.cfg.Policy == Fail {
			sort.Slice(unresolvedCells, func(a, b int) bool {
				ca, cb := unresolvedCells[a], unresolvedCells[b]
				return ca[0] < cb[0] || (ca[0] == cb[0] && ca[1] < cb[1])
			})
			return nil, fmt.Errorf("%w: %w", ErrBufferTooSmall, &UnresolvedError{Time: sv.Time, Cells: unresolvedCells})
		}
		u.logger.Errorf("update at %s: %d cells unresolved after search radius %d, keeping prior values",
			sv.Time.Format(time.RFC3339), len(unresolvedCells), maxRadius)
		for _, c := range unresolvedCells {
			w.restore(prev, c[0], c[1])
		}
	}

	// Residual cells: a density without a bulk temperature cannot be
	// integrated, so the cell is returned to snow-free.
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			c := class[i*nx+j]
			if c == NoSurvey || unresolved[i*nx+j] {
				continue
			}
			if w.rho.At(i, j) != state.NoData && w.tBulk.At(i, j) == state.NoDataK {
				w.depth.Set(i, j, 0)
				w.setNoData(i, j)
			}
		}
	}

	// Every measured snow-free cell, and only those, must be left
	// without a density.
	var free, noRho int
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if class[i*nx+j] == NoSurvey || unresolved[i*nx+j] {
				continue
			}
			if w.depth.At(i, j) == 0 {
				free++
			}
			if w.rho.At(i, j) == state.NoData {
				noRho++
			}
		}
	}
	if free != noRho {
		return nil, fmt.Errorf("update at %s: %d snow-free cells but %d cells without density: %w",
			sv.Time.Format(time.RFC3339), free, noRho, ErrBufferTooSmall)
	}

	// Write back inside the mask only.
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			c := class[i*nx+j]
			if c == NoSurvey || unresolved[i*nx+j] {
				continue
			}
			u.commit(st, &w, i, j)
		}
	}
	restoreOutside(st, prev, mask)

	delta := &Delta{
		Time:       sv.Time,
		Depth:      diff(st.Depth, prev.Depth),
		Density:    diff(st.Density, prev.Density),
		SWE:        diff(st.SpecificMass, prev.SpecificMass),
		Counts:     counts,
		Unresolved: len(unresolvedCells),
	}
	u.logger.Infof("update at %s: %d lidar-only, %d model-only, %d both, %d snow-free cells; mean depth change %.3f m",
		sv.Time.Format(time.RFC3339), counts[LidarOnly], counts[ModelOnly], counts[Both], counts[SnowFree],
		meanInMask(delta.Depth, mask))
	return delta, nil
}

// commit derives the dependent fields of one cell and stores it in st.
func (u *Updater) commit(st *state.Record, w *work, i, j int) {
	d := w.depth.At(i, j)
	rho := w.rho.At(i, j)
	if d == 0 || rho == state.NoData {
		st.Depth.Set(i, j, 0)
		st.Density.Set(i, j, 0)
		st.SpecificMass.Set(i, j, 0)
		st.LiquidWater.Set(i, j, 0)
		st.SurfaceTemp.Set(i, j, state.NoDataK)
		st.LowerTemp.Set(i, j, state.NoDataK)
		st.BulkTemp.Set(i, j, state.NoDataK)
		st.LowerThickness.Set(i, j, 0)
		st.Saturation.Set(i, j, 0)
		return
	}
	sat := w.sat.At(i, j)
	if sat == state.NoData {
		sat = 0
	}
	st.Depth.Set(i, j, d)
	st.Density.Set(i, j, rho)
	st.SpecificMass.Set(i, j, d*rho)
	st.LiquidWater.Set(i, j, sat*state.MaxLiquidWater(d, rho, u.cfg.MaxH2OVol))
	st.SurfaceTemp.Set(i, j, w.tSurf.At(i, j))
	st.LowerTemp.Set(i, j, w.tLower.At(i, j))
	st.BulkTemp.Set(i, j, w.tBulk.At(i, j))
	st.LowerThickness.Set(i, j, state.LowerLayer(d, u.cfg.ActiveLayer))
	st.Saturation.Set(i, j, sat)
}

// windowMean averages the valid cells of g in a square window centred on
// (i, j), growing the window until it holds MinCount values or its half
// width reaches maxRadius.
func (u *Updater) windowMean(g *mat.Dense, valid func(i, j int) bool, i, j, maxRadius int) (float64, bool) {
	ny, nx := g.Dims()
	half := u.cfg.InitialHalfWidth
	vals := make([]float64, 0, (2*half+1)*(2*half+1))
	for {
		vals = vals[:0]
		for r := max(0, i-half); r <= min(ny-1, i+half); r++ {
			for c := max(0, j-half); c <= min(nx-1, j+half); c++ {
				if valid(r, c) {
					vals = append(vals, g.At(r, c))
				}
			}
		}
		if len(vals) >= u.cfg.MinCount {
			return stat.Mean(vals, nil), true
		}
		if half >= maxRadius {
			return 0, false
		}
		half = min(half+u.cfg.Increment, maxRadius)
	}
}

func (w *work) setNoData(i, j int) {
	w.rho.Set(i, j, state.NoData)
	w.sat.Set(i, j, state.NoData)
	w.tSurf.Set(i, j, state.NoDataK)
	w.tLower.Set(i, j, state.NoDataK)
	w.tBulk.Set(i, j, state.NoDataK)
}

func (w *work) restore(prev *state.Record, i, j int) {
	w.depth.Set(i, j, prev.Depth.At(i, j))
	w.rho.Set(i, j, prev.Density.At(i, j))
	w.sat.Set(i, j, prev.Saturation.At(i, j))
	w.tSurf.Set(i, j, prev.SurfaceTemp.At(i, j))
	w.tLower.Set(i, j, prev.LowerTemp.At(i, j))
	w.tBulk.Set(i, j, prev.BulkTemp.At(i, j))
}

func (w *work) clone() work {
	return work{
		depth:  grid.Clone(w.depth),
		rho:    grid.Clone(w.rho),
		tSurf:  grid.Clone(w.tSurf),
		tLower: grid.Clone(w.tLower),
		tBulk:  grid.Clone(w.tBulk),
		sat:    grid.Clone(w.sat),
	}
}

// restoreOutside puts back every field of every out-of-domain cell.
func restoreOutside(st, prev *state.Record, mask *mat.Dense) {
	for _, f := range state.Fields {
		cur, old := f.Grid(st), f.Grid(prev)
		for i := 0; i < st.Ny; i++ {
			for j := 0; j < st.Nx; j++ {
				if mask.At(i, j) == 0 {
					cur.Set(i, j, old.At(i, j))
				}
			}
		}
	}
}

func diff(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Sub(a, b)
	return &out
}

func meanInMask(g, mask *mat.Dense) float64 {
	var vals []float64
	ny, nx := g.Dims()
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if mask.At(i, j) != 0 {
				vals = append(vals, g.At(i, j))
			}
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

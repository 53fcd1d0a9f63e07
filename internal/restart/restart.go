// Package restart rebuilds a model state from a previously written
// snapshot so a run can resume mid-season.
package restart

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

// ErrNoRestartPoint means no snapshot lies close enough to the requested
// restart time.
var ErrNoRestartPoint = errors.New("no snapshot near restart time")

// SnapshotSource is a time-indexed sequence of named Celsius snow grids.
type SnapshotSource interface {
	Times() []time.Time
	Read(index int) (map[string]*mat.Dense, error)
}

// Config controls reconstruction.
type Config struct {
	// MinDepth is the depth (m) below which a restored cell is cleared.
	MinDepth float64
	// Tolerance is the largest accepted gap between the restart time and
	// the nearest snapshot. Zero means 24 hours.
	Tolerance time.Duration
	Physical  state.Physical
	Ny, Nx    int
}

// Nearest returns the index of the snapshot closest to t. On a tie the
// later snapshot wins.
func Nearest(times []time.Time, t time.Time) (int, time.Duration, bool) {
	best, bestGap := -1, time.Duration(0)
	for i, ts := range times {
		gap := ts.Sub(t)
		if gap < 0 {
			gap = -gap
		}
		if best < 0 || gap < bestGap || (gap == bestGap && ts.After(times[best])) {
			best, bestGap = i, gap
		}
	}
	return best, bestGap, best >= 0
}

// Reconstruct loads the snapshot nearest t and returns the state and the
// snapshot index used.
func Reconstruct(t time.Time, src SnapshotSource, cfg Config) (*state.Record, int, error) {
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = 24 * time.Hour
	}
	times := src.Times()
	idx, gap, ok := Nearest(times, t)
	if !ok {
		return nil, -1, fmt.Errorf("restart at %s: snapshot is empty: %w", t.Format(time.RFC3339), ErrNoRestartPoint)
	}
	if gap > tol {
		return nil, -1, fmt.Errorf("restart at %s: nearest snapshot %s is %s away: %w",
			t.Format(time.RFC3339), times[idx].Format(time.RFC3339), gap, ErrNoRestartPoint)
	}

	fields, err := src.Read(idx)
	if err != nil {
		return nil, -1, fmt.Errorf("reading snapshot %d: %w", idx, err)
	}
	st, err := state.FromFields(cfg.Ny, cfg.Nx, fields, cfg.Physical)
	if err != nil {
		return nil, -1, err
	}
	ClearShallow(st, cfg.MinDepth)
	return st, idx, nil
}

// ClearShallow returns cells shallower than minDepth, or with an undefined
// depth, to the snow-free state.
func ClearShallow(st *state.Record, minDepth float64) int {
	cleared := 0
	for i := 0; i < st.Ny; i++ {
		for j := 0; j < st.Nx; j++ {
			d := st.Depth.At(i, j)
			if grid.Finite(d) && d >= minDepth {
				continue
			}
			st.Depth.Set(i, j, 0)
			st.Density.Set(i, j, 0)
			st.SpecificMass.Set(i, j, 0)
			st.LiquidWater.Set(i, j, 0)
			st.LowerThickness.Set(i, j, 0)
			st.Saturation.Set(i, j, 0)
			st.SurfaceTemp.Set(i, j, state.NoDataK)
			st.LowerTemp.Set(i, j, state.NoDataK)
			st.BulkTemp.Set(i, j, state.NoDataK)
			cleared++
		}
	}
	return cleared
}

// Discovery selects how the snapshot path is found.
type Discovery string

const (
	// Fixed uses the configured path as-is.
	Fixed Discovery = "fixed"
	// PreviousDay looks for the previous day's run directory under the
	// configured base.
	PreviousDay Discovery = "previous_day"
)

// SnapshotFile is the file name the output writer gives the snow group.
const SnapshotFile = "snow.nc"

// Locate returns the snapshot path for a restart at t.
func Locate(mode Discovery, path string, t time.Time) (string, error) {
	switch mode {
	case Fixed, "":
		return path, nil
	case PreviousDay:
		day := t.AddDate(0, 0, -1).Format("20060102")
		return filepath.Join(path, "run"+day, SnapshotFile), nil
	}
	return "", fmt.Errorf("unknown restart discovery mode %q", mode)
}

package output

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/rasterio"
	"github.com/chrissnell/snowrunner/internal/updater"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// DeltaFile is the file update deltas are written to.
const DeltaFile = "delta.nc"

var deltaVars = []rasterio.Variable{
	{Name: "depth_change", Units: "m", Description: "Change in snow depth from survey update"},
	{Name: "density_change", Units: "kg m-3", Description: "Change in snow density from survey update"},
	{Name: "swe_change", Units: "kg m-2", Description: "Change in SWE from survey update"},
}

// DeltaWriter records the change each survey update made.
type DeltaWriter struct {
	mu     sync.Mutex
	f      *rasterio.File
	logger *zap.SugaredLogger
}

// NewDeltaWriter creates delta.nc under dir.
func NewDeltaWriter(dir string, c rasterio.Coords, logger *zap.SugaredLogger) (*DeltaWriter, error) {
	f, err := rasterio.Create(filepath.Join(dir, DeltaFile), c, deltaVars)
	if err != nil {
		return nil, err
	}
	return &DeltaWriter{f: f, logger: logger}, nil
}

// WriteDelta appends one update's change grids.
func (d *DeltaWriter) WriteDelta(_ context.Context, delta *updater.Delta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.f.Append(delta.Time, map[string]*mat.Dense{
		"depth_change":   delta.Depth,
		"density_change": delta.Density,
		"swe_change":     delta.SWE,
	})
	if err != nil {
		return fmt.Errorf("writing update delta at %s: %w", delta.Time.Format(time.RFC3339), err)
	}
	d.logger.Infof("wrote update delta at %s", delta.Time.Format(time.RFC3339))
	return nil
}

// Close closes delta.nc.
func (d *DeltaWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

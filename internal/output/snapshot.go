package output

import (
	"fmt"
	"time"

	"github.com/chrissnell/snowrunner/internal/rasterio"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

// SnapshotReader reads back the snow group of a previous run for restart
// or initial conditions.
type SnapshotReader struct {
	f *rasterio.File
}

// OpenSnapshot opens a snow.nc (or any raster carrying snow variables).
func OpenSnapshot(path string) (*SnapshotReader, error) {
	f, err := rasterio.Open(path)
	if err != nil {
		return nil, err
	}
	return &SnapshotReader{f: f}, nil
}

// Times returns the snapshot timestamps.
func (s *SnapshotReader) Times() []time.Time { return s.f.Times() }

// Dims returns the raster shape.
func (s *SnapshotReader) Dims() (ny, nx int) { return s.f.Dims() }

// Read returns every snow-group variable present at record index.
func (s *SnapshotReader) Read(index int) (map[string]*mat.Dense, error) {
	out := make(map[string]*mat.Dense)
	for _, name := range s.f.Variables() {
		f, ok := state.FieldByName(name)
		if !ok || f.Group != state.GroupSnow {
			continue
		}
		g, err := s.f.ReadRecord(name, index)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		out[name] = g
	}
	return out, nil
}

// Latest returns the last record, as used for initial conditions.
func (s *SnapshotReader) Latest() (map[string]*mat.Dense, time.Time, error) {
	times := s.Times()
	if len(times) == 0 {
		return nil, time.Time{}, fmt.Errorf("snapshot has no records")
	}
	fields, err := s.Read(len(times) - 1)
	return fields, times[len(times)-1], err
}

// Close closes the underlying file.
func (s *SnapshotReader) Close() error { return s.f.Close() }

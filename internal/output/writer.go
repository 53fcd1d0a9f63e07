// Package output persists model state to the em.nc and snow.nc rasters
// and records the changes made by survey updates.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/rasterio"
	"github.com/chrissnell/snowrunner/internal/state"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Writer appends output-time snapshots of the state. Only the variables
// asked for are written; a group with none is not created.
type Writer struct {
	mu     sync.Mutex
	files  map[state.Group]*rasterio.File
	fields map[state.Group][]state.Field
	dir    string
	logger *zap.SugaredLogger
}

// NewWriter creates the output files under dir. An empty wanted list
// writes every field.
func NewWriter(dir string, c rasterio.Coords, wanted []string, logger *zap.SugaredLogger) (*Writer, error) {
	fields, err := selectFields(wanted)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	w := &Writer{
		files:  make(map[state.Group]*rasterio.File),
		fields: fields,
		dir:    dir,
		logger: logger,
	}
	for group, fs := range fields {
		vars := make([]rasterio.Variable, 0, len(fs))
		for _, f := range fs {
			vars = append(vars, rasterio.Variable{Name: f.Name, Units: f.Units, Description: f.Description})
		}
		path := GroupPath(dir, group)
		rf, err := rasterio.Create(path, c, vars)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.files[group] = rf
		logger.Infof("writing %d variables to %s", len(vars), path)
	}
	return w, nil
}

// GroupPath returns the file a group is written to.
func GroupPath(dir string, g state.Group) string {
	return filepath.Join(dir, string(g)+".nc")
}

func selectFields(wanted []string) (map[state.Group][]state.Field, error) {
	out := make(map[state.Group][]state.Field)
	if len(wanted) == 0 {
		for _, f := range state.Fields {
			out[f.Group] = append(out[f.Group], f)
		}
		return out, nil
	}
	seen := make(map[string]bool)
	for _, name := range wanted {
		f, ok := state.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown output variable %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out[f.Group] = append(out[f.Group], f)
	}
	return out, nil
}

// WriteState appends the state at t. Temperatures are written in Celsius.
func (w *Writer) WriteState(_ context.Context, t time.Time, st *state.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, group := range w.groups() {
		grids := make(map[string]*mat.Dense, len(w.fields[group]))
		for _, f := range w.fields[group] {
			g := f.Grid(st)
			if f.Temperature {
				g = state.ToCelsius(g)
			}
			grids[f.Name] = g
		}
		if err := w.files[group].Append(t, grids); err != nil {
			return fmt.Errorf("writing %s output at %s: %w", group, t.Format(time.RFC3339), err)
		}
	}
	w.logger.Debugf("wrote output at %s", t.Format(time.RFC3339))
	return nil
}

// Close closes every output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var first error
	for g, f := range w.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing %s output: %w", g, err)
		}
	}
	w.files = map[state.Group]*rasterio.File{}
	return first
}

func (w *Writer) groups() []state.Group {
	gs := make([]state.Group, 0, len(w.files))
	for g := range w.files {
		gs = append(gs, g)
	}
	sort.Slice(gs, func(a, b int) bool { return gs[a] < gs[b] })
	return gs
}

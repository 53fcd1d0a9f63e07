package forcing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/rasterio"
	"go.uber.org/zap"
)

// FileSource reads pre-computed forcing from one raster per variable,
// <dir>/<variable>.nc, each holding a record variable of the same name.
// Files are opened once and records are looked up by exact timestamp.
type FileSource struct {
	mu     sync.Mutex
	files  map[string]*rasterio.File
	logger *zap.SugaredLogger
}

// OpenFiles opens the per-variable files for names under dir. A variable
// whose file is missing is logged and skipped; it will be zero-filled by
// the scheduler.
func OpenFiles(dir string, names []string, logger *zap.SugaredLogger) (*FileSource, error) {
	fs := &FileSource{files: make(map[string]*rasterio.File), logger: logger}
	for _, name := range names {
		path := filepath.Join(dir, name+".nc")
		f, err := rasterio.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warnf("no forcing file for %s at %s", name, path)
				continue
			}
			fs.Close()
			return nil, err
		}
		if !f.Has(name) {
			f.Close()
			fs.Close()
			return nil, fmt.Errorf("forcing file %s has no variable %s", path, name)
		}
		fs.files[name] = f
	}
	if len(fs.files) == 0 {
		return nil, fmt.Errorf("no forcing files found in %s", dir)
	}
	return fs, nil
}

// Get reads every variable that has a record at t. It returns
// ErrTimestampAbsent only when no file has the timestamp.
func (fs *FileSource) Get(ctx context.Context, t time.Time) (Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := make(Record, len(fs.files))
	for name, f := range fs.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, ok, err := f.ReadAt(name, t)
		if err != nil {
			return nil, fmt.Errorf("forcing %s at %s: %w", name, t.Format(time.RFC3339), err)
		}
		if ok {
			rec[name] = g
		}
	}
	if len(rec) == 0 {
		return nil, fmt.Errorf("%s: %w", t.Format(time.RFC3339), ErrTimestampAbsent)
	}
	return rec, nil
}

// Variable returns a Distributor that publishes the named variable from
// its file, so file-backed forcing can feed the threaded pipeline.
func (fs *FileSource) Variable(name string) Distributor {
	return &fileVariable{fs: fs, name: name}
}

// Names lists the variables that have an open file.
func (fs *FileSource) Names() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.files))
	for name := range fs.files {
		out = append(out, name)
	}
	return out
}

// Close closes every open file.
func (fs *FileSource) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var firstErr error
	for name, f := range fs.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.files, name)
	}
	return firstErr
}

type fileVariable struct {
	fs   *FileSource
	name string
}

func (v *fileVariable) Name() string      { return v.name }
func (v *fileVariable) Inputs() []string  { return nil }
func (v *fileVariable) Outputs() []string { return []string{v.name} }

func (v *fileVariable) Distribute(ctx context.Context, t time.Time, _ Record) (Record, error) {
	v.fs.mu.Lock()
	f, ok := v.fs.files[v.name]
	v.fs.mu.Unlock()
	if !ok {
		return Record{}, nil
	}

	// rasterio.File is not safe for concurrent reads; each variable owns
	// its file so only the shared map needs the lock.
	g, found, err := f.ReadAt(v.name, t)
	if err != nil {
		return nil, fmt.Errorf("forcing %s at %s: %w", v.name, t.Format(time.RFC3339), err)
	}
	if !found {
		v.fs.logger.Warnf("forcing %s has no record at %s", v.name, t.Format(time.RFC3339))
		return Record{}, nil
	}
	return Record{v.name: g}, nil
}

// Package rasterio reads and writes the time-indexed netCDF rasters used for
// forcing, output snapshots, surveys and static site inputs. Every file has
// dims (time unlimited, y, x), a "time" record variable in hours since the
// Unix epoch, and x/y coordinate vectors.
package rasterio

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/ctessum/cdf"
	"gonum.org/v1/gonum/mat"
)

const timeVar = "time"

// ErrNoVariable is returned when a requested variable is not in the file.
var ErrNoVariable = errors.New("variable not in file")

// Variable describes one data variable of a raster file.
type Variable struct {
	Name        string
	Units       string
	Description string
	// Static variables have dims (y, x) instead of (time, y, x).
	Static bool
}

// Coords are the cell-centre coordinate vectors of a raster extent.
type Coords struct {
	X []float64
	Y []float64
}

// Ny returns the number of rows.
func (c Coords) Ny() int { return len(c.Y) }

// Nx returns the number of columns.
func (c Coords) Nx() int { return len(c.X) }

// File is an open raster file.
type File struct {
	f       *os.File
	cf      *cdf.File
	ny, nx  int
	numRecs int
	times   []time.Time
}

// Create writes a new raster file holding the given variables and returns it
// open for appending records.
func Create(path string, c Coords, vars []Variable) (*File, error) {
	ny, nx := c.Ny(), c.Nx()
	if ny == 0 || nx == 0 {
		return nil, fmt.Errorf("rasterio: empty extent for %s", path)
	}

	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{0, ny, nx})
	h.AddAttribute("", "Conventions", "CF-1.6")
	h.AddAttribute("", "source", "snowrunner")

	h.AddVariable(timeVar, []string{"time"}, []float64{0})
	h.AddAttribute(timeVar, "units", "hours since 1970-01-01 00:00:00")
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddAttribute("x", "units", "m")
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddAttribute("y", "units", "m")

	for _, v := range vars {
		dims := []string{"time", "y", "x"}
		if v.Static {
			dims = dims[1:]
		}
		h.AddVariable(v.Name, dims, []float32{0})
		h.AddAttribute(v.Name, "units", v.Units)
		h.AddAttribute(v.Name, "description", v.Description)
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rasterio: creating %s: %w", path, err)
	}
	cf, err := cdf.Create(f, h)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rasterio: writing header of %s: %w", path, err)
	}

	out := &File{f: f, cf: cf, ny: ny, nx: nx}
	if err := out.writeVector("x", c.X); err != nil {
		f.Close()
		return nil, err
	}
	if err := out.writeVector("y", c.Y); err != nil {
		f.Close()
		return nil, err
	}
	return out, nil
}

// Open opens an existing raster file for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rasterio: opening %s: %w", path, err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rasterio: reading header of %s: %w", path, err)
	}

	out := &File{f: f, cf: cf}
	lx, ly := cf.Header.Lengths("x"), cf.Header.Lengths("y")
	if len(lx) != 1 || len(ly) != 1 {
		f.Close()
		return nil, fmt.Errorf("rasterio: %s has no x/y coordinate vectors", path)
	}
	out.nx, out.ny = lx[0], ly[0]

	// Lengths reports 0 for the unlimited dimension; the record count
	// follows from the file size.
	if lt := cf.Header.Lengths(timeVar); len(lt) == 1 {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("rasterio: %s: %w", path, err)
		}
		out.numRecs = int(cf.Header.NumRecs(fi.Size()))
		if err := out.loadTimes(); err != nil {
			f.Close()
			return nil, fmt.Errorf("rasterio: %s: %w", path, err)
		}
	}
	return out, nil
}

// Dims returns the raster's rows and columns.
func (f *File) Dims() (ny, nx int) { return f.ny, f.nx }

// Len returns the number of time records.
func (f *File) Len() int { return f.numRecs }

// Times returns the record timestamps in file order.
func (f *File) Times() []time.Time {
	out := make([]time.Time, len(f.times))
	copy(out, f.times)
	return out
}

// Index returns the record index whose timestamp equals t.
func (f *File) Index(t time.Time) (int, bool) {
	for i, rt := range f.times {
		if rt.Equal(t) {
			return i, true
		}
	}
	return 0, false
}

// Has reports whether the file defines variable name.
func (f *File) Has(name string) bool {
	return len(f.cf.Header.Lengths(name)) > 0
}

// Variables lists the data variables (coordinates and time excluded).
func (f *File) Variables() []string {
	var out []string
	for _, v := range f.cf.Header.Variables() {
		switch v {
		case timeVar, "x", "y":
			continue
		}
		out = append(out, v)
	}
	return out
}

// Units returns the units attribute of a variable, or "" when unset.
func (f *File) Units(name string) string {
	if s, ok := f.cf.Header.GetAttribute(name, "units").(string); ok {
		return s
	}
	return ""
}

// Coords reads the x and y coordinate vectors.
func (f *File) Coords() (Coords, error) {
	x, err := f.ReadVector("x")
	if err != nil {
		return Coords{}, err
	}
	y, err := f.ReadVector("y")
	if err != nil {
		return Coords{}, err
	}
	return Coords{X: x, Y: y}, nil
}

// ReadVector reads a one-dimensional float64 variable.
func (f *File) ReadVector(name string) ([]float64, error) {
	l := f.cf.Header.Lengths(name)
	if len(l) != 1 {
		return nil, fmt.Errorf("rasterio: %s: %w", name, ErrNoVariable)
	}
	if l[0] == 0 {
		return nil, nil
	}
	r := f.cf.Reader(name, []int{0}, []int{l[0]})
	buf := r.Zero(l[0])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("rasterio: reading %s: %w", name, err)
	}
	return toFloat64(buf)
}

// ReadStatic reads a (y, x) variable.
func (f *File) ReadStatic(name string) (*mat.Dense, error) {
	l := f.cf.Header.Lengths(name)
	if len(l) != 2 {
		return nil, fmt.Errorf("rasterio: %s: %w", name, ErrNoVariable)
	}
	r := f.cf.Reader(name, []int{0, 0}, []int{f.ny, f.nx})
	return f.readGrid(name, r)
}

// ReadRecord reads record rec of a (time, y, x) variable.
func (f *File) ReadRecord(name string, rec int) (*mat.Dense, error) {
	l := f.cf.Header.Lengths(name)
	if len(l) != 3 {
		return nil, fmt.Errorf("rasterio: %s: %w", name, ErrNoVariable)
	}
	if rec < 0 || rec >= f.numRecs {
		return nil, fmt.Errorf("rasterio: record %d of %s out of range [0,%d)", rec, name, f.numRecs)
	}
	r := f.cf.Reader(name, []int{rec, 0, 0}, []int{rec + 1, f.ny, f.nx})
	return f.readGrid(name, r)
}

// ReadAt reads the record of variable name whose timestamp equals t.
func (f *File) ReadAt(name string, t time.Time) (*mat.Dense, bool, error) {
	rec, ok := f.Index(t)
	if !ok {
		return nil, false, nil
	}
	g, err := f.ReadRecord(name, rec)
	return g, err == nil, err
}

// Append writes one record at timestamp t. Variables missing from grids
// are left as fill. The file is synced to disk before Append returns.
func (f *File) Append(t time.Time, grids map[string]*mat.Dense) error {
	rec := f.numRecs
	w := f.cf.Writer(timeVar, []int{rec}, []int{rec + 1})
	if _, err := w.Write([]float64{hoursSinceEpoch(t)}); err != nil {
		return fmt.Errorf("rasterio: writing time record %d: %w", rec, err)
	}

	for name, g := range grids {
		if err := grid.CheckShape(name, g, f.ny, f.nx); err != nil {
			return fmt.Errorf("rasterio: %w", err)
		}
		w := f.cf.Writer(name, []int{rec, 0, 0}, []int{rec + 1, f.ny, f.nx})
		if _, err := w.Write(grid.Float32(g)); err != nil {
			return fmt.Errorf("rasterio: writing %s record %d: %w", name, rec, err)
		}
	}

	if err := cdf.UpdateNumRecs(f.f); err != nil {
		return fmt.Errorf("rasterio: updating record count: %w", err)
	}
	f.numRecs++
	f.times = append(f.times, t.UTC())
	return f.f.Sync()
}

// WriteStatic writes a (y, x) variable.
func (f *File) WriteStatic(name string, g *mat.Dense) error {
	if err := grid.CheckShape(name, g, f.ny, f.nx); err != nil {
		return fmt.Errorf("rasterio: %w", err)
	}
	w := f.cf.Writer(name, []int{0, 0}, []int{f.ny, f.nx})
	if _, err := w.Write(grid.Float32(g)); err != nil {
		return fmt.Errorf("rasterio: writing %s: %w", name, err)
	}
	return f.f.Sync()
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

func (f *File) writeVector(name string, v []float64) error {
	w := f.cf.Writer(name, []int{0}, []int{len(v)})
	if _, err := w.Write(v); err != nil {
		return fmt.Errorf("rasterio: writing %s: %w", name, err)
	}
	return nil
}

func (f *File) loadTimes() error {
	if f.numRecs == 0 {
		return nil
	}
	r := f.cf.Reader(timeVar, []int{0}, []int{f.numRecs})
	buf := r.Zero(f.numRecs)
	if _, err := r.Read(buf); err != nil {
		return fmt.Errorf("reading %s: %w", timeVar, err)
	}
	hours, err := toFloat64(buf)
	if err != nil {
		return err
	}
	f.times = make([]time.Time, len(hours))
	for i, h := range hours {
		f.times[i] = fromHoursSinceEpoch(h)
	}
	return nil
}

func (f *File) readGrid(name string, r cdf.Reader) (*mat.Dense, error) {
	buf := r.Zero(f.ny * f.nx)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("rasterio: reading %s: %w", name, err)
	}
	switch v := buf.(type) {
	case []float32:
		return grid.FromFloat32(f.ny, f.nx, v)
	default:
		data, err := toFloat64(buf)
		if err != nil {
			return nil, fmt.Errorf("rasterio: %s: %w", name, err)
		}
		return mat.NewDense(f.ny, f.nx, data), nil
	}
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []uint8:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported data type %T", buf)
}

func hoursSinceEpoch(t time.Time) float64 {
	return float64(t.Unix()) / 3600.0
}

// fromHoursSinceEpoch rounds to the second to absorb float error.
func fromHoursSinceEpoch(h float64) time.Time {
	secs := h * 3600.0
	return time.Unix(int64(secs+0.5*sign(secs)), 0).UTC()
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

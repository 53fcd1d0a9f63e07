package restart

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/mat"
)

type memSnapshots struct {
	times  []time.Time
	fields []map[string]*mat.Dense
	reads  []int
}

func (m *memSnapshots) Times() []time.Time { return m.times }

func (m *memSnapshots) Read(i int) (map[string]*mat.Dense, error) {
	m.reads = append(m.reads, i)
	return m.fields[i], nil
}

func snapshot(depth float64) map[string]*mat.Dense {
	return map[string]*mat.Dense{
		"thickness":        grid.Filled(2, 2, depth),
		"snow_density":     grid.Filled(2, 2, 250),
		"temp_surf":        grid.Filled(2, 2, -4),
		"temp_lower":       grid.Filled(2, 2, -1),
		"temp_snowcover":   grid.Filled(2, 2, -2),
		"water_saturation": grid.Filled(2, 2, 0.1),
	}
}

var day = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{MinDepth: 0.05, Physical: state.Physical{ActiveLayer: 0.25, MaxH2OVol: 0.01}, Ny: 2, Nx: 2}
}

func TestNearest(t *testing.T) {
	times := []time.Time{day.Add(16 * time.Hour), day.Add(18 * time.Hour), day.Add(30 * time.Hour)}
	tests := []struct {
		name    string
		at      time.Time
		want    int
		wantGap time.Duration
	}{
		{"exact", day.Add(18 * time.Hour), 1, 0},
		{"tie picks later", day.Add(17 * time.Hour), 1, time.Hour},
		{"before all", day, 0, 16 * time.Hour},
		{"after all", day.Add(40 * time.Hour), 2, 10 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gap, ok := Nearest(times, tt.at)
			if !ok || got != tt.want || gap != tt.wantGap {
				t.Fatalf("Nearest = %d, %s, %v; want %d, %s", got, gap, ok, tt.want, tt.wantGap)
			}
		})
	}
	if _, _, ok := Nearest(nil, day); ok {
		t.Fatal("empty times should not match")
	}
}

func TestReconstructPicksNearestAndConverts(t *testing.T) {
	src := &memSnapshots{
		times:  []time.Time{day.Add(16 * time.Hour), day.Add(18 * time.Hour)},
		fields: []map[string]*mat.Dense{snapshot(0.5), snapshot(0.8)},
	}
	st, idx, err := Reconstruct(day.Add(17*time.Hour), src, testConfig())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if idx != 1 || len(src.reads) != 1 || src.reads[0] != 1 {
		t.Fatalf("used snapshot %d (reads %v), want 1", idx, src.reads)
	}
	if st.Depth.At(0, 0) != 0.8 {
		t.Fatalf("depth %v", st.Depth.At(0, 0))
	}
	if got := st.BulkTemp.At(1, 1); math.Abs(got-271.15) > 1e-9 {
		t.Fatalf("bulk temperature %v K, want 271.15", got)
	}
	if got := st.SpecificMass.At(0, 1); math.Abs(got-200) > 1e-9 {
		t.Fatalf("specific mass %v", got)
	}
}

func TestReconstructRejectsDistantSnapshot(t *testing.T) {
	src := &memSnapshots{
		times:  []time.Time{day},
		fields: []map[string]*mat.Dense{snapshot(0.5)},
	}
	_, _, err := Reconstruct(day.Add(40*time.Hour), src, testConfig())
	if !errors.Is(err, ErrNoRestartPoint) {
		t.Fatalf("expected ErrNoRestartPoint, got %v", err)
	}
	if len(src.reads) != 0 {
		t.Fatal("snapshot read despite being out of tolerance")
	}

	_, _, err = Reconstruct(day, &memSnapshots{}, testConfig())
	if !errors.Is(err, ErrNoRestartPoint) {
		t.Fatalf("empty source: expected ErrNoRestartPoint, got %v", err)
	}
}

func TestReconstructClearsShallowCells(t *testing.T) {
	fields := snapshot(0.5)
	fields["thickness"].Set(0, 0, 0.02)
	fields["thickness"].Set(1, 0, math.NaN())
	src := &memSnapshots{times: []time.Time{day}, fields: []map[string]*mat.Dense{fields}}

	st, _, err := Reconstruct(day, src, testConfig())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for _, c := range [][2]int{{0, 0}, {1, 0}} {
		i, j := c[0], c[1]
		if st.Depth.At(i, j) != 0 || st.Density.At(i, j) != 0 || st.SpecificMass.At(i, j) != 0 {
			t.Errorf("(%d,%d) not cleared", i, j)
		}
		if st.SurfaceTemp.At(i, j) != state.NoDataK || st.LowerTemp.At(i, j) != state.NoDataK || st.BulkTemp.At(i, j) != state.NoDataK {
			t.Errorf("(%d,%d) temperatures not set to sentinel", i, j)
		}
		if st.Saturation.At(i, j) != 0 || st.LiquidWater.At(i, j) != 0 || st.LowerThickness.At(i, j) != 0 {
			t.Errorf("(%d,%d) water not cleared", i, j)
		}
	}
	if st.Depth.At(1, 1) != 0.5 {
		t.Fatal("deep cell cleared")
	}
}

func TestLocate(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		mode Discovery
		want string
	}{
		{Fixed, "/data/snow.nc"},
		{PreviousDay, "/data/snow.nc/run20240229/snow.nc"},
	}
	for _, tt := range tests {
		got, err := Locate(tt.mode, "/data/snow.nc", at)
		if err != nil || got != tt.want {
			t.Errorf("Locate(%s) = %q, %v; want %q", tt.mode, got, err, tt.want)
		}
	}
	if _, err := Locate("weekly", "/data", at); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

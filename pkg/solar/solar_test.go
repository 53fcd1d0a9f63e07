package solar

import (
	"math"
	"testing"
	"time"
)

func TestSunPosition(t *testing.T) {
	tests := []struct {
		name         string
		time         time.Time
		lat, lon     float64
		expectUp     bool
		elevationMin float64
		elevationMax float64
	}{
		{
			// Solar noon at Greenwich near the March equinox.
			name:         "equator equinox noon",
			time:         time.Date(2024, 3, 20, 12, 7, 0, 0, time.UTC),
			lat:          0,
			lon:          0,
			expectUp:     true,
			elevationMin: 88,
			elevationMax: 91,
		},
		{
			name:         "Boise winter midnight",
			time:         time.Date(2024, 12, 21, 7, 0, 0, 0, time.UTC),
			lat:          43.6,
			lon:          -116.2,
			expectUp:     false,
			elevationMin: -90,
			elevationMax: 0,
		},
		{
			// Local solar noon in Boise is near 19:43 UTC in winter.
			name:         "Boise winter solstice noon",
			time:         time.Date(2024, 12, 21, 19, 43, 0, 0, time.UTC),
			lat:          43.6,
			lon:          -116.2,
			expectUp:     true,
			elevationMin: 21,
			elevationMax: 24,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SunPosition(tt.time, tt.lat, tt.lon)
			if p.Up() != tt.expectUp {
				t.Errorf("Up() = %v, expected %v (elevation %.2f)", p.Up(), tt.expectUp, p.ElevationDeg)
			}
			if p.ElevationDeg < tt.elevationMin || p.ElevationDeg > tt.elevationMax {
				t.Errorf("elevation %.2f outside [%.1f, %.1f]", p.ElevationDeg, tt.elevationMin, tt.elevationMax)
			}
			if p.CosZenith < -1 || p.CosZenith > 1 {
				t.Errorf("cos zenith out of range: %v", p.CosZenith)
			}
		})
	}
}

func TestClearSkyNightIsZero(t *testing.T) {
	p := SunPosition(time.Date(2024, 12, 21, 7, 0, 0, 0, time.UTC), 43.6, -116.2)
	if got := ClearSky(p, 2); got != 0 {
		t.Fatalf("expected zero irradiance at night, got %v", got)
	}
}

func TestClearSkyBelowSolarConstant(t *testing.T) {
	p := SunPosition(time.Date(2024, 6, 21, 19, 15, 0, 0, time.UTC), 43.6, -116.2)
	got := ClearSky(p, 2)
	if got <= 500 || got >= solarConstant {
		t.Fatalf("summer noon irradiance %v outside (500, %v)", got, solarConstant)
	}
}

func TestIlluminationFlatEqualsCosZenith(t *testing.T) {
	p := SunPosition(time.Date(2024, 6, 21, 19, 15, 0, 0, time.UTC), 43.6, -116.2)
	if got := Illumination(p, 0, 180); math.Abs(got-p.CosZenith) > 1e-12 {
		t.Fatalf("flat illumination %v != cos zenith %v", got, p.CosZenith)
	}
}

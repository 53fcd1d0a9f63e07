package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
time:
  start: "2023-10-01 00:00"
  end: "2023-10-03 00:00"
  time_zone: America/Denver
topo:
  path: /data/topo.nc
forcing:
  dir: /data/forcing
output:
  dir: /data/out
  frequency: 3h
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tests := []struct {
		name      string
		got, want interface{}
	}{
		{"data step", c.Time.DataStep, time.Hour},
		{"normal step", c.Model.NormalStep, 15 * time.Minute},
		{"medium step", c.Model.MediumStep, time.Minute},
		{"output frequency", c.Output.Frequency, 3 * time.Hour},
		{"kernel", c.Model.Kernel, "degree_day"},
		{"active layer", c.Model.ActiveLayer, 0.25},
		{"max h2o", c.Model.MaxH2OVol, 0.01},
		{"queue max", c.Threading.QueueMax, 2},
		{"restart tolerance", c.Restart.Tolerance, 24 * time.Hour},
		{"restart discovery", c.Restart.Discovery, "fixed"},
		{"update buffer", c.Update.Buffer, 400},
		{"update min count", c.Update.MinCount, 10},
		{"despike off", c.Update.DespikeHalfWidth, 0},
		{"despike tolerance unset", c.Update.DespikeTolerance, 0.0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	start, end, err := c.Range()
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if start.UTC().Hour() != 6 || end.Sub(start) != 48*time.Hour {
		t.Fatalf("range %s to %s", start, end)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		replace [2]string
		wantErr string
	}{
		{"end before start", "", [2]string{`end: "2023-10-03 00:00"`, `end: "2023-09-30 00:00"`}, "not after"},
		{"uneven output frequency", "", [2]string{"frequency: 3h", "frequency: 90m"}, "output.frequency"},
		{"unknown kernel", "model:\n  kernel: isnobal\n", [2]string{}, "model.kernel"},
		{"restart without time", "restart:\n  enabled: true\n  path: /prev\n", [2]string{}, "restart.time"},
		{"bad discovery", "restart:\n  enabled: true\n  path: /prev\n  time: \"2023-10-01 00:00\"\n  discovery: weekly\n", [2]string{}, "restart.discovery"},
		{"update without file", "update:\n  enabled: true\n", [2]string{}, "update.file"},
		{"negative despike", "update:\n  enabled: true\n  file: /s.nc\n  despike_half_width: -1\n", [2]string{}, "despike"},
		{"unknown key", "bogus: 1\n", [2]string{}, "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := minimal + tt.extra
			if tt.replace[0] != "" {
				doc = strings.Replace(doc, tt.replace[0], tt.replace[1], 1)
			}
			_, err := Parse([]byte(doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestYAMLProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := minimal + "journal:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewYAMLProvider(path)
	defer p.Close()
	c, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Journal.Path != "/data/out/journal.db" {
		t.Fatalf("journal path %q", c.Journal.Path)
	}
	if !p.IsReadOnly() {
		t.Fatal("yaml provider should be read-only")
	}
	if _, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).LoadConfig(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

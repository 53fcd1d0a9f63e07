// Package config loads and validates run configuration.
package config

import (
	"time"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete run configuration
type ConfigData struct {
	Time      TimeData      `yaml:"time" json:"time"`
	Topo      TopoData      `yaml:"topo" json:"topo"`
	Forcing   ForcingData   `yaml:"forcing" json:"forcing"`
	Model     ModelData     `yaml:"model" json:"model"`
	Threading ThreadingData `yaml:"threading" json:"threading"`
	Output    OutputData    `yaml:"output" json:"output"`
	Initial   InitialData   `yaml:"initial_conditions" json:"initial_conditions"`
	Restart   RestartData   `yaml:"restart" json:"restart"`
	Update    UpdateData    `yaml:"update" json:"update"`
	Solar     SolarData     `yaml:"solar" json:"solar"`
	Status    StatusData    `yaml:"status" json:"status"`
	Journal   JournalData   `yaml:"journal" json:"journal"`
}

// TimeData bounds the run. Start and End are local times in TimeZone,
// formatted as TimeLayout.
type TimeData struct {
	Start    string        `yaml:"start" json:"start"`
	End      string        `yaml:"end" json:"end"`
	TimeZone string        `yaml:"time_zone,omitempty" json:"time_zone,omitempty"`
	DataStep time.Duration `yaml:"data_step,omitempty" json:"data_step,omitempty"`
}

// TimeLayout is the format of start and end times.
const TimeLayout = "2006-01-02 15:04"

// TopoData locates the static site file.
type TopoData struct {
	Path string `yaml:"path" json:"path"`
}

// ForcingData describes where forcing comes from.
type ForcingData struct {
	// Dir holds one <variable>.nc per forcing variable.
	Dir       string   `yaml:"dir" json:"dir"`
	Variables []string `yaml:"variables,omitempty" json:"variables,omitempty"`
	// SunAngle computes cos_zenith, azimuth and illumination in-process.
	SunAngle bool `yaml:"sun_angle,omitempty" json:"sun_angle,omitempty"`
	// ClearSkySolar computes net_solar when no net_solar file is present.
	ClearSkySolar bool    `yaml:"clear_sky_solar,omitempty" json:"clear_sky_solar,omitempty"`
	Albedo        float64 `yaml:"albedo,omitempty" json:"albedo,omitempty"`
	Turbidity     float64 `yaml:"turbidity,omitempty" json:"turbidity,omitempty"`
}

// ModelData configures the integration kernel.
type ModelData struct {
	Kernel         string        `yaml:"kernel,omitempty" json:"kernel,omitempty"`
	NormalStep     time.Duration `yaml:"normal_step,omitempty" json:"normal_step,omitempty"`
	MediumStep     time.Duration `yaml:"medium_step,omitempty" json:"medium_step,omitempty"`
	SmallStep      time.Duration `yaml:"small_step,omitempty" json:"small_step,omitempty"`
	MassThresholds []float64     `yaml:"mass_thresholds,omitempty" json:"mass_thresholds,omitempty"`
	OutputMode     string        `yaml:"output_mode,omitempty" json:"output_mode,omitempty"`
	MaxH2OVol      float64       `yaml:"max_h2o_vol,omitempty" json:"max_h2o_vol,omitempty"`
	ActiveLayer    float64       `yaml:"active_layer,omitempty" json:"active_layer,omitempty"`
	HeightAir      float64       `yaml:"height_air,omitempty" json:"height_air,omitempty"`
	HeightWind     float64       `yaml:"height_wind,omitempty" json:"height_wind,omitempty"`
	SoilDepth      float64       `yaml:"soil_depth,omitempty" json:"soil_depth,omitempty"`
	Threads        int           `yaml:"threads,omitempty" json:"threads,omitempty"`
	MeltFactor     float64       `yaml:"melt_factor,omitempty" json:"melt_factor,omitempty"`
}

// ThreadingData enables the concurrent forcing pipeline.
type ThreadingData struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	QueueMax   int           `yaml:"queue_max,omitempty" json:"queue_max,omitempty"`
	PutTimeout time.Duration `yaml:"put_timeout,omitempty" json:"put_timeout,omitempty"`
}

// OutputData selects what is written and how often.
type OutputData struct {
	Dir       string        `yaml:"dir" json:"dir"`
	Variables []string      `yaml:"variables,omitempty" json:"variables,omitempty"`
	Frequency time.Duration `yaml:"frequency,omitempty" json:"frequency,omitempty"`
}

// InitialData names an optional initial-conditions snapshot.
type InitialData struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// RestartData resumes from a previous run's snow output.
type RestartData struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Time is the restart time in TimeLayout. Empty means the journal's
	// last flush.
	Time      string        `yaml:"time,omitempty" json:"time,omitempty"`
	Discovery string        `yaml:"discovery,omitempty" json:"discovery,omitempty"`
	Path      string        `yaml:"path,omitempty" json:"path,omitempty"`
	MinDepth  float64       `yaml:"min_depth,omitempty" json:"min_depth,omitempty"`
	Tolerance time.Duration `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
}

// UpdateData configures direct insertion of depth surveys.
type UpdateData struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	File             string  `yaml:"file,omitempty" json:"file,omitempty"`
	Buffer           int     `yaml:"buffer,omitempty" json:"buffer,omitempty"`
	InitialHalfWidth int     `yaml:"initial_half_width,omitempty" json:"initial_half_width,omitempty"`
	Increment        int     `yaml:"increment,omitempty" json:"increment,omitempty"`
	MinCount         int     `yaml:"min_count,omitempty" json:"min_count,omitempty"`
	MinDepth         float64 `yaml:"min_depth,omitempty" json:"min_depth,omitempty"`
	FailOnUnresolved bool    `yaml:"fail_on_unresolved,omitempty" json:"fail_on_unresolved,omitempty"`
	// DespikeHalfWidth enables median despiking of survey depths; 0 is off.
	DespikeHalfWidth int     `yaml:"despike_half_width,omitempty" json:"despike_half_width,omitempty"`
	DespikeTolerance float64 `yaml:"despike_tolerance,omitempty" json:"despike_tolerance,omitempty"`
}

// SolarData holds configuration specific to solar calculations
type SolarData struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// StatusData configures the progress HTTP endpoint.
type StatusData struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
}

// JournalData configures the SQLite run ledger.
type JournalData struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

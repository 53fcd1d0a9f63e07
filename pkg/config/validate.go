package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by SetDefaults.
const (
	DefaultDataStep    = time.Hour
	DefaultMaxH2OVol   = 0.01
	DefaultActiveLayer = 0.25
	DefaultMinDepth    = 0.05
	DefaultBuffer      = 400
	DefaultKernel      = "degree_day"
)

// SetDefaults fills every unset optional value.
func (c *ConfigData) SetDefaults() {
	if c.Time.TimeZone == "" {
		c.Time.TimeZone = "UTC"
	}
	if c.Time.DataStep == 0 {
		c.Time.DataStep = DefaultDataStep
	}

	m := &c.Model
	if m.Kernel == "" {
		m.Kernel = DefaultKernel
	}
	if m.NormalStep == 0 {
		m.NormalStep = c.Time.DataStep / 4
	}
	if m.MediumStep == 0 {
		m.MediumStep = m.NormalStep / 15
	}
	if m.SmallStep == 0 {
		m.SmallStep = m.MediumStep / 15
	}
	if len(m.MassThresholds) == 0 {
		m.MassThresholds = []float64{60, 10, 1}
	}
	if m.OutputMode == "" {
		m.OutputMode = "data"
	}
	if m.MaxH2OVol == 0 {
		m.MaxH2OVol = DefaultMaxH2OVol
	}
	if m.ActiveLayer == 0 {
		m.ActiveLayer = DefaultActiveLayer
	}
	if m.HeightAir == 0 {
		m.HeightAir = 5
	}
	if m.HeightWind == 0 {
		m.HeightWind = 5
	}
	if m.SoilDepth == 0 {
		m.SoilDepth = 0.5
	}
	if m.Threads == 0 {
		m.Threads = 1
	}
	if m.MeltFactor == 0 {
		m.MeltFactor = 3
	}

	if c.Threading.QueueMax == 0 {
		c.Threading.QueueMax = 2
	}
	if c.Output.Frequency == 0 {
		c.Output.Frequency = c.Time.DataStep
	}
	if c.Forcing.Albedo == 0 {
		c.Forcing.Albedo = 0.8
	}
	if c.Forcing.Turbidity == 0 {
		c.Forcing.Turbidity = 1
	}

	r := &c.Restart
	if r.Discovery == "" {
		r.Discovery = "fixed"
	}
	if r.MinDepth == 0 {
		r.MinDepth = DefaultMinDepth
	}
	if r.Tolerance == 0 {
		r.Tolerance = 24 * time.Hour
	}

	u := &c.Update
	if u.Buffer == 0 {
		u.Buffer = DefaultBuffer
	}
	if u.InitialHalfWidth == 0 {
		u.InitialHalfWidth = 5
	}
	if u.Increment == 0 {
		u.Increment = 10
	}
	if u.MinCount == 0 {
		u.MinCount = 10
	}
	if u.MinDepth == 0 {
		u.MinDepth = DefaultMinDepth
	}
	if u.DespikeHalfWidth > 0 && u.DespikeTolerance == 0 {
		u.DespikeTolerance = 1
	}

	if c.Journal.Enabled && c.Journal.Path == "" && c.Output.Dir != "" {
		c.Journal.Path = c.Output.Dir + "/journal.db"
	}
}

// Location returns the configured time zone.
func (c *ConfigData) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Time.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time.time_zone: %w", err)
	}
	return loc, nil
}

// ParseTime parses a TimeLayout value in the configured time zone.
func (c *ConfigData) ParseTime(s string) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(TimeLayout, s, loc)
}

// Range returns the run's start and end times.
func (c *ConfigData) Range() (start, end time.Time, err error) {
	if start, err = c.ParseTime(c.Time.Start); err != nil {
		return start, end, fmt.Errorf("time.start: %w", err)
	}
	if end, err = c.ParseTime(c.Time.End); err != nil {
		return start, end, fmt.Errorf("time.end: %w", err)
	}
	return start, end, nil
}

// Validate checks the configuration for errors that would only surface
// part way through a run.
func (c *ConfigData) Validate() error {
	var errs []error
	step := c.Time.DataStep
	if step <= 0 {
		errs = append(errs, errors.New("time.data_step must be positive"))
	} else if c.Output.Frequency <= 0 || c.Output.Frequency%step != 0 {
		errs = append(errs, fmt.Errorf("output.frequency %s is not a multiple of time.data_step %s", c.Output.Frequency, step))
	}
	start, end, err := c.Range()
	if err != nil {
		errs = append(errs, err)
	} else if !end.After(start) {
		errs = append(errs, fmt.Errorf("time.end %s is not after time.start %s", c.Time.End, c.Time.Start))
	} else if step > 0 && end.Sub(start)%step != 0 {
		errs = append(errs, fmt.Errorf("run length %s is not a multiple of time.data_step %s", end.Sub(start), step))
	}

	if c.Topo.Path == "" {
		errs = append(errs, errors.New("topo.path is required"))
	}
	if c.Forcing.Dir == "" {
		errs = append(errs, errors.New("forcing.dir is required"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if len(c.Model.MassThresholds) != 3 {
		errs = append(errs, fmt.Errorf("model.mass_thresholds needs 3 values, got %d", len(c.Model.MassThresholds)))
	}
	switch c.Model.Kernel {
	case "degree_day":
	default:
		errs = append(errs, fmt.Errorf("unknown model.kernel %q", c.Model.Kernel))
	}
	if c.Model.ActiveLayer <= 0 || c.Model.MaxH2OVol <= 0 || c.Model.MaxH2OVol >= 1 {
		errs = append(errs, errors.New("model.active_layer must be positive and model.max_h2o_vol in (0, 1)"))
	}
	if c.Threading.QueueMax < 0 {
		errs = append(errs, errors.New("threading.queue_max must not be negative"))
	}

	if c.Restart.Enabled {
		switch c.Restart.Discovery {
		case "fixed", "previous_day":
		default:
			errs = append(errs, fmt.Errorf("unknown restart.discovery %q", c.Restart.Discovery))
		}
		if c.Restart.Path == "" {
			errs = append(errs, errors.New("restart.path is required when restart is enabled"))
		}
		if c.Restart.Time != "" {
			if _, err := c.ParseTime(c.Restart.Time); err != nil {
				errs = append(errs, fmt.Errorf("restart.time: %w", err))
			}
		} else if !c.Journal.Enabled {
			errs = append(errs, errors.New("restart.time is required unless the journal is enabled"))
		}
	}
	if c.Update.Enabled {
		if c.Update.File == "" {
			errs = append(errs, errors.New("update.file is required when update is enabled"))
		}
		if c.Update.DespikeHalfWidth < 0 || c.Update.DespikeTolerance < 0 {
			errs = append(errs, errors.New("update.despike_half_width and update.despike_tolerance must not be negative"))
		}
		if c.Update.Buffer < c.Update.InitialHalfWidth {
			errs = append(errs, fmt.Errorf("update.buffer %d is smaller than update.initial_half_width %d", c.Update.Buffer, c.Update.InitialHalfWidth))
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	return errors.Join(errs...)
}

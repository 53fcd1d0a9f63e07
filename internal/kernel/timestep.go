package kernel

import (
	"fmt"
	"strings"
	"time"
)

// Level is a timestep severity level.
type Level int

const (
	LevelData Level = iota
	LevelNormal
	LevelMedium
	LevelSmall
)

func (l Level) String() string {
	switch l {
	case LevelData:
		return "data"
	case LevelNormal:
		return "normal"
	case LevelMedium:
		return "medium"
	case LevelSmall:
		return "small"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// OutputMode says where a level emits output.
type OutputMode int

const (
	OutputNone OutputMode = iota
	// OutputWhole emits at the end of each step of the level.
	OutputWhole
	// OutputDivided emits at each finer division.
	OutputDivided
	// OutputBoth emits at both.
	OutputBoth
)

// ParseOutputMode maps a config string to an OutputMode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "", "data", "whole":
		return OutputWhole, nil
	case "divided":
		return OutputDivided, nil
	case "both", "all":
		return OutputBoth, nil
	case "none":
		return OutputNone, nil
	}
	return OutputNone, fmt.Errorf("unknown output mode %q", s)
}

// Timestep describes one level of the table.
type Timestep struct {
	Level       Level
	StepSeconds float64
	// Intervals is the number of steps of this level per step of the
	// next coarser level. It is 1 for the data level.
	Intervals int
	// MassThreshold (kg/m²) is the layer mass below which the kernel
	// refines to the next finer level. Zero for the small level.
	MassThreshold float64
	Output        OutputMode
}

// TimestepTable holds the four levels, coarsest first.
type TimestepTable [4]Timestep

// NewTimestepTable builds and validates the table. Each finer step must
// evenly divide the coarser one. thresholds apply to the normal, medium
// and small levels in that order.
func NewTimestepTable(data, normal, medium, small time.Duration, thresholds [3]float64, mode OutputMode) (TimestepTable, error) {
	var tt TimestepTable
	steps := [4]time.Duration{data, normal, medium, small}
	for i, s := range steps {
		if s <= 0 {
			return tt, fmt.Errorf("%s timestep must be positive, got %s", Level(i), s)
		}
	}

	tt[LevelData] = Timestep{Level: LevelData, StepSeconds: data.Seconds(), Intervals: 1, Output: mode}
	for i := 1; i < 4; i++ {
		coarse, fine := steps[i-1], steps[i]
		if fine > coarse || coarse%fine != 0 {
			return tt, fmt.Errorf("%s timestep %s does not divide %s timestep %s", Level(i), fine, Level(i-1), coarse)
		}
		tt[i] = Timestep{
			Level:         Level(i),
			StepSeconds:   fine.Seconds(),
			Intervals:     int(coarse / fine),
			MassThreshold: thresholds[i-1],
		}
	}
	return tt, nil
}

// DataStep returns the data timestep.
func (tt TimestepTable) DataStep() time.Duration {
	return time.Duration(tt[LevelData].StepSeconds * float64(time.Second))
}

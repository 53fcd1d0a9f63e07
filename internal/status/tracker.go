// Package status tracks run progress and serves it over HTTP.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/internal/state"
	"gonum.org/v1/gonum/stat"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID       string    `json:"run_id,omitempty"`
	State       string    `json:"state"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TotalSteps  int       `json:"total_steps"`
	Step        int       `json:"step"`
	ModelTime   time.Time `json:"model_time,omitempty"`
	LastOutput  time.Time `json:"last_output,omitempty"`
	Flushes     int       `json:"flushes"`
	Corrections int       `json:"corrections"`
	MeanDepth   float64   `json:"mean_depth_m"`
	MeanSWE     float64   `json:"mean_swe_mm"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Run states reported by a Tracker.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// Tracker accumulates scheduler events. It is safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex
	p  Progress
	// inDomain selects the cells averaged into the depth summaries.
	inDomain func(i, j int) bool
}

// NewTracker returns an idle tracker. inDomain may be nil to average
// every cell.
func NewTracker(inDomain func(i, j int) bool) *Tracker {
	return &Tracker{p: Progress{State: StateIdle, UpdatedAt: time.Now()}, inDomain: inDomain}
}

// Begin marks a run as started.
func (t *Tracker) Begin(runID string, dates []time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = Progress{RunID: runID, State: StateRunning, UpdatedAt: time.Now()}
	if len(dates) > 0 {
		t.p.Start, t.p.End = dates[0], dates[len(dates)-1]
		t.p.TotalSteps = len(dates) - 1
	}
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.p
}

// StepCompleted records the step and summarises the snowpack.
func (t *Tracker) StepCompleted(_ context.Context, ts time.Time, index int, st *state.Record) {
	depth, swe := t.summarise(st)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Step = index
	t.p.ModelTime = ts
	t.p.MeanDepth, t.p.MeanSWE = depth, swe
	if t.p.TotalSteps > 0 && index == t.p.TotalSteps && t.p.State == StateRunning {
		t.p.State = StateComplete
	}
	t.p.UpdatedAt = time.Now()
}

// OutputFlushed records an output write.
func (t *Tracker) OutputFlushed(_ context.Context, ts time.Time, _ int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.LastOutput = ts
	t.p.Flushes++
	t.p.UpdatedAt = time.Now()
}

// StateCorrected counts a survey update.
func (t *Tracker) StateCorrected(_ context.Context, _ time.Time, _ int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Corrections++
	t.p.UpdatedAt = time.Now()
}

// RunFailed records the fatal error.
func (t *Tracker) RunFailed(_ context.Context, ts time.Time, index int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.State = StateFailed
	t.p.Step = index
	t.p.ModelTime = ts
	t.p.Error = err.Error()
	t.p.UpdatedAt = time.Now()
}

func (t *Tracker) summarise(st *state.Record) (depth, swe float64) {
	if st == nil {
		return 0, 0
	}
	var ds, ms []float64
	for i := 0; i < st.Ny; i++ {
		for j := 0; j < st.Nx; j++ {
			if t.inDomain != nil && !t.inDomain(i, j) {
				continue
			}
			ds = append(ds, st.Depth.At(i, j))
			ms = append(ms, st.SpecificMass.At(i, j))
		}
	}
	if len(ds) == 0 {
		return 0, 0
	}
	// Specific mass in kg/m² equals SWE in mm.
	return stat.Mean(ds, nil), stat.Mean(ms, nil)
}

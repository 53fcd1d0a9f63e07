package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/kernel"
	"github.com/chrissnell/snowrunner/internal/state"
	"github.com/chrissnell/snowrunner/pkg/wateryear"
)

var runStart = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func hourly(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = runStart.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func table(t *testing.T) kernel.TimestepTable {
	t.Helper()
	tt, err := kernel.NewTimestepTable(time.Hour, 15*time.Minute, 5*time.Minute, time.Minute, [3]float64{60, 10, 1}, kernel.OutputWhole)
	if err != nil {
		t.Fatal(err)
	}
	return tt
}

// memSource serves a constant air temperature in Celsius at every hour
// except those listed as absent.
type memSource struct {
	absent map[time.Time]bool
	gets   []time.Time
}

func (m *memSource) Get(_ context.Context, t time.Time) (forcing.Record, error) {
	m.gets = append(m.gets, t)
	if m.absent[t] {
		return nil, forcing.ErrTimestampAbsent
	}
	return forcing.Record{forcing.AirTemp: grid.Filled(2, 2, -4)}, nil
}

type call struct {
	firstStep    int
	currentTime  float64
	timeSinceOut float64
	airT0, airT1 float64
}

// fakeKernel records every call and adds one to the melt accumulator.
type fakeKernel struct {
	calls  []call
	failAt int
}

func (f *fakeKernel) Step(_ context.Context, in kernel.Inputs, st *state.Record, p kernel.Params) error {
	f.calls = append(f.calls, call{
		firstStep:    p.FirstStep,
		currentTime:  st.CurrentTime,
		timeSinceOut: st.TimeSinceOut,
		airT0:        in.T0[forcing.AirTemp].At(0, 0),
		airT1:        in.T1[forcing.AirTemp].At(0, 0),
	})
	if len(f.calls) == f.failAt {
		return &kernel.Error{Code: 2, Row: 1, Col: 0}
	}
	st.Melt.Set(0, 0, st.Melt.At(0, 0)+1)
	return nil
}

type flush struct {
	t            time.Time
	melt         float64
	timeSinceOut float64
}

type memWriter struct{ flushes []flush }

func (m *memWriter) WriteState(_ context.Context, t time.Time, st *state.Record) error {
	m.flushes = append(m.flushes, flush{t: t, melt: st.Melt.At(0, 0), timeSinceOut: st.TimeSinceOut})
	return nil
}

type dueCorrector struct {
	at      map[time.Time]bool
	applied []time.Time
}

func (d *dueCorrector) Due(t time.Time) bool { return d.at[t] }

func (d *dueCorrector) Correct(_ context.Context, t time.Time, st *state.Record) error {
	d.applied = append(d.applied, t)
	st.Depth.Set(0, 0, 1)
	return nil
}

type recordingObserver struct {
	steps, flushes, corrections []int
	failedAt                    int
	err                         error
}

func (r *recordingObserver) StepCompleted(_ context.Context, _ time.Time, i int, _ *state.Record) {
	r.steps = append(r.steps, i)
}
func (r *recordingObserver) OutputFlushed(_ context.Context, _ time.Time, i int) {
	r.flushes = append(r.flushes, i)
}
func (r *recordingObserver) StateCorrected(_ context.Context, _ time.Time, i int) {
	r.corrections = append(r.corrections, i)
}
func (r *recordingObserver) RunFailed(_ context.Context, _ time.Time, i int, err error) {
	r.failedAt, r.err = i, err
}

func newScheduler(t *testing.T, freq time.Duration, k kernel.StepKernel, w Writer, opts ...Option) *Scheduler {
	t.Helper()
	cfg := Config{Table: table(t), OutputFrequency: freq, Variables: []string{forcing.AirTemp, forcing.Precip}}
	s, err := New(cfg, state.Zero(2, 2), &memSource{}, k, w, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRunTimeBookkeeping(t *testing.T) {
	k := &fakeKernel{}
	w := &memWriter{}
	s := newScheduler(t, 3*time.Hour, k, w)

	if err := s.Run(context.Background(), hourly(10)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Phase() != Complete {
		t.Fatalf("phase = %s", s.Phase())
	}

	startSecs := wateryear.Hour(runStart) * 3600
	if len(k.calls) != 9 {
		t.Fatalf("expected 9 kernel calls, got %d", len(k.calls))
	}
	for i, c := range k.calls {
		index := i + 1
		// CurrentTime is advanced after the kernel call.
		if want := startSecs + float64(index-1)*3600; c.currentTime != want {
			t.Errorf("step %d current time %v, want %v", index, c.currentTime, want)
		}
		if c.firstStep != index {
			t.Errorf("step %d first_step = %d", index, c.firstStep)
		}
		if c.airT0 != state.CelsiusToKelvin(-4) || c.airT1 != state.CelsiusToKelvin(-4) {
			t.Errorf("step %d temperatures not in Kelvin: %v %v", index, c.airT0, c.airT1)
		}
	}
	if want := startSecs + 9*3600; s.State().CurrentTime != want {
		t.Errorf("final current time %v, want %v", s.State().CurrentTime, want)
	}

	// Flushes at indices 3, 6, 9 (9 is both on cadence and final).
	wantFlush := []time.Time{runStart.Add(3 * time.Hour), runStart.Add(6 * time.Hour), runStart.Add(9 * time.Hour)}
	if len(w.flushes) != len(wantFlush) {
		t.Fatalf("got %d flushes, want %d", len(w.flushes), len(wantFlush))
	}
	for i, f := range w.flushes {
		if !f.t.Equal(wantFlush[i]) {
			t.Errorf("flush %d at %v, want %v", i, f.t, wantFlush[i])
		}
	}
	if s.State().TimeSinceOut != 0 {
		t.Errorf("time since out after final flush = %v", s.State().TimeSinceOut)
	}
}

func TestCurrentTimeScalesWithDataStep(t *testing.T) {
	tests := []struct {
		name string
		step time.Duration
	}{
		{"hourly", time.Hour},
		{"three hourly", 3 * time.Hour},
		{"half hourly", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := kernel.NewTimestepTable(tt.step, 15*time.Minute, 5*time.Minute, time.Minute, [3]float64{60, 10, 1}, kernel.OutputWhole)
			if err != nil {
				t.Fatal(err)
			}
			k := &fakeKernel{}
			cfg := Config{Table: tbl, OutputFrequency: tt.step, Variables: []string{forcing.AirTemp}}
			s, err := New(cfg, state.Zero(2, 2), &memSource{}, k, &memWriter{})
			if err != nil {
				t.Fatal(err)
			}
			dates := make([]time.Time, 4)
			for i := range dates {
				dates[i] = runStart.Add(time.Duration(i) * tt.step)
			}
			if err := s.Run(context.Background(), dates); err != nil {
				t.Fatalf("Run: %v", err)
			}

			secs := tt.step.Seconds()
			start := wateryear.Hour(runStart) * secs
			for i, c := range k.calls {
				if want := start + float64(i)*secs; c.currentTime != want {
					t.Errorf("step %d current time %v, want %v", i+1, c.currentTime, want)
				}
			}
			if want := start + 3*secs; s.State().CurrentTime != want {
				t.Errorf("final current time %v, want %v", s.State().CurrentTime, want)
			}
		})
	}
}

func TestTimeSinceOutResetsAfterFlush(t *testing.T) {
	k := &fakeKernel{}
	s := newScheduler(t, 2*time.Hour, k, &memWriter{})
	if err := s.Run(context.Background(), hourly(6)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Seen by the kernel at steps 1..5: flush after 2 and 4.
	want := []float64{0, 3600, 0, 3600, 0}
	for i, c := range k.calls {
		if c.timeSinceOut != want[i] {
			t.Errorf("step %d time since out %v, want %v", i+1, c.timeSinceOut, want[i])
		}
	}
}

func TestFinalIndexAlwaysFlushes(t *testing.T) {
	w := &memWriter{}
	s := newScheduler(t, 24*time.Hour, &fakeKernel{}, w)
	if err := s.Run(context.Background(), hourly(5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.flushes) != 1 || !w.flushes[0].t.Equal(runStart.Add(4*time.Hour)) {
		t.Fatalf("flushes = %+v", w.flushes)
	}
}

func TestCorrectionResetsFirstStep(t *testing.T) {
	k := &fakeKernel{}
	due := runStart.Add(4 * time.Hour)
	c := &dueCorrector{at: map[time.Time]bool{due: true}}
	obs := &recordingObserver{}
	s := newScheduler(t, time.Hour, k, &memWriter{}, WithCorrector(c), WithObserver(obs))

	if err := s.Run(context.Background(), hourly(8)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.applied) != 1 || !c.applied[0].Equal(due) {
		t.Fatalf("corrections applied at %v", c.applied)
	}
	for i, call := range k.calls {
		index := i + 1
		want := index
		if index == 4 {
			want = 1
		}
		if call.firstStep != want {
			t.Errorf("step %d first_step = %d, want %d", index, call.firstStep, want)
		}
	}
	if len(obs.corrections) != 1 || obs.corrections[0] != 4 {
		t.Errorf("observer corrections %v", obs.corrections)
	}
}

func TestCorrectionAtFirstTimestamp(t *testing.T) {
	k := &fakeKernel{}
	c := &dueCorrector{at: map[time.Time]bool{runStart: true}}
	obs := &recordingObserver{}
	s := newScheduler(t, time.Hour, k, &memWriter{}, WithCorrector(c), WithObserver(obs))

	if err := s.Run(context.Background(), hourly(3)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.applied) != 1 || !c.applied[0].Equal(runStart) {
		t.Fatalf("corrections applied at %v", c.applied)
	}
	if len(obs.corrections) != 1 || obs.corrections[0] != 0 {
		t.Errorf("observer corrections %v", obs.corrections)
	}
	if k.calls[0].firstStep != 1 {
		t.Errorf("first step = %d", k.calls[0].firstStep)
	}
}

func TestKernelFailureAbortsRun(t *testing.T) {
	k := &fakeKernel{failAt: 5}
	w := &memWriter{}
	obs := &recordingObserver{}
	s := newScheduler(t, 3*time.Hour, k, w, WithObserver(obs))

	err := s.Run(context.Background(), hourly(11))

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Index != 5 || !stepErr.Time.Equal(runStart.Add(5*time.Hour)) {
		t.Errorf("failure reported at step %d (%s)", stepErr.Index, stepErr.Time)
	}
	var kerr *kernel.Error
	if !errors.As(err, &kerr) || kerr.Row != 1 || kerr.Col != 0 {
		t.Errorf("kernel cell not reported: %v", err)
	}

	if len(k.calls) != 5 {
		t.Errorf("kernel called %d times, want 5", len(k.calls))
	}
	if len(w.flushes) != 1 || !w.flushes[0].t.Before(runStart.Add(5*time.Hour)) {
		t.Errorf("flushes after failure: %+v", w.flushes)
	}
	if s.Phase() != Failed {
		t.Errorf("phase = %s", s.Phase())
	}
	if obs.failedAt != 5 || obs.err == nil {
		t.Errorf("observer not told about failure: %d %v", obs.failedAt, obs.err)
	}
	if err := s.Advance(context.Background(), runStart.Add(6*time.Hour), 6); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance after failure: %v", err)
	}
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	s := newScheduler(t, time.Hour, &fakeKernel{}, &memWriter{})

	if err := s.Advance(ctx, runStart.Add(time.Hour), 1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("advance before initialize: %v", err)
	}
	if err := s.Initialize(ctx, runStart); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if s.Phase() != Primed {
		t.Fatalf("phase = %s", s.Phase())
	}
	if err := s.Initialize(ctx, runStart); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second initialize: %v", err)
	}
	if err := s.Advance(ctx, runStart.Add(time.Hour), 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.Phase() != Running {
		t.Fatalf("phase = %s", s.Phase())
	}
	if err := s.Advance(ctx, runStart.Add(time.Hour), 1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("repeated step: %v", err)
	}

	done := newScheduler(t, time.Hour, &fakeKernel{}, &memWriter{})
	if err := done.Run(ctx, hourly(3)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := done.Advance(ctx, runStart.Add(3*time.Hour), 3); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("advance after complete: %v", err)
	}
}

func TestAbsentForcingIsZeroFilled(t *testing.T) {
	k := &fakeKernel{}
	src := &memSource{absent: map[time.Time]bool{runStart.Add(2 * time.Hour): true}}
	cfg := Config{Table: table(t), OutputFrequency: time.Hour, Variables: []string{forcing.AirTemp, forcing.Precip}}
	s, err := New(cfg, state.Zero(2, 2), src, k, &memWriter{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background(), hourly(4)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Zero Celsius becomes freezing in Kelvin.
	if got := k.calls[1].airT1; got != state.FreezeK {
		t.Fatalf("absent air temp = %v, want %v", got, state.FreezeK)
	}
	if len(src.gets) != 4 {
		t.Fatalf("forcing fetched %d times", len(src.gets))
	}
}

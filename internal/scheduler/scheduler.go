// Package scheduler advances the snowpack state through time: for each data
// timestep it assembles the forcing pair, applies any due state
// correction, calls the integration kernel and flushes output on cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/kernel"
	"github.com/chrissnell/snowrunner/internal/state"
	"github.com/chrissnell/snowrunner/pkg/wateryear"
	"go.uber.org/zap"
)

// Phase is the scheduler's lifecycle position.
type Phase int

const (
	Uninitialized Phase = iota
	Primed
	Running
	Complete
	Failed
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Primed:
		return "primed"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrInvalidTransition is returned for a call the current phase forbids.
var ErrInvalidTransition = errors.New("invalid scheduler transition")

// StepError is a fatal failure at one timestep.
type StepError struct {
	Time  time.Time
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("timestep %d (%s): %v", e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Writer persists the state at an output time.
type Writer interface {
	WriteState(ctx context.Context, t time.Time, st *state.Record) error
}

// Corrector applies out-of-band state corrections, such as survey
// insertions, before the kernel runs for a timestamp.
type Corrector interface {
	Due(t time.Time) bool
	Correct(ctx context.Context, t time.Time, st *state.Record) error
}

// Observer is told about run progress. Implementations must not block.
type Observer interface {
	StepCompleted(ctx context.Context, t time.Time, index int, st *state.Record)
	OutputFlushed(ctx context.Context, t time.Time, index int)
	StateCorrected(ctx context.Context, t time.Time, index int)
	RunFailed(ctx context.Context, t time.Time, index int, err error)
}

// Config is fixed for the life of a Scheduler.
type Config struct {
	Table     kernel.TimestepTable
	Constants kernel.Constants
	Threads   int
	// OutputFrequency is the flush cadence; it should be a multiple of
	// the data timestep.
	OutputFrequency time.Duration
	// Variables are the forcing inputs the kernel needs; any absent at a
	// timestamp are zero-filled with a warning.
	Variables []string
	// FinalIndex is the last step index. Run sets it from its dates.
	FinalIndex int
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithCorrector installs a state corrector.
func WithCorrector(c Corrector) Option {
	return func(s *Scheduler) { s.corrector = c }
}

// WithObserver adds a progress observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler owns the state record for the duration of a run.
type Scheduler struct {
	cfg       Config
	st        *state.Record
	src       forcing.Source
	kern      kernel.StepKernel
	out       Writer
	corrector Corrector
	observers []Observer
	logger    *zap.SugaredLogger

	phase     Phase
	t0        forcing.Record
	lastIndex int
	lastTime  time.Time
}

// New returns an uninitialized scheduler advancing st.
func New(cfg Config, st *state.Record, src forcing.Source, k kernel.StepKernel, out Writer, opts ...Option) (*Scheduler, error) {
	if st == nil || src == nil || k == nil || out == nil {
		return nil, errors.New("scheduler needs a state, forcing source, kernel and writer")
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if cfg.Table.DataStep() <= 0 {
		return nil, errors.New("scheduler: data timestep must be positive")
	}
	if cfg.OutputFrequency <= 0 {
		cfg.OutputFrequency = cfg.Table.DataStep()
	}
	if len(cfg.Variables) == 0 {
		cfg.Variables = forcing.Variables
	}
	s := &Scheduler{cfg: cfg, st: st, src: src, kern: k, out: out, logger: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Phase returns the current lifecycle phase.
func (s *Scheduler) Phase() Phase { return s.phase }

// State returns the state record being advanced.
func (s *Scheduler) State() *state.Record { return s.st }

// Initialize fetches the forcing at the first timestamp and primes the
// time bookkeeping.
func (s *Scheduler) Initialize(ctx context.Context, first time.Time) error {
	if s.phase != Uninitialized {
		return fmt.Errorf("initialize while %s: %w", s.phase, ErrInvalidTransition)
	}
	t0, err := s.fetch(ctx, first)
	if err != nil {
		s.fail(ctx, first, 0, err)
		return &StepError{Time: first, Index: 0, Err: err}
	}
	s.t0 = t0
	// Water-year hours scaled by the data step, matching the kernel's clock.
	s.st.CurrentTime = wateryear.Hour(first) * s.cfg.Table[kernel.LevelData].StepSeconds
	s.st.TimeSinceOut = 0
	s.lastIndex = 0
	s.lastTime = first
	// A survey dated at the first timestamp corrects the initial state.
	if s.corrector != nil && s.corrector.Due(first) {
		if err := s.corrector.Correct(ctx, first, s.st); err != nil {
			err = fmt.Errorf("state correction: %w", err)
			s.fail(ctx, first, 0, err)
			return &StepError{Time: first, Index: 0, Err: err}
		}
		for _, o := range s.observers {
			o.StateCorrected(ctx, first, 0)
		}
	}
	s.phase = Primed
	s.logger.Infof("scheduler primed at %s (water year hour %.0f)", first.Format(time.RFC3339), wateryear.Hour(first))
	return nil
}

// Advance runs one data timestep ending at t.
func (s *Scheduler) Advance(ctx context.Context, t time.Time, index int) error {
	if s.phase != Primed && s.phase != Running {
		return fmt.Errorf("advance while %s: %w", s.phase, ErrInvalidTransition)
	}
	if index <= s.lastIndex || !t.After(s.lastTime) {
		return fmt.Errorf("step %d at %s does not follow step %d at %s: %w",
			index, t.Format(time.RFC3339), s.lastIndex, s.lastTime.Format(time.RFC3339), ErrInvalidTransition)
	}
	s.phase = Running

	t1, err := s.fetch(ctx, t)
	if err != nil {
		return s.fatal(ctx, t, index, err)
	}

	firstStep := index
	if s.corrector != nil && s.corrector.Due(t) {
		if err := s.corrector.Correct(ctx, t, s.st); err != nil {
			return s.fatal(ctx, t, index, fmt.Errorf("state correction: %w", err))
		}
		firstStep = 1
		for _, o := range s.observers {
			o.StateCorrected(ctx, t, index)
		}
	}

	params := kernel.Params{
		Table:     s.cfg.Table,
		Constants: s.cfg.Constants,
		FirstStep: firstStep,
		Threads:   s.cfg.Threads,
	}
	if err := s.kern.Step(ctx, kernel.Inputs{T0: s.t0, T1: t1}, s.st, params); err != nil {
		return s.fatal(ctx, t, index, err)
	}

	s.t0 = t1
	dataStep := s.cfg.Table.DataStep()
	s.st.CurrentTime += dataStep.Seconds()
	s.lastIndex = index
	s.lastTime = t

	if s.outputDue(index) {
		if err := s.out.WriteState(ctx, t, s.st); err != nil {
			return s.fatal(ctx, t, index, fmt.Errorf("writing output: %w", err))
		}
		s.st.TimeSinceOut = 0
		for _, o := range s.observers {
			o.OutputFlushed(ctx, t, index)
		}
	} else {
		s.st.TimeSinceOut += dataStep.Seconds()
	}

	for _, o := range s.observers {
		o.StepCompleted(ctx, t, index, s.st)
	}
	if index == s.cfg.FinalIndex {
		s.phase = Complete
		s.logger.Infof("run complete at step %d (%s)", index, t.Format(time.RFC3339))
	}
	return nil
}

// Run primes on dates[0] and advances through the remaining dates.
func (s *Scheduler) Run(ctx context.Context, dates []time.Time) error {
	if len(dates) < 2 {
		return errors.New("a run needs at least two timestamps")
	}
	s.cfg.FinalIndex = len(dates) - 1
	if err := s.Initialize(ctx, dates[0]); err != nil {
		return err
	}
	for i := 1; i < len(dates); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Advance(ctx, dates[i], i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) outputDue(index int) bool {
	return index == s.cfg.FinalIndex ||
		(time.Duration(index)*s.cfg.Table.DataStep())%s.cfg.OutputFrequency == 0
}

// fetch reads forcing at t, zero-fills absent variables and converts
// temperatures to Kelvin.
func (s *Scheduler) fetch(ctx context.Context, t time.Time) (forcing.Record, error) {
	rec, err := s.src.Get(ctx, t)
	if err != nil {
		if !errors.Is(err, forcing.ErrTimestampAbsent) {
			return nil, err
		}
		s.logger.Warnf("no forcing at %s, using zero-filled inputs", t.Format(time.RFC3339))
		rec = forcing.Record{}
	}

	filled := make(forcing.Record, len(rec))
	for k, v := range rec {
		filled[k] = v
	}
	for _, name := range rec.Missing(s.cfg.Variables) {
		s.logger.Warnf("forcing %s absent at %s, using zeros", name, t.Format(time.RFC3339))
		filled[name] = grid.New(s.st.Ny, s.st.Nx)
	}
	return filled.Kelvin(), nil
}

func (s *Scheduler) fatal(ctx context.Context, t time.Time, index int, err error) error {
	s.fail(ctx, t, index, err)
	return &StepError{Time: t, Index: index, Err: err}
}

func (s *Scheduler) fail(ctx context.Context, t time.Time, index int, err error) {
	s.phase = Failed
	for _, o := range s.observers {
		o.RunFailed(ctx, t, index, err)
	}
}

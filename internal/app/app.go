// Package app wires configuration into a complete model run: static site,
// forcing, initial state, kernel, output, survey updates and progress
// reporting.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/journal"
	"github.com/chrissnell/snowrunner/internal/kernel"
	"github.com/chrissnell/snowrunner/internal/log"
	"github.com/chrissnell/snowrunner/internal/output"
	"github.com/chrissnell/snowrunner/internal/pipeline"
	"github.com/chrissnell/snowrunner/internal/queue"
	"github.com/chrissnell/snowrunner/internal/scheduler"
	"github.com/chrissnell/snowrunner/internal/status"
	"github.com/chrissnell/snowrunner/internal/topo"
	"github.com/chrissnell/snowrunner/internal/updater"
	"github.com/chrissnell/snowrunner/pkg/config"
	"go.uber.org/zap"
)

// App represents one configured model run
type App struct {
	cfg        *config.ConfigData
	configPath string
	logger     *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.ConfigData, configPath string, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Run performs the model run and blocks until it completes, fails, or a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			log.Infof("shutdown signal received, stopping run...")
			cancel()
		case <-ctx.Done():
		}
	}()

	site, err := topo.Load(a.cfg.Topo.Path)
	if err != nil {
		return fmt.Errorf("loading topo: %w", err)
	}
	ny, nx := site.Dims()
	a.logger.Infof("domain %d x %d, %d cells in mask", ny, nx, maskCount(site))

	var jrnl *journal.Journal
	if a.cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Journal.Path), 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
		jrnl, err = journal.Open(a.cfg.Journal.Path, log.Named("journal"))
		if err != nil {
			return err
		}
		defer jrnl.Close()
	}

	initial, err := a.initialState(ctx, site, jrnl)
	if err != nil {
		return err
	}
	dates, err := a.dates(initial.start)
	if err != nil {
		return err
	}
	a.logger.Infof("running %d timesteps from %s to %s", len(dates)-1,
		dates[0].Format(time.RFC3339), dates[len(dates)-1].Format(time.RFC3339))

	table, err := a.timestepTable()
	if err != nil {
		return err
	}
	k, err := a.kernel()
	if err != nil {
		return err
	}

	writer, err := output.NewWriter(a.cfg.Output.Dir, site.Coords, a.cfg.Output.Variables, log.Named("output"))
	if err != nil {
		return err
	}
	defer writer.Close()

	tracker := status.NewTracker(site.InDomain)
	opts := []scheduler.Option{
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithObserver(tracker),
	}
	runID := ""
	if jrnl != nil {
		opts = append(opts, scheduler.WithObserver(jrnl))
		runID, err = jrnl.Begin(ctx, journal.RunInfo{
			Start: dates[0], End: dates[len(dates)-1],
			Threaded: a.cfg.Threading.Enabled, ConfigPath: a.configPath,
		})
		if err != nil {
			return err
		}
	}
	tracker.Begin(runID, dates)

	if a.cfg.Status.Enabled {
		status.NewServer(ctx, &wg, a.cfg.Status.ListenAddr, tracker, log.Named("status")).Start()
	}

	if a.cfg.Update.Enabled {
		campaign, closeDeltas, err := a.campaign(site, dates)
		if err != nil {
			return err
		}
		defer closeDeltas()
		opts = append(opts, scheduler.WithCorrector(campaign))
	}

	schedCfg := scheduler.Config{
		Table: table,
		Constants: kernel.Constants{
			MaxH2OVol:   a.cfg.Model.MaxH2OVol,
			ActiveLayer: a.cfg.Model.ActiveLayer,
			HeightAir:   a.cfg.Model.HeightAir,
			HeightWind:  a.cfg.Model.HeightWind,
			SoilDepth:   a.cfg.Model.SoilDepth,
			Elevation:   site.Elevation,
			Roughness:   site.Roughness,
			Mask:        site.Mask,
		},
		Threads:         a.cfg.Model.Threads,
		OutputFrequency: a.cfg.Output.Frequency,
		Variables:       a.kernelVariables(),
	}

	forc, err := a.buildForcing(site)
	if err != nil {
		return err
	}
	defer forc.close()

	consume := func(ctx context.Context, src forcing.Source) error {
		s, err := scheduler.New(schedCfg, initial.state, src, k, writer, opts...)
		if err != nil {
			return err
		}
		return s.Run(ctx, dates)
	}

	if a.cfg.Threading.Enabled {
		sup, err := pipeline.NewSupervisor(forc.stages, queue.Options{
			MaxLen:     a.cfg.Threading.QueueMax,
			PutTimeout: a.cfg.Threading.PutTimeout,
		}, log.Named("pipeline"))
		if err != nil {
			return err
		}
		a.logger.Infof("threaded forcing with %d stages", len(forc.stages))
		err = sup.Run(ctx, dates, consume)
		return a.finish(ctx, jrnl, tracker, err)
	}
	err = consume(ctx, forc.source)
	return a.finish(ctx, jrnl, tracker, err)
}

// finish records the outcome and logs fatal error context.
func (a *App) finish(ctx context.Context, jrnl *journal.Journal, tracker *status.Tracker, runErr error) error {
	var stepErr *scheduler.StepError
	if jrnl != nil {
		// Step failures were already recorded by the scheduler.
		if runErr != nil && !errors.As(runErr, &stepErr) {
			p := tracker.Snapshot()
			jrnl.RunFailed(ctx, p.ModelTime, p.Step, runErr)
		}
		if err := jrnl.Finish(context.WithoutCancel(ctx)); err != nil {
			a.logger.Errorf("recording run end: %v", err)
		}
	}
	if runErr == nil {
		a.logger.Infof("run complete")
		return nil
	}

	var kernErr *kernel.Error
	switch {
	case errors.As(runErr, &kernErr) && errors.As(runErr, &stepErr):
		a.logger.Errorw("kernel failure", "time", stepErr.Time.Format(time.RFC3339), "step", stepErr.Index,
			"status", kernErr.Code, "row", kernErr.Row, "col", kernErr.Col)
	case errors.As(runErr, &stepErr):
		a.logger.Errorw("run failed", "time", stepErr.Time.Format(time.RFC3339), "step", stepErr.Index, "error", stepErr.Err)
	case errors.Is(runErr, context.Canceled):
		a.logger.Warnf("run cancelled")
	}
	return runErr
}

// dates returns every data timestep from start to the configured end.
func (a *App) dates(start time.Time) ([]time.Time, error) {
	_, end, err := a.cfg.Range()
	if err != nil {
		return nil, err
	}
	step := a.cfg.Time.DataStep
	if !end.After(start) {
		return nil, fmt.Errorf("run start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	var out []time.Time
	for t := start; !t.After(end); t = t.Add(step) {
		out = append(out, t)
	}
	return out, nil
}

func (a *App) timestepTable() (kernel.TimestepTable, error) {
	m := a.cfg.Model
	mode, err := kernel.ParseOutputMode(m.OutputMode)
	if err != nil {
		return kernel.TimestepTable{}, err
	}
	var thresholds [3]float64
	copy(thresholds[:], m.MassThresholds)
	return kernel.NewTimestepTable(a.cfg.Time.DataStep, m.NormalStep, m.MediumStep, m.SmallStep, thresholds, mode)
}

func (a *App) kernel() (kernel.StepKernel, error) {
	switch a.cfg.Model.Kernel {
	case "degree_day":
		a.logger.Warnf("using the degree-day stand-in kernel; results are not physically based")
		return &kernel.DegreeDay{MeltFactor: a.cfg.Model.MeltFactor}, nil
	}
	return nil, fmt.Errorf("unknown kernel %q", a.cfg.Model.Kernel)
}

func (a *App) kernelVariables() []string {
	if len(a.cfg.Forcing.Variables) > 0 {
		return a.cfg.Forcing.Variables
	}
	return forcing.Variables
}

func (a *App) campaign(site *topo.Site, dates []time.Time) (*updater.Campaign, func(), error) {
	u := a.cfg.Update
	surveys, err := updater.LoadSurveys(u.File, dates[0], dates[len(dates)-1], u.Buffer)
	if err != nil {
		return nil, nil, fmt.Errorf("loading surveys: %w", err)
	}
	a.logger.Infof("%d surveys fall within the run", len(surveys))
	if u.DespikeHalfWidth > 0 {
		for _, s := range surveys {
			if n := updater.Despike(s.Depth, u.DespikeHalfWidth, u.DespikeTolerance); n > 0 {
				a.logger.Infof("survey %s: %d spikes removed", s.Time.Format(time.RFC3339), n)
			}
		}
	}

	sink, err := output.NewDeltaWriter(a.cfg.Output.Dir, site.Coords, log.Named("output"))
	if err != nil {
		return nil, nil, err
	}
	policy := updater.Warn
	if u.FailOnUnresolved {
		policy = updater.Fail
	}
	up := updater.New(updater.Config{
		MinDepth:         u.MinDepth,
		ActiveLayer:      a.cfg.Model.ActiveLayer,
		MaxH2OVol:        a.cfg.Model.MaxH2OVol,
		InitialHalfWidth: u.InitialHalfWidth,
		Increment:        u.Increment,
		MinCount:         u.MinCount,
		Policy:           policy,
	}, log.Named("updater"))
	closeFn := func() {
		if err := sink.Close(); err != nil {
			a.logger.Errorf("closing delta output: %v", err)
		}
	}
	return updater.NewCampaign(up, surveys, site.Mask, sink, log.Named("updater")), closeFn, nil
}

func maskCount(site *topo.Site) int {
	ny, nx := site.Dims()
	n := 0
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if site.InDomain(i, j) {
				n++
			}
		}
	}
	return n
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chrissnell/snowrunner/internal/journal"
	"github.com/chrissnell/snowrunner/internal/output"
	"github.com/chrissnell/snowrunner/internal/restart"
	"github.com/chrissnell/snowrunner/internal/state"
	"github.com/chrissnell/snowrunner/internal/topo"
)

type startState struct {
	state *state.Record
	start time.Time
}

// initialState picks, in order: a restart snapshot, an initial-conditions
// file, or a snow-free domain.
func (a *App) initialState(ctx context.Context, site *topo.Site, jrnl *journal.Journal) (*startState, error) {
	ny, nx := site.Dims()
	phys := state.Physical{ActiveLayer: a.cfg.Model.ActiveLayer, MaxH2OVol: a.cfg.Model.MaxH2OVol}
	start, _, err := a.cfg.Range()
	if err != nil {
		return nil, err
	}

	if a.cfg.Restart.Enabled {
		at, err := a.restartTime(ctx, jrnl)
		if err != nil {
			return nil, err
		}
		path, err := restart.Locate(restart.Discovery(a.cfg.Restart.Discovery), a.cfg.Restart.Path, at)
		if err != nil {
			return nil, err
		}
		snap, err := output.OpenSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("opening restart snapshot: %w", err)
		}
		defer snap.Close()

		st, idx, err := restart.Reconstruct(at, snap, restart.Config{
			MinDepth:  a.cfg.Restart.MinDepth,
			Tolerance: a.cfg.Restart.Tolerance,
			Physical:  phys,
			Ny:        ny,
			Nx:        nx,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Infof("restarting at %s from %s record %d (%s)", at.Format(time.RFC3339), path, idx,
			snap.Times()[idx].Format(time.RFC3339))
		return &startState{state: st, start: at}, nil
	}

	if p := a.cfg.Initial.Path; p != "" {
		snap, err := output.OpenSnapshot(p)
		if err != nil {
			return nil, fmt.Errorf("opening initial conditions: %w", err)
		}
		defer snap.Close()
		fields, at, err := snap.Latest()
		if err != nil {
			return nil, fmt.Errorf("reading initial conditions: %w", err)
		}
		st, err := state.FromFields(ny, nx, fields, phys)
		if err != nil {
			return nil, fmt.Errorf("initial conditions %s: %w", p, err)
		}
		cleared := restart.ClearShallow(st, a.cfg.Restart.MinDepth)
		a.logger.Infof("initial conditions from %s (%s), %d shallow cells cleared", p, at.Format(time.RFC3339), cleared)
		return &startState{state: st, start: start}, nil
	}

	a.logger.Infof("no initial conditions; starting snow-free")
	return &startState{state: state.Zero(ny, nx), start: start}, nil
}

// restartTime is the configured restart time or the journal's last flush.
func (a *App) restartTime(ctx context.Context, jrnl *journal.Journal) (time.Time, error) {
	if a.cfg.Restart.Time != "" {
		return a.cfg.ParseTime(a.cfg.Restart.Time)
	}
	if jrnl == nil {
		return time.Time{}, fmt.Errorf("restart needs restart.time or an enabled journal")
	}
	t, ok, err := jrnl.LastFlush(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("journal has no output flush to restart from")
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

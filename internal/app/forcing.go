package app

import (
	"fmt"

	"github.com/chrissnell/snowrunner/internal/forcing"
	"github.com/chrissnell/snowrunner/internal/log"
	"github.com/chrissnell/snowrunner/internal/topo"
)

// forcingSet is the assembled forcing: a serial source and the same
// producers as pipeline stages.
type forcingSet struct {
	source forcing.Source
	stages []forcing.Distributor
	files  *forcing.FileSource
}

func (f *forcingSet) close() {
	if err := f.files.Close(); err != nil {
		log.Errorf("closing forcing files: %v", err)
	}
}

// buildForcing opens the per-variable files and adds the in-process
// solar producers the configuration asks for.
func (a *App) buildForcing(site *topo.Site) (*forcingSet, error) {
	fc := a.cfg.Forcing
	files, err := forcing.OpenFiles(fc.Dir, a.kernelVariables(), log.Named("forcing"))
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool)
	var stages []forcing.Distributor
	for _, name := range files.Names() {
		have[name] = true
		stages = append(stages, files.Variable(name))
	}

	needClearSky := fc.ClearSkySolar && !have[forcing.NetSolar]
	if fc.SunAngle || needClearSky {
		stages = append(stages, &forcing.SunAngle{Site: site, Lat: a.cfg.Solar.Latitude, Lon: a.cfg.Solar.Longitude})
	}
	if needClearSky {
		a.logger.Infof("no %s file; computing clear-sky net solar", forcing.NetSolar)
		stages = append(stages, &forcing.ClearSkySolar{
			Lat: a.cfg.Solar.Latitude, Lon: a.cfg.Solar.Longitude,
			Albedo: fc.Albedo, Turbidity: fc.Turbidity,
		})
	}

	set := &forcingSet{source: files, stages: stages, files: files}
	if len(stages) > len(have) {
		engine, err := forcing.NewEngine(stages)
		if err != nil {
			files.Close()
			return nil, fmt.Errorf("assembling forcing: %w", err)
		}
		set.source = engine
	}
	return set, nil
}

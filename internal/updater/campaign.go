package updater

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/rasterio"
	"github.com/chrissnell/snowrunner/internal/state"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// DepthCeiling is the largest believable survey depth (m). Larger values,
// and non-finite ones, are treated as unmeasured.
const DepthCeiling = 200.0

// SurveyVar is the depth variable name in a survey file.
const SurveyVar = "depth"

// LoadSurveys reads every flight in a survey raster whose time falls in
// [start, end], sorted by time.
func LoadSurveys(path string, start, end time.Time, buffer int) ([]Survey, error) {
	f, err := rasterio.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.Has(SurveyVar) {
		return nil, fmt.Errorf("survey file %s has no %s variable", path, SurveyVar)
	}
	var out []Survey
	for i, t := range f.Times() {
		if t.Before(start) || t.After(end) {
			continue
		}
		g, err := f.ReadRecord(SurveyVar, i)
		if err != nil {
			return nil, err
		}
		out = append(out, Survey{Time: t, Depth: Sanitize(g), Buffer: buffer})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return out, nil
}

// Sanitize marks implausible depths as unmeasured (NaN) in place.
func Sanitize(g *mat.Dense) *mat.Dense {
	grid.Apply(g, func(_, _ int, v float64) float64 {
		if !grid.Finite(v) || v > DepthCeiling {
			return math.NaN()
		}
		return v
	})
	return g
}

// DeltaSink persists the change made by each update.
type DeltaSink interface {
	WriteDelta(ctx context.Context, d *Delta) error
}

// Campaign applies a series of dated surveys as the run reaches them.
type Campaign struct {
	updater *Updater
	surveys []Survey
	mask    *mat.Dense
	sink    DeltaSink
	logger  *zap.SugaredLogger
	next    int
}

// NewCampaign binds surveys, sorted by time, to an updater. sink may be nil.
func NewCampaign(u *Updater, surveys []Survey, mask *mat.Dense, sink DeltaSink, logger *zap.SugaredLogger) *Campaign {
	sorted := make([]Survey, len(surveys))
	copy(sorted, surveys)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Time.Before(sorted[b].Time) })
	return &Campaign{updater: u, surveys: sorted, mask: mask, sink: sink, logger: logger}
}

// Due reports whether the next pending survey is dated t. Surveys dated
// before t that never matched a timestep are skipped with a warning.
func (c *Campaign) Due(t time.Time) bool {
	for c.next < len(c.surveys) && c.surveys[c.next].Time.Before(t) {
		c.logger.Warnf("survey %s falls between data timesteps, skipping", c.surveys[c.next].Time.Format(time.RFC3339))
		c.next++
	}
	return c.next < len(c.surveys) && c.surveys[c.next].Time.Equal(t)
}

// Correct applies the survey dated t to st.
func (c *Campaign) Correct(ctx context.Context, t time.Time, st *state.Record) error {
	if !c.Due(t) {
		return fmt.Errorf("no survey due at %s", t.Format(time.RFC3339))
	}
	sv := c.surveys[c.next]
	delta, err := c.updater.Apply(st, sv, c.mask)
	if err != nil {
		return err
	}
	c.next++
	if c.sink != nil {
		if err := c.sink.WriteDelta(ctx, delta); err != nil {
			return fmt.Errorf("writing update delta: %w", err)
		}
	}
	return nil
}

// Remaining returns the number of surveys not yet applied.
func (c *Campaign) Remaining() int {
	return len(c.surveys) - c.next
}

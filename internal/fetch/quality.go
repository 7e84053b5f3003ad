package fetch

import (
	"context"

	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// DefaultQualityCheckDelta is the zoom subdivision used by the quality gate.
const DefaultQualityCheckDelta = 2

// HasHighQualityImagery predicts whether the provider actually has
// high-resolution imagery for the grid before a full download is committed
// to. Each of the four corner tiles is subdivided by delta zoom levels and
// the matching finer-grained corner of the subgrid is fetched; if any of
// the four probes fails, the imagery is judged inadequate and the caller
// should resample. Probe failures are expected, not exceptional; only
// protocol violations are returned as errors.
func (e *Engine) HasHighQualityImagery(ctx context.Context, g *grid.Grid, delta int) (bool, error) {
	if delta <= 0 {
		delta = DefaultQualityCheckDelta
	}

	// At() wraps negative indices, so (0|-1, 0|-1) addresses the four grid
	// corners, and reusing the same indices on each zoomed subgrid picks
	// the matching outer corner of the subdivision.
	for _, x := range []int{0, -1} {
		for _, y := range []int{0, -1} {
			probe := g.At(x, y).Zoomed(delta).At(x, y)
			if err := e.fetcher.Load(ctx, probe); err != nil {
				return false, err
			}
			if probe.Status() == grid.StatusError {
				return false, nil
			}
		}
	}
	return true, nil
}

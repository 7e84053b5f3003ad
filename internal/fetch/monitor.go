package fetch

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// DefaultPollInterval is how often the progress monitor samples the tile
// states.
const DefaultPollInterval = 100 * time.Millisecond

// Monitor displays download progress. It only ever reads tile state, which
// each tile stores atomically, so it runs safely alongside the workers.
type Monitor struct {
	grid     *grid.Grid
	interval time.Duration
	bar      *progressbar.ProgressBar
}

// NewMonitor creates a monitor for the grid. With display disabled it still
// polls so that Run retains its completion semantics, it just renders
// nothing.
func NewMonitor(g *grid.Grid, interval time.Duration, display bool) *Monitor {
	m := &Monitor{grid: g, interval: interval}
	if display {
		m.bar = progressbar.NewOptions(g.Count(),
			progressbar.OptionSetDescription("downloading tiles"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(interval),
		)
	}
	return m
}

// Run polls the tile states at the configured interval and returns once no
// tile remains pending or downloading, rendering one final update first.
func (m *Monitor) Run() {
	for m.busy() {
		m.update()
		time.Sleep(m.interval)
	}
	m.update()
	if m.bar != nil {
		_ = m.bar.Finish()
		fmt.Println()
	}
}

func (m *Monitor) busy() bool {
	for _, t := range m.grid.Flat() {
		if !t.Status().Terminal() {
			return true
		}
	}
	return false
}

func (m *Monitor) update() {
	if m.bar == nil {
		return
	}

	var cached, downloaded, errored int
	for _, t := range m.grid.Flat() {
		switch t.Status() {
		case grid.StatusCached:
			cached++
		case grid.StatusDownloaded:
			downloaded++
		case grid.StatusError:
			errored++
		case grid.StatusPending, grid.StatusDownloading:
		}
	}

	desc := fmt.Sprintf("downloading tiles (%d cached, %d downloaded", cached, downloaded)
	if errored > 0 {
		desc += fmt.Sprintf(", %d errors", errored)
	}
	desc += ")"
	m.bar.Describe(desc)
	_ = m.bar.Set(cached + downloaded + errored)
}

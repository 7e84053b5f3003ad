package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// ErrMissingTiles is returned when tiles remain in the error state after
// the retry pass. The acquisition never returns a partial mosaic.
var ErrMissingTiles = errors.New("unable to load one or more map tiles")

// retryFraction is the largest share of failed tiles for which a single
// serial retry pass still runs. It covers transient provider hiccups without masking
// systemic failures.
const retryFraction = 0.02

// Engine orchestrates the concurrent download of a tile grid.
type Engine struct {
	fetcher      *Fetcher
	log          *slog.Logger
	pollInterval time.Duration
	progress     bool
}

// EngineOptions tunes the acquisition engine.
type EngineOptions struct {
	// PollInterval is the progress monitor's polling interval;
	// zero means DefaultPollInterval.
	PollInterval time.Duration

	// Progress enables the live progress display.
	Progress bool
}

// NewEngine builds an engine on top of a fetcher.
func NewEngine(fetcher *Fetcher, opts EngineOptions, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Engine{
		fetcher:      fetcher,
		log:          log,
		pollInterval: interval,
		progress:     opts.Progress,
	}
}

// Download fetches every tile of the grid. Tiles are dispatched in shuffled
// order (purely cosmetic, it makes the progress display livelier) to a
// worker pool sized max(width, height). After the pool drains, tiles in the
// error state are retried serially once when they amount to no more than 2%
// of the grid; any tile still failing afterwards makes the whole
// acquisition fail with ErrMissingTiles. A monitor goroutine polls the tile
// states concurrently until none remain pending or downloading.
func (e *Engine) Download(ctx context.Context, g *grid.Grid) error {
	tiles := g.Flat()

	shuffled := make([]*grid.Tile, len(tiles))
	copy(shuffled, tiles)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	monitor := NewMonitor(g, e.pollInterval, e.progress)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run()
	}()

	workers := g.Width()
	if g.Height() > workers {
		workers = g.Height()
	}

	taskCh := make(chan *grid.Tile)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		hardErr error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if err := e.fetcher.Load(ctx, t); err != nil {
					mu.Lock()
					if hardErr == nil {
						hardErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, t := range shuffled {
		taskCh <- t
	}
	close(taskCh)
	wg.Wait()

	// retry failed tiles serially if no more than 2% are missing (happens
	// frequently with some providers)
	failed := failedTiles(tiles)
	if len(failed) > 0 && float64(len(failed)) <= retryFraction*float64(len(tiles)) {
		e.log.Info("retrying missing tiles", "count", len(failed))
		for _, t := range failed {
			t.Reset()
			if err := e.fetcher.Load(ctx, t); err != nil {
				mu.Lock()
				if hardErr == nil {
					hardErr = err
				}
				mu.Unlock()
			}
		}
	}

	<-monitorDone

	if hardErr != nil {
		return hardErr
	}

	if failed := failedTiles(tiles); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, t := range failed {
			names[i] = t.String()
		}
		return fmt.Errorf("%w: %s", ErrMissingTiles, strings.Join(names, ", "))
	}

	return nil
}

func failedTiles(tiles []*grid.Tile) []*grid.Tile {
	var failed []*grid.Tile
	for _, t := range tiles {
		if t.Status() == grid.StatusError {
			failed = append(failed, t)
		}
	}
	return failed
}

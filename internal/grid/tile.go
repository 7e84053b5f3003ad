// Package grid derives and addresses the rectangular grid of map tiles
// covering a geographic rectangle at a given zoom level and view direction.
package grid

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
)

// Status tracks a tile through its acquisition lifecycle. Valid transitions
// are Pending → Downloading → {Downloaded, Error} and Pending → Cached.
type Status int32

const (
	StatusPending Status = iota
	StatusCached
	StatusDownloading
	StatusDownloaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCached:
		return "cached"
	case StatusDownloading:
		return "downloading"
	case StatusDownloaded:
		return "downloaded"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Terminal reports whether the status is an end state of the fetch machine.
func (s Status) Terminal() bool {
	switch s {
	case StatusCached, StatusDownloaded, StatusError:
		return true
	case StatusPending, StatusDownloading:
		return false
	}
	return false
}

// Tile identifies one raster tile in the provider's indexing scheme for a
// view direction, and carries its acquisition state. The status is written
// only by the worker fetching this tile and read concurrently by the
// progress monitor, so it is kept in an atomic.
type Tile struct {
	Zoom      int
	Direction geo.ViewDirection
	X         int
	Y         int

	status atomic.Int32
	img    image.Image
}

// NewTile creates a pending tile.
func NewTile(zoom int, direction geo.ViewDirection, x, y int) *Tile {
	return &Tile{Zoom: zoom, Direction: direction, X: x, Y: y}
}

func (t *Tile) String() string {
	if t.Direction.IsOblique() {
		return fmt.Sprintf("z%d_deg%d_x%d_y%d", t.Zoom, t.Direction.Angle(), t.X, t.Y)
	}
	return fmt.Sprintf("z%d_x%d_y%d", t.Zoom, t.X, t.Y)
}

// Status returns the current acquisition state.
func (t *Tile) Status() Status {
	return Status(t.status.Load())
}

// SetStatus records a state transition.
func (t *Tile) SetStatus(s Status) {
	t.status.Store(int32(s))
}

// Reset returns an errored tile to the pending state ahead of a retry pass.
func (t *Tile) Reset() {
	t.status.Store(int32(StatusPending))
	t.img = nil
}

// Image returns the decoded tile image. Only valid once the tile has reached
// StatusCached or StatusDownloaded.
func (t *Tile) Image() image.Image {
	return t.img
}

// SetImage stores the decoded tile image.
func (t *Tile) SetImage(img image.Image) {
	t.img = img
}

// Zoomed returns the grid of tiles covering this tile's area at
// zoom+delta. Each zoom increment subdivides the tile into four quadrants,
// so the result is a 2^delta × 2^delta grid; delta 0 yields a 1×1 grid
// holding a fresh tile with this tile's coordinates. Pure function, no I/O.
func (t *Tile) Zoomed(delta int) *Grid {
	zoom := t.Zoom + delta
	fac := 1 << delta

	tiles := make([][]*Tile, fac)
	for x := 0; x < fac; x++ {
		col := make([]*Tile, fac)
		for y := 0; y < fac; y++ {
			col[y] = NewTile(zoom, t.Direction, t.X*fac+x, t.Y*fac+y)
		}
		tiles[x] = col
	}
	return &Grid{tiles: tiles, width: fac, height: fac}
}

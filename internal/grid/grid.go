package grid

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
)

// Grid is a rectangular, contiguous block of map tiles, indexed [x][y] so
// that increasing index matches increasing tile x/y.
type Grid struct {
	tiles  [][]*Tile
	width  int
	height int
}

// New builds a grid from tiles indexed [x][y]. The tile matrix must be
// rectangular.
func New(tiles [][]*Tile) (*Grid, error) {
	if len(tiles) == 0 || len(tiles[0]) == 0 {
		return nil, fmt.Errorf("grid must contain at least one tile")
	}
	height := len(tiles[0])
	for x, col := range tiles {
		if len(col) != height {
			return nil, fmt.Errorf("grid is not rectangular: column %d has %d tiles, want %d", x, len(col), height)
		}
	}
	return &Grid{tiles: tiles, width: len(tiles), height: height}, nil
}

// FromRect divides a GeoRect into the grid of tiles covering it at the
// given zoom level and view direction.
func FromRect(rect geo.GeoRect, zoom int, direction geo.ViewDirection) (*Grid, error) {
	if zoom < 0 || zoom > geo.MaxZoom {
		return nil, fmt.Errorf("zoom %d outside supported range [0,%d]", zoom, geo.MaxZoom)
	}

	blx, bly := tileIndex(rect.SW, zoom, direction)
	trx, try := tileIndex(rect.NE, zoom, direction)

	// For eastward, southward and westward views the axis remap rotates
	// tile coordinates relative to the cardinal directions, so the corners
	// may arrive swapped. Normalizing here (first corner: smaller x, larger
	// y, since tile y grows southward) avoids branching on the direction a
	// second time.
	if blx > trx {
		blx, trx = trx, blx
	}
	if bly < try {
		bly, try = try, bly
	}

	width := trx - blx + 1
	height := bly - try + 1

	tiles := make([][]*Tile, width)
	for x := 0; x < width; x++ {
		col := make([]*Tile, height)

		// the y axis of tile coordinates points south while latitude
		// grows north, so columns run from the top-right corner down
		for y := 0; y < height; y++ {
			col[y] = NewTile(zoom, direction, blx+x, try+y)
		}
		tiles[x] = col
	}

	return &Grid{tiles: tiles, width: width, height: height}, nil
}

func tileIndex(p geo.GeoPoint, zoom int, direction geo.ViewDirection) (int, int) {
	x, y := geo.ProjectFor(p, zoom, direction)
	return int(math.Floor(x)), int(math.Floor(y))
}

// Width returns the number of tile columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of tile rows.
func (g *Grid) Height() int { return g.height }

// Count returns the total number of tiles.
func (g *Grid) Count() int { return g.width * g.height }

// At returns the tile at (x, y). Negative indices wrap around, so the four
// corners can be addressed compactly as (0|-1, 0|-1).
func (g *Grid) At(x, y int) *Tile {
	if x < 0 {
		x += g.width
	}
	if y < 0 {
		y += g.height
	}
	return g.tiles[x][y]
}

// Flat returns all tiles as a single slice, column by column.
func (g *Grid) Flat() []*Tile {
	flat := make([]*Tile, 0, g.width*g.height)
	for _, col := range g.tiles {
		flat = append(flat, col...)
	}
	return flat
}

func (g *Grid) String() string {
	origin := g.At(0, 0)
	return fmt.Sprintf("Grid(%dx%d at %s)", g.width, g.height, origin)
}

// Package mosaic assembles downloaded tiles into the final image: stitch,
// crop to the exact requested rectangle, optional rescale, optional
// enhancement.
package mosaic

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/gift"
	xdraw "golang.org/x/image/draw"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// DefaultJPEGQuality is used when saving without an explicit quality.
const DefaultJPEGQuality = 90

// Image wraps the mosaic through its processing stages.
type Image struct {
	img image.Image
}

// Stitch pastes every tile of the grid into one canvas at its (x,y)·256
// pixel offset. All tiles must have reached StatusDownloaded or
// StatusCached; the acquisition barrier guarantees that before pixel data
// is read here.
func Stitch(g *grid.Grid) (*Image, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, g.Width()*geo.TileSize, g.Height()*geo.TileSize))

	for x := 0; x < g.Width(); x++ {
		for y := 0; y < g.Height(); y++ {
			t := g.At(x, y)
			switch t.Status() {
			case grid.StatusDownloaded, grid.StatusCached:
			default:
				return nil, fmt.Errorf("cannot stitch: tile %s is %s", t, t.Status())
			}
			target := image.Rect(x*geo.TileSize, y*geo.TileSize, (x+1)*geo.TileSize, (y+1)*geo.TileSize)
			xdraw.Draw(canvas, target, t.Image(), image.Point{}, xdraw.Src)
		}
	}

	return &Image{img: canvas}, nil
}

// Bounds returns the current pixel bounds.
func (m *Image) Bounds() image.Rectangle {
	return m.img.Bounds()
}

// Result returns the current image.
func (m *Image) Result() image.Image {
	return m.img
}

// Crop cuts the stitched canvas down to exactly the requested geographic
// rectangle. The rectangle's own corners are reprojected (not the tile
// grid's corners, since sub-tile precision matters here) and the fractional part
// of each continuous tile coordinate, times the tile size, gives the exact
// pixel insets on all four sides.
func (m *Image) Crop(rect geo.GeoRect, zoom int, direction geo.ViewDirection) {
	left, bottom := geo.ProjectFor(rect.SW, zoom, direction)
	right, top := geo.ProjectFor(rect.NE, zoom, direction)

	// same swap-normalization as when the grid was derived
	if left > right {
		left, right = right, left
	}
	if bottom < top {
		bottom, top = top, bottom
	}

	leftCrop := int(math.Round(geo.TileSize * frac(left)))
	topCrop := int(math.Round(geo.TileSize * frac(top)))
	rightCrop := int(math.Round(geo.TileSize * (1 - frac(right))))
	bottomCrop := int(math.Round(geo.TileSize * (1 - frac(bottom))))

	b := m.img.Bounds()
	region := image.Rect(b.Min.X+leftCrop, b.Min.Y+topCrop, b.Max.X-rightCrop, b.Max.Y-bottomCrop)
	m.apply(gift.New(gift.Crop(region)))
}

func frac(v float64) float64 {
	return v - math.Floor(v)
}

// Scale resizes to the given output dimensions with Lanczos resampling.
// Mismatched dimensions distort the aspect ratio; that is the caller's
// choice and is not auto-corrected.
func (m *Image) Scale(width, height int) {
	m.apply(gift.New(gift.Resize(width, height, gift.LanczosResampling)))
}

// Enhance applies the fixed contrast and brightness lift that works well
// for most aerial imagery.
func (m *Image) Enhance() {
	m.apply(gift.New(
		gift.Contrast(7),
		gift.Brightness(1),
	))
}

func (m *Image) apply(g *gift.GIFT) {
	dst := image.NewRGBA(g.Bounds(m.img.Bounds()))
	g.Draw(dst, m.img)
	m.img = dst
}

// Save writes the image to path, creating directories as needed. The
// encoder follows the file extension: .png gets PNG, everything else JPEG
// at the given quality (DefaultJPEGQuality when quality is zero).
func (m *Image) Save(path string, quality int) error {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, m.img)
	default:
		err = jpeg.Encode(f, m.img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	return f.Close()
}

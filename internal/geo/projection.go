// Package geo provides the coordinate types and Web Mercator projections
// (standard and 45°-oblique) that the rest of the pipeline is built on.
package geo

import (
	"fmt"
	"math"
)

const (
	// TileSize is the edge length of a map tile in pixels.
	TileSize = 256

	// EarthCircumference is the equatorial circumference in meters.
	EarthCircumference = 40075.016686 * 1000

	// MaxZoom is the highest zoom level supported by any provider.
	MaxZoom = 23
)

// ViewDirection selects between the standard top-down projection and the
// four 45°-oblique views. For oblique views the camera bearing (0/90/180/270)
// feeds both the tile URL and the axis remapping of the projection.
type ViewDirection int

const (
	Downward ViewDirection = iota
	Northward
	Eastward
	Southward
	Westward
)

// ParseViewDirection parses a direction name as used in configuration.
func ParseViewDirection(s string) (ViewDirection, error) {
	switch s {
	case "downward":
		return Downward, nil
	case "northward":
		return Northward, nil
	case "eastward":
		return Eastward, nil
	case "southward":
		return Southward, nil
	case "westward":
		return Westward, nil
	}
	return Downward, fmt.Errorf("not a recognized view direction: %q", s)
}

func (d ViewDirection) String() string {
	switch d {
	case Downward:
		return "downward"
	case Northward:
		return "northward"
	case Eastward:
		return "eastward"
	case Southward:
		return "southward"
	case Westward:
		return "westward"
	}
	return fmt.Sprintf("ViewDirection(%d)", int(d))
}

// Angle returns the camera bearing in degrees, or -1 for the downward view.
func (d ViewDirection) Angle() int {
	switch d {
	case Northward:
		return 0
	case Eastward:
		return 90
	case Southward:
		return 180
	case Westward:
		return 270
	}
	return -1
}

// IsOblique reports whether the direction is one of the four 45° views.
func (d ViewDirection) IsOblique() bool {
	return d != Downward
}

// Project applies the Web Mercator projection and returns continuous
// (non-integer) tile coordinates at the given zoom level. Flooring to
// integer tile indices is deliberately left to the caller: cropping the
// stitched mosaic needs the fractional parts.
func Project(p GeoPoint, zoom int) (x, y float64) {
	factor := math.Exp2(float64(zoom)) / (2 * math.Pi)
	x = factor * (radians(p.Lon) + math.Pi)
	y = factor * (math.Pi - math.Log(math.Tan(math.Pi/4+radians(p.Lat)/2)))
	return x, y
}

// ProjectOblique applies the oblique Web Mercator projection used by
// 45°-view providers. The standard projection is computed first, then the
// axes are remapped by camera bearing so that "up" on the rendered tiles
// points toward decreasing y and "left" toward decreasing x, and finally the
// y-distance from the equator is compressed by 1/√2 to account for the
// foreshortening of a 45° view. The axis remap must happen before the
// foreshortening step.
func ProjectOblique(p GeoPoint, zoom int, direction ViewDirection) (float64, float64) {
	x0, y0 := Project(p, zoom)

	worldWidth := math.Exp2(float64(zoom))
	equatorOffset := worldWidth / 2

	x, y := x0, y0
	switch direction {
	case Northward:
		// axes already match
	case Eastward:
		x = y0
		y = worldWidth - x0
	case Southward:
		x = worldWidth - x0
		y = worldWidth - y0
	case Westward:
		x = worldWidth - y0
		y = x0
	default:
		panic(fmt.Sprintf("oblique projection requires an oblique direction, got %v", direction))
	}

	y = (y-equatorOffset)/math.Sqrt2 + equatorOffset

	return x, y
}

// ProjectFor projects with the projection matching the direction: standard
// for downward, oblique otherwise.
func ProjectFor(p GeoPoint, zoom int, direction ViewDirection) (float64, float64) {
	if direction.IsOblique() {
		return ProjectOblique(p, zoom, direction)
	}
	return Project(p, zoom)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

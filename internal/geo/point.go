package geo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrNoValidZoom is returned when no zoom level up to MaxZoom satisfies a
// meters-per-pixel constraint. The constraint is never silently clamped.
var ErrNoValidZoom = errors.New("no zoom level satisfies the meters-per-pixel constraint")

// GeoPoint is a latitude-longitude coordinate pair, in that order per
// ISO 6709. Immutable value.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// NewGeoPoint validates the coordinate ranges.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, fmt.Errorf("latitude %v out of range [-90,90]", lat)
	}
	if lon < -180 || lon > 180 {
		return GeoPoint{}, fmt.Errorf("longitude %v out of range [-180,180]", lon)
	}
	return GeoPoint{Lat: lat, Lon: lon}, nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("GeoPoint(%v, %v)", p.Lat, p.Lon)
}

// Fancy renders the point with degrees, minutes and seconds,
// e.g. `44°35'27.6"N 100°21'53.1"W`.
func (p GeoPoint) Fancy() string {
	return fancyCoord(p.Lat, "N", "S") + " " + fancyCoord(p.Lon, "E", "W")
}

func fancyCoord(coord float64, pos, neg string) string {
	dir := pos
	if coord < 0 {
		dir = neg
	}
	abs := math.Abs(coord)
	deg := math.Floor(abs)
	rest := (abs - deg) * 60
	min := math.Floor(rest)
	sec := math.Round((rest-min)*600) / 10
	return fmt.Sprintf("%.0f°%.0f'%.1f\"%s", deg, min, sec, dir)
}

// RandomPoint draws a point uniformly by surface area within the rectangle.
// Latitude cannot simply be drawn uniformly in degrees since meridians
// converge toward the poles; drawing the sine of the latitude uniformly
// yields the correct distribution on the sphere. Longitude is uniform over
// the (possibly antimeridian-crossing) span.
func RandomPoint(rng *rand.Rand, rect GeoRect) GeoPoint {
	north := radians(rect.NE.Lat)
	south := radians(rect.SW.Lat)
	lat := degrees(math.Asin(rng.Float64()*(math.Sin(north)-math.Sin(south)) + math.Sin(south)))

	west := rect.SW.Lon
	east := rect.NE.Lon
	width := east - west
	if width < 0 {
		width += 360
	}
	lon := west + width*rng.Float64()
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}

	return GeoPoint{Lat: lat, Lon: lon}
}

// ComputeZoomLevel returns the coarsest (lowest) zoom level whose
// meters-per-pixel at this point's latitude does not exceed the given
// constraint, searching from MaxZoom down to 0. Returns ErrNoValidZoom when
// even MaxZoom would violate the constraint.
func (p GeoPoint) ComputeZoomLevel(maxMetersPerPixel float64) (int, error) {
	if maxMetersPerPixel <= 0 {
		return 0, fmt.Errorf("max meters per pixel must be positive, got %v", maxMetersPerPixel)
	}

	metersPerPixelAtZoom0 := (EarthCircumference / TileSize) * math.Cos(radians(p.Lat))

	for zoom := MaxZoom; zoom >= 0; zoom-- {
		metersPerPixel := metersPerPixelAtZoom0 / math.Exp2(float64(zoom))

		// once meters-per-pixel eclipses the maximum, the previous
		// (finer) zoom level was the answer
		if metersPerPixel > maxMetersPerPixel {
			if zoom == MaxZoom {
				return 0, fmt.Errorf("%w: need finer than zoom %d at latitude %v", ErrNoValidZoom, MaxZoom, p.Lat)
			}
			return zoom + 1, nil
		}
	}

	// even zoom 0 satisfies the constraint
	return 0, nil
}

package geo

import (
	"fmt"
	"math"
)

// GeoRect is a rectangle between a southwestern and a northeastern corner:
//
//	   +---+ ne
//	   |   |
//	sw +---+
//
// Latitudes are ordered (sw.Lat <= ne.Lat); longitudes carry no ordering
// invariant since the rectangle may stretch across the antimeridian.
type GeoRect struct {
	SW GeoPoint
	NE GeoPoint
}

// NewGeoRect validates the latitude ordering.
func NewGeoRect(sw, ne GeoPoint) (GeoRect, error) {
	if sw.Lat > ne.Lat {
		return GeoRect{}, fmt.Errorf("southwest latitude %v above northeast latitude %v", sw.Lat, ne.Lat)
	}
	return GeoRect{SW: sw, NE: ne}, nil
}

func (r GeoRect) String() string {
	return fmt.Sprintf("GeoRect(%v, %v)", r.SW, r.NE)
}

// AroundGeoPoint builds a rectangle of the given width and height in meters
// centered on the point. Longitude degrees shrink with the cosine of the
// latitude, which the width conversion accounts for.
func AroundGeoPoint(center GeoPoint, widthMeters, heightMeters float64) (GeoRect, error) {
	if widthMeters <= 0 || heightMeters <= 0 {
		return GeoRect{}, fmt.Errorf("width and height must be positive, got %v x %v", widthMeters, heightMeters)
	}

	metersPerDegree := EarthCircumference / 360

	widthDeg := widthMeters / (metersPerDegree * math.Cos(radians(center.Lat)))
	heightDeg := heightMeters / metersPerDegree

	sw := GeoPoint{Lat: center.Lat - heightDeg/2, Lon: center.Lon - widthDeg/2}
	ne := GeoPoint{Lat: center.Lat + heightDeg/2, Lon: center.Lon + widthDeg/2}

	return NewGeoRect(sw, ne)
}

// Area returns the surface area in square kilometers, computed from the
// difference of the two spherical caps implied by the north and south
// latitudes, constrained to the longitude range. Used as a sampling weight;
// it only needs to be monotonic and proportional, not geodetically exact.
func (r GeoRect) Area() float64 {
	earthRadius := EarthCircumference / (1000 * 2 * math.Pi)

	capDifference := (2 * math.Pi * earthRadius * earthRadius) *
		math.Abs(math.Sin(radians(r.SW.Lat))-math.Sin(radians(r.NE.Lat)))

	width := r.NE.Lon - r.SW.Lon
	if width < 0 {
		width += 360
	}

	return capDifference * width / 360
}

// Package region draws geographically-unbiased random points inside the
// union of one or more polygons loaded from GeoJSON.
package region

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
)

// DefaultMaxTries bounds the rejection-sampling loop. Legitimate inputs
// (e.g. scattered islands) can need hundreds of tries, so the bound is
// configurable on the Sampler.
const DefaultMaxTries = 250

// ErrExhausted is returned when rejection sampling fails to land inside any
// polygon within the configured number of tries, which normally signals
// degenerate or pathologically sparse input.
var ErrExhausted = errors.New("no point found inside region")

type shape struct {
	polygon orb.Polygon
	bounds  geo.GeoRect

	// cumulative fraction of total bounding-box area, used as a CDF for
	// area-weighted polygon selection
	cumulative float64
}

// Sampler selects uniformly distributed random points, weighted by polygon
// area, over the union of its polygons. Polygon selection uses cheap
// bounding-box areas; the bias this introduces toward non-compact shapes is
// cancelled by restarting selection (not just the point draw) on rejection.
type Sampler struct {
	polygons []orb.Polygon
	shapes   []shape
	rng      *rand.Rand

	// MaxTries bounds the rejection loop; zero means DefaultMaxTries.
	MaxTries int
}

// NewSampler builds a sampler over the given polygons.
func NewSampler(polygons []orb.Polygon, rng *rand.Rand) (*Sampler, error) {
	if len(polygons) == 0 {
		return nil, errors.New("region must contain at least one polygon")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Sampler{polygons: polygons, rng: rng}, nil
}

// LoadGeoJSON reads a GeoJSON file and collects every Polygon and
// MultiPolygon member into a sampler. Other geometry types are rejected.
func LoadGeoJSON(path string, rng *rand.Rand) (*Sampler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region file %s: %w", path, err)
	}

	var polygons []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polygons = append(polygons, g)
		case orb.MultiPolygon:
			polygons = append(polygons, g...)
		default:
			return nil, fmt.Errorf("region file %s contains unsupported geometry %s", path, g.GeoJSONType())
		}
	}

	return NewSampler(polygons, rng)
}

// build sets up the cumulative-area table. Done lazily on the first sample
// and reused for the lifetime of the sampler.
func (s *Sampler) build() {
	s.shapes = make([]shape, 0, len(s.polygons))

	total := 0.0
	for _, p := range s.polygons {
		b := p.Bound()
		bounds := geo.GeoRect{
			SW: geo.GeoPoint{Lat: b.Min.Lat(), Lon: b.Min.Lon()},
			NE: geo.GeoPoint{Lat: b.Max.Lat(), Lon: b.Max.Lon()},
		}
		s.shapes = append(s.shapes, shape{polygon: p, bounds: bounds})
		total += bounds.Area()
	}

	sum := 0.0
	for i := range s.shapes {
		sum += s.shapes[i].bounds.Area()
		s.shapes[i].cumulative = sum / total
	}
}

// RandomPoint draws one point. The loop restarts from polygon selection on
// every rejection and is bounded by MaxTries, after which ErrExhausted is
// returned.
func (s *Sampler) RandomPoint() (geo.GeoPoint, error) {
	if s.shapes == nil {
		s.build()
	}

	maxTries := s.MaxTries
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}

	for i := 0; i < maxTries; i++ {
		sh := s.pick()

		p := geo.RandomPoint(s.rng, sh.bounds)
		if planar.PolygonContains(sh.polygon, orb.Point{p.Lon, p.Lat}) {
			return p, nil
		}
	}

	return geo.GeoPoint{}, fmt.Errorf("%w after %d tries", ErrExhausted, maxTries)
}

// pick selects a polygon with probability proportional to its bounding-box
// area via a linear scan of the cumulative table. A binary search would be
// faster but this is nowhere near a bottleneck, even for thousands of
// shapes.
func (s *Sampler) pick() *shape {
	u := s.rng.Float64()
	for i := range s.shapes {
		if u < s.shapes[i].cumulative {
			return &s.shapes[i]
		}
	}
	return &s.shapes[len(s.shapes)-1]
}

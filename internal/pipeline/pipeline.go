// Package pipeline orchestrates one mosaic run: point selection, zoom
// computation, grid derivation, the imagery quality gate with its resample
// loop, acquisition, and the stitch/crop/scale/enhance sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MeKo-Tech/aeromosaic/internal/fetch"
	"github.com/MeKo-Tech/aeromosaic/internal/geo"
	"github.com/MeKo-Tech/aeromosaic/internal/grid"
	"github.com/MeKo-Tech/aeromosaic/internal/mosaic"
	"github.com/MeKo-Tech/aeromosaic/internal/region"
)

// DefaultMaxTries bounds the resample loop around the quality gate.
const DefaultMaxTries = 10

// ErrQualityExhausted is returned when no acceptable imagery is found
// within the resample budget. This normally means either no network
// connectivity or a resolution constraint the provider cannot meet.
var ErrQualityExhausted = errors.New("no location with acceptable imagery found")

// Config is the explicit configuration for one run; there is no ambient
// template state anywhere downstream.
type Config struct {
	// URLTemplate is the fully resolved tile URL template with {zoom},
	// {x}, {y} and (for oblique views) {angle} placeholders.
	URLTemplate string

	// PathTemplate enables the per-file tile cache when non-empty.
	PathTemplate string

	// CacheDir enables the MBTiles tile cache when non-empty. Mutually
	// exclusive with PathTemplate.
	CacheDir string

	Direction geo.ViewDirection

	// Point pins the center point; when nil, Sampler supplies random
	// points and the quality gate filters them.
	Point   *geo.GeoPoint
	Sampler *region.Sampler

	// WidthM and HeightM are the dimensions of the depicted area in
	// meters, before the east/west swap for oblique views.
	WidthM  float64
	HeightM float64

	// MaxMetersPerPixel and/or the output dimensions constrain the
	// resolution; see resolveConstraints for their interaction.
	MaxMetersPerPixel float64
	ImageWidth        float64
	ImageHeight       float64

	MaxTries          int
	QualityCheckDelta int

	Enhance     bool
	JPEGQuality int

	// OutputTemplate names the output file; see expandOutputPath for the
	// supported placeholders.
	OutputTemplate string

	RateLimit    float64
	PollInterval time.Duration
	Progress     bool
	UserAgent    string
}

// Result is what downstream consumers (captioning, posting) need: the
// image, where it was saved, and the resolved geography.
type Result struct {
	Image image.Image
	Path  string
	Point geo.GeoPoint
	Rect  geo.GeoRect
	Zoom  int
}

// Run executes the full pipeline.
func Run(ctx context.Context, cfg Config, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Point == nil && cfg.Sampler == nil {
		return nil, errors.New("either a pinned point or a region sampler is required")
	}
	if cfg.WidthM <= 0 || cfg.HeightM <= 0 {
		return nil, fmt.Errorf("area dimensions must be positive, got %v x %v", cfg.WidthM, cfg.HeightM)
	}

	cons, err := resolveConstraints(cfg.WidthM, cfg.HeightM, cfg.MaxMetersPerPixel, cfg.ImageWidth, cfg.ImageHeight, cfg.Direction)
	if err != nil {
		return nil, err
	}

	// when looking obliquely east or west, the latitude range covers the
	// imaged width and vice versa, so the geographic dimensions swap
	geoWidth, geoHeight := cfg.WidthM, cfg.HeightM
	if cfg.Direction == geo.Eastward || cfg.Direction == geo.Westward {
		geoWidth, geoHeight = geoHeight, geoWidth
	}

	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		defer cache.Close()
	}

	fetcher, err := fetch.NewFetcher(fetch.Config{
		URLTemplate: cfg.URLTemplate,
		UserAgent:   cfg.UserAgent,
		RateLimit:   cfg.RateLimit,
	}, cache, log)
	if err != nil {
		return nil, err
	}
	engine := fetch.NewEngine(fetcher, fetch.EngineOptions{
		PollInterval: cfg.PollInterval,
		Progress:     cfg.Progress,
	}, log)

	maxTries := cfg.MaxTries
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}

	var (
		point geo.GeoPoint
		rect  geo.GeoRect
		g     *grid.Grid
		zoom  int
		found bool
	)
	for try := 0; try < maxTries && !found; try++ {
		if cfg.Point != nil {
			point = *cfg.Point
		} else {
			point, err = cfg.Sampler.RandomPoint()
			if err != nil {
				return nil, err
			}
		}
		log.Debug("selected point", "point", point.Fancy())

		zoom, err = point.ComputeZoomLevel(cons.maxMetersPerPixel)
		if err != nil {
			return nil, err
		}
		log.Debug("computed zoom level", "zoom", zoom)

		rect, err = geo.AroundGeoPoint(point, geoWidth, geoHeight)
		if err != nil {
			return nil, err
		}

		g, err = grid.FromRect(rect, zoom, cfg.Direction)
		if err != nil {
			return nil, err
		}
		log.Debug("derived tile grid", "width", g.Width(), "height", g.Height())

		// a pinned point means the caller accepts whatever imagery is
		// there, so the quality gate only applies to sampled points
		if cfg.Point != nil {
			found = true
			break
		}

		log.Info("checking imagery quality", "point", point.Fancy(), "zoom", zoom)
		ok, err := engine.HasHighQualityImagery(ctx, g, cfg.QualityCheckDelta)
		if err != nil {
			return nil, err
		}
		if ok {
			found = true
		} else {
			log.Info("imagery not good enough, resampling", "try", try+1, "of", maxTries)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w after %d tries", ErrQualityExhausted, maxTries)
	}

	log.Info("downloading tiles", "count", g.Count(), "zoom", zoom)
	if err := engine.Download(ctx, g); err != nil {
		return nil, err
	}

	log.Info("stitching tiles")
	img, err := mosaic.Stitch(g)
	if err != nil {
		return nil, err
	}

	log.Info("cropping to requested area")
	img.Crop(rect, zoom, cfg.Direction)

	if cons.imageWidth > 0 || cons.imageHeight > 0 {
		w := int(math.Round(cons.imageWidth))
		h := int(math.Round(cons.imageHeight))
		log.Info("scaling image", "width", w, "height", h)
		img.Scale(w, h)
	}

	if cfg.Enhance {
		log.Info("enhancing image")
		img.Enhance()
	}

	path := expandOutputPath(cfg.OutputTemplate, point, rect, g, zoom, cons.maxMetersPerPixel, cfg.Direction)
	log.Info("saving image", "path", path)
	if err := img.Save(path, cfg.JPEGQuality); err != nil {
		return nil, err
	}

	return &Result{
		Image: img.Result(),
		Path:  path,
		Point: point,
		Rect:  rect,
		Zoom:  zoom,
	}, nil
}

func openCache(cfg Config) (fetch.Cache, error) {
	switch {
	case cfg.PathTemplate != "" && cfg.CacheDir != "":
		return nil, errors.New("tile path template and MBTiles cache directory are mutually exclusive")
	case cfg.PathTemplate != "":
		return fetch.NewDiskCache(cfg.PathTemplate, cfg.URLTemplate)
	case cfg.CacheDir != "":
		return fetch.NewMBTilesCache(cfg.CacheDir, cfg.URLTemplate, cfg.Direction.String(), cfg.Direction.Angle())
	}
	return nil, nil
}

// expandOutputPath fills the output path template. Supported placeholders:
// {datetime}, {direction}, {latitude}, {longitude}, {zoom}, {xmin}, {xmax},
// {ymin}, {ymax}, {georect}.
func expandOutputPath(template string, p geo.GeoPoint, rect geo.GeoRect, g *grid.Grid, zoom int, mpp float64, direction geo.ViewDirection) string {
	origin := g.At(0, 0)
	return strings.NewReplacer(
		"{datetime}", time.Now().Format("2006-01-02T15.04.05"),
		"{direction}", direction.String(),
		"{latitude}", fmt.Sprintf("%v", p.Lat),
		"{longitude}", fmt.Sprintf("%v", p.Lon),
		"{zoom}", fmt.Sprintf("%d", zoom),
		"{max_meters_per_pixel}", fmt.Sprintf("%v", mpp),
		"{xmin}", fmt.Sprintf("%d", origin.X),
		"{xmax}", fmt.Sprintf("%d", origin.X+g.Width()),
		"{ymin}", fmt.Sprintf("%d", origin.Y),
		"{ymax}", fmt.Sprintf("%d", origin.Y+g.Height()),
		"{georect}", fmt.Sprintf("sw%v,%vne%v,%v", rect.SW.Lat, rect.SW.Lon, rect.NE.Lat, rect.NE.Lon),
	).Replace(template)
}

// Package fetch downloads map tiles: the per-tile cache-or-download state
// machine, the concurrent acquisition engine with its progress monitor and
// retry pass, and the pre-flight imagery quality gate.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// DefaultUserAgent mimics a desktop browser; some providers refuse requests
// without a plausible one.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15"

// ErrBadTileFormat marks a protocol violation: a successful response whose
// body is not a 256×256 3-channel image. Unlike a failed download this is a
// hard fault, since it means the provider contract itself changed.
var ErrBadTileFormat = errors.New("tile is not a 256x256 3-channel image")

// Config carries the resolved tile URL template and transport settings.
// The template supports the placeholders {zoom}, {x}, {y} and {angle}.
type Config struct {
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration

	// RateLimit caps requests per second across all workers; zero means
	// unlimited. RateBurst defaults to 1 when a limit is set.
	RateLimit float64
	RateBurst int
}

// Fetcher loads single tiles, from cache when possible, from the network
// otherwise.
type Fetcher struct {
	client      *http.Client
	limiter     *rate.Limiter
	urlTemplate string
	userAgent   string
	cache       Cache
	log         *slog.Logger
}

// NewFetcher builds a fetcher. cache may be nil to disable caching.
func NewFetcher(cfg Config, cache Cache, log *slog.Logger) (*Fetcher, error) {
	if cfg.URLTemplate == "" {
		return nil, errors.New("tile URL template must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		limiter:     limiter,
		urlTemplate: cfg.URLTemplate,
		userAgent:   userAgent,
		cache:       cache,
		log:         log,
	}, nil
}

// URL expands the URL template for a tile.
func (f *Fetcher) URL(t *grid.Tile) string {
	return strings.NewReplacer(
		"{zoom}", strconv.Itoa(t.Zoom),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{angle}", strconv.Itoa(t.Direction.Angle()),
	).Replace(f.urlTemplate)
}

// Load brings a tile to a terminal state: StatusCached on a cache hit,
// otherwise StatusDownloaded or StatusError via the network. Connection
// failures and non-200 responses leave the tile in StatusError and return
// nil; only protocol violations (ErrBadTileFormat) surface as errors.
func (f *Fetcher) Load(ctx context.Context, t *grid.Tile) error {
	if f.cache != nil {
		if data, err := f.cache.Get(t); err == nil {
			if img, err := decodeTile(data); err == nil {
				t.SetImage(img)
				t.SetStatus(grid.StatusCached)
				return nil
			}
			// unreadable cache entry, fall through to the network
		}
	}
	return f.download(ctx, t)
}

func (f *Fetcher) download(ctx context.Context, t *grid.Tile) error {
	t.SetStatus(grid.StatusDownloading)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			t.SetStatus(grid.StatusError)
			return err
		}
	}

	url := f.URL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.SetStatus(grid.StatusError)
		return fmt.Errorf("failed to build request for %s: %w", t, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// a warning, not an error: quality-probe tiles are expected
		// to fail sometimes
		f.log.Warn("tile download failed", "tile", t.String(), "error", err)
		t.SetStatus(grid.StatusError)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.log.Warn("tile download failed", "tile", t.String(), "status", resp.StatusCode)
		t.SetStatus(grid.StatusError)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		f.log.Warn("tile body read failed", "tile", t.String(), "error", err)
		t.SetStatus(grid.StatusError)
		return nil
	}

	img, err := decodeTile(data)
	if err != nil {
		t.SetStatus(grid.StatusError)
		return fmt.Errorf("%w: %s: %v", ErrBadTileFormat, t, err)
	}
	if err := validateTile(img); err != nil {
		t.SetStatus(grid.StatusError)
		return fmt.Errorf("%w: %s: %v", ErrBadTileFormat, t, err)
	}

	// persist the raw provider bytes, not a re-encoded copy
	if f.cache != nil {
		if err := f.cache.Put(t, data); err != nil {
			f.log.Warn("tile cache write failed", "tile", t.String(), "error", err)
		}
	}

	t.SetImage(img)
	t.SetStatus(grid.StatusDownloaded)
	return nil
}

func decodeTile(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// validateTile asserts the provider contract: exactly 256×256 pixels in a
// 3-channel color format.
func validateTile(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != geo.TileSize || b.Dy() != geo.TileSize {
		return fmt.Errorf("unexpected size %dx%d", b.Dx(), b.Dy())
	}
	switch img.(type) {
	case *image.YCbCr, *image.RGBA, *image.NRGBA:
		return nil
	}
	return fmt.Errorf("unexpected pixel format %T", img)
}

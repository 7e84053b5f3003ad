package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
	"github.com/MeKo-Tech/aeromosaic/internal/pipeline"
	"github.com/MeKo-Tech/aeromosaic/internal/region"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one mosaic",
	Long: `Capture downloads the tiles covering the configured area (or a random
point inside the configured region), stitches them into a mosaic, crops it
to exactly the requested rectangle, and optionally rescales and enhances
the result.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("tile-url", "", "Resolved tile URL template with {zoom}/{x}/{y} (and {angle} for oblique views) placeholders (required)")
	captureCmd.Flags().String("tile-path-template", "", "Per-file tile cache path template with {angle_if_oblique}/{zoom}/{x}/{y}/{hash} placeholders (cache off if empty)")
	captureCmd.Flags().String("cache-dir", "", "Directory for an MBTiles tile cache (alternative to --tile-path-template)")

	captureCmd.Flags().StringP("point", "p", "", "Pinned center point as 'lat,lon' (skips region sampling and the quality gate)")
	captureCmd.Flags().String("region", "", "GeoJSON file with the polygon(s) to sample a random point from")
	captureCmd.Flags().Int("sample-tries", region.DefaultMaxTries, "Rejection-sampling bound for the region sampler")

	captureCmd.Flags().Float64P("width", "w", 0, "Width of the depicted area in meters (required)")
	captureCmd.Flags().Float64P("height", "h", 0, "Height of the depicted area in meters (required)")
	captureCmd.Flags().Float64P("max-meters-per-pixel", "m", 0, "Resolution constraint in meters per pixel")
	captureCmd.Flags().Float64("image-width", 0, "Output image width in pixels (optional)")
	captureCmd.Flags().Float64("image-height", 0, "Output image height in pixels (optional)")

	captureCmd.Flags().String("direction", "downward", "View direction: downward, northward, eastward, southward, westward")
	captureCmd.Flags().Int("max-tries", pipeline.DefaultMaxTries, "Resample attempts before giving up on the quality gate")
	captureCmd.Flags().Int("quality-check-delta", 0, "Zoom subdivision used by the imagery quality gate (default 2)")

	captureCmd.Flags().Bool("enhance", false, "Apply the fixed contrast/brightness lift")
	captureCmd.Flags().Int("jpeg-quality", 90, "JPEG quality for the output image")
	captureCmd.Flags().StringP("output", "o", "aeromosaic-{datetime}.jpg", "Output path template")
	captureCmd.Flags().Float64("rate-limit", 0, "Tile requests per second (0 = unlimited)")
	captureCmd.Flags().Bool("progress", true, "Show the live download progress display")
	captureCmd.Flags().Int64("seed", 0, "Seed for point sampling (0 = time-based)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"capture.tile_url", "tile-url"},
		{"capture.tile_path_template", "tile-path-template"},
		{"capture.cache_dir", "cache-dir"},
		{"capture.point", "point"},
		{"capture.region", "region"},
		{"capture.sample_tries", "sample-tries"},
		{"capture.width", "width"},
		{"capture.height", "height"},
		{"capture.max_meters_per_pixel", "max-meters-per-pixel"},
		{"capture.image_width", "image-width"},
		{"capture.image_height", "image-height"},
		{"capture.direction", "direction"},
		{"capture.max_tries", "max-tries"},
		{"capture.quality_check_delta", "quality-check-delta"},
		{"capture.enhance", "enhance"},
		{"capture.jpeg_quality", "jpeg-quality"},
		{"capture.output", "output"},
		{"capture.rate_limit", "rate-limit"},
		{"capture.progress", "progress"},
		{"capture.seed", "seed"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, captureCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	urlTemplate := viper.GetString("capture.tile_url")
	if urlTemplate == "" {
		return fmt.Errorf("--tile-url is required")
	}

	direction, err := geo.ParseViewDirection(viper.GetString("capture.direction"))
	if err != nil {
		return err
	}

	seed := viper.GetInt64("capture.seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	cfg := pipeline.Config{
		URLTemplate:       urlTemplate,
		PathTemplate:      viper.GetString("capture.tile_path_template"),
		CacheDir:          viper.GetString("capture.cache_dir"),
		Direction:         direction,
		WidthM:            viper.GetFloat64("capture.width"),
		HeightM:           viper.GetFloat64("capture.height"),
		MaxMetersPerPixel: viper.GetFloat64("capture.max_meters_per_pixel"),
		ImageWidth:        viper.GetFloat64("capture.image_width"),
		ImageHeight:       viper.GetFloat64("capture.image_height"),
		MaxTries:          viper.GetInt("capture.max_tries"),
		QualityCheckDelta: viper.GetInt("capture.quality_check_delta"),
		Enhance:           viper.GetBool("capture.enhance"),
		JPEGQuality:       viper.GetInt("capture.jpeg_quality"),
		OutputTemplate:    viper.GetString("capture.output"),
		RateLimit:         viper.GetFloat64("capture.rate_limit"),
		Progress:          viper.GetBool("capture.progress"),
	}

	pointSpec := viper.GetString("capture.point")
	regionPath := viper.GetString("capture.region")
	switch {
	case pointSpec != "":
		p, err := parsePoint(pointSpec)
		if err != nil {
			return err
		}
		cfg.Point = &p
	case regionPath != "":
		sampler, err := region.LoadGeoJSON(regionPath, rng)
		if err != nil {
			return err
		}
		sampler.MaxTries = viper.GetInt("capture.sample_tries")
		cfg.Sampler = sampler
	default:
		return fmt.Errorf("either --point or --region is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("capture complete",
		"path", result.Path,
		"point", result.Point.Fancy(),
		"zoom", result.Zoom,
	)
	fmt.Println(result.Path)
	return nil
}

func parsePoint(spec string) (geo.GeoPoint, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return geo.GeoPoint{}, fmt.Errorf("point must be 'lat,lon', got %q", spec)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.GeoPoint{}, fmt.Errorf("invalid latitude in %q: %w", spec, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.GeoPoint{}, fmt.Errorf("invalid longitude in %q: %w", spec, err)
	}
	return geo.NewGeoPoint(lat, lon)
}

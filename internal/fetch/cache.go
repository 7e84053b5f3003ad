package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/aeromosaic/internal/grid"
	"github.com/MeKo-Tech/aeromosaic/internal/mbtiles"
)

// Cache stores the raw provider bytes of downloaded tiles, never a
// re-encoded copy. Entries are keyed by zoom/direction/coordinates plus a
// short hash of the tile URL template so that switching providers
// invalidates stale entries.
type Cache interface {
	Get(t *grid.Tile) ([]byte, error)
	Put(t *grid.Tile, data []byte) error
	Close() error
}

// templateHash returns the first 8 hex characters of the SHA-256 of the
// tile URL template.
func templateHash(urlTemplate string) string {
	sum := sha256.Sum256([]byte(urlTemplate))
	return hex.EncodeToString(sum[:])[:8]
}

// DiskCache keeps one file per tile. The path template supports the
// placeholders {angle_if_oblique}, {zoom}, {x}, {y} and {hash}; since every
// tile expands to a unique path, concurrent workers never contend on the
// same file.
type DiskCache struct {
	pathTemplate string
	hash         string
}

// NewDiskCache builds a disk cache from a tile path template and the URL
// template whose hash keys the entries.
func NewDiskCache(pathTemplate, urlTemplate string) (*DiskCache, error) {
	if pathTemplate == "" {
		return nil, fmt.Errorf("tile path template must not be empty")
	}
	return &DiskCache{
		pathTemplate: pathTemplate,
		hash:         templateHash(urlTemplate),
	}, nil
}

// Path expands the path template for a tile.
func (c *DiskCache) Path(t *grid.Tile) string {
	angle := ""
	if t.Direction.IsOblique() {
		angle = fmt.Sprintf("deg%d", t.Direction.Angle())
	}
	return strings.NewReplacer(
		"{angle_if_oblique}", angle,
		"{zoom}", strconv.Itoa(t.Zoom),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{hash}", c.hash,
	).Replace(c.pathTemplate)
}

func (c *DiskCache) Get(t *grid.Tile) ([]byte, error) {
	return os.ReadFile(c.Path(t))
}

func (c *DiskCache) Put(t *grid.Tile, data []byte) error {
	path := c.Path(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create tile cache directory: %w", err)
	}

	// write-then-rename so a crashed run never leaves a truncated tile
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", t, err)
	}
	return os.Rename(tmp, path)
}

func (c *DiskCache) Close() error { return nil }

// MBTilesCache stores tiles in a single SQLite MBTiles database instead of
// one file per tile. Oblique directions get their own database file since
// the MBTiles key is only (zoom, column, row); the URL-template hash is also
// part of the file name, so a provider switch starts a fresh database.
type MBTilesCache struct {
	store *mbtiles.Store
}

// NewMBTilesCache opens (or creates) the cache database for the given
// direction under dir.
func NewMBTilesCache(dir, urlTemplate string, direction string, angle int) (*MBTilesCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	hash := templateHash(urlTemplate)
	name := fmt.Sprintf("tiles-%s.mbtiles", hash)
	if angle >= 0 {
		name = fmt.Sprintf("tiles-%s-deg%d.mbtiles", hash, angle)
	}

	store, err := mbtiles.Open(filepath.Join(dir, name), mbtiles.Metadata{
		Name:         "aeromosaic tile cache",
		Description:  fmt.Sprintf("raw provider tiles, %s view", direction),
		TemplateHash: hash,
	})
	if err != nil {
		return nil, err
	}
	return &MBTilesCache{store: store}, nil
}

func (c *MBTilesCache) Get(t *grid.Tile) ([]byte, error) {
	return c.store.ReadTile(t.Zoom, t.X, t.Y)
}

func (c *MBTilesCache) Put(t *grid.Tile, data []byte) error {
	return c.store.WriteTile(t.Zoom, t.X, t.Y, data)
}

func (c *MBTilesCache) Close() error {
	return c.store.Close()
}

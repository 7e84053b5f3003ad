package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/aeromosaic/internal/geo"
	"github.com/MeKo-Tech/aeromosaic/internal/grid"
)

// tileJPEG encodes a uniformly colored tile-sized JPEG.
func tileJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, geo.TileSize, geo.TileSize))
	for y := 0; y < geo.TileSize; y++ {
		for x := 0; x < geo.TileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// tileServer serves the same JPEG for every request and counts requests per
// path.
func tileServer(t *testing.T, hits map[string]int) *httptest.Server {
	t.Helper()
	data := tileJPEG(t, color.RGBA{R: 120, G: 140, B: 90, A: 255})
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits[r.URL.Path]++
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	}))
}

func TestFetcherURL(t *testing.T) {
	f, err := NewFetcher(Config{URLTemplate: "https://tiles.example.com/{zoom}/{x}/{y}.jpg?deg={angle}"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tile := grid.NewTile(13, geo.Eastward, 6972, 3175)
	want := "https://tiles.example.com/13/6972/3175.jpg?deg=90"
	if got := f.URL(tile); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestNewFetcherRequiresTemplate(t *testing.T) {
	if _, err := NewFetcher(Config{}, nil, nil); err == nil {
		t.Error("empty URL template accepted")
	}
}

func TestLoadDownloads(t *testing.T) {
	hits := map[string]int{}
	srv := tileServer(t, hits)
	defer srv.Close()

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tile := grid.NewTile(13, geo.Downward, 10, 20)
	if err := f.Load(context.Background(), tile); err != nil {
		t.Fatal(err)
	}

	if tile.Status() != grid.StatusDownloaded {
		t.Errorf("status = %v, want downloaded", tile.Status())
	}
	if tile.Image() == nil {
		t.Fatal("tile carries no image")
	}
	if b := tile.Image().Bounds(); b.Dx() != geo.TileSize || b.Dy() != geo.TileSize {
		t.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), geo.TileSize, geo.TileSize)
	}
	if hits["/13/10/20.jpg"] != 1 {
		t.Errorf("server hits = %v, want one request for /13/10/20.jpg", hits)
	}
}

func TestLoadSoftFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tile := grid.NewTile(5, geo.Downward, 1, 2)
	if err := f.Load(context.Background(), tile); err != nil {
		t.Errorf("a missing tile should not surface an error, got %v", err)
	}
	if tile.Status() != grid.StatusError {
		t.Errorf("status = %v, want error", tile.Status())
	}
}

func TestLoadConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tile := grid.NewTile(5, geo.Downward, 1, 2)
	if err := f.Load(context.Background(), tile); err != nil {
		t.Errorf("a connection failure should not surface an error, got %v", err)
	}
	if tile.Status() != grid.StatusError {
		t.Errorf("status = %v, want error", tile.Status())
	}
}

func TestLoadBadTileFormat(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 100, 100))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body []byte
	}{
		{"wrong size", buf.Bytes()},
		{"not an image", []byte("<html>not a tile</html>")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(tt.body)
			}))
			defer srv.Close()

			f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg"}, nil, nil)
			if err != nil {
				t.Fatal(err)
			}

			tile := grid.NewTile(5, geo.Downward, 1, 2)
			err = f.Load(context.Background(), tile)
			if !errors.Is(err, ErrBadTileFormat) {
				t.Errorf("error = %v, want ErrBadTileFormat", err)
			}
			if tile.Status() != grid.StatusError {
				t.Errorf("status = %v, want error", tile.Status())
			}
		})
	}
}

func TestLoadUsesUserAgent(t *testing.T) {
	var gotAgent string
	data := tileJPEG(t, color.RGBA{A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Write(data)
	}))
	defer srv.Close()

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg", UserAgent: "test-agent/1.0"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Load(context.Background(), grid.NewTile(1, geo.Downward, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if gotAgent != "test-agent/1.0" {
		t.Errorf("User-Agent = %q", gotAgent)
	}

	f, err = NewFetcher(Config{URLTemplate: srv.URL + "/{zoom}/{x}/{y}.jpg"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Load(context.Background(), grid.NewTile(1, geo.Downward, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if gotAgent != DefaultUserAgent {
		t.Errorf("default User-Agent = %q", gotAgent)
	}
}

func TestLoadDiskCacheRoundTrip(t *testing.T) {
	hits := map[string]int{}
	srv := tileServer(t, hits)
	defer srv.Close()

	urlTemplate := srv.URL + "/{zoom}/{x}/{y}.jpg"
	pathTemplate := filepath.Join(t.TempDir(), "{hash}", "{zoom}", "{x}_{y}.jpg")
	cache, err := NewDiskCache(pathTemplate, urlTemplate)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	f, err := NewFetcher(Config{URLTemplate: urlTemplate}, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := grid.NewTile(13, geo.Downward, 10, 20)
	if err := f.Load(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if first.Status() != grid.StatusDownloaded {
		t.Fatalf("first load status = %v, want downloaded", first.Status())
	}

	// the cache keeps the raw provider bytes, not a re-encoded image
	onDisk, err := os.ReadFile(cache.Path(first))
	if err != nil {
		t.Fatal(err)
	}
	served := tileJPEG(t, color.RGBA{R: 120, G: 140, B: 90, A: 255})
	if !bytes.Equal(onDisk, served) {
		t.Error("cached bytes differ from the provider payload")
	}

	second := grid.NewTile(13, geo.Downward, 10, 20)
	if err := f.Load(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if second.Status() != grid.StatusCached {
		t.Errorf("second load status = %v, want cached", second.Status())
	}
	if second.Image() == nil {
		t.Error("cached load carries no image")
	}
	if hits["/13/10/20.jpg"] != 1 {
		t.Errorf("server hits = %v, want exactly one download", hits)
	}
}

func TestLoadRecoversFromCorruptCacheEntry(t *testing.T) {
	hits := map[string]int{}
	srv := tileServer(t, hits)
	defer srv.Close()

	urlTemplate := srv.URL + "/{zoom}/{x}/{y}.jpg"
	pathTemplate := filepath.Join(t.TempDir(), "{zoom}_{x}_{y}_{hash}.jpg")
	cache, err := NewDiskCache(pathTemplate, urlTemplate)
	if err != nil {
		t.Fatal(err)
	}

	tile := grid.NewTile(7, geo.Downward, 3, 4)
	if err := os.WriteFile(cache.Path(tile), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFetcher(Config{URLTemplate: urlTemplate}, cache, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Load(context.Background(), tile); err != nil {
		t.Fatal(err)
	}
	if tile.Status() != grid.StatusDownloaded {
		t.Errorf("status = %v, want downloaded after falling back to the network", tile.Status())
	}
}

func TestDiskCachePath(t *testing.T) {
	cache, err := NewDiskCache("/cache/{angle_if_oblique}/{zoom}/{x}/{y}-{hash}.jpg", "https://tiles.example.com/{zoom}/{x}/{y}")
	if err != nil {
		t.Fatal(err)
	}

	hash := templateHash("https://tiles.example.com/{zoom}/{x}/{y}")
	if len(hash) != 8 {
		t.Fatalf("template hash %q is not 8 characters", hash)
	}

	flat := grid.NewTile(13, geo.Downward, 1, 2)
	if got, want := cache.Path(flat), "/cache//13/1/2-"+hash+".jpg"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}

	oblique := grid.NewTile(13, geo.Southward, 1, 2)
	if got, want := cache.Path(oblique), "/cache/deg180/13/1/2-"+hash+".jpg"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}

	if _, err := NewDiskCache("", "x"); err == nil {
		t.Error("empty path template accepted")
	}
}

func TestTemplateHashDiscriminates(t *testing.T) {
	a := templateHash("https://a.example.com/{zoom}/{x}/{y}")
	b := templateHash("https://b.example.com/{zoom}/{x}/{y}")
	if a == b {
		t.Error("different templates share a hash")
	}
	if a != templateHash("https://a.example.com/{zoom}/{x}/{y}") {
		t.Error("hash is not deterministic")
	}
}

func TestMBTilesCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewMBTilesCache(dir, "https://tiles.example.com/{zoom}/{x}/{y}", "downward", -1)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	tile := grid.NewTile(9, geo.Downward, 44, 88)
	if _, err := cache.Get(tile); err == nil {
		t.Error("empty cache returned a tile")
	}

	data := []byte{0xff, 0xd8, 0xff}
	if err := cache.Put(tile, data); err != nil {
		t.Fatal(err)
	}
	got, err := cache.Get(tile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %x, want %x", got, data)
	}
}

func TestMBTilesCacheSeparatesObliqueAngles(t *testing.T) {
	dir := t.TempDir()
	urlTemplate := "https://tiles.example.com/{zoom}/{x}/{y}/{angle}"

	flat, err := NewMBTilesCache(dir, urlTemplate, "downward", -1)
	if err != nil {
		t.Fatal(err)
	}
	defer flat.Close()

	east, err := NewMBTilesCache(dir, urlTemplate, "eastward", 90)
	if err != nil {
		t.Fatal(err)
	}
	defer east.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mbtiles" {
			names = append(names, e.Name())
		}
	}
	if len(names) != 2 {
		t.Fatalf("got database files %v, want one per view direction", names)
	}
}

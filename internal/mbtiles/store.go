// Package mbtiles stores raw map tiles in a SQLite database following the
// MBTiles schema. It backs the single-file variant of the tile cache.
package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrTileNotFound is returned when the requested tile is not in the store.
var ErrTileNotFound = errors.New("tile not found")

// Metadata describes the tileset. TemplateHash identifies the provider URL
// template the tiles came from; opening a store whose recorded hash differs
// fails rather than silently mixing providers.
type Metadata struct {
	Name         string
	Description  string
	Format       string
	TemplateHash string
}

func (m Metadata) toMap() map[string]string {
	result := map[string]string{
		"name": m.Name,
		"type": "baselayer",
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.Format != "" {
		result["format"] = m.Format
	}
	if m.TemplateHash != "" {
		result["template_hash"] = m.TemplateHash
	}
	return result
}

// Store reads and writes tiles in one MBTiles database. Tile bytes are
// stored exactly as handed in; no compression or re-encoding, so the cache
// round-trips the provider's payload byte for byte.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path, initializing the schema and
// metadata as needed.
func Open(path string, meta Metadata) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkTemplateHash(db, meta.TemplateHash); err != nil {
		db.Close()
		return nil, err
	}

	if err := writeMetadata(db, meta); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func checkTemplateHash(db *sql.DB, hash string) error {
	if hash == "" {
		return nil
	}
	var existing string
	err := db.QueryRow("SELECT value FROM metadata WHERE name = 'template_hash'").Scan(&existing)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read template hash: %w", err)
	}
	if existing != hash {
		return fmt.Errorf("cache was built for a different URL template (hash %s, want %s)", existing, hash)
	}
	return nil
}

func writeMetadata(db *sql.DB, meta Metadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.toMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to write metadata %q: %w", key, err)
		}
	}
	return nil
}

// WriteTile stores the raw bytes for a tile. Coordinates are XYZ; the row
// is flipped to TMS as the MBTiles spec requires. An existing entry is
// replaced.
func (s *Store) WriteTile(z, x, y int, data []byte) error {
	tmsY := (1 << z) - 1 - y
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
		z, x, tmsY, data,
	)
	if err != nil {
		return fmt.Errorf("failed to write tile %d/%d/%d: %w", z, x, y, err)
	}
	return nil
}

// ReadTile returns the raw bytes for a tile, or ErrTileNotFound.
func (s *Store) ReadTile(z, x, y int) ([]byte, error) {
	tmsY := (1 << z) - 1 - y

	var data []byte
	err := s.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		z, x, tmsY,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrTileNotFound, z, x, y)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, nil
}

// Count returns the number of stored tiles.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

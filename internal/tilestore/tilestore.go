// Package tilestore implements a content-addressed, filesystem-backed cache
// of palette-indexed tile PNGs, keyed by (tx, ty), and the operation that
// stitches a rectangle of tiles into a single image for project diffing.
package tilestore

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/Liz4v/pixel-hawk-sub000/internal/palette"
)

// Store is a filesystem-backed cache of palette-indexed tile images.
type Store struct {
	dir     string
	palette *palette.Palette
}

// New returns a Store that reads and writes tile PNGs under dir.
func New(dir string, pal *palette.Palette) *Store {
	return &Store{dir: dir, palette: pal}
}

// path returns the on-disk cache path for a tile, following the
// "tile-<tx>_<ty>.png" naming convention from the filesystem layout.
func (s *Store) path(tile geometry.Tile) string {
	return filepath.Join(s.dir, fmt.Sprintf("tile-%s.png", tile))
}

// Exists reports whether the tile has a cached file on disk.
func (s *Store) Exists(tile geometry.Tile) bool {
	_, err := os.Stat(s.path(tile))
	return err == nil
}

// ModTime returns the cache file's modification time, used as a proxy for
// the server's Last-Modified header by callers that only kept the file
// itself around. It reports false if the tile has no cached file.
func (s *Store) ModTime(tile geometry.Tile) (time.Time, bool) {
	info, err := os.Stat(s.path(tile))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Read loads the cached paletted image for tile. It returns (nil, nil) if no
// cache file exists for the tile.
func (s *Store) Read(tile geometry.Tile) (*image.Paletted, error) {
	f, err := os.Open(s.path(tile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening cached tile %s: %w", tile, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding cached tile %s: %w", tile, err)
	}

	return s.palette.Coerce(img)
}

// Write atomically replaces the cached file for tile with img, via a
// write-to-temp-then-rename so concurrent readers never observe a partial
// file.
func (s *Store) Write(tile geometry.Tile, img *image.Paletted) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating tile cache dir: %w", err)
	}

	final := s.path(tile)
	tmp, err := os.CreateTemp(s.dir, ".tile-*.png.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for tile %s: %w", tile, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding tile %s: %w", tile, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for tile %s: %w", tile, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("renaming temp file for tile %s: %w", tile, err)
	}
	return nil
}

// StitchResult is the output of Stitch: the composed image plus whether any
// overlapping tile was missing from the cache (and therefore left
// transparent).
type StitchResult struct {
	Image        *image.Paletted
	MissingTiles bool
}

// Stitch composes the cached tiles overlapping rect into a single
// palette-indexed image sized to rect, positioned so that rect's top-left
// pixel is (0,0) in the result. Tiles missing from the cache are left
// transparent (index 0) and set MissingTiles.
func (s *Store) Stitch(rect geometry.Rectangle) (StitchResult, error) {
	size := rect.Size()
	out := s.palette.NewEmpty(image.Rect(0, 0, size.W, size.H))
	result := StitchResult{Image: out}

	for tile := range rect.Tiles() {
		tileImg, err := s.Read(tile)
		if err != nil {
			return StitchResult{}, fmt.Errorf("reading tile %s for stitch: %w", tile, err)
		}
		if tileImg == nil {
			result.MissingTiles = true
			continue
		}

		offset := tile.Origin().Sub(rect.Point())
		dstRect := image.Rect(offset.X, offset.Y, offset.X+geometry.TileSize, offset.Y+geometry.TileSize)
		draw.Draw(out, dstRect, tileImg, image.Point{}, draw.Src)
	}

	return result, nil
}

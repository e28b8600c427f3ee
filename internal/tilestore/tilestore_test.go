package tilestore

import (
	"image"
	"testing"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/Liz4v/pixel-hawk-sub000/internal/palette"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tileRect() image.Rectangle {
	return image.Rect(0, 0, geometry.TileSize, geometry.TileSize)
}

func TestWriteReadRoundTrip(t *testing.T) {
	pal := palette.New()
	store := New(t.TempDir(), pal)
	tile := geometry.NewTile(3, 4)

	img := pal.NewEmpty(tileRect())
	img.SetColorIndex(10, 10, 7)

	require.NoError(t, store.Write(tile, img))
	assert.True(t, store.Exists(tile))

	got, err := store.Read(tile)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, byte(7), got.ColorIndexAt(10, 10))
}

func TestReadMissingReturnsNil(t *testing.T) {
	pal := palette.New()
	store := New(t.TempDir(), pal)
	got, err := store.Read(geometry.NewTile(0, 0))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStitchMarksMissingTiles(t *testing.T) {
	pal := palette.New()
	store := New(t.TempDir(), pal)

	rect := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 2000, H: 1000})
	result, err := store.Stitch(rect)
	require.NoError(t, err)
	assert.True(t, result.MissingTiles)
	assert.Equal(t, 2000, result.Image.Bounds().Dx())
	assert.Equal(t, 1000, result.Image.Bounds().Dy())
}

func TestStitchPastesCachedTileAtOffset(t *testing.T) {
	pal := palette.New()
	store := New(t.TempDir(), pal)

	tile := geometry.NewTile(1, 0)
	tileImg := pal.NewEmpty(tileRect())
	tileImg.SetColorIndex(5, 5, 12)
	require.NoError(t, store.Write(tile, tileImg))

	rect := geometry.RectangleFromPointSize(geometry.Point{X: 500, Y: 0}, geometry.Size{W: 1000, H: 1000})
	result, err := store.Stitch(rect)
	require.NoError(t, err)
	// The rect also covers tile (0,0), which is not cached.
	assert.True(t, result.MissingTiles)
	// tile (1,0) starts at x=1000 globally; rect starts at x=500, so the
	// tile's local pixel (5,5) lands at (1000+5-500, 5) = (505, 5).
	assert.Equal(t, byte(12), result.Image.ColorIndexAt(505, 5))
}


package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileID(t *testing.T) {
	tile := NewTile(3, 5)
	assert.Equal(t, uint32(3*2048+5), tile.ID())
	assert.Equal(t, "3_5", tile.String())
}

func TestPointTo4RoundTrip(t *testing.T) {
	p := PointFrom4(100, 200, 37, 42)
	tx, ty, px, py := p.To4()
	assert.Equal(t, 100, tx)
	assert.Equal(t, 200, ty)
	assert.Equal(t, 37, px)
	assert.Equal(t, 42, py)
}

func TestRectangleTiles(t *testing.T) {
	r := RectangleFromPointSize(Point{X: 950, Y: 0}, Size{W: 100, H: 100})
	tiles := r.Tiles()
	require.Len(t, tiles, 2)
	_, hasTile0 := tiles[Tile{X: 0, Y: 0}]
	_, hasTile1 := tiles[Tile{X: 1, Y: 0}]
	assert.True(t, hasTile0)
	assert.True(t, hasTile1)
}

func TestRectangleTilesEmpty(t *testing.T) {
	r := Rectangle{Left: 10, Top: 10, Right: 10, Bottom: 50}
	assert.True(t, r.Empty())
	assert.Empty(t, r.Tiles())
}

func TestGeoPointRoundTrip(t *testing.T) {
	for _, pt := range []Point{
		{X: 0, Y: 0},
		{X: CanvasSize / 2, Y: CanvasSize / 2},
		{X: CanvasSize - 1, Y: 1},
		{X: 1234567, Y: 987654},
	} {
		geo := GeoPointFromPixel(float64(pt.X), float64(pt.Y))
		back := geo.ToPixel()
		assert.LessOrEqual(t, math.Abs(float64(back.X-pt.X)), 1.0, "x round-trip for %v", pt)
		assert.LessOrEqual(t, math.Abs(float64(back.Y-pt.Y)), 1.0, "y round-trip for %v", pt)
	}
}

func TestSizeToZoomFloorsAtFive(t *testing.T) {
	zoomZero := Size{W: 0, H: 0}.ToZoom(300)
	zoomFive := Size{W: 5, H: 5}.ToZoom(300)
	assert.InDelta(t, zoomZero, zoomFive, 1e-9)
}

func TestRectangleToLinkFormat(t *testing.T) {
	r := RectangleFromPointSize(Point{X: CanvasSize / 2, Y: CanvasSize / 2}, Size{W: 100, H: 100})
	link := r.ToLink(300)
	assert.Contains(t, link, "https://wplace.live/?lat=")
	assert.Contains(t, link, "&lng=")
	assert.Contains(t, link, "&zoom=")
}

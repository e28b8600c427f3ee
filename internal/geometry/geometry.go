// Package geometry provides the immutable value types used to describe
// locations on the shared pixel canvas: tiles, pixel points, rectangular
// project regions, and their projection to geographic coordinates.
package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// TileSize is the width and height, in pixels, of a single canvas tile.
const TileSize = 1000

// TileGridSize is the number of tiles along one edge of the canvas.
const TileGridSize = 2048

// CanvasSize is the total size, in pixels, of one edge of the square canvas.
const CanvasSize = TileGridSize * TileSize

// zoomFactor is log2(CanvasSize / 256), the zoom level at which the
// 256px-tile Web Mercator world is CanvasSize pixels wide, i.e. one canvas
// pixel per screen pixel.
var zoomFactor = math.Log2(float64(CanvasSize) / 256)

// Tile identifies a 1000x1000 pixel region of the canvas by its column and
// row in the 2048x2048 tile lattice.
type Tile struct {
	X, Y uint16
}

// NewTile constructs a Tile from its column and row.
func NewTile(x, y uint16) Tile {
	return Tile{X: x, Y: y}
}

// ID returns the canonical identifier tx*2048+ty used as the tile's
// persistence-layer primary key.
func (t Tile) ID() uint32 {
	return uint32(t.X)*TileGridSize + uint32(t.Y)
}

// String renders the tile as "x_y", matching the on-disk cache filename
// stem and the original project's tile string format.
func (t Tile) String() string {
	return fmt.Sprintf("%d_%d", t.X, t.Y)
}

// ToPoint returns the Point at pixel offset (px, py) within this tile.
func (t Tile) ToPoint(px, py int) Point {
	return Point{X: int(t.X)*TileSize + px, Y: int(t.Y)*TileSize + py}
}

// Origin returns the top-left pixel Point of the tile.
func (t Tile) Origin() Point {
	return t.ToPoint(0, 0)
}

// Point is a pixel coordinate in canvas space.
type Point struct {
	X, Y int
}

// PointFrom4 builds a Point from the (tx, ty, px, py) quadruple used in
// project filenames.
func PointFrom4(tx, ty, px, py int) Point {
	return Point{X: tx*TileSize + px, Y: ty*TileSize + py}
}

// To4 decomposes the point into (tx, ty, px, py).
func (p Point) To4() (tx, ty, px, py int) {
	tx, px = divmod(p.X, TileSize)
	ty, py = divmod(p.Y, TileSize)
	return
}

func divmod(a, b int) (q, r int) {
	q = a / b
	r = a % b
	if r < 0 {
		q--
		r += b
	}
	return
}

// String renders the point as "tx_ty_px_py".
func (p Point) String() string {
	tx, ty, px, py := p.To4()
	return fmt.Sprintf("%d_%d_%d_%d", tx, ty, px, py)
}

// Sub returns p - other.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Size is a pixel width/height pair.
type Size struct {
	W, H int
}

// Empty reports whether the size has zero area.
func (s Size) Empty() bool {
	return s.W == 0 || s.H == 0
}

// ToZoom returns the Web Mercator zoom level at which a viewport of the
// given size (in pixels) would display a subject of this size. The ratio
// uses the larger of the width and height, floored at 5 to avoid divergence
// for degenerate (zero-sized) rectangles.
func (s Size) ToZoom(viewportSize float64) float64 {
	minDim := math.Max(5, math.Max(float64(s.W), float64(s.H)))
	return zoomFactor + math.Log2(viewportSize/minDim)
}

// Rectangle is an axis-aligned pixel rectangle using PIL-style coordinates:
// left/top are inclusive, right/bottom are exclusive.
type Rectangle struct {
	Left, Top, Right, Bottom int
}

// RectangleFromPointSize builds a Rectangle from its top-left point and size.
func RectangleFromPointSize(p Point, s Size) Rectangle {
	return Rectangle{Left: p.X, Top: p.Y, Right: p.X + s.W, Bottom: p.Y + s.H}
}

// Point returns the rectangle's top-left point.
func (r Rectangle) Point() Point {
	return Point{X: min(r.Left, r.Right), Y: min(r.Top, r.Bottom)}
}

// Size returns the rectangle's dimensions.
func (r Rectangle) Size() Size {
	return Size{W: absInt(r.Right - r.Left), H: absInt(r.Bottom - r.Top)}
}

// Empty reports whether the rectangle has zero area.
func (r Rectangle) Empty() bool {
	return r.Left == r.Right || r.Top == r.Bottom
}

// Offset returns the rectangle translated by -p.
func (r Rectangle) Offset(p Point) Rectangle {
	return Rectangle{Left: r.Left - p.X, Top: r.Top - p.Y, Right: r.Right - p.X, Bottom: r.Bottom - p.Y}
}

// Tiles returns the set of tiles this rectangle overlaps. Empty rectangles
// overlap no tiles.
func (r Rectangle) Tiles() map[Tile]struct{} {
	tiles := make(map[Tile]struct{})
	if r.Empty() {
		return tiles
	}
	left := floorDiv(r.Left, TileSize)
	top := floorDiv(r.Top, TileSize)
	right := floorDiv(r.Right+TileSize-1, TileSize)
	bottom := floorDiv(r.Bottom+TileSize-1, TileSize)
	for tx := left; tx < right; tx++ {
		for ty := top; ty < bottom; ty++ {
			tiles[Tile{X: uint16(tx), Y: uint16(ty)}] = struct{}{}
		}
	}
	return tiles
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ToLink builds a wplace.live URL that centers on this rectangle at a zoom
// level that fits the given viewport size (default viewport is 300px,
// matching the original bot's preview links).
func (r Rectangle) ToLink(viewportSize float64) string {
	if viewportSize <= 0 {
		viewportSize = 300
	}
	geo := GeoPointFromPixel(float64(r.Left+r.Right)/2, float64(r.Top+r.Bottom)/2)
	zoom := r.Size().ToZoom(viewportSize)
	return fmt.Sprintf("https://wplace.live/?lat=%.6f&lng=%.6f&zoom=%.3f", geo.Latitude, geo.Longitude, zoom)
}

// GeoPoint is a latitude/longitude coordinate pair.
type GeoPoint struct {
	Latitude, Longitude float64
}

// geo returns the geo point's underlying orb.Point ([lon, lat]), matching
// orb's Point ordering convention.
func (g GeoPoint) geo() orb.Point {
	return orb.Point{g.Longitude, g.Latitude}
}

// GeoPointFromPixel performs the inverse Web Mercator projection of a pixel
// coordinate on the square canvas into WGS84 latitude/longitude.
func GeoPointFromPixel(x, y float64) GeoPoint {
	longitude := x/CanvasSize*360 - 180
	latitude := math.Atan(math.Sinh(math.Pi*(1-2*y/CanvasSize))) * 180 / math.Pi
	return GeoPoint{Latitude: latitude, Longitude: longitude}
}

// ToPixel performs the forward Web Mercator projection from latitude/longitude
// to a pixel Point on the square canvas.
func (g GeoPoint) ToPixel() Point {
	p := g.geo()
	x := (p[0] + 180) / 360 * CanvasSize
	latRad := p[1] * math.Pi / 180
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * CanvasSize
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// Package palette defines the fixed WPlace color table and the logic for
// validating and coercing arbitrary images into palette-indexed byte arrays.
package palette

import (
	"fmt"
	"image"
	"image/color"
	"sort"
)

// hexColors is the official WPlace palette, 64 entries of 24-bit RGB. The
// first entry (FF00FF, magenta) is not part of the real upstream palette;
// it is this system's designated transparency placeholder and is never
// looked up as a real color.
var hexColors = []uint32{
	0xFF00FF, 0x000000, 0x3C3C3C, 0x787878, 0xD2D2D2, 0xFFFFFF, 0x600018, 0xED1C24,
	0xFF7F27, 0xF6AA09, 0xF9DD3B, 0xFFFABC, 0x0EB968, 0x13E67B, 0x87FF5E, 0x0C816E,
	0x10AEA6, 0x13E1BE, 0x60F7F2, 0x28509E, 0x4093E4, 0x6B50F6, 0x99B1FB, 0x780C99,
	0xAA38B9, 0xE09FF9, 0xCB007A, 0xEC1F80, 0xF38DA9, 0x684634, 0x95682A, 0xF8B277,
	0xAAAAAA, 0xA50E1E, 0xFA8072, 0xE45C1A, 0x9C8431, 0xC5AD31, 0xE8D45F, 0x4A6B3A,
	0x5A944A, 0x84C573, 0x0F799F, 0xBBFAF2, 0x7DC7FF, 0x4D31B8, 0x4A4284, 0x7A71C4,
	0xB5AEF1, 0x9B5249, 0xD18078, 0xFAB6A4, 0xDBA463, 0x7B6352, 0x9C846B, 0xD6B594,
	0xD18051, 0xFFC5A5, 0x6D643F, 0x948C6B, 0xCDC59E, 0x333941, 0x6D758D, 0xB3B9D1,
}

// knownAliasFrom/To maps a miscolored value (reported by wplacepaint.com)
// onto the palette entry it should have matched.
const (
	knownAliasFrom uint32 = 0x10AE82
	knownAliasTo   uint32 = 0x10AEA6
)

// TransparentIndex is the palette index that denotes a transparent pixel.
const TransparentIndex byte = 0

// Size is the number of entries in the palette.
const Size = 64 // len(hexColors)

// Palette is an immutable, process-wide color table. Construct it once with
// New and never mutate it afterward.
type Palette struct {
	raw    []byte // Size*3 bytes of packed RGB, for building image.Paletted
	rgb    []uint32
	index  []uint32 // sorted unique RGB values for binary search
	values []byte   // values[i] is the palette index of index[i]
	model  color.Palette
}

// New builds the Palette from the fixed WPlace color table.
func New() *Palette {
	p := &Palette{rgb: hexColors}
	p.raw = make([]byte, 0, Size*3)
	p.model = make(color.Palette, Size)
	rgbToIdx := make(map[uint32]byte, Size)
	for i, c := range hexColors {
		p.raw = append(p.raw, byte(c>>16), byte(c>>8), byte(c))
		p.model[i] = color.RGBA{R: byte(c >> 16), G: byte(c >> 8), B: byte(c), A: 0xff}
		if i != 0 {
			rgbToIdx[c] = byte(i)
		}
	}
	rgbToIdx[knownAliasFrom] = rgbToIdx[knownAliasTo]

	p.index = make([]uint32, 0, len(rgbToIdx))
	for rgb := range rgbToIdx {
		p.index = append(p.index, rgb)
	}
	sort.Slice(p.index, func(i, j int) bool { return p.index[i] < p.index[j] })
	p.values = make([]byte, len(p.index))
	for i, rgb := range p.index {
		p.values[i] = rgbToIdx[rgb]
	}
	return p
}

// RawBytes returns the packed RGB table used to build image.Paletted /
// image.Palette instances, and to detect whether an already-paletted image
// already carries this exact palette.
func (p *Palette) RawBytes() []byte {
	return p.raw
}

// ColorModel returns the color.Palette color model backed by this table.
func (p *Palette) ColorModel() color.Palette {
	return p.model
}

// NotInPaletteError is returned by Coerce when an image contains one or more
// colors that have no match in the palette.
type NotInPaletteError struct {
	// Counts maps the offending 24-bit RGB value to the number of pixels
	// found with that color.
	Counts map[uint32]int
}

func (e *NotInPaletteError) Error() string {
	total := 0
	for _, n := range e.Counts {
		total += n
	}
	if len(e.Counts) > 5 {
		return fmt.Sprintf("found %d pixels not in the palette (%d colors)", total, len(e.Counts))
	}
	detail := ""
	first := true
	for rgb := range e.Counts {
		if !first {
			detail += ", "
		}
		first = false
		detail += fmt.Sprintf("#%06x", rgb)
	}
	return fmt.Sprintf("found %d pixels not in the palette (%s)", total, detail)
}

// lookup returns the palette index for an RGBA color. Alpha 0 always maps to
// TransparentIndex. A color with no exact match is recorded in notFound and
// also mapped to TransparentIndex so callers can keep building output while
// accumulating a full violation report.
func (p *Palette) lookup(r, g, b, a uint32, notFound map[uint32]int) byte {
	if a == 0 {
		return TransparentIndex
	}
	// image.Image colors are expressed in the 16-bits-per-channel model;
	// scale back down to 8 bits.
	rgb := (r>>8)<<16 | (g>>8)<<8 | (b >> 8)
	i := sort.Search(len(p.index), func(i int) bool { return p.index[i] >= rgb })
	if i < len(p.index) && p.index[i] == rgb {
		return p.values[i]
	}
	notFound[rgb]++
	return TransparentIndex
}

// NewEmpty allocates a new palette-indexed image of the given size, filled
// with the transparent index.
func (p *Palette) NewEmpty(size image.Rectangle) *image.Paletted {
	return image.NewPaletted(size, p.model)
}

// Coerce converts img into a palette-indexed image using this palette.
//
// If img is already an *image.Paletted carrying exactly this palette's RGB
// bytes, it is returned unchanged (no copy). Otherwise every pixel is looked
// up by exact RGB match (after the known-alias substitution and the
// alpha==0-is-transparent rule); any unmatched colors are accumulated into a
// NotInPaletteError and Coerce fails without returning a partial image.
func (p *Palette) Coerce(img image.Image) (*image.Paletted, error) {
	if already, ok := img.(*image.Paletted); ok && samePalette(already.Palette, p.model) {
		return already, nil
	}

	bounds := img.Bounds()
	out := p.NewEmpty(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	notFound := make(map[uint32]int)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			idx := p.lookup(r, g, b, a, notFound)
			out.SetColorIndex(x-bounds.Min.X, y-bounds.Min.Y, idx)
		}
	}

	if len(notFound) > 0 {
		return nil, &NotInPaletteError{Counts: notFound}
	}
	return out, nil
}

func samePalette(a, b color.Palette) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ar, ag, ab, aa := a[i].RGBA()
		br, bg, bb, ba := b[i].RGBA()
		if ar != br || ag != bg || ab != bb || aa != ba {
			return false
		}
	}
	return true
}

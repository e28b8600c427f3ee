package palette

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeIs64(t *testing.T) {
	assert.Equal(t, 64, Size)
}

func TestLookupTransparentOnZeroAlpha(t *testing.T) {
	p := New()
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 0})
	out, err := p.Coerce(src)
	require.NoError(t, err)
	assert.Equal(t, TransparentIndex, out.ColorIndexAt(0, 0))
}

func TestLookupExactMatch(t *testing.T) {
	p := New()
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 0x60, G: 0x00, B: 0x18, A: 0xff}) // index 6
	out, err := p.Coerce(src)
	require.NoError(t, err)
	assert.Equal(t, byte(6), out.ColorIndexAt(0, 0))
}

func TestKnownAlias(t *testing.T) {
	p := New()
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 0x10, G: 0xAE, B: 0x82, A: 0xff})
	out, err := p.Coerce(src)
	require.NoError(t, err)

	canonical := image.NewRGBA(image.Rect(0, 0, 1, 1))
	canonical.Set(0, 0, color.RGBA{R: 0x10, G: 0xAE, B: 0xA6, A: 0xff})
	canonicalOut, err := p.Coerce(canonical)
	require.NoError(t, err)

	assert.Equal(t, canonicalOut.ColorIndexAt(0, 0), out.ColorIndexAt(0, 0))
}

func TestUnmatchedColorIsHardError(t *testing.T) {
	p := New()
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 0xff})
	src.Set(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 0xff})

	_, err := p.Coerce(src)
	require.Error(t, err)
	var notInPalette *NotInPaletteError
	require.ErrorAs(t, err, &notInPalette)
	assert.Equal(t, 2, notInPalette.Counts[0x010203])
}

func TestCoerceIdempotentOnAlreadyPaletted(t *testing.T) {
	p := New()
	src := p.NewEmpty(image.Rect(0, 0, 4, 4))
	src.SetColorIndex(1, 1, 5)

	out, err := p.Coerce(src)
	require.NoError(t, err)
	assert.Same(t, src, out)
}

func TestNewEmptyIsAllTransparent(t *testing.T) {
	p := New()
	img := p.NewEmpty(image.Rect(0, 0, 10, 10))
	for _, px := range img.Pix {
		assert.Equal(t, TransparentIndex, px)
	}
}

package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestProcess_Downscale(t *testing.T) {
	p := New(config.PerceptionConfig{CropWidthRatio: 1, MaxWidth: 1280})
	res := p.Process(solid(2560, 1440, color.RGBA{100, 100, 100, 255}))

	assert.Equal(t, image.Pt(1280, 720), res.Size())
	assert.InDelta(t, 2.0, res.ScaleX, 1e-9)
	assert.InDelta(t, 2.0, res.ScaleY, 1e-9)
	assert.Equal(t, schemas.Point{X: 200, Y: 200}, res.ToOriginal(schemas.Point{X: 100, Y: 100}))
}

func TestProcess_SmallFrameUnchanged(t *testing.T) {
	p := New(config.PerceptionConfig{MaxWidth: 1280})
	src := solid(800, 600, color.RGBA{10, 20, 30, 255})
	res := p.Process(src)

	assert.Equal(t, image.Pt(800, 600), res.Size())
	assert.Equal(t, 1.0, res.ScaleX)
	assert.Equal(t, src.RGBAAt(5, 5), res.Image.RGBAAt(5, 5))
	assert.NotSame(t, src, res.Image)
}

func TestProcess_CropKeepsLeftPart(t *testing.T) {
	src := solid(1000, 500, color.RGBA{0, 0, 0, 255})
	for y := 0; y < 500; y++ {
		for x := 700; x < 1000; x++ {
			src.SetRGBA(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	p := New(config.PerceptionConfig{CropWidthRatio: 0.7})
	res := p.Process(src)

	require.Equal(t, image.Pt(700, 500), res.Size())
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, res.Image.RGBAAt(699, 10))
	assert.Equal(t, schemas.Point{X: 350, Y: 250}, res.ToOriginal(schemas.Point{X: 350, Y: 250}))
}

func TestProcess_OffsetFromBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(100, 50, 300, 150))
	res := New(config.PerceptionConfig{}).Process(src)
	assert.Equal(t, schemas.Point{X: 110, Y: 60}, res.ToOriginal(schemas.Point{X: 10, Y: 10}))
}

func TestStretchContrast(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 1))
	for x := 0; x < 100; x++ {
		v := uint8(100 + x/2) // 100..149
		img.SetRGBA(x, 0, color.RGBA{v, v, v, 255})
	}
	stretchContrast(img)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), img.RGBAAt(99, 0).R)

	flat := solid(4, 4, color.RGBA{80, 80, 80, 255})
	stretchContrast(flat)
	assert.Equal(t, uint8(80), flat.RGBAAt(2, 2).R)
}

func TestSharpenFlatIsIdentity(t *testing.T) {
	src := solid(5, 5, color.RGBA{90, 120, 150, 255})
	out := sharpen(src)
	assert.Equal(t, src.Pix, out.Pix)
}

// Package preprocess prepares captured frames for the detectors: crop, bounded
// downscale, and optional contrast and sharpening passes.
package preprocess

import (
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/geometry"
)

// Contrast stretch clips this fraction of luminance at each end.
const stretchClip = 0.01

// Result is a processed frame plus the mapping back to the captured frame.
// A point p in Image maps to geometry.Scale(p, ScaleX, ScaleY, Offset).
type Result struct {
	Image  *image.RGBA
	ScaleX float64
	ScaleY float64
	Offset schemas.Point
}

// ToOriginal maps a point in processed coordinates to the captured frame.
func (r Result) ToOriginal(p schemas.Point) schemas.Point {
	return geometry.Scale(p, r.ScaleX, r.ScaleY, r.Offset)
}

// Size returns the processed image dimensions.
func (r Result) Size() image.Point {
	return r.Image.Bounds().Size()
}

// Preprocessor applies the configured passes.
type Preprocessor struct {
	cropRatio float64
	maxWidth  int
	contrast  bool
	sharpen   bool
}

// New creates a Preprocessor from perception settings.
func New(cfg config.PerceptionConfig) *Preprocessor {
	ratio := cfg.CropWidthRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return &Preprocessor{
		cropRatio: ratio,
		maxWidth:  cfg.MaxWidth,
		contrast:  cfg.Contrast,
		sharpen:   cfg.Sharpen,
	}
}

// Process returns a new image; src is never modified.
func (p *Preprocessor) Process(src image.Image) Result {
	b := src.Bounds()
	cropW := int(float64(b.Dx()) * p.cropRatio)
	if cropW < 1 {
		cropW = b.Dx()
	}
	crop := image.Rect(b.Min.X, b.Min.Y, b.Min.X+cropW, b.Max.Y)

	outW, outH := crop.Dx(), crop.Dy()
	if p.maxWidth > 0 && outW > p.maxWidth {
		outH = int(float64(outH) * float64(p.maxWidth) / float64(outW))
		outW = p.maxWidth
		if outH < 1 {
			outH = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	if outW == crop.Dx() && outH == crop.Dy() {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	}

	if p.contrast {
		stretchContrast(dst)
	}
	if p.sharpen {
		dst = sharpen(dst)
	}

	res := Result{
		Image:  dst,
		ScaleX: 1,
		ScaleY: 1,
		Offset: schemas.Point{X: float64(b.Min.X), Y: float64(b.Min.Y)},
	}
	if outW > 0 && outH > 0 {
		res.ScaleX = float64(crop.Dx()) / float64(outW)
		res.ScaleY = float64(crop.Dy()) / float64(outH)
	}
	return res
}

func luminance(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// stretchContrast linearly maps the [lo, hi] luminance percentile range onto
// [0, 255] for every channel. Flat images are left untouched.
func stretchContrast(img *image.RGBA) {
	n := len(img.Pix) / 4
	if n == 0 {
		return
	}
	lum := make([]uint8, n)
	for i := 0; i < n; i++ {
		px := img.Pix[i*4 : i*4+3]
		lum[i] = luminance(px[0], px[1], px[2])
	}
	sort.Slice(lum, func(i, j int) bool { return lum[i] < lum[j] })
	lo := int(lum[int(float64(n-1)*stretchClip)])
	hi := int(lum[int(float64(n-1)*(1-stretchClip))])
	if hi-lo < 2 {
		return
	}

	var lut [256]uint8
	for v := 0; v < 256; v++ {
		s := (v - lo) * 255 / (hi - lo)
		lut[v] = uint8(max(0, min(255, s)))
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
}

// sharpen applies the 3x3 kernel [0 -1 0; -1 5 -1; 0 -1 0] with edge clamping.
func sharpen(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	at := func(x, y int) color.RGBA {
		x = max(b.Min.X, min(b.Max.X-1, x))
		y = max(b.Min.Y, min(b.Max.Y-1, y))
		return src.RGBAAt(x, y)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := at(x, y)
			n, s, w, e := at(x, y-1), at(x, y+1), at(x-1, y), at(x+1, y)
			k := func(cc, nn, ss, ww, ee uint8) uint8 {
				v := 5*int(cc) - int(nn) - int(ss) - int(ww) - int(ee)
				return uint8(max(0, min(255, v)))
			}
			dst.SetRGBA(x, y, color.RGBA{
				R: k(c.R, n.R, s.R, w.R, e.R),
				G: k(c.G, n.G, s.G, w.G, e.G),
				B: k(c.B, n.B, s.B, w.B, e.B),
				A: c.A,
			})
		}
	}
	return dst
}

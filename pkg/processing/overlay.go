package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/object-detector/pkg/types"
)

var overlayColors = []color.NRGBA{
	{0, 255, 0, 255},   // green
	{255, 204, 0, 255}, // gold
	{0, 170, 255, 255}, // blue
	{255, 0, 0, 255},   // red
}

// CreateDebugOverlay draws every detection box on a copy of img. Boxes are in
// img's pixel coordinates.
func CreateDebugOverlay(img image.Image, results []types.DetectionResult) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side

	for i, r := range results {
		drawBox(nrgba, r.BoundingBox, overlayColors[i%len(overlayColors)], stroke)
	}
	return nrgba
}

func drawBox(img *image.NRGBA, box types.BoundingBox, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := box.Left, box.Top, box.Right, box.Bottom
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

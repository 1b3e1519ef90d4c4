package processing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/object-detector/pkg/types"
)

// I420Size returns the byte length of a tightly packed 4:2:0 planar frame,
// or -1 when that length does not fit in an int
func I420Size(width, height int) int {
	if width > 0 && height > math.MaxInt/4/width {
		return -1
	}
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// FrameToYCbCr views an assembled frame as an image without copying. The
// buffer must be exactly I420Size long; row padding is not supported.
func FrameToYCbCr(frame types.AssembledFrame) (*image.YCbCr, error) {
	if frame.Format != types.FormatYUV420Planar {
		return nil, errors.Errorf("unsupported frame format %s", frame.Format)
	}
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", w, h)
	}
	want := I420Size(w, h)
	if want < 0 {
		return nil, errors.Errorf("frame size %dx%d is too large", w, h)
	}
	if len(frame.Data) != want {
		return nil, errors.Errorf("frame buffer is %d bytes, a packed %dx%d yuv420p frame needs %d", len(frame.Data), w, h, want)
	}

	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch
	return &image.YCbCr{
		Y:              frame.Data[:ySize],
		Cb:             frame.Data[ySize : ySize+cSize],
		Cr:             frame.Data[ySize+cSize : ySize+2*cSize],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}

// FrameToImage converts a frame to an upright image by applying its clockwise rotation
func FrameToImage(frame types.AssembledFrame) (image.Image, error) {
	img, err := FrameToYCbCr(frame)
	if err != nil {
		return nil, err
	}
	return Upright(img, frame.Rotation)
}

// Upright rotates img clockwise by degrees
func Upright(img image.Image, degrees int) (image.Image, error) {
	switch degrees {
	case 0:
		return img, nil
	case 90:
		// imaging rotates counter-clockwise
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, errors.Errorf("unsupported rotation %d", degrees)
	}
}

// RotateBox maps a box in raw sensor coordinates of a width x height frame to
// the upright image produced by a clockwise rotation of degrees
func RotateBox(b types.BoundingBox, width, height, degrees int) types.BoundingBox {
	switch degrees {
	case 90:
		return types.BoundingBox{Left: height - b.Bottom, Top: b.Left, Right: height - b.Top, Bottom: b.Right}
	case 180:
		return types.BoundingBox{Left: width - b.Right, Top: height - b.Bottom, Right: width - b.Left, Bottom: height - b.Top}
	case 270:
		return types.BoundingBox{Left: b.Top, Top: width - b.Right, Right: b.Bottom, Bottom: width - b.Left}
	default:
		return b
	}
}

// ImageToPlanes converts an image to tightly packed Y, U and V planes.
// Chroma samples average each 2x2 block.
func ImageToPlanes(img image.Image) [3][]byte {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	cw, ch := (w+1)/2, (h+1)/2

	yPlane := make([]byte, w*h)
	uPlane := make([]byte, cw*ch)
	vPlane := make([]byte, cw*ch)

	for y := 0; y < h; y++ {
		i := y * src.Stride
		for x := 0; x < w; x++ {
			yy, _, _ := color.RGBToYCbCr(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			yPlane[y*w+x] = yy
			i += 4
		}
	}

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, b, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := 2*cx+dx, 2*cy+dy
					if x >= w || y >= h {
						continue
					}
					i := y*src.Stride + x*4
					r += int(src.Pix[i])
					g += int(src.Pix[i+1])
					b += int(src.Pix[i+2])
					n++
				}
			}
			_, cb, cr := color.RGBToYCbCr(uint8(r/n), uint8(g/n), uint8(b/n))
			uPlane[cy*cw+cx] = cb
			vPlane[cy*cw+cx] = cr
		}
	}

	return [3][]byte{yPlane, uPlane, vPlane}
}

// LoadImageFromURL downloads and loads an image from a URL
func LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", "Object-Detector/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errors.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image data")
	}

	return decodeImageFromBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, errors.Errorf("image: unknown format for %s", path)
}

// LoadImageSmart loads an image from either a file path or URL
func LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return LoadImageFromURL(source)
	}
	return LoadImage(source)
}

func decodeImageFromBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, errors.New("image: unknown or unsupported format")
}

// Fit downscales img so its long side is at most maxDim. It returns the
// scale factor applied (1 when untouched).
func Fit(img image.Image, maxDim int) (image.Image, float64) {
	if maxDim <= 0 {
		return img, 1
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img, 1
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos), float64(maxDim) / float64(w)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos), float64(maxDim) / float64(h)
}

// EncodeForModel encodes img in the format sent to a vision model and returns
// the bytes with their MIME type
func EncodeForModel(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", errors.Wrap(err, "png.Encode")
		}
		return buf.Bytes(), "image/png", nil
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, "", errors.Wrap(err, "webp.Encode")
		}
		return buf.Bytes(), "image/webp", nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", errors.Wrap(err, "jpeg.Encode")
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

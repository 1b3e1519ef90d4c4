package processing

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/object-detector/pkg/types"
)

// createTestImage creates an image with a bright square on a dark background
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x >= width/4 && x < width/2 && y >= height/4 && y < height/2 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{32, 32, 32, 255})
			}
		}
	}
	return img
}

func frameOf(img image.Image, rotation int) types.AssembledFrame {
	p := ImageToPlanes(img)
	data := append(append(append([]byte{}, p[0]...), p[1]...), p[2]...)
	return types.AssembledFrame{
		Data:     data,
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
		Rotation: rotation,
		Format:   types.FormatYUV420Planar,
	}
}

func TestI420Size(t *testing.T) {
	assert.Equal(t, 640*480*3/2, I420Size(640, 480))
	assert.Equal(t, 9+2*4, I420Size(3, 3))
}

func TestI420SizeOverflow(t *testing.T) {
	const side = 1 << (strconv.IntSize / 2)
	assert.Equal(t, -1, I420Size(side, side))

	_, err := FrameToYCbCr(types.AssembledFrame{
		Data:   make([]byte, 4),
		Width:  side,
		Height: side,
		Format: types.FormatYUV420Planar,
	})
	assert.ErrorContains(t, err, "too large")
}

func TestImageToPlanesSizes(t *testing.T) {
	p := ImageToPlanes(createTestImage(5, 3))
	assert.Len(t, p[0], 15)
	assert.Len(t, p[1], 6)
	assert.Len(t, p[2], 6)
}

func TestFrameRoundTrip(t *testing.T) {
	src := createTestImage(64, 48)
	img, err := FrameToImage(frameOf(src, 0))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	r, _, _, _ := img.At(20, 15).RGBA()
	assert.InDelta(t, 255, r>>8, 4, "inside the bright square")
	r, _, _, _ = img.At(60, 40).RGBA()
	assert.InDelta(t, 32, r>>8, 4, "background")
}

func TestFrameToImageRotation(t *testing.T) {
	src := createTestImage(64, 48)
	for _, tc := range []struct {
		rotation int
		w, h     int
	}{{0, 64, 48}, {90, 48, 64}, {180, 64, 48}, {270, 48, 64}} {
		img, err := FrameToImage(frameOf(src, tc.rotation))
		require.NoError(t, err)
		assert.Equal(t, tc.w, img.Bounds().Dx(), "rotation %d", tc.rotation)
		assert.Equal(t, tc.h, img.Bounds().Dy(), "rotation %d", tc.rotation)
	}

	_, err := FrameToImage(frameOf(src, 45))
	assert.Error(t, err)
}

func TestFrameToImagePaddedBuffer(t *testing.T) {
	frame := frameOf(createTestImage(8, 8), 0)
	frame.Data = append(frame.Data, 0, 0, 0, 0)

	_, err := FrameToImage(frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs 96")
}

func TestRotateBoxMatchesImageRotation(t *testing.T) {
	src := createTestImage(64, 48)
	// bright square in sensor coordinates
	box := types.BoundingBox{Left: 16, Top: 12, Right: 32, Bottom: 24}

	for _, rotation := range []int{0, 90, 180, 270} {
		img, err := FrameToImage(frameOf(src, rotation))
		require.NoError(t, err)

		rb := RotateBox(box, 64, 48, rotation)
		assert.Equal(t, box.Area(), rb.Area(), "rotation %d", rotation)

		cx, cy := (rb.Left+rb.Right)/2, (rb.Top+rb.Bottom)/2
		r, _, _, _ := img.At(cx, cy).RGBA()
		assert.InDelta(t, 255, r>>8, 4, "rotation %d centre of rotated box", rotation)
	}
}

func TestFitAndEncode(t *testing.T) {
	img, scale := Fit(createTestImage(400, 200), 100)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
	assert.InDelta(t, 0.25, scale, 1e-9)

	_, scale = Fit(img, 0)
	assert.Equal(t, 1.0, scale)

	for format, mime := range map[string]string{"jpg": "image/jpeg", "png": "image/png", "webp": "image/webp"} {
		data, gotMime, err := EncodeForModel(img, format, 80)
		require.NoError(t, err, format)
		assert.NotEmpty(t, data)
		assert.Equal(t, mime, gotMime)
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	dir := t.TempDir()
	img := createTestImage(32, 32)
	for _, ext := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "frame."+ext)
		require.NoError(t, SaveImage(img, path, ext, 90, false))

		loaded, err := LoadImageSmart(path)
		require.NoError(t, err, ext)
		assert.Equal(t, 32, loaded.Bounds().Dx())
	}
}

func TestCreateDebugOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	out := CreateDebugOverlay(img, []types.DetectionResult{
		{BoundingBox: types.BoundingBox{Left: 10, Top: 10, Right: 50, Bottom: 50}},
		{BoundingBox: types.BoundingBox{Left: -20, Top: 90, Right: 500, Bottom: 140}},
	})
	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, out.NRGBAAt(10, 30))
	assert.Equal(t, color.NRGBA{0, 0, 0, 0}, out.NRGBAAt(30, 30))
	assert.Equal(t, color.NRGBA{255, 204, 0, 255}, out.NRGBAAt(50, 90))
}

func TestLoadErrorsCarryStack(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%+v", err), "processing.LoadImage")

	_, err = LoadImageFromURL("ftp://example.com/a.png")
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%+v", err), "processing.LoadImageFromURL")
}

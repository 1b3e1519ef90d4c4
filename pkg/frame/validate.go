// Package frame turns an untyped frame request into a contiguous pixel buffer.
//
// Validate checks the geometry and plane count of a raw request map and
// Assemble concatenates the three plane segments, luma first, into a single
// buffer. Neither function inspects pixel content or corrects for row padding:
// the caller is trusted to send tightly packed planes.
package frame

import (
	"math"

	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/types"
)

// Keys of the request map
const (
	KeyWidth       = "width"
	KeyHeight      = "height"
	KeyRotation    = "rotation"
	KeyPlanes      = "planes"
	KeyBytes       = "bytes"
	KeyRowStride   = "bytesPerRow"
	KeyPixelStride = "bytesPerPixel"
)

// PlaneCount is the number of planes a 4:2:0 planar frame carries
const PlaneCount = 3

// MaxDimension bounds width and height so frame sizes cannot overflow an int
const MaxDimension = 1 << 16

var (
	// ErrInvalidImageData means the geometry or plane count precondition failed
	ErrInvalidImageData = errors.New("image dimensions or plane maps are invalid")
	// ErrInvalidPlaneBytes means at least one plane has no byte payload
	ErrInvalidPlaneBytes = errors.New("plane bytes are null")
)

// Validate checks a raw request map and extracts a FrameDescriptor.
// Missing, mistyped or out of range integers count as zero.
func Validate(raw map[string]any) (types.FrameDescriptor, error) {
	desc := types.FrameDescriptor{
		Width:    intValue(raw[KeyWidth]),
		Height:   intValue(raw[KeyHeight]),
		Rotation: intValue(raw[KeyRotation]),
	}

	planes, ok := planeMaps(raw[KeyPlanes])
	if !validDimension(desc.Width) || !validDimension(desc.Height) || !ok || len(planes) < PlaneCount {
		return types.FrameDescriptor{}, errors.Wrapf(ErrInvalidImageData,
			"width=%d height=%d planesPresent=%t planeCount=%d", desc.Width, desc.Height, ok, len(planes))
	}

	desc.Planes = make([]types.PlaneSegment, len(planes))
	for i, p := range planes {
		if p == nil {
			continue
		}
		b, _ := p[KeyBytes].([]byte)
		desc.Planes[i] = types.PlaneSegment{
			Bytes:       b,
			RowStride:   intValue(p[KeyRowStride]),
			PixelStride: intValue(p[KeyPixelStride]),
		}
	}
	return desc, nil
}

// planeMaps accepts the list shapes codecs commonly produce. Entries that are
// not maps are kept as nil so their position is preserved.
func planeMaps(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, len(list))
		for i, item := range list {
			out[i], _ = item.(map[string]any)
		}
		return out, true
	default:
		return nil, false
	}
}

func validDimension(n int) bool {
	return n > 0 && n <= MaxDimension
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		if n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
	case uint:
		if n <= math.MaxInt {
			return int(n)
		}
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		if uint64(n) <= math.MaxInt {
			return int(n)
		}
	case uint64:
		if n <= math.MaxInt {
			return int(n)
		}
	case float64:
		// JSON numbers decode as float64; only whole values in int range count
		if n == math.Trunc(n) && n >= math.MinInt && n < math.MaxInt {
			return int(n)
		}
	}
	return 0
}

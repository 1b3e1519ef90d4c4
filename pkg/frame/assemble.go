package frame

import (
	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/types"
)

// Assemble concatenates the luma, chroma-blue and chroma-red planes of desc
// into one buffer of exactly their summed length. Planes beyond the third are
// ignored. No allocation happens unless all three planes carry bytes.
func Assemble(desc types.FrameDescriptor) (types.AssembledFrame, error) {
	if len(desc.Planes) < PlaneCount {
		return types.AssembledFrame{}, errors.Wrapf(ErrInvalidImageData, "planeCount=%d", len(desc.Planes))
	}

	y, u, v := desc.Planes[0], desc.Planes[1], desc.Planes[2]
	if !y.Present() || !u.Present() || !v.Present() {
		return types.AssembledFrame{}, errors.Wrapf(ErrInvalidPlaneBytes,
			"yMissing=%t uMissing=%t vMissing=%t", !y.Present(), !u.Present(), !v.Present())
	}

	data := make([]byte, len(y.Bytes)+len(u.Bytes)+len(v.Bytes))
	n := copy(data, y.Bytes)
	n += copy(data[n:], u.Bytes)
	copy(data[n:], v.Bytes)

	return types.AssembledFrame{
		Data:     data,
		Width:    desc.Width,
		Height:   desc.Height,
		Rotation: desc.Rotation,
		Format:   types.FormatYUV420Planar,
	}, nil
}

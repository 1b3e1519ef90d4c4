package types

// ImageFormat identifies the byte layout of an assembled frame buffer
type ImageFormat int

const (
	// FormatYUV420Planar is 4:2:0 planar, 8-bit per channel, plane-concatenated (Y, then U, then V)
	FormatYUV420Planar ImageFormat = iota + 1
)

// String returns a human readable name for the format
func (f ImageFormat) String() string {
	switch f {
	case FormatYUV420Planar:
		return "yuv420p"
	default:
		return "unknown"
	}
}

// PlaneSegment holds the raw samples of one color plane
type PlaneSegment struct {
	Bytes []byte
	// RowStride and PixelStride are carried for callers that send them; the assembler ignores them.
	RowStride   int
	PixelStride int
}

// Present reports whether the plane carries any sample data
func (p PlaneSegment) Present() bool {
	return len(p.Bytes) > 0
}

// FrameDescriptor is one inbound detection request after validation
type FrameDescriptor struct {
	Width    int
	Height   int
	Rotation int
	// Planes are ordered luma, chroma-blue, chroma-red.
	Planes []PlaneSegment
}

// AssembledFrame is a contiguous pixel buffer ready to hand to an engine
type AssembledFrame struct {
	Data     []byte
	Width    int
	Height   int
	Rotation int
	Format   ImageFormat
}

// UprightSize returns the frame dimensions after applying the rotation
func (f AssembledFrame) UprightSize() (int, int) {
	if f.Rotation == 90 || f.Rotation == 270 {
		return f.Height, f.Width
	}
	return f.Width, f.Height
}

// BoundingBox is an axis-aligned pixel rectangle
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the box width
func (b BoundingBox) Width() int {
	return b.Right - b.Left
}

// Height returns the box height
func (b BoundingBox) Height() int {
	return b.Bottom - b.Top
}

// Area returns the box area, zero for degenerate boxes
func (b BoundingBox) Area() int {
	if b.Right <= b.Left || b.Bottom <= b.Top {
		return 0
	}
	return b.Width() * b.Height()
}

// IoU returns the intersection over union of two boxes
func (b BoundingBox) IoU(o BoundingBox) float64 {
	inter := BoundingBox{
		Left:   max(b.Left, o.Left),
		Top:    max(b.Top, o.Top),
		Right:  min(b.Right, o.Right),
		Bottom: min(b.Bottom, o.Bottom),
	}.Area()
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(b.Area()+o.Area()-inter)
}

// Label is one classification of a detected object
type Label struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Index      int     `json:"index"`
}

// DetectionResult is one detected object
type DetectionResult struct {
	BoundingBox BoundingBox `json:"boundingBox"`
	TrackingID  *int        `json:"trackingId"`
	Labels      []Label     `json:"labels"`
}

// DetectorMode selects how an engine treats consecutive frames
type DetectorMode string

const (
	// StreamMode treats frames as a sequence and may assign tracking ids
	StreamMode DetectorMode = "stream"
	// SingleImageMode treats every frame independently
	SingleImageMode DetectorMode = "single"
)

// DetectorOptions configures an engine when the detector handle is created
type DetectorOptions struct {
	Mode            DetectorMode
	Classification  bool
	MultipleObjects bool
}

// DefaultDetectorOptions returns stream mode with classification and multiple objects enabled
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		Mode:            StreamMode,
		Classification:  true,
		MultipleObjects: true,
	}
}

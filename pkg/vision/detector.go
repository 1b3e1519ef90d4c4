package vision

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/types"
)

// SalientLabel is the label text attached to every region when classification is on
const SalientLabel = "Salient region"

// SubjectDetector finds high-saliency regions in the luma plane of a frame.
// It needs no model and is used for offline runs.
type SubjectDetector struct {
	config DetectionConfig
	opts   types.DetectorOptions

	mu     sync.Mutex
	tracks []track
	nextID int
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold    float64
	ContrastWeight   float64
	BrightnessWeight float64
	MinSubjectRatio  float64
	MaxObjects       int
	// TrackIoU is the overlap needed to keep a tracking id across frames
	TrackIoU float64
}

type track struct {
	id  int
	box types.BoundingBox
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:    0.05,
		ContrastWeight:   0.3,
		BrightnessWeight: 0.2,
		MinSubjectRatio:  0.01,
		MaxObjects:       5,
		TrackIoU:         0.5,
	}
}

// New creates a new SubjectDetector with default configuration
func New(opts types.DetectorOptions) *SubjectDetector {
	return NewWithConfig(DefaultConfig(), opts)
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig, opts types.DetectorOptions) *SubjectDetector {
	if config.MaxObjects <= 0 {
		config.MaxObjects = 1
	}
	return &SubjectDetector{config: config, opts: opts, nextID: 1}
}

// Analyze returns the most salient regions of the frame in upright coordinates
func (d *SubjectDetector) Analyze(ctx context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", w, h)
	}
	if h > len(frame.Data)/w {
		return nil, errors.Errorf("frame buffer is %d bytes, too short for a %dx%d luma plane", len(frame.Data), w, h)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	luma := frame.Data[:w*h]
	integral := d.integralSaliency(luma, w, h)
	regions := d.findImportantRegions(integral, w, h)
	regions = suppress(regions, d.limit())

	maxScore := d.config.ContrastWeight + d.config.BrightnessWeight
	results := make([]types.DetectionResult, 0, len(regions))
	for _, r := range regions {
		res := types.DetectionResult{
			BoundingBox: processing.RotateBox(r.box, w, h, frame.Rotation),
			Labels:      []types.Label{},
		}
		if d.opts.Classification {
			conf := 0.0
			if maxScore > 0 {
				conf = min(r.score/maxScore, 1)
			}
			res.Labels = append(res.Labels, types.Label{Text: SalientLabel, Confidence: conf, Index: -1})
		}
		results = append(results, res)
	}

	if d.opts.Mode == types.StreamMode {
		d.assignTracks(results)
	}
	return results, nil
}

// Close drops tracking state
func (d *SubjectDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracks = nil
	return nil
}

func (d *SubjectDetector) limit() int {
	if !d.opts.MultipleObjects {
		return 1
	}
	return d.config.MaxObjects
}

// integralSaliency computes per-pixel saliency and returns its summed-area
// table with one extra leading row and column
func (d *SubjectDetector) integralSaliency(luma []byte, w, h int) []float64 {
	stride := w + 1
	integral := make([]float64, stride*(h+1))

	for y := 0; y < h; y++ {
		var rowSum float64
		for x := 0; x < w; x++ {
			var s float64
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				c := int(luma[y*w+x])
				var edge int
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						diff := c - int(luma[(y+dy)*w+x+dx])
						if diff < 0 {
							diff = -diff
						}
						edge += diff
					}
				}
				s = d.config.ContrastWeight*float64(edge)/(8*255) + d.config.BrightnessWeight*float64(c)/255
			}
			rowSum += s
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + rowSum
		}
	}
	return integral
}

type region struct {
	box   types.BoundingBox
	score float64
}

func (d *SubjectDetector) findImportantRegions(integral []float64, w, h int) []region {
	stride := w + 1
	mean := func(x, y, size int) float64 {
		sum := integral[(y+size)*stride+x+size] - integral[y*stride+x+size] -
			integral[(y+size)*stride+x] + integral[y*stride+x]
		return sum / float64(size*size)
	}

	short := min(w, h)
	minArea := float64(w*h) * d.config.MinSubjectRatio

	var regions []region
	for _, div := range []int{8, 6, 4, 3, 2} {
		size := short / div
		if size < 8 || float64(size*size) < minArea {
			continue
		}
		step := max(size/4, 1)
		for y := 0; y+size <= h; y += step {
			for x := 0; x+size <= w; x += step {
				score := mean(x, y, size)
				if score <= d.config.EdgeThreshold {
					continue
				}
				regions = append(regions, region{
					box:   types.BoundingBox{Left: x, Top: y, Right: x + size, Bottom: y + size},
					score: score,
				})
			}
		}
	}
	return regions
}

// suppress keeps the best scoring regions that do not overlap a better one
func suppress(regions []region, limit int) []region {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].score > regions[j].score
	})

	var kept []region
	for _, r := range regions {
		if len(kept) == limit {
			break
		}
		overlaps := false
		for _, k := range kept {
			if r.box.IoU(k.box) > 0.3 || contains(k.box, r.box) || contains(r.box, k.box) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, r)
		}
	}
	return kept
}

func contains(outer, inner types.BoundingBox) bool {
	return inner.Left >= outer.Left && inner.Top >= outer.Top &&
		inner.Right <= outer.Right && inner.Bottom <= outer.Bottom
}

// assignTracks reuses the id of the best overlapping box from the previous frame
func (d *SubjectDetector) assignTracks(results []types.DetectionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	used := make([]bool, len(d.tracks))
	next := make([]track, 0, len(results))
	for i := range results {
		best, bestIoU := -1, d.config.TrackIoU
		for j, t := range d.tracks {
			if used[j] {
				continue
			}
			if iou := t.box.IoU(results[i].BoundingBox); iou >= bestIoU {
				best, bestIoU = j, iou
			}
		}

		id := d.nextID
		if best >= 0 {
			used[best] = true
			id = d.tracks[best].id
		} else {
			d.nextID++
		}
		results[i].TrackingID = &id
		next = append(next, track{id: id, box: results[i].BoundingBox})
	}
	d.tracks = next
}

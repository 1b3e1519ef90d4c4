package channel

import (
	"github.com/menta2k/object-detector/pkg/frame"
	"github.com/menta2k/object-detector/pkg/types"
)

// Reply map keys
const (
	KeyBoundingBox = "boundingBox"
	KeyTrackingID  = "trackingId"
	KeyLabels      = "labels"
	KeyText        = "text"
	KeyConfidence  = "confidence"
	KeyIndex       = "index"
)

// EncodeResults converts detections to the reply payload. trackingId is an
// untyped nil when the engine did not track the object.
func EncodeResults(results []types.DetectionResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		labels := make([]map[string]any, 0, len(r.Labels))
		for _, l := range r.Labels {
			labels = append(labels, map[string]any{
				KeyText:       l.Text,
				KeyConfidence: l.Confidence,
				KeyIndex:      l.Index,
			})
		}

		var trackingID any
		if r.TrackingID != nil {
			trackingID = *r.TrackingID
		}

		b := r.BoundingBox
		out = append(out, map[string]any{
			KeyBoundingBox: []int{b.Left, b.Top, b.Right, b.Bottom},
			KeyTrackingID:  trackingID,
			KeyLabels:      labels,
		})
	}
	return out
}

// DetectArguments builds the argument map of a detect call from three tightly
// packed planes
func DetectArguments(width, height, rotation int, planes [3][]byte) map[string]any {
	list := make([]any, 0, len(planes))
	for _, b := range planes {
		list = append(list, map[string]any{frame.KeyBytes: b})
	}
	return map[string]any{
		frame.KeyWidth:    width,
		frame.KeyHeight:   height,
		frame.KeyRotation: rotation,
		frame.KeyPlanes:   list,
	}
}

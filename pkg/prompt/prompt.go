// Package prompt holds the instructions sent to vision language models and the
// tolerant parsing of their answers into detections.
package prompt

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/types"
)

// Categories are the coarse classes a model is asked to choose from. A label's
// Index is its position here, or -1 for anything else.
var Categories = []string{"Fashion good", "Food", "Home good", "Place", "Plant"}

// DefaultPrompt asks for every prominent object in the frame
const DefaultPrompt = `You are an object detector.

Return JSON only:
{
  "objects": [
    {
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
      "labels": [{"text": "string", "confidence": 0.0}]
    }
  ]
}

HARD RULES
- Coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- List at most 5 objects, most prominent first.
- Label text must be one of: Fashion good, Food, Home good, Place, Plant.
- Order labels by confidence, highest first. Confidence is in [0,1].
- If nothing is visible, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// SingleObjectPrompt asks for the most prominent object only
const SingleObjectPrompt = `You are an object detector.

Return JSON only:
{
  "objects": [
    {
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
      "labels": [{"text": "string", "confidence": 0.0}]
    }
  ]
}

HARD RULES
- Coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- Return exactly the single most prominent object, or {"objects": []} if there is none.
- Label text must be one of: Fashion good, Food, Home good, Place, Plant.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// For returns the prompt matching the detector options
func For(opts types.DetectorOptions) string {
	if opts.MultipleObjects {
		return DefaultPrompt
	}
	return SingleObjectPrompt
}

type box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type label struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type object struct {
	Box    box     `json:"box"`
	Labels []label `json:"labels"`
	// Label and Confidence cover models that answer with one flat label
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type answer struct {
	Objects []object `json:"objects"`
}

// ParseObjects parses a model answer into detections in pixel coordinates of
// a width x height upright frame. scale is the factor the frame was resized by
// before sending; pixel answers are divided by it.
func ParseObjects(raw string, width, height int, scale float64) ([]types.DetectionResult, error) {
	cleaned := SanitizeJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, errors.Errorf("model returned a non-JSON response: %.80q", raw)
	}

	var a answer
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, errors.Wrap(err, "parse model response")
	}
	if scale <= 0 {
		scale = 1
	}

	results := make([]types.DetectionResult, 0, len(a.Objects))
	for _, o := range a.Objects {
		b := toPixels(o.Box, width, height, scale)
		if b.Area() == 0 {
			continue
		}
		results = append(results, types.DetectionResult{
			BoundingBox: b,
			Labels:      toLabels(o),
		})
	}
	return results, nil
}

// Apply trims parsed detections to what the detector options allow
func Apply(results []types.DetectionResult, opts types.DetectorOptions) []types.DetectionResult {
	if !opts.MultipleObjects && len(results) > 1 {
		results = results[:1]
	}
	if !opts.Classification {
		for i := range results {
			results[i].Labels = []types.Label{}
		}
	}
	return results
}

func toPixels(b box, width, height int, scale float64) types.BoundingBox {
	fw, fh := float64(width), float64(height)
	x0, y0, x1, y1 := b.X, b.Y, b.X+b.W, b.Y+b.H
	if b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1 {
		// pixel answer in the coordinates of the resized image
		x0, y0, x1, y1 = x0/scale/fw, y0/scale/fh, x1/scale/fw, y1/scale/fh
	}
	return types.BoundingBox{
		Left:   int(math.Round(clamp(x0, 0, 1) * fw)),
		Top:    int(math.Round(clamp(y0, 0, 1) * fh)),
		Right:  int(math.Round(clamp(x1, 0, 1) * fw)),
		Bottom: int(math.Round(clamp(y1, 0, 1) * fh)),
	}
}

func toLabels(o object) []types.Label {
	in := o.Labels
	if len(in) == 0 && o.Label != "" {
		in = []label{{Text: o.Label, Confidence: o.Confidence}}
	}
	out := make([]types.Label, 0, len(in))
	for _, l := range in {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		out = append(out, types.Label{
			Text:       text,
			Confidence: clamp(l.Confidence, 0, 1),
			Index:      categoryIndex(text),
		})
	}
	return out
}

func categoryIndex(text string) int {
	for i, c := range Categories {
		if strings.EqualFold(c, text) {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeJSON removes code fences, comments, and trailing commas from a
// model answer and keeps the outermost object
func SanitizeJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

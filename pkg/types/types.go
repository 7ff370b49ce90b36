package types

import (
	"image"
	"math"
	"sort"
)

// Box is an axis-aligned bounding box in image pixel coordinates
type Box struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Area returns the box area in square pixels
func (b Box) Area() float64 {
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

// Normalize returns the box with min/max corners in order
func (b Box) Normalize() Box {
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	return b
}

// Clamp restricts the box to the given bounds
func (b Box) Clamp(bounds image.Rectangle) Box {
	minX, minY := float64(bounds.Min.X), float64(bounds.Min.Y)
	maxX, maxY := float64(bounds.Max.X), float64(bounds.Max.Y)
	return Box{
		XMin: math.Min(math.Max(b.XMin, minX), maxX),
		YMin: math.Min(math.Max(b.YMin, minY), maxY),
		XMax: math.Min(math.Max(b.XMax, minX), maxX),
		YMax: math.Min(math.Max(b.YMax, minY), maxY),
	}
}

// Rect converts the box to an integer rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(math.Round(b.XMin)), int(math.Round(b.YMin)), int(math.Round(b.XMax)), int(math.Round(b.YMax)))
}

// Detection is one candidate object proposed by the detector
type Detection struct {
	Box   Box     `json:"box"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// LabelDecision is the retained detection for a single label.
// Area is carried for rendering heuristics only and never takes part in selection.
type LabelDecision struct {
	Label string  `json:"label"`
	Box   Box     `json:"box"`
	Score float64 `json:"score"`
	Area  float64 `json:"area"`
}

// NewLabelDecision builds a decision from a detection
func NewLabelDecision(d Detection) LabelDecision {
	return LabelDecision{
		Label: d.Label,
		Box:   d.Box,
		Score: d.Score,
		Area:  d.Box.Area(),
	}
}

// Detection converts the decision back into a detection
func (ld LabelDecision) Detection() Detection {
	return Detection{Box: ld.Box, Label: ld.Label, Score: ld.Score}
}

// DecisionSet maps each surviving label to its decision
type DecisionSet map[string]LabelDecision

// Labels returns the labels in lexical order
func (ds DecisionSet) Labels() []string {
	labels := make([]string, 0, len(ds))
	for label := range ds {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Sorted returns the decisions in label order
func (ds DecisionSet) Sorted() []LabelDecision {
	out := make([]LabelDecision, 0, len(ds))
	for _, label := range ds.Labels() {
		out = append(out, ds[label])
	}
	return out
}

// Detections returns the decisions as detections in label order
func (ds DecisionSet) Detections() []Detection {
	out := make([]Detection, 0, len(ds))
	for _, ld := range ds.Sorted() {
		out = append(out, ld.Detection())
	}
	return out
}

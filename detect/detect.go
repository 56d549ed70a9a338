// Package detect - Detection schema and normalization.
package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Candidate is one raw detection row as reported by a detector backend,
// before class-name resolution and threshold filtering.
type Candidate struct {
	ClassID int
	Score   float32
	Box     image.Rectangle
}

// Result is the output of a single detector invocation on one image or
// one video frame. Classes is the id-to-name lookup table of the model
// that produced the candidates.
type Result struct {
	Candidates []Candidate
	Classes    []string
}

// Detection is a normalized, immutable detection: a labeled, localized,
// confidence-scored finding for a single image or frame.
type Detection struct {
	ClassName  string          `json:"class"`
	Confidence float32         `json:"confidence"`
	Box        image.Rectangle `json:"-"`
	BBox       [4]int          `json:"bbox"`
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%d, %d), (%d, %d)",
		d.ClassName, d.Confidence, d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y)
}

// Detector runs a loaded model over one image or frame. Implementations
// must tolerate concurrent invocation; a backend whose underlying model
// object is not reentrant serializes calls with its own per-model lock.
//
// The verbose flag suppresses per-call logging when false, for
// high-frequency frame use.
type Detector interface {
	Detect(img gocv.Mat, threshold float32, verbose bool) (Result, error)
	Close() error
}

// Normalize turns one detector result into the uniform detection list.
//
// Every candidate with Score >= threshold is kept, in input order;
// candidates below the threshold are silently dropped. A class id outside
// the model's class table resolves to the literal label "unknown". A
// result with zero candidates yields an empty slice, not an error.
func Normalize(res Result, threshold float32) []Detection {
	detections := make([]Detection, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if c.Score < threshold {
			continue
		}
		detections = append(detections, Detection{
			ClassName:  ClassName(res.Classes, c.ClassID),
			Confidence: c.Score,
			Box:        c.Box,
			BBox:       [4]int{c.Box.Min.X, c.Box.Min.Y, c.Box.Max.X, c.Box.Max.Y},
		})
	}
	return detections
}

// ClassName resolves a class id against a model's class table.
func ClassName(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return "unknown"
}

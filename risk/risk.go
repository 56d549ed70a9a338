// Package risk - Fire/smoke risk classification and aggregation.
package risk

import (
	"math"
	"strings"

	"github.com/chewxy/math32"

	"github.com/firewatch-ai/go-firewatch/detect"
)

// Level is a discrete risk verdict.
type Level string

const (
	Low      Level = "Low"
	Medium   Level = "Medium"
	High     Level = "High"
	Critical Level = "Critical"
)

// FrameAnalysis is the aggregated summary of all detections in one image
// or one video frame. It is created once per detector invocation and
// never mutated afterwards, except for the frame number a video pipeline
// stamps on frames it accumulates.
type FrameAnalysis struct {
	Detections     []detect.Detection `json:"detections"`
	DetectionCount int                `json:"detection_count"`
	MaxConfidence  float32            `json:"max_confidence"`
	FireCount      int                `json:"fire_count"`
	SmokeCount     int                `json:"smoke_count"`
	RiskLevel      Level              `json:"risk_level"`
	FrameNumber    int                `json:"frame_number,omitempty"`
}

// VideoAnalysis is the whole-video aggregate. It holds only counters and
// the running maximum, never per-frame detail.
type VideoAnalysis struct {
	DetectionCount       int     `json:"detection_count"`
	MaxConfidence        float32 `json:"max_confidence"`
	FireCount            int     `json:"fire_count"`
	SmokeCount           int     `json:"smoke_count"`
	RiskLevel            Level   `json:"risk_level"`
	FramesWithDetections int     `json:"frames_with_detections"`
	TotalFrames          int     `json:"total_frames"`
	DetectionDensity     float64 `json:"detection_density"`
}

// ClassifyFrame applies the frame-granularity rule table. Rules are
// evaluated top to bottom, first match wins. A single frame with one fire
// detection is already high-risk; the video table below is deliberately
// less sensitive.
func ClassifyFrame(fireCount, smokeCount int, maxConfidence float32) Level {
	switch {
	case fireCount > 2:
		return Critical
	case fireCount > 0:
		return High
	case smokeCount > 1:
		return Medium
	case smokeCount == 1:
		return Low
	case maxConfidence > 0.8:
		return Medium
	default:
		return Low
	}
}

// ClassifyVideo applies the video-granularity rule table to totals
// accumulated across all frames of a video. The smoke thresholds differ
// from the frame table on purpose; the two tables are kept as separate
// literal constants and must not be unified.
func ClassifyVideo(fireCount, smokeCount int, maxConfidence float32) Level {
	switch {
	case fireCount > 5:
		return Critical
	case fireCount > 0:
		return High
	case smokeCount > 10:
		return High
	case smokeCount > 0:
		return Medium
	case maxConfidence > 0.8:
		return Medium
	default:
		return Low
	}
}

// Summarize builds a FrameAnalysis from a normalized detection list using
// the frame-level rule table. Fire and smoke counts use case-insensitive
// substring matching on the class name; a class matching neither is still
// part of the detection count.
func Summarize(detections []detect.Detection) FrameAnalysis {
	var maxConfidence float32
	var fireCount, smokeCount int

	for _, d := range detections {
		maxConfidence = math32.Max(maxConfidence, d.Confidence)
		name := strings.ToLower(d.ClassName)
		switch {
		case strings.Contains(name, "fire"):
			fireCount++
		case strings.Contains(name, "smoke"):
			smokeCount++
		}
	}

	return FrameAnalysis{
		Detections:     detections,
		DetectionCount: len(detections),
		MaxConfidence:  roundConfidence(maxConfidence),
		FireCount:      fireCount,
		SmokeCount:     smokeCount,
		RiskLevel:      ClassifyFrame(fireCount, smokeCount, maxConfidence),
	}
}

// roundConfidence rounds to 3 decimals for record shaping.
func roundConfidence(c float32) float32 {
	return math32.Round(c*1000) / 1000
}

// Accumulator folds per-frame analyses into one video verdict without
// re-scanning individual detections. Only frames that contained at least
// one detection are added.
type Accumulator struct {
	detectionCount       int
	maxConfidence        float32
	fireCount            int
	smokeCount           int
	framesWithDetections int
}

// Add folds one frame summary into the running totals.
func (a *Accumulator) Add(fa FrameAnalysis) {
	a.detectionCount += fa.DetectionCount
	a.maxConfidence = math32.Max(a.maxConfidence, fa.MaxConfidence)
	a.fireCount += fa.FireCount
	a.smokeCount += fa.SmokeCount
	a.framesWithDetections++
}

// FramesWithDetections reports how many frame summaries were added.
func (a *Accumulator) FramesWithDetections() int {
	return a.framesWithDetections
}

// Finalize produces the whole-video aggregate using the video-level rule
// table. Density is the percentage of frames that contained a detection,
// rounded to 2 decimals, and 0 for a zero-length video.
func (a *Accumulator) Finalize(totalFrames int) VideoAnalysis {
	density := 0.0
	if totalFrames > 0 {
		density = float64(a.framesWithDetections) / float64(totalFrames) * 100
		density = math.Round(density*100) / 100
	}

	return VideoAnalysis{
		DetectionCount:       a.detectionCount,
		MaxConfidence:        roundConfidence(a.maxConfidence),
		FireCount:            a.fireCount,
		SmokeCount:           a.smokeCount,
		RiskLevel:            ClassifyVideo(a.fireCount, a.smokeCount, a.maxConfidence),
		FramesWithDetections: a.framesWithDetections,
		TotalFrames:          totalFrames,
		DetectionDensity:     density,
	}
}

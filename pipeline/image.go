// Package pipeline - Image and video analysis pipelines.
package pipeline

import (
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/annotate"
	"github.com/firewatch-ai/go-firewatch/detect"
	"github.com/firewatch-ai/go-firewatch/metrics"
	"github.com/firewatch-ai/go-firewatch/risk"
)

// Annotation line thickness, thicker for stills than for video frames.
const (
	imageLineThickness = 3
	videoLineThickness = 2
)

// Analyzer drives the detection pipelines for one request. It is cheap
// to construct per request; the detector it wraps is shared and handles
// its own locking.
type Analyzer struct {
	Detector detect.Detector
	Metrics  *metrics.Metrics
}

// AnalyzeImage runs the detector once on the image at path, writes the
// annotated rendering to outPath, and returns the frame summary.
//
// When no detection survives the threshold the original image is copied
// through byte for byte. Once detections exist, a failed annotated
// rendering is fatal; there is no silent pass-through fallback.
func (a *Analyzer) AnalyzeImage(path, outPath string, threshold float32) (risk.FrameAnalysis, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return risk.FrameAnalysis{}, Ef(KindInput, "could not read image: %s", path)
	}
	defer img.Close()

	result, err := a.Detector.Detect(img, threshold, true)
	if err != nil {
		return risk.FrameAnalysis{}, E(KindDetector, err)
	}

	detections := detect.Normalize(result, threshold)
	analysis := risk.Summarize(detections)
	a.Metrics.AddDetections(analysis.FireCount, analysis.SmokeCount,
		analysis.DetectionCount-analysis.FireCount-analysis.SmokeCount)

	if len(detections) == 0 {
		if err := copyFile(path, outPath); err != nil {
			return risk.FrameAnalysis{}, E(KindRender, err)
		}
		return analysis, nil
	}

	annotated, err := annotate.Render(img, detections, imageLineThickness)
	if err != nil {
		return risk.FrameAnalysis{}, E(KindRender, err)
	}
	defer annotated.Close()

	if ok := gocv.IMWrite(outPath, annotated); !ok {
		return risk.FrameAnalysis{}, Ef(KindRender, "failed to write annotated image: %s", outPath)
	}
	return analysis, nil
}

// copyFile passes the original image through unchanged.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "reading original image")
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.Wrap(err, "writing pass-through image")
	}
	return nil
}

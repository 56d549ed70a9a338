package pipeline

import (
	"log"

	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/annotate"
	"github.com/firewatch-ai/go-firewatch/detect"
	"github.com/firewatch-ai/go-firewatch/risk"
)

// AnalyzeVideo iterates every frame of the video at path in arrival
// order, runs detection and classification on each, writes an annotated
// (or raw) frame to outPath per input frame, and folds the per-frame
// summaries into one whole-video verdict.
//
// Frames are processed one at a time; nothing is buffered beyond the
// current frame. End of stream is the normal exit, not an error. Unlike
// image mode, a frame whose annotated rendering fails falls back to
// writing the raw frame, because a video must not drop a frame.
func (a *Analyzer) AnalyzeVideo(path, outPath string, threshold float32) (risk.VideoAnalysis, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return risk.VideoAnalysis{}, Ef(KindInput, "could not open video %s: %v", path, err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	totalFrames := int(capture.Get(gocv.VideoCaptureFrameCount))

	writer, err := gocv.VideoWriterFile(outPath, "mp4v", fps, width, height, true)
	if err != nil {
		return risk.VideoAnalysis{}, Ef(KindRender, "could not open output video %s: %v", outPath, err)
	}
	defer writer.Close()

	log.Printf("processing video %s: %d frames at %.0f FPS", path, totalFrames, fps)

	// Progress is advisory only; every 10% of the total frame count.
	progressInterval := totalFrames / 10
	if progressInterval < 1 {
		progressInterval = 1
	}

	frame := gocv.NewMat()
	defer frame.Close()

	var acc risk.Accumulator
	frameCount := 0

	for {
		if ok := capture.Read(&frame); !ok {
			break // end of stream
		}
		if frame.Empty() {
			continue
		}
		frameCount++

		result, err := a.Detector.Detect(frame, threshold, false)
		if err != nil {
			return risk.VideoAnalysis{}, E(KindDetector, err)
		}

		detections := detect.Normalize(result, threshold)
		analysis := risk.Summarize(detections)
		if analysis.DetectionCount > 0 {
			analysis.FrameNumber = frameCount
			acc.Add(analysis)
			a.Metrics.AddDetections(analysis.FireCount, analysis.SmokeCount,
				analysis.DetectionCount-analysis.FireCount-analysis.SmokeCount)
		}

		if err := a.writeFrame(writer, frame, detections); err != nil {
			return risk.VideoAnalysis{}, err
		}
		a.Metrics.IncFrames()

		if totalFrames > 0 && frameCount%progressInterval == 0 {
			progress := float64(frameCount) / float64(totalFrames) * 100
			log.Printf("video processing progress: %.1f%%", progress)
		}
	}

	return acc.Finalize(totalFrames), nil
}

// writeFrame writes the annotated frame, or the raw frame when there is
// nothing to draw or the rendering failed.
func (a *Analyzer) writeFrame(writer *gocv.VideoWriter, frame gocv.Mat, detections []detect.Detection) error {
	if len(detections) > 0 {
		annotated, err := annotate.Render(frame, detections, videoLineThickness)
		if err == nil {
			werr := writer.Write(annotated)
			annotated.Close()
			if werr != nil {
				return E(KindRender, werr)
			}
			return nil
		}
		log.Printf("frame annotation failed, writing raw frame: %v", err)
	}
	if err := writer.Write(frame); err != nil {
		return E(KindRender, err)
	}
	return nil
}

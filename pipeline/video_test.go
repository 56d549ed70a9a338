package pipeline

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/detect"
	"github.com/firewatch-ai/go-firewatch/risk"
)

// writeTestVideo writes a short solid-color clip and returns its path.
func writeTestVideo(t *testing.T, dir string, frames int) string {
	t.Helper()

	path := filepath.Join(dir, "input.mp4")
	writer, err := gocv.VideoWriterFile(path, "mp4v", 10, 320, 240, true)
	require.NoError(t, err)
	defer writer.Close()

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 60, 100, 0), 240, 320, gocv.MatTypeCV8UC3)
	defer mat.Close()
	for i := 0; i < frames; i++ {
		require.NoError(t, writer.Write(mat))
	}
	return path
}

// TestAnalyzeVideoScenarioB runs a 10-frame clip where the detector
// reports one smoke box on each of the first three frames.
func TestAnalyzeVideoScenarioB(t *testing.T) {
	dir := t.TempDir()
	inPath := writeTestVideo(t, dir, 10)
	outPath := filepath.Join(dir, "processed_input.mp4")

	smoke := []detect.Candidate{{ClassID: 1, Score: 0.6, Box: image.Rect(10, 10, 80, 80)}}
	analyzer := &Analyzer{Detector: &scriptedDetector{
		classes: fireSmoke(),
		script:  [][]detect.Candidate{smoke, smoke, smoke},
	}}

	analysis, err := analyzer.AnalyzeVideo(inPath, outPath, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 3, analysis.FramesWithDetections)
	assert.Equal(t, 3, analysis.SmokeCount)
	assert.Equal(t, 0, analysis.FireCount)
	assert.Equal(t, 3, analysis.DetectionCount)
	assert.Equal(t, 10, analysis.TotalFrames)
	assert.Equal(t, 30.0, analysis.DetectionDensity)
	assert.Equal(t, risk.Medium, analysis.RiskLevel)
	assert.InDelta(t, 0.6, analysis.MaxConfidence, 0.001)

	info, err := os.Stat(outPath)
	require.NoError(t, err, "annotated output video must exist")
	assert.Greater(t, info.Size(), int64(0))
}

func TestAnalyzeVideoNoDetections(t *testing.T) {
	dir := t.TempDir()
	inPath := writeTestVideo(t, dir, 5)
	outPath := filepath.Join(dir, "processed_input.mp4")

	analyzer := &Analyzer{Detector: &scriptedDetector{classes: fireSmoke()}}

	analysis, err := analyzer.AnalyzeVideo(inPath, outPath, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0, analysis.FramesWithDetections)
	assert.Equal(t, 0.0, analysis.DetectionDensity)
	assert.Equal(t, risk.Low, analysis.RiskLevel)

	_, statErr := os.Stat(outPath)
	assert.NoError(t, statErr, "every input frame is still written through")
}

func TestAnalyzeVideoDetectorFailure(t *testing.T) {
	dir := t.TempDir()
	inPath := writeTestVideo(t, dir, 5)

	analyzer := &Analyzer{Detector: &scriptedDetector{err: errors.New("inference blew up")}}

	_, err := analyzer.AnalyzeVideo(inPath, filepath.Join(dir, "out.mp4"), 0.5)
	require.Error(t, err)
	assert.Equal(t, KindDetector, KindOf(err), "a detector failure aborts the whole video")
}

func TestAnalyzeVideoMissingFile(t *testing.T) {
	dir := t.TempDir()
	analyzer := &Analyzer{Detector: &scriptedDetector{classes: fireSmoke()}}

	_, err := analyzer.AnalyzeVideo(filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "out.mp4"), 0.5)
	require.Error(t, err)
	assert.Equal(t, KindInput, KindOf(err))
}

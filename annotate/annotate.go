// Package annotate - Detection overlays on frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/detect"
)

var (
	boxColor   = color.RGBA{0, 255, 0, 0}
	labelColor = color.RGBA{0, 255, 0, 0}
)

// Render returns a copy of the frame with a box, class label and
// confidence drawn for every detection. The caller owns the returned Mat
// and must Close it. The input frame is never modified.
func Render(src gocv.Mat, detections []detect.Detection, thickness int) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.Mat{}, errors.New("cannot annotate an empty frame")
	}
	if thickness <= 0 {
		thickness = 2
	}

	out := src.Clone()
	if out.Empty() {
		return gocv.Mat{}, errors.New("failed to clone frame for annotation")
	}

	for _, d := range detections {
		gocv.Rectangle(&out, d.Box, boxColor, thickness)
		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		origin := image.Pt(d.Box.Min.X, max(d.Box.Min.Y-6, 12))
		gocv.PutText(&out, label, origin, gocv.FontHersheyPlain, 1.2, labelColor, thickness)
	}
	return out, nil
}

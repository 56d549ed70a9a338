// Package onnx - ONNX model inference through the OpenCV DNN module.
package onnx

import (
	"image"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/detect"
)

// Config for a DNN-backed detector.
type Config struct {
	ModelPath string
	// InputShape is the model input resolution, e.g. 640x640.
	InputShape image.Point
	// ConfidenceThreshold is the model floor applied during decoding;
	// request-level thresholds are applied downstream by the normalizer.
	ConfidenceThreshold float32
	NMSThreshold        float32
	// Classes is the id-to-name table of the model.
	Classes []string
}

// Detector handles ONNX model inference using gocv.ReadNet().
//
// A gocv.Net forward pass is not reentrant, so every Detect call holds
// the detector's own lock. Requests against different loaded models still
// run concurrently; only calls to the same model serialize.
type Detector struct {
	modelPath           string
	inputShape          image.Point
	confidenceThreshold float32
	nmsThreshold        float32
	classes             []string
	initialized         bool
	mu                  sync.Mutex
	net                 gocv.Net
}

// New creates a detector and loads the model into the DNN module.
func New(config Config) (*Detector, error) {
	d := &Detector{
		modelPath:           config.ModelPath,
		inputShape:          config.InputShape,
		confidenceThreshold: config.ConfidenceThreshold,
		nmsThreshold:        config.NMSThreshold,
		classes:             config.Classes,
	}
	if d.inputShape.X == 0 || d.inputShape.Y == 0 {
		d.inputShape = image.Point{X: 640, Y: 640}
	}
	if d.nmsThreshold == 0 {
		d.nmsThreshold = 0.5
	}

	if err := d.initialize(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize DNN detector")
	}
	return d, nil
}

func (d *Detector) initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return errors.Errorf("model file not found: %s", d.modelPath)
	}

	net := gocv.ReadNet(d.modelPath, "")
	if net.Empty() {
		return errors.Errorf("failed to load ONNX model: %s", d.modelPath)
	}
	d.net = net

	d.net.SetPreferableBackend(gocv.NetBackendOpenCV)
	d.net.SetPreferableTarget(gocv.NetTargetCPU)

	d.initialized = true
	log.Printf("loaded DNN model %s (input %dx%d, %d classes)",
		d.modelPath, d.inputShape.X, d.inputShape.Y, len(d.classes))
	return nil
}

// Detect runs inference on the input image and returns the raw candidate
// set together with the model's class table. The threshold argument
// tightens the decode floor for this call; verbose=false keeps the call
// silent for per-frame video use.
func (d *Detector) Detect(img gocv.Mat, threshold float32, verbose bool) (detect.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return detect.Result{}, errors.New("detector not initialized")
	}
	if img.Empty() {
		return detect.Result{}, errors.New("empty input image")
	}

	blob := d.preprocess(img)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.Forward("")
	defer outputs.Close()

	floor := d.confidenceThreshold
	if threshold > floor {
		floor = threshold
	}

	size := img.Size()
	candidates := d.decode(outputs, image.Point{X: size[1], Y: size[0]}, floor)

	if verbose {
		log.Printf("model %s: %d candidates above %.2f", d.modelPath, len(candidates), floor)
	}
	return detect.Result{Candidates: candidates, Classes: d.classes}, nil
}

// preprocess resizes the image to the model input size and converts it to
// a normalized blob.
func (d *Detector) preprocess(img gocv.Mat) gocv.Mat {
	resized := gocv.NewMat()
	gocv.Resize(img, &resized, d.inputShape, 0, 0, gocv.InterpolationLinear)
	defer resized.Close()

	return gocv.BlobFromImage(resized, 1.0/255.0, d.inputShape,
		gocv.NewScalar(0, 0, 0, 0), true, false)
}

// decode walks the output rows and extracts candidates above the floor.
func (d *Detector) decode(outputs gocv.Mat, originalSize image.Point, floor float32) []detect.Candidate {
	var candidates []detect.Candidate

	rows := outputs.Rows()
	cols := outputs.Cols()

	for i := 0; i < rows; i++ {
		objectness := outputs.GetFloatAt(i, 4)
		if objectness < floor {
			continue
		}

		classID := 0
		maxScore := float32(0)
		for j := 5; j < cols; j++ {
			score := outputs.GetFloatAt(i, j)
			if score > maxScore {
				maxScore = score
				classID = j - 5
			}
		}

		confidence := objectness * maxScore
		if confidence < floor {
			continue
		}

		centerX := outputs.GetFloatAt(i, 0)
		centerY := outputs.GetFloatAt(i, 1)
		width := outputs.GetFloatAt(i, 2)
		height := outputs.GetFloatAt(i, 3)

		x1 := int((centerX - width/2) * float32(originalSize.X))
		y1 := int((centerY - height/2) * float32(originalSize.Y))
		x2 := int((centerX + width/2) * float32(originalSize.X))
		y2 := int((centerY + height/2) * float32(originalSize.Y))

		x1 = max(0, x1)
		y1 = max(0, y1)
		x2 = min(originalSize.X, x2)
		y2 = min(originalSize.Y, y2)

		candidates = append(candidates, detect.Candidate{
			ClassID: classID,
			Score:   confidence,
			Box:     image.Rect(x1, y1, x2, y2),
		})
	}

	return applyNMS(candidates, d.nmsThreshold)
}

// applyNMS removes overlapping candidates, keeping the highest scoring
// box of each overlap cluster.
func applyNMS(candidates []detect.Candidate, nmsThreshold float32) []detect.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var result []detect.Candidate
	used := make([]bool, len(candidates))

	for i := 0; i < len(candidates); i++ {
		if used[i] {
			continue
		}
		result = append(result, candidates[i])
		used[i] = true

		for j := i + 1; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			if iou(candidates[i].Box, candidates[j].Box) > nmsThreshold {
				used[j] = true
			}
		}
	}
	return result
}

// iou calculates the Intersection over Union between two rectangles.
func iou(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float32(interArea) / float32(union)
}

// Classes returns the model's class table.
func (d *Detector) Classes() []string {
	return d.classes
}

// Close releases the underlying network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized && !d.net.Empty() {
		if err := d.net.Close(); err != nil {
			return err
		}
	}
	d.initialized = false
	return nil
}

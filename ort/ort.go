// Package ort - ONNX Runtime detector backend.
//
// Alternative to the OpenCV DNN backend in package onnx, used when an
// ONNX Runtime shared library is available on the host. The session is
// created with preallocated input/output tensors, so a detector instance
// serializes its own Detect calls.
package ort

import (
	"image"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	onnxruntime "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/firewatch-ai/go-firewatch/detect"
)

const (
	// inputSize is the model input resolution on both axes.
	inputSize = 640
	// gridSize is the number of output rows of a YOLO v8 head at 640x640.
	gridSize = 8400
)

// Config for an ONNX Runtime detector.
type Config struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string
	// Classes is the id-to-name table; its length fixes the output shape.
	Classes []string
	// InputName/OutputName are the model tensor names. Defaults are the
	// ultralytics export names "images" and "output0".
	InputName  string
	OutputName string
	// NMSThreshold is the IoU above which overlapping boxes merge.
	NMSThreshold float32
}

// Detector runs inference through onnxruntime.
type Detector struct {
	mu           sync.Mutex
	modelPath    string
	classes      []string
	nmsThreshold float32
	session      *onnxruntime.AdvancedSession
	input        *onnxruntime.Tensor[float32]
	output       *onnxruntime.Tensor[float32]
}

var ortInit sync.Once

// New creates an ONNX Runtime session for the model.
//
// Arguments:
//   - config: Model path, shared library location and class table.
//
// Returns:
//   - *Detector: The initialized detector.
//   - error: An error if the library or model cannot be loaded.
func New(config Config) (*Detector, error) {
	if _, err := os.Stat(config.LibraryPath); os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", config.LibraryPath)
	}
	if len(config.Classes) == 0 {
		return nil, errors.New("class table must not be empty")
	}

	var initErr error
	ortInit.Do(func() {
		onnxruntime.SetSharedLibraryPath(config.LibraryPath)
		initErr = onnxruntime.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "error initializing ORT environment")
	}

	inputShape := onnxruntime.NewShape(1, 3, inputSize, inputSize)
	inputTensor, err := onnxruntime.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputShape := onnxruntime.NewShape(1, int64(4+len(config.Classes)), gridSize)
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(4)
	options.SetInterOpNumThreads(2)
	options.SetGraphOptimizationLevel(onnxruntime.GraphOptimizationLevelEnableExtended)

	inputName := config.InputName
	if inputName == "" {
		inputName = "images"
	}
	outputName := config.OutputName
	if outputName == "" {
		outputName = "output0"
	}

	session, err := onnxruntime.NewAdvancedSession(
		config.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]onnxruntime.ArbitraryTensor{inputTensor},
		[]onnxruntime.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	nms := config.NMSThreshold
	if nms == 0 {
		nms = 0.7
	}

	log.Printf("loaded ORT model %s (%d classes)", config.ModelPath, len(config.Classes))
	return &Detector{
		modelPath:    config.ModelPath,
		classes:      config.Classes,
		nmsThreshold: nms,
		session:      session,
		input:        inputTensor,
		output:       outputTensor,
	}, nil
}

// Detect runs inference on the input frame.
//
// Arguments:
//   - img: The frame to detect objects in.
//   - threshold: The confidence floor applied while decoding the output.
//   - verbose: Per-call logging; disabled for per-frame video use.
//
// Returns:
//   - detect.Result: Raw candidates plus the model class table.
//   - error: An error if tensor preparation or inference fails.
func (d *Detector) Detect(img gocv.Mat, threshold float32, verbose bool) (detect.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return detect.Result{}, errors.New("detector closed")
	}
	if img.Empty() {
		return detect.Result{}, errors.New("empty input image")
	}

	pic, err := img.ToImage()
	if err != nil {
		return detect.Result{}, errors.Wrap(err, "failed to convert frame")
	}

	if err := prepareInput(pic, d.input); err != nil {
		return detect.Result{}, errors.Wrap(err, "failed to prepare input")
	}

	if err := d.session.Run(); err != nil {
		return detect.Result{}, errors.Wrap(err, "failed to run inference")
	}

	size := img.Size()
	candidates := d.decode(d.output.GetData(), size[1], size[0], threshold)

	if verbose {
		log.Printf("model %s: %d candidates above %.2f", d.modelPath, len(candidates), threshold)
	}
	return detect.Result{Candidates: candidates, Classes: d.classes}, nil
}

// prepareInput fills the CHW input tensor from the image, resized to the
// model resolution with Lanczos3 resampling.
func prepareInput(pic image.Image, dst *onnxruntime.Tensor[float32]) error {
	data := dst.GetData()
	channelSize := inputSize * inputSize
	if len(data) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs %d",
			len(data), channelSize*3)
	}
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	pic = resize.Resize(inputSize, inputSize, pic, resize.Lanczos3)

	i := 0
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			r, g, b, _ := pic.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return nil
}

// decode converts the transposed YOLO output (4+C rows by 8400 columns)
// into candidates in the original image coordinate space.
func (d *Detector) decode(output []float32, originalWidth, originalHeight int, floor float32) []detect.Candidate {
	numClasses := len(d.classes)
	candidates := make([]detect.Candidate, 0, 64)

	for idx := 0; idx < gridSize; idx++ {
		classID := 0
		probability := float32(-1e9)
		for c := 0; c < numClasses; c++ {
			p := output[gridSize*(c+4)+idx]
			if p > probability {
				probability = p
				classID = c
			}
		}
		if probability < floor {
			continue
		}

		xc, yc := output[idx], output[gridSize+idx]
		w, h := output[2*gridSize+idx], output[3*gridSize+idx]
		x1 := int((xc - w/2) / inputSize * float32(originalWidth))
		y1 := int((yc - h/2) / inputSize * float32(originalHeight))
		x2 := int((xc + w/2) / inputSize * float32(originalWidth))
		y2 := int((yc + h/2) / inputSize * float32(originalHeight))

		x1 = max(0, x1)
		y1 = max(0, y1)
		x2 = min(originalWidth, x2)
		y2 = min(originalHeight, y2)

		candidates = append(candidates, detect.Candidate{
			ClassID: classID,
			Score:   probability,
			Box:     image.Rect(x1, y1, x2, y2),
		})
	}

	// Highest confidence first, then drop boxes overlapping a kept one.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	merged := make([]detect.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		overlaps := false
		for _, kept := range merged {
			if iou(candidate.Box, kept.Box) > d.nmsThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			merged = append(merged, candidate)
		}
	}
	return merged
}

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

// Close destroys the session and its tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// Command server runs the fire/smoke detection HTTP service.
package main

import (
	"image"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/firewatch-ai/go-firewatch/config"
	"github.com/firewatch-ai/go-firewatch/detect"
	"github.com/firewatch-ai/go-firewatch/history"
	"github.com/firewatch-ai/go-firewatch/metrics"
	"github.com/firewatch-ai/go-firewatch/onnx"
	"github.com/firewatch-ai/go-firewatch/ort"
	"github.com/firewatch-ai/go-firewatch/registry"
	"github.com/firewatch-ai/go-firewatch/server"
)

var modelDescriptions = map[string]string{
	"yolov8n": "YOLOv8 Nano - Fast detection with good accuracy",
	"yolov8s": "YOLOv8 Small - Balanced speed and accuracy",
	"best":    "Custom Trained - Highest accuracy for fire/smoke detection",
}

func main() {
	cfg := config.Load()

	reg := registry.New()
	defer reg.Close()
	if err := loadModels(cfg, reg); err != nil {
		log.Printf("error loading models: %v", err)
	}
	if reg.Len() == 0 {
		log.Printf("warning: no models loaded from %s; detection requests will fail", cfg.ModelDir)
	}

	store := history.NewStore(cfg.HistoryFile)
	m := metrics.New()
	srv := server.New(cfg, reg, store, m)

	log.Printf("fire/smoke detection service starting")
	log.Printf("  models loaded: %d (dir %s)", reg.Len(), cfg.ModelDir)
	log.Printf("  history file:  %s (%d records)", cfg.HistoryFile, store.Len())
	log.Printf("  listening on:  :%s", cfg.HTTPPort)

	if err := http.ListenAndServe(":"+cfg.HTTPPort, srv.Routes()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// loadModels scans the model directory and registers every loadable
// model. A model that fails to load is skipped with a log line, so one
// bad file never blocks the rest.
func loadModels(cfg *config.Config, reg *registry.Registry) error {
	entries, err := os.ReadDir(cfg.ModelDir)
	if err != nil {
		return err
	}

	useORT := false
	if cfg.OrtLibraryPath != "" {
		if _, err := os.Stat(cfg.OrtLibraryPath); err == nil {
			useORT = true
		} else {
			log.Printf("ORT library %s not found, falling back to OpenCV DNN", cfg.OrtLibraryPath)
		}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".onnx") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(cfg.ModelDir, entry.Name())

		detector, err := loadDetector(cfg, path, name, useORT)
		if err != nil {
			log.Printf("failed to load model %s: %v", name, err)
			continue
		}
		reg.Register(name, describeModel(name), detector)
	}
	return nil
}

func loadDetector(cfg *config.Config, path, name string, useORT bool) (detect.Detector, error) {
	classes := classesFor(name)
	if useORT {
		return ort.New(ort.Config{
			ModelPath:   path,
			LibraryPath: cfg.OrtLibraryPath,
			Classes:     classes,
		})
	}
	return onnx.New(onnx.Config{
		ModelPath:           path,
		InputShape:          image.Point{X: 640, Y: 640},
		ConfidenceThreshold: float32(cfg.DefaultConfidence),
		NMSThreshold:        0.5,
		Classes:             classes,
	})
}

// classesFor picks the class table by model name: the custom fire/smoke
// models use the two-class table, everything else is assumed COCO.
func classesFor(name string) []string {
	lower := strings.ToLower(name)
	if lower == "best" || strings.Contains(lower, "fire") || strings.Contains(lower, "smoke") {
		return onnx.FireSmokeClasses
	}
	return onnx.COCOClasses
}

func describeModel(name string) string {
	if desc, ok := modelDescriptions[name]; ok {
		return desc
	}
	return "Custom model"
}

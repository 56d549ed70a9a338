package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firewatch-ai/go-firewatch/history"
	"github.com/firewatch-ai/go-firewatch/pipeline"
)

var (
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

type detectResponse struct {
	Success       bool   `json:"success"`
	UploadedFile  string `json:"uploaded_file"`
	ProcessedFile string `json:"processed_file"`
	history.Record
	AlertMessage string `json:"alert_message"`
	AlertType    string `json:"alert_type"`
}

// handleDetect accepts a multipart upload, runs the matching pipeline and
// answers with the full detection record plus an alert summary.
//
// Form fields: file (required), model_type, confidence, save_results.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	if err := r.ParseMultipartForm(int64(s.cfg.MaxUploadSizeMB) << 20); err != nil {
		writeError(w, pipeline.Ef(pipeline.KindInput, "invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, pipeline.Ef(pipeline.KindInput, "no file uploaded"))
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, pipeline.Ef(pipeline.KindInput, "no selected file"))
		return
	}

	modelType := r.FormValue("model_type")
	saveResults := strings.EqualFold(r.FormValue("save_results"), "true")

	confidence := float32(s.cfg.DefaultConfidence)
	if raw := r.FormValue("confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 32)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(w, pipeline.Ef(pipeline.KindInput, "invalid confidence parameter: %q", raw))
			return
		}
		confidence = float32(parsed)
	}

	// Input validation happens before any detector work.
	ext := strings.ToLower(filepath.Ext(header.Filename))
	var fileType string
	switch {
	case imageExtensions[ext]:
		fileType = "image"
	case videoExtensions[ext]:
		fileType = "video"
	default:
		writeError(w, pipeline.Ef(pipeline.KindInput, "unsupported file format: %s", ext))
		return
	}

	detector, resolvedModel, err := s.registry.Get(modelType)
	if err != nil {
		writeError(w, pipeline.E(pipeline.KindConfig, err))
		return
	}

	uploadPath, uniqueName, err := s.saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, pipeline.E(pipeline.KindInput, err))
		return
	}
	processedName := "processed_" + uniqueName
	processedPath := filepath.Join(s.cfg.ProcessedDir, processedName)

	analyzer := &pipeline.Analyzer{Detector: detector, Metrics: s.metrics}
	meta := history.Meta{
		Timestamp:           time.Now(),
		Filename:            header.Filename,
		ModelUsed:           resolvedModel,
		FileType:            fileType,
		ConfidenceThreshold: confidence,
	}

	var record history.Record
	if fileType == "image" {
		analysis, err := analyzer.AnalyzeImage(uploadPath, processedPath, confidence)
		if err != nil {
			s.metrics.ObserveRequest(fileType, "error", time.Since(start).Seconds())
			writeError(w, err)
			return
		}
		meta.ProcessingTime = time.Since(start).Seconds()
		record = history.NewImageRecord(meta, analysis)
	} else {
		analysis, err := analyzer.AnalyzeVideo(uploadPath, processedPath, confidence)
		if err != nil {
			s.metrics.ObserveRequest(fileType, "error", time.Since(start).Seconds())
			writeError(w, err)
			return
		}
		meta.ProcessingTime = time.Since(start).Seconds()
		record = history.NewVideoRecord(meta, analysis)
	}

	s.store.Append(record)
	if saveResults {
		s.store.Persist()
	}
	s.metrics.ObserveRequest(fileType, "ok", record.ProcessingTime)

	alertMessage, alertType := alertFor(record)
	writeJSON(w, http.StatusOK, detectResponse{
		Success:       true,
		UploadedFile:  "/static/uploads/" + uniqueName,
		ProcessedFile: "/static/processed/" + processedName,
		Record:        record,
		AlertMessage:  alertMessage,
		AlertType:     alertType,
	})
}

// saveUpload writes the uploaded file under a collision-free name and
// returns its path and unique base name.
func (s *Server) saveUpload(file io.Reader, filename string) (string, string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(s.cfg.ProcessedDir, 0o755); err != nil {
		return "", "", err
	}

	uniqueName := fmt.Sprintf("%s_%s_%s",
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:8],
		filepath.Base(filename))
	path := filepath.Join(s.cfg.UploadDir, uniqueName)

	dst, err := os.Create(path)
	if err != nil {
		return "", "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", "", err
	}
	return path, uniqueName, nil
}

// alertFor derives the user-facing alert for a completed analysis.
func alertFor(record history.Record) (message, alertType string) {
	switch {
	case record.FireCount > 0:
		return fmt.Sprintf("FIRE DETECTED! %d fire detection(s) found!", record.FireCount), "error"
	case record.SmokeCount > 0:
		return fmt.Sprintf("SMOKE DETECTED! %d smoke detection(s) found!", record.SmokeCount), "warning"
	case record.DetectionCount > 0:
		return fmt.Sprintf("%d detection(s) found!", record.DetectionCount), "warning"
	default:
		return "No fire or smoke detected.", "success"
	}
}

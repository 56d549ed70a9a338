// Package history - Append-only, capacity-bounded detection history.
package history

import (
	"encoding/json"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/firewatch-ai/go-firewatch/detect"
	"github.com/firewatch-ai/go-firewatch/risk"
)

// MaxPersisted caps how many records a persist writes; older records are
// dropped, not archived.
const MaxPersisted = 100

// Meta is the request metadata merged into every record.
type Meta struct {
	Timestamp           time.Time
	Filename            string
	ModelUsed           string
	ProcessingTime      float64
	FileType            string
	ConfidenceThreshold float32
}

// Record is one history entry: request metadata plus the analysis fields
// of either an image or a video run. Identity is insertion order.
type Record struct {
	Timestamp           string  `json:"timestamp"`
	Filename            string  `json:"filename"`
	ModelUsed           string  `json:"model_used"`
	ProcessingTime      float64 `json:"processing_time"`
	FileType            string  `json:"file_type"`
	ConfidenceThreshold float32 `json:"confidence_threshold"`

	Detections     []detect.Detection `json:"detections,omitempty"`
	DetectionCount int                `json:"detection_count"`
	MaxConfidence  float32            `json:"max_confidence"`
	FireCount      int                `json:"fire_count"`
	SmokeCount     int                `json:"smoke_count"`
	RiskLevel      risk.Level         `json:"risk_level"`

	FramesWithDetections int     `json:"frames_with_detections,omitempty"`
	TotalFrames          int     `json:"total_frames,omitempty"`
	DetectionDensity     float64 `json:"detection_density,omitempty"`
}

// NewImageRecord builds a record from a single-image analysis.
func NewImageRecord(meta Meta, analysis risk.FrameAnalysis) Record {
	r := newRecord(meta)
	r.Detections = analysis.Detections
	r.DetectionCount = analysis.DetectionCount
	r.MaxConfidence = analysis.MaxConfidence
	r.FireCount = analysis.FireCount
	r.SmokeCount = analysis.SmokeCount
	r.RiskLevel = analysis.RiskLevel
	return r
}

// NewVideoRecord builds a record from a whole-video analysis.
func NewVideoRecord(meta Meta, analysis risk.VideoAnalysis) Record {
	r := newRecord(meta)
	r.DetectionCount = analysis.DetectionCount
	r.MaxConfidence = analysis.MaxConfidence
	r.FireCount = analysis.FireCount
	r.SmokeCount = analysis.SmokeCount
	r.RiskLevel = analysis.RiskLevel
	r.FramesWithDetections = analysis.FramesWithDetections
	r.TotalFrames = analysis.TotalFrames
	r.DetectionDensity = analysis.DetectionDensity
	return r
}

func newRecord(meta Meta) Record {
	return Record{
		Timestamp:           meta.Timestamp.Format(time.RFC3339),
		Filename:            meta.Filename,
		ModelUsed:           meta.ModelUsed,
		ProcessingTime:      math.Round(meta.ProcessingTime*100) / 100,
		FileType:            meta.FileType,
		ConfidenceThreshold: meta.ConfidenceThreshold,
	}
}

// RiskLevelCounts is the histogram of risk levels over the log.
type RiskLevelCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Stats is the derived aggregate over the full in-memory log.
type Stats struct {
	TotalDetections   int             `json:"total_detections"`
	FireDetections    int             `json:"fire_detections"`
	SmokeDetections   int             `json:"smoke_detections"`
	AvgProcessingTime float64         `json:"avg_processing_time"`
	RiskLevels        RiskLevelCounts `json:"risk_levels"`
}

// Store owns the history log. The log is loaded once at construction,
// mutated only through Append, and persisted explicitly. One mutex
// serializes appends, persists and reads so the bounded list is never
// torn under concurrent requests.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// NewStore loads the persisted log at path. Any read or parse failure
// starts the store empty; the condition is logged, never propagated.
func NewStore(path string) *Store {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("error loading history from %s: %v", path, err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		log.Printf("error parsing history file %s, starting empty: %v", path, err)
		s.records = nil
	}
	return s
}

// Append adds a record to the in-memory tail. It never trims and never
// touches the file.
func (s *Store) Append(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

// Persist writes the most recent MaxPersisted records, pretty-printed,
// overwriting the previous file. Failures are logged, not raised; the
// in-memory log stays authoritative either way.
func (s *Store) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.records
	if len(tail) > MaxPersisted {
		tail = tail[len(tail)-MaxPersisted:]
	}

	data, err := json.MarshalIndent(tail, "", "  ")
	if err != nil {
		log.Printf("error encoding history: %v", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		log.Printf("error saving history to %s: %v", s.path, err)
	}
}

// Len reports the in-memory log size.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Stats computes aggregates over the full in-memory log. An empty log
// yields the zero-valued stats, not a division by zero.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	if len(s.records) == 0 {
		return stats
	}

	var totalProcessing float64
	for _, r := range s.records {
		if r.FireCount > 0 {
			stats.FireDetections++
		}
		if r.SmokeCount > 0 {
			stats.SmokeDetections++
		}
		totalProcessing += r.ProcessingTime

		switch r.RiskLevel {
		case risk.Critical:
			stats.RiskLevels.Critical++
		case risk.High:
			stats.RiskLevels.High++
		case risk.Medium:
			stats.RiskLevels.Medium++
		case risk.Low:
			stats.RiskLevels.Low++
		}
	}

	stats.TotalDetections = len(s.records)
	stats.AvgProcessingTime = math.Round(totalProcessing/float64(len(s.records))*100) / 100
	return stats
}

// Recent returns the last limit records in chronological order. A limit
// larger than the log returns the whole log; the result is a copy.
func (s *Store) Recent(limit int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	tail := s.records[len(s.records)-limit:]
	out := make([]Record, len(tail))
	copy(out, tail)
	return out
}

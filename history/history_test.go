package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch-ai/go-firewatch/risk"
)

func testRecord(filename string, level risk.Level, processingTime float64) Record {
	r := newRecord(Meta{
		Timestamp:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Filename:            filename,
		ModelUsed:           "best",
		ProcessingTime:      processingTime,
		FileType:            "image",
		ConfidenceThreshold: 0.5,
	})
	r.RiskLevel = level
	return r
}

func TestNewStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, 0, store.Len(), "absent history file is treated as an empty log")
}

func TestNewStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path)
	assert.Equal(t, 0, store.Len(), "parse failures start the store empty, never propagate")
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	store := NewStore(path)
	store.Append(testRecord("a.jpg", risk.High, 1.0))
	store.Append(testRecord("b.jpg", risk.Low, 2.0))
	store.Persist()

	reloaded := NewStore(path)
	assert.Equal(t, 2, reloaded.Len())
	records := reloaded.Recent(10)
	assert.Equal(t, "a.jpg", records[0].Filename)
	assert.Equal(t, "b.jpg", records[1].Filename)
}

// TestPersistCap verifies persist never writes more than the cap, even
// with ten times as many records in memory, and keeps the newest ones.
func TestPersistCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewStore(path)

	for i := 0; i < 1000; i++ {
		store.Append(testRecord(fmt.Sprintf("%d.jpg", i), risk.Low, 0.1))
	}
	store.Persist()

	assert.Equal(t, 1000, store.Len(), "persist never trims the in-memory log")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var persisted []Record
	require.NoError(t, json.Unmarshal(data, &persisted))

	assert.Len(t, persisted, MaxPersisted)
	assert.Equal(t, "900.jpg", persisted[0].Filename, "oldest beyond the cap are dropped")
	assert.Equal(t, "999.jpg", persisted[len(persisted)-1].Filename)
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing-dir", "history.json"))
	store.Append(testRecord("a.jpg", risk.Low, 0.1))

	// Must not panic or error; the in-memory log stays authoritative.
	store.Persist()
	assert.Equal(t, 1, store.Len())
}

func TestStatsEmptyLog(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"))

	stats := store.Stats()
	assert.Equal(t, Stats{}, stats, "empty log yields zero-valued stats, not a division by zero")
}

func TestStats(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"))

	fire := testRecord("fire.jpg", risk.Critical, 1.0)
	fire.FireCount = 3
	store.Append(fire)

	smoke := testRecord("smoke.jpg", risk.Medium, 2.0)
	smoke.SmokeCount = 2
	store.Append(smoke)

	both := testRecord("both.mp4", risk.High, 3.5)
	both.FireCount = 1
	both.SmokeCount = 4
	store.Append(both)

	store.Append(testRecord("clean.jpg", risk.Low, 0.5))

	stats := store.Stats()
	assert.Equal(t, 4, stats.TotalDetections)
	assert.Equal(t, 2, stats.FireDetections, "records with fire_count>0")
	assert.Equal(t, 2, stats.SmokeDetections, "records with smoke_count>0")
	assert.Equal(t, 1.75, stats.AvgProcessingTime)
	assert.Equal(t, RiskLevelCounts{Critical: 1, High: 1, Medium: 1, Low: 1}, stats.RiskLevels)
}

func TestRecent(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"))
	for i := 0; i < 5; i++ {
		store.Append(testRecord(fmt.Sprintf("%d.jpg", i), risk.Low, 0.1))
	}

	tests := []struct {
		name     string
		limit    int
		expected []string
	}{
		{"limit within the log", 2, []string{"3.jpg", "4.jpg"}},
		{"limit equal to the log", 5, []string{"0.jpg", "1.jpg", "2.jpg", "3.jpg", "4.jpg"}},
		{"limit beyond the log returns everything", 50, []string{"0.jpg", "1.jpg", "2.jpg", "3.jpg", "4.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := store.Recent(tt.limit)
			names := make([]string, len(records))
			for i, r := range records {
				names[i] = r.Filename
			}
			assert.Equal(t, tt.expected, names, "records stay in chronological order")
		})
	}
}

func TestProcessingTimeRounding(t *testing.T) {
	r := newRecord(Meta{Timestamp: time.Now(), ProcessingTime: 1.23456})
	assert.Equal(t, 1.23, r.ProcessingTime)
}

// TestVideoRecordShape checks the video-only fields are present on video
// records and omitted from image record JSON.
func TestVideoRecordShape(t *testing.T) {
	meta := Meta{
		Timestamp:           time.Now(),
		Filename:            "clip.mp4",
		ModelUsed:           "best",
		ProcessingTime:      4.2,
		FileType:            "video",
		ConfidenceThreshold: 0.5,
	}
	record := NewVideoRecord(meta, risk.VideoAnalysis{
		DetectionCount:       6,
		MaxConfidence:        0.91,
		FireCount:            2,
		SmokeCount:           1,
		RiskLevel:            risk.High,
		FramesWithDetections: 4,
		TotalFrames:          20,
		DetectionDensity:     20.0,
	})

	assert.Equal(t, 4, record.FramesWithDetections)
	assert.Equal(t, 20, record.TotalFrames)
	assert.Equal(t, 20.0, record.DetectionDensity)

	imageJSON, err := json.Marshal(testRecord("a.jpg", risk.Low, 0.1))
	assert.NoError(t, err)
	assert.NotContains(t, string(imageJSON), "total_frames")
	assert.NotContains(t, string(imageJSON), "detection_density")
}

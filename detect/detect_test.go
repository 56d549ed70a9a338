package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeThreshold verifies that no detection below the requested
// confidence threshold ever survives normalization, for a range of
// thresholds.
func TestNormalizeThreshold(t *testing.T) {
	result := Result{
		Classes: []string{"fire", "smoke"},
		Candidates: []Candidate{
			{ClassID: 0, Score: 0.95, Box: image.Rect(0, 0, 10, 10)},
			{ClassID: 1, Score: 0.61, Box: image.Rect(5, 5, 20, 20)},
			{ClassID: 0, Score: 0.40, Box: image.Rect(30, 30, 40, 40)},
			{ClassID: 1, Score: 0.05, Box: image.Rect(50, 50, 60, 60)},
		},
	}

	for _, tau := range []float32{0, 0.05, 0.3, 0.5, 0.61, 0.9, 1.0} {
		detections := Normalize(result, tau)
		for _, d := range detections {
			assert.GreaterOrEqual(t, d.Confidence, tau,
				"no detection may fall below the threshold")
		}
	}
}

func TestNormalize(t *testing.T) {
	classes := []string{"fire", "smoke"}

	tests := []struct {
		name       string
		candidates []Candidate
		threshold  float32
		expected   []string
	}{
		{
			name: "keeps candidates at or above the threshold in input order",
			candidates: []Candidate{
				{ClassID: 0, Score: 0.9},
				{ClassID: 0, Score: 0.95},
				{ClassID: 0, Score: 0.4},
			},
			threshold: 0.5,
			expected:  []string{"fire", "fire"},
		},
		{
			name: "boundary score is kept",
			candidates: []Candidate{
				{ClassID: 1, Score: 0.5},
			},
			threshold: 0.5,
			expected:  []string{"smoke"},
		},
		{
			name:       "zero candidates yield an empty sequence",
			candidates: nil,
			threshold:  0.5,
			expected:   []string{},
		},
		{
			name: "unknown class id resolves to the literal label",
			candidates: []Candidate{
				{ClassID: 7, Score: 0.8},
				{ClassID: -1, Score: 0.8},
			},
			threshold: 0.5,
			expected:  []string{"unknown", "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections := Normalize(Result{Candidates: tt.candidates, Classes: classes}, tt.threshold)
			assert.Len(t, detections, len(tt.expected))
			for i, d := range detections {
				assert.Equal(t, tt.expected[i], d.ClassName)
			}
		})
	}
}

// TestNormalizeStableOrder verifies output order matches candidate order,
// not confidence order.
func TestNormalizeStableOrder(t *testing.T) {
	result := Result{
		Classes: []string{"fire", "smoke"},
		Candidates: []Candidate{
			{ClassID: 1, Score: 0.6},
			{ClassID: 0, Score: 0.99},
			{ClassID: 1, Score: 0.7},
		},
	}

	detections := Normalize(result, 0.5)
	assert.Equal(t, []float32{0.6, 0.99, 0.7},
		[]float32{detections[0].Confidence, detections[1].Confidence, detections[2].Confidence})
}

func TestNormalizeBBox(t *testing.T) {
	result := Result{
		Classes: []string{"fire"},
		Candidates: []Candidate{
			{ClassID: 0, Score: 0.9, Box: image.Rect(10, 20, 110, 220)},
		},
	}

	detections := Normalize(result, 0.5)
	assert.Equal(t, [4]int{10, 20, 110, 220}, detections[0].BBox)
	assert.Equal(t, image.Rect(10, 20, 110, 220), detections[0].Box)
}

func TestClassName(t *testing.T) {
	classes := []string{"fire", "smoke"}
	assert.Equal(t, "fire", ClassName(classes, 0))
	assert.Equal(t, "smoke", ClassName(classes, 1))
	assert.Equal(t, "unknown", ClassName(classes, 2))
	assert.Equal(t, "unknown", ClassName(classes, -1))
	assert.Equal(t, "unknown", ClassName(nil, 0))
}

// Package registry - Explicit model registry.
//
// The registry is constructed once at process start and passed by
// reference into request handling; there is no ambient global model
// lookup. Resolution falls back to the first registered model when the
// requested name is not loaded.
package registry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/firewatch-ai/go-firewatch/detect"
)

// ModelInfo describes one loaded model for the transport layer.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Loaded      bool   `json:"loaded"`
}

// ErrNoModels is returned when resolution finds nothing loaded at all.
var ErrNoModels = errors.New("no models available")

type entry struct {
	detector    detect.Detector
	description string
}

// Registry resolves model names to loaded detector instances.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a loaded detector under a name. Registration order is
// preserved and decides the fallback model.
func (r *Registry) Register(name, description string, d detect.Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{detector: d, description: description}
}

// Get resolves a model name. An unknown name falls back to the first
// registered model; an empty registry is a configuration error.
func (r *Registry) Get(name string) (detect.Detector, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok {
		return e.detector, name, nil
	}
	if len(r.order) > 0 {
		first := r.order[0]
		return r.entries[first].detector, first, nil
	}
	return nil, "", ErrNoModels
}

// List returns the loaded models in registration order.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, ModelInfo{
			Name:        name,
			Description: r.entries[name].description,
			Loaded:      true,
		})
	}
	return infos
}

// Len reports how many models are loaded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close closes every registered detector, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, name := range r.order {
		if err := r.entries[name].detector.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing model %s", name)
		}
	}
	r.entries = make(map[string]entry)
	r.order = nil
	return first
}

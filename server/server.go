// Package server - Thin HTTP transport over the detection core.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/firewatch-ai/go-firewatch/config"
	"github.com/firewatch-ai/go-firewatch/history"
	"github.com/firewatch-ai/go-firewatch/metrics"
	"github.com/firewatch-ai/go-firewatch/pipeline"
	"github.com/firewatch-ai/go-firewatch/registry"
)

// Server holds the shared collaborators request handlers need. The
// registry and the history store are the only shared mutable state; both
// do their own locking.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *history.Store
	metrics  *metrics.Metrics
}

// New wires the transport layer.
func New(cfg *config.Config, reg *registry.Registry, store *history.Store, m *metrics.Metrics) *Server {
	return &Server{cfg: cfg, registry: reg, store: store, metrics: m}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleModels lists the loaded models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": s.registry.List()})
}

// handleHistory returns the most recent records in chronological order.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": s.store.Recent(limit)})
}

// handleStats serializes the derived aggregates verbatim. An empty log
// produces an empty stats object.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store.Len() == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"stats": map[string]interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": s.store.Stats()})
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// writeError maps a tagged pipeline error to an HTTP status. The core
// never decides status codes; this is the transport's mapping.
func writeError(w http.ResponseWriter, err error) {
	kind := pipeline.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindInput, pipeline.KindConfig:
		status = http.StatusBadRequest
	}
	log.Printf("detection error (%s): %v", kind, err)
	writeJSON(w, status, errorResponse{
		Success:   false,
		Message:   err.Error(),
		ErrorType: string(kind),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

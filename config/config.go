// Package config - Process configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration, resolved once at startup.
type Config struct {
	HTTPPort string

	// ModelDir is scanned for *.onnx files at startup.
	ModelDir string
	// OrtLibraryPath enables the ONNX Runtime backend when set and the
	// shared library exists; otherwise models load through OpenCV DNN.
	OrtLibraryPath string

	UploadDir    string
	ProcessedDir string
	HistoryFile  string

	// DefaultConfidence is the threshold used when a request omits one.
	DefaultConfidence float64
	MaxUploadSizeMB   int
}

// Load reads an optional .env file and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine; system environment variables apply.
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		ModelDir:          getEnv("MODEL_DIR", "model"),
		OrtLibraryPath:    getEnv("ORT_LIBRARY_PATH", ""),
		UploadDir:         getEnv("UPLOAD_DIR", "static/uploads"),
		ProcessedDir:      getEnv("PROCESSED_DIR", "static/processed"),
		HistoryFile:       getEnv("HISTORY_FILE", "detection_history.json"),
		DefaultConfidence: getEnvFloat("DEFAULT_CONFIDENCE", 0.5),
		MaxUploadSizeMB:   getEnvInt("MAX_UPLOAD_SIZE_MB", 100),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using default %g", key, fallback)
	}
	return fallback
}

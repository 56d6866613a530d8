package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultThumbnailsSubDir = "thumbnails"

	defaultThumbnailQueueSize  = 200
	defaultNumThumbnailWorkers = 4
	defaultThumbnailMaxSize    = 300

	defaultDebounceMs      = 1000
	defaultEventCooldownMs = 500
)

type Config struct {
	// working folder loaded at startup (may be empty; callers can load later)
	FolderPath string

	// sidecar watcher timing
	DebounceMs      int
	EventCooldownMs int

	// thumbnail generation settings
	ThumbnailsSubDir    string
	ThumbnailMaxSize    int
	ThumbnailQueueSize  int
	NumThumbnailWorkers int
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	folder := os.Getenv("WATCH_FOLDER")
	if folder != "" {
		absFolder, err := filepath.Abs(folder)
		if err != nil {
			return Config{}, fmt.Errorf("failed to get absolute path for watch folder '%s': %w", folder, err)
		}
		folder = absFolder
	}

	cfg := Config{
		FolderPath:          folder,
		DebounceMs:          getEnvIntOrDefault("WATCHER_DEBOUNCE_MS", defaultDebounceMs),
		EventCooldownMs:     getEnvIntOrDefault("WATCHER_COOLDOWN_MS", defaultEventCooldownMs),
		ThumbnailsSubDir:    getEnvOrDefault("THUMBNAILS_SUBDIR", DefaultThumbnailsSubDir),
		ThumbnailMaxSize:    getEnvIntOrDefault("THUMBNAIL_MAX_SIZE", defaultThumbnailMaxSize),
		ThumbnailQueueSize:  getEnvIntOrDefault("THUMBNAIL_QUEUE_SIZE", defaultThumbnailQueueSize),
		NumThumbnailWorkers: getEnvIntOrDefault("NUM_THUMBNAIL_WORKERS", defaultNumThumbnailWorkers),
	}

	return cfg, nil
}

// Package config reads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/policy"
)

type Config struct {
	Port         string
	ModelPath    string
	MetadataPath string
	// OrtLibraryPath is the onnxruntime shared library. Empty lets the
	// runtime pick its default.
	OrtLibraryPath string

	LogLevel string
	LogFile  string

	MaxBodyBytes   int64
	// MaxImagePixels caps width*height of decoded uploads.
	MaxImagePixels int64

	HistoryDBPath string

	CacheSize     int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	CameraDevice        int
	PresenceThreshold   float64
	ConfidenceThreshold float64
}

func Default() *Config {
	return &Config{
		Port:                "8080",
		ModelPath:           filepath.Join("models", "model.onnx"),
		MetadataPath:        filepath.Join("models", "model_metadata.json"),
		LogLevel:            "info",
		MaxBodyBytes:        10 << 20,
		MaxImagePixels:      classifier.DefaultMaxPixels,
		CacheSize:           256,
		CacheTTL:            24 * time.Hour,
		PresenceThreshold:   policy.DefaultPresenceThreshold,
		ConfidenceThreshold: policy.DefaultConfidenceThreshold,
	}
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from a lookup function, falling back to defaults
// for unset or unparsable values.
func FromEnv(getenv func(string) string) *Config {
	cfg := Default()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
			*dst = v
		}
	}

	str("PORT", &cfg.Port)
	str("MODEL_PATH", &cfg.ModelPath)
	str("METADATA_PATH", &cfg.MetadataPath)
	str("ORT_LIBRARY_PATH", &cfg.OrtLibraryPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	str("HISTORY_DB_PATH", &cfg.HistoryDBPath)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)

	if v, err := strconv.ParseInt(strings.TrimSpace(getenv("MAX_BODY_BYTES")), 10, 64); err == nil {
		cfg.MaxBodyBytes = v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(getenv("MAX_IMAGE_PIXELS")), 10, 64); err == nil {
		cfg.MaxImagePixels = v
	}
	integer("CACHE_SIZE", &cfg.CacheSize)
	integer("REDIS_DB", &cfg.RedisDB)
	integer("CAMERA_DEVICE", &cfg.CameraDevice)
	if v, err := time.ParseDuration(strings.TrimSpace(getenv("CACHE_TTL"))); err == nil {
		cfg.CacheTTL = v
	}
	float("PRESENCE_THRESHOLD", &cfg.PresenceThreshold)
	float("CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold)

	cfg.Validate()
	return cfg
}

// Validate clamps values to usable ranges.
func (c *Config) Validate() {
	d := Default()
	if _, err := strconv.Atoi(c.Port); err != nil {
		c.Port = d.Port
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.MaxImagePixels <= 0 {
		c.MaxImagePixels = d.MaxImagePixels
	}
	if c.CacheSize < 0 {
		c.CacheSize = 0
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CameraDevice < 0 {
		c.CameraDevice = 0
	}
	if c.PresenceThreshold < 0 {
		c.PresenceThreshold = d.PresenceThreshold
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
}

// ResolvePaths anchors relative model paths at the project root. Binaries
// started from cmd/<name> look two directories up.
func (c *Config) ResolvePaths(workDir string) {
	root := workDir
	if filepath.Base(filepath.Dir(workDir)) == "cmd" {
		root = filepath.Join(workDir, "..", "..")
	}
	if !filepath.IsAbs(c.ModelPath) {
		c.ModelPath = filepath.Join(root, c.ModelPath)
	}
	if c.MetadataPath != "" && !filepath.IsAbs(c.MetadataPath) {
		c.MetadataPath = filepath.Join(root, c.MetadataPath)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice builder service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	BackendMode    string
	TranscribeURL  string
	DialogueURL    string
	GenerateURL    string
	BackendTimeout time.Duration

	VoiceLocale string

	CaptureMaxClipBytes int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebuilder"),
		AllowAnyOrigin:   false,
		BackendMode:      envOrDefault("BUILDER_BACKEND_MODE", "auto"),
		TranscribeURL:    stringsTrimSpace("BUILDER_TRANSCRIBE_URL"),
		DialogueURL:      stringsTrimSpace("BUILDER_DIALOGUE_URL"),
		GenerateURL:      stringsTrimSpace("BUILDER_GENERATE_URL"),
		VoiceLocale:      envOrDefault("VOICE_LOCALE", "en-US"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		// Roughly 10 minutes of 16kHz mono PCM16.
		CaptureMaxClipBytes:      19_200_000,
		BackendTimeout:           60 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("BUILDER_BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureMaxClipBytes, err = intFromEnv("CAPTURE_MAX_CLIP_BYTES", cfg.CaptureMaxClipBytes)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("BUILDER_BACKEND_TIMEOUT must be positive")
	}
	if cfg.CaptureMaxClipBytes <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_MAX_CLIP_BYTES must be positive")
	}
	switch cfg.BackendMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("BUILDER_BACKEND_MODE must be one of auto|http|mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

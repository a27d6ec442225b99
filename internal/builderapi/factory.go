package builderapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config controls backend construction.
type Config struct {
	Mode          string // auto | http | mock
	TranscribeURL string
	DialogueURL   string
	GenerateURL   string
	Timeout       time.Duration
}

// New builds the backend clients for the configured mode. Auto picks HTTP when
// all three endpoints are set and falls back to the mock otherwise.
func New(cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	allURLs := strings.TrimSpace(cfg.TranscribeURL) != "" &&
		strings.TrimSpace(cfg.DialogueURL) != "" &&
		strings.TrimSpace(cfg.GenerateURL) != ""

	switch mode {
	case "auto":
		if allURLs {
			return newHTTP(cfg), nil
		}
		return newMock(), nil
	case "http":
		if !allURLs {
			return Backend{}, errors.New("builder backend http mode requires transcribe, dialogue, and generate URLs")
		}
		return newHTTP(cfg), nil
	case "mock":
		return newMock(), nil
	default:
		return Backend{}, fmt.Errorf("unsupported builder backend mode %q", cfg.Mode)
	}
}

func newHTTP(cfg Config) Backend {
	b := NewHTTPBackend(cfg.TranscribeURL, cfg.DialogueURL, cfg.GenerateURL, cfg.Timeout)
	return Backend{Transcriber: b, Dialoguer: b, Generator: b}
}

func newMock() Backend {
	m := NewMockBackend()
	return Backend{Transcriber: m, Dialoguer: m, Generator: m}
}

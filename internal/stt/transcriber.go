package stt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
)

const serviceName = "transcription"

// Request carries one utterance of encoded audio.
type Request struct {
	AudioBase64  string
	MIMEType     string
	LanguageHint language.Code
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// New builds the transcriber selected by cfg.Mode.
func New(cfg config.TranscriptionConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "", "http":
		httpClient := &http.Client{}
		if cfg.TimeoutMS > 0 {
			httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}
		return NewClient(cfg, httpClient), nil
	case "mock":
		return NewMockTranscriber(), nil
	case "exec":
		return NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
}

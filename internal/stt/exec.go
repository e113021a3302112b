package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/mattn/go-shellwords"
)

// execTranscriber pipes the HTTP request body to a local command and reads
// {"transcript": "..."} back from its stdout.
type execTranscriber struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type execResult struct {
	Transcript *string `json:"transcript"`
}

func NewExecTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execTranscriber{cmd: args, model: cfg.Model}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, req Request) (string, error) {
	if req.AudioBase64 == "" {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	input, err := json.Marshal(requestBody{
		AudioBase64:  req.AudioBase64,
		MIMEType:     req.MIMEType,
		LanguageHint: string(req.LanguageHint),
		Model:        r.model,
	})
	if err != nil {
		return "", err
	}

	command := exec.CommandContext(ctx, r.cmd[0], r.cmd[1:]...)
	command.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", svcerr.Transport(serviceName, fmt.Errorf("transcription command failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", svcerr.Format(serviceName, "command output is not {\"transcript\": string}", err)
	}
	if resp.Transcript == nil {
		return "", svcerr.Format(serviceName, "command output has no string transcript", nil)
	}
	return strings.TrimSpace(*resp.Transcript), nil
}

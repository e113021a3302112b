package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client posts base64 audio to a local speech-to-text HTTP service.
type Client struct {
	cfg    config.TranscriptionConfig
	http   *http.Client
	tracer trace.Tracer
}

// requestBody omits language_hint and model when they are empty.
type requestBody struct {
	AudioBase64  string `json:"audio_base64"`
	MIMEType     string `json:"mime_type"`
	LanguageHint string `json:"language_hint,omitempty"`
	Model        string `json:"model,omitempty"`
}

type responseBody struct {
	Transcript json.RawMessage `json:"transcript"`
}

func NewClient(cfg config.TranscriptionConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tracer: otel.Tracer("github.com/loqalabs/loqa-caption/stt"),
	}
}

// Transcribe returns the trimmed transcript. Empty audio short-circuits to "".
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	if req.AudioBase64 == "" {
		return "", nil
	}
	if !c.cfg.Configured() {
		return "", svcerr.Config(serviceName, "transcription service endpoint is not configured")
	}

	ctx, span := c.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("caption.mime_type", req.MIMEType),
		attribute.String("caption.language_hint", string(req.LanguageHint)),
		attribute.Int("caption.audio_base64_len", len(req.AudioBase64)),
	))
	defer span.End()

	text, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return text, err
}

func (c *Client) do(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(requestBody{
		AudioBase64:  req.AudioBase64,
		MIMEType:     req.MIMEType,
		LanguageHint: string(req.LanguageHint),
		Model:        c.cfg.Model,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", svcerr.Transport(serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", svcerr.FromResponse(serviceName, resp, "failed to fetch transcription")
	}

	var decoded responseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", svcerr.Format(serviceName, "response is not valid JSON", err)
	}
	var transcript *string
	if err := json.Unmarshal(decoded.Transcript, &transcript); err != nil || transcript == nil {
		return "", svcerr.Format(serviceName, "transcript is not a string", nil)
	}
	return strings.TrimSpace(*transcript), nil
}

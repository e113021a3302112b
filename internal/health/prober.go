// Package health reports whether the translation and transcription backends
// are reachable.
//
// By default a probe only checks liveness: any HTTP response, including 404
// or 500, means a process is listening. Strict mode additionally requires a
// 2xx status.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Status is a point-in-time snapshot; it is never persisted.
type Status struct {
	TranslationOK      bool      `json:"translation_ok"`
	TranscriptionOK    bool      `json:"transcription_ok"`
	TranslationError   string    `json:"translation_error,omitempty"`
	TranscriptionError string    `json:"transcription_error,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Prober probes both backends. It holds only immutable configuration.
type Prober struct {
	translation   config.TranslationConfig
	transcription config.TranscriptionConfig
	health        config.HealthConfig
	client        *http.Client
	logger        *slog.Logger
	failures      metric.Int64Counter
}

func NewProber(cfg config.Config, client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	failures, err := otel.Meter("github.com/loqalabs/loqa-caption/health").Int64Counter(
		"caption.health.probe_failures",
		metric.WithDescription("Backend probes that found the service unreachable"))
	if err != nil {
		failures = noop.Int64Counter{}
	}
	return &Prober{
		translation:   cfg.Translation,
		transcription: cfg.Transcription,
		health:        cfg.Health,
		client:        client,
		logger:        logger.With(slog.String("component", "health-prober")),
		failures:      failures,
	}
}

// Check probes both services and never fails; every problem ends up in the
// returned Status.
func (p *Prober) Check(ctx context.Context) Status {
	status := Status{CheckedAt: time.Now().UTC()}

	if !p.translation.Configured() {
		status.TranslationError = "translation service url is not configured"
	} else {
		status.TranslationOK, status.TranslationError = p.probe(ctx, "translation", p.TranslationProbeURL(), p.translation.BaseURL)
	}

	if !p.transcription.Configured() {
		status.TranscriptionError = "transcription service url is not configured"
	} else {
		status.TranscriptionOK, status.TranscriptionError = p.probe(ctx, "transcription", p.transcription.Endpoint, p.transcription.Endpoint)
	}

	return status
}

// TranslationProbeURL substitutes the health path for the first occurrence
// of the marker, e.g. http://host:11434/v1 -> http://host:11434/api/tags.
func (p *Prober) TranslationProbeURL() string {
	base := p.translation.BaseURL
	marker := p.health.TranslationMarker
	if marker == "" || !strings.Contains(base, marker) {
		return base
	}
	return strings.Replace(base, marker, p.health.TranslationProbePath, 1)
}

func (p *Prober) probe(ctx context.Context, service, url, displayURL string) (bool, string) {
	if p.health.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.health.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.recordFailure(ctx, service)
		return false, fmt.Sprintf("invalid %s service url %s: %v", service, displayURL, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure(ctx, service)
		p.logger.Debug("probe failed", slog.String("service", service), slog.String("error", err.Error()))
		return false, fmt.Sprintf("failed to connect to %s service at %s: %v", service, displayURL, err)
	}
	resp.Body.Close()

	if p.health.Strict && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		p.recordFailure(ctx, service)
		return false, fmt.Sprintf("%s service at %s responded with status %d", service, displayURL, resp.StatusCode)
	}
	return true, ""
}

func (p *Prober) recordFailure(ctx context.Context, service string) {
	p.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

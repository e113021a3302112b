package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-caption/translate"

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	cfg      config.TranslationConfig
	endpoint string
	table    *language.Table
	http     *http.Client
	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient returns a client for cfg.BaseURL. A nil httpClient uses
// http.DefaultClient.
func NewClient(cfg config.TranslationConfig, table *language.Table, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("caption.translation.requests",
		metric.WithDescription("Translation requests by outcome"))
	if err != nil {
		requests = noop.Int64Counter{}
	}
	latency, err := meter.Float64Histogram("caption.translation.latency",
		metric.WithDescription("Translation round trip latency"),
		metric.WithUnit("ms"))
	if err != nil {
		latency = noop.Float64Histogram{}
	}
	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		table:    table,
		http:     httpClient,
		tracer:   otel.Tracer(instrumentationName),
		requests: requests,
		latency:  latency,
	}
}

// Translate returns only the translated text. Blank input short-circuits to
// "" without touching the network.
func (c *Client) Translate(ctx context.Context, text string, source, target language.Code) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if !c.cfg.Configured() {
		return "", svcerr.Config(serviceName, "translation service base url is not configured")
	}

	ctx, span := c.tracer.Start(ctx, "translate",
		trace.WithAttributes(
			attribute.String("caption.source_language", string(source)),
			attribute.String("caption.target_language", string(target)),
			attribute.String("caption.model", c.cfg.Model),
		))
	defer span.End()

	start := time.Now()
	result, err := c.do(ctx, text, source, target)
	outcome := "ok"
	if err != nil {
		outcome = kindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	c.requests.Add(ctx, 1, attrs)
	c.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	return result, err
}

func (c *Client) do(ctx context.Context, text string, source, target language.Code) (string, error) {
	payload := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: BuildPrompt(c.table, text, source, target)}},
		Stream:   false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", svcerr.Transport(serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", svcerr.FromResponse(serviceName, resp, "failed to fetch translation")
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", svcerr.Format(serviceName, "response is not valid JSON", err)
	}
	if len(decoded.Choices) == 0 {
		return "", svcerr.Format(serviceName, "response has no choices", nil)
	}
	var content *string
	if err := json.Unmarshal(decoded.Choices[0].Message.Content, &content); err != nil || content == nil {
		return "", svcerr.Format(serviceName, "choices[0].message.content is not a string", nil)
	}
	return strings.TrimSpace(*content), nil
}

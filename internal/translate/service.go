package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/nats-io/nats.go"
)

// Service answers translate.request messages on the bus so that other
// processes can share one translation backend.
type Service struct {
	bus        *bus.Client
	translator Translator
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	timeout    time.Duration
	logger     *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, translator Translator, timeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		bus:        busClient,
		translator: translator,
		ctx:        ctx,
		cancel:     cancel,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "translate-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranslateRequest, "translate-workers", s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe translate requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranslateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode translate request", slogError(err))
		s.respond(msg, protocol.TranslateResponse{Error: "invalid request: " + err.Error(), ErrorKind: "request"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		start := time.Now()
		text, err := s.translator.Translate(ctx, req.Text, language.Code(req.Source), language.Code(req.Target))
		resp := protocol.TranslateResponse{Text: text, TraceID: req.TraceID}
		if err != nil {
			s.logger.Warn("translation failed", slogError(err), slog.String("trace_id", req.TraceID))
			resp = protocol.TranslateResponse{Error: err.Error(), ErrorKind: kindOf(err), TraceID: req.TraceID}
		} else {
			s.logger.Debug("translation complete", slog.Duration("latency", time.Since(start)))
		}
		s.respond(msg, resp)
	}()
}

func (s *Service) respond(msg *nats.Msg, resp protocol.TranslateResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal translate response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to translate request", slogError(err))
	}
}

func kindOf(err error) string {
	var e *svcerr.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unknown"
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

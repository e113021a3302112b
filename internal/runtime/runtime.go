// Package runtime assembles the caption services and serves the HTTP API.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/captioner"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/health"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/natsserver"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/loqalabs/loqa-caption/internal/speech"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/translate"
)

type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	table         *language.Table
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	store         *eventstore.Store
	services      []service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		table:  language.NewTable(cfg.Languages),
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	api, err := r.assemble(ctx)
	if err != nil {
		r.shutdown()
		return err
	}
	api.Metrics = metricsHandler

	go r.logStartupHealth(ctx, api.Prober)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil && bind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

// assemble opens storage and the bus and starts every enabled service.
func (r *Runtime) assemble(ctx context.Context) (*API, error) {
	translator, err := translate.New(r.cfg.Translation, r.table)
	if err != nil {
		return nil, fmt.Errorf("build translator: %w", err)
	}
	transcriber, err := stt.New(r.cfg.Transcription)
	if err != nil {
		return nil, fmt.Errorf("build transcriber: %w", err)
	}
	prober := health.NewProber(r.cfg, nil, r.logger)

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	if err := store.Ensure(); err != nil {
		return nil, err
	}
	if err := store.Prune(ctx); err != nil {
		r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
	}
	if n, err := store.CountSessions(ctx); err == nil {
		r.logger.Info("event store ready", slog.String("retention_mode", r.cfg.EventStore.RetentionMode), slog.Int("sessions", n))
	}

	api := &API{
		Table:         r.table,
		Translator:    translator,
		Transcriber:   transcriber,
		Prober:        prober,
		Events:        store,
		Ready:         r.Healthy,
		DefaultSource: language.Code(r.cfg.Captioner.SourceLanguage),
		DefaultTarget: language.Code(r.cfg.Captioner.TargetLanguage),
		Logger:        r.logger.With(slog.String("component", "http")),
	}

	if !r.cfg.Bus.Enabled {
		r.logger.Info("bus disabled; serving HTTP API only")
		return api, nil
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return nil, err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}
	r.bus = client
	if name := busCfg.CaptionStream; name != "" {
		maxAge := time.Duration(busCfg.CaptionStreamMaxAgeMS) * time.Millisecond
		if err := client.EnsureStream(name, []string{protocol.SubjectCaptionUpdate}, maxAge); err != nil {
			r.logger.Warn("caption stream unavailable; captions will not be replayable", slog.String("error", err.Error()))
		}
	}

	translateTimeout := time.Duration(r.cfg.Translation.TimeoutMS) * time.Millisecond
	caption := captioner.NewService(ctx, r.cfg.Captioner,
		speech.NewBusSource(client, 64, r.logger),
		translator, client.Conn(), store, r.logger)
	api.Sessions = caption

	r.services = []service{
		stt.NewService(ctx, r.cfg.Transcription, client, transcriber, r.logger),
		translate.NewService(ctx, client, translator, translateTimeout, r.logger),
		caption,
	}
	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return nil, fmt.Errorf("start service: %w", err)
		}
	}
	return api, nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) logStartupHealth(ctx context.Context, prober StatusChecker) {
	if !r.cfg.Health.StartupCheck {
		return
	}
	status := prober.Check(ctx)
	attrs := []any{
		slog.Bool("translation_ok", status.TranslationOK),
		slog.Bool("transcription_ok", status.TranscriptionOK),
	}
	if status.TranslationError != "" {
		attrs = append(attrs, slog.String("translation_error", status.TranslationError))
	}
	if status.TranscriptionError != "" {
		attrs = append(attrs, slog.String("transcription_error", status.TranscriptionError))
	}
	if status.TranslationOK && status.TranscriptionOK {
		r.logger.Info("backend services reachable", attrs...)
		return
	}
	r.logger.Warn("backend services not reachable", attrs...)
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// Healthy reports whether every started service is healthy.
func (r *Runtime) Healthy() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			return false
		}
	}
	return true
}

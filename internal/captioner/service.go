// Package captioner connects speech capture to the translator and publishes
// caption updates for presentation clients.
package captioner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/loqalabs/loqa-caption/internal/speech"
	"github.com/loqalabs/loqa-caption/internal/translate"
)

// Publisher delivers caption updates; *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Recorder persists the caption timeline; *eventstore.Store satisfies it.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, actorID, privacy string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type Service struct {
	cfg        config.CaptionerConfig
	source     speech.Source
	translator translate.Translator
	publisher  Publisher
	recorder   Recorder
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sema       chan struct{}
	running    bool
	mu         sync.Mutex
	sessions   map[string]*sessionState
}

// NewService wires a caption pipeline. recorder may be nil.
func NewService(parent context.Context, cfg config.CaptionerConfig, source speech.Source, translator translate.Translator, publisher Publisher, recorder Recorder, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:        cfg,
		source:     source,
		translator: translator,
		publisher:  publisher,
		recorder:   recorder,
		logger:     logger.With(slog.String("component", "captioner")),
		ctx:        ctx,
		cancel:     cancel,
		sema:       make(chan struct{}, concurrency),
		sessions:   make(map[string]*sessionState),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	events, err := s.source.Events(s.ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for evt := range events {
			s.Handle(evt)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the source is exhausted and every translation finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Snapshot returns the caption state for sessionID.
func (s *Service) Snapshot(sessionID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot, true
}

// Handle processes one capture event.
func (s *Service) Handle(evt speech.Event) {
	if evt.SessionID == "" {
		evt.SessionID = "default"
	}
	source := evt.Language
	if source == "" {
		source = language.Code(s.cfg.SourceLanguage)
	}
	target := language.Code(s.cfg.TargetLanguage)
	wantTranslation := evt.Final || s.cfg.TranslateInterim
	traceID := uuid.NewString()

	s.mu.Lock()
	state := s.sessions[evt.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[evt.SessionID] = state
		s.recordSession(evt.SessionID)
	}
	switch {
	case evt.Sequence == 0, state.closed && evt.Sequence <= state.lastSeq:
		// producers may number each utterance from scratch
		evt.Sequence = state.lastSeq + 1
	case evt.Sequence < state.lastSeq:
		s.mu.Unlock()
		s.logger.Debug("dropping stale transcript", slog.String("session_id", evt.SessionID), slog.Int("sequence", evt.Sequence))
		return
	}
	state.lastSeq = evt.Sequence
	state.closed = evt.Final
	state.snapshot.SessionID = evt.SessionID
	state.snapshot.SourceLanguage = string(source)
	state.snapshot.TargetLanguage = string(target)
	state.snapshot.Transcript = TranscriptState{Text: evt.Text, Listening: !evt.Final}
	if wantTranslation {
		state.pending++
		state.snapshot.Translation.Translating = true
	}
	state.snapshot.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	caption := protocol.Caption{
		SessionID:      evt.SessionID,
		Sequence:       evt.Sequence,
		Transcript:     evt.Text,
		SourceLanguage: string(source),
		TargetLanguage: string(target),
		Final:          evt.Final,
		Translating:    wantTranslation,
		TraceID:        traceID,
		Timestamp:      time.Now().UTC(),
	}
	s.record(evt.SessionID, traceID, eventstore.TypeTranscript, caption)
	s.publish(caption)

	if !wantTranslation {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sema <- struct{}{}:
		case <-s.ctx.Done():
			s.finish(caption, "", s.ctx.Err())
			return
		}
		defer func() { <-s.sema }()

		ctx := s.ctx
		if s.cfg.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		text, err := s.translator.Translate(ctx, evt.Text, source, target)
		s.finish(caption, text, err)
	}()
}

// finish applies a translation result. Results for an older sequence than
// one already published are dropped unless they close an utterance.
func (s *Service) finish(caption protocol.Caption, text string, err error) {
	s.mu.Lock()
	state := s.sessions[caption.SessionID]
	state.pending--
	stale := !caption.Final && caption.Sequence < state.publishedSeq
	if !stale {
		if caption.Sequence > state.publishedSeq {
			state.publishedSeq = caption.Sequence
		}
		if err != nil {
			state.snapshot.Translation.Error = err.Error()
		} else {
			state.snapshot.Translation.Text = text
			state.snapshot.Translation.Error = ""
		}
		state.snapshot.UpdatedAt = time.Now().UTC()
	}
	state.snapshot.Translation.Translating = state.pending > 0
	s.mu.Unlock()

	if stale {
		s.logger.Debug("dropping out-of-order translation", slog.String("session_id", caption.SessionID), slog.Int("sequence", caption.Sequence))
		return
	}

	caption.Translating = false
	caption.Timestamp = time.Now().UTC()
	if err != nil {
		s.logger.Warn("translation failed", slog.String("error", err.Error()), slog.String("session_id", caption.SessionID))
		caption.Error = err.Error()
		s.record(caption.SessionID, caption.TraceID, eventstore.TypeError, caption)
	} else {
		caption.Translation = text
		s.record(caption.SessionID, caption.TraceID, eventstore.TypeCaption, caption)
	}
	s.publish(caption)
}

func (s *Service) publish(caption protocol.Caption) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(caption)
	if err != nil {
		s.logger.Warn("failed to marshal caption", slog.String("error", err.Error()))
		return
	}
	if err := s.publisher.Publish(protocol.SubjectCaptionUpdate, data); err != nil {
		s.logger.Warn("failed to publish caption", slog.String("error", err.Error()))
	}
}

func (s *Service) recordSession(sessionID string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.AppendSession(s.ctx, sessionID, "captioner", s.cfg.PrivacyScope); err != nil {
		s.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}
}

func (s *Service) record(sessionID, traceID, eventType string, caption protocol.Caption) {
	if s.recorder == nil {
		return
	}
	payload, err := json.Marshal(caption)
	if err != nil {
		return
	}
	evt := eventstore.Event{
		SessionID: sessionID,
		TraceID:   traceID,
		ActorID:   "captioner",
		Type:      eventType,
		Payload:   payload,
		Privacy:   s.cfg.PrivacyScope,
	}
	if err := s.recorder.AppendEvent(s.ctx, evt); err != nil {
		s.logger.Warn("failed to record caption event", slog.String("error", err.Error()))
	}
}

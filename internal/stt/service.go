package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service turns raw audio frames on the bus into transcripts by sending the
// buffered utterance to the configured Transcriber.
type Service struct {
	cfg         config.TranscriptionConfig
	bus         *bus.Client
	transcriber Transcriber
	sessions    map[string]*sessionState
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	sub         *nats.Subscription
	wg          sync.WaitGroup
	ready       bool
	sequence    int
	logger      *slog.Logger
}

type sessionState struct {
	Buffer       []byte
	SampleRate   int
	Channels     int
	LanguageHint string
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
}

func NewService(parent context.Context, cfg config.TranscriptionConfig, busClient *bus.Client, transcriber Transcriber, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:         cfg,
		bus:         busClient,
		transcriber: transcriber,
		sessions:    make(map[string]*sessionState),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(slog.String("component", "stt-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
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
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectAudioFramePrefix+".")
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{
			SampleRate:   s.cfg.SampleRate,
			Channels:     s.cfg.Channels,
			LanguageHint: s.cfg.DefaultLanguage,
		}
		s.sessions[frame.SessionID] = state
	}
	if frame.SampleRate > 0 {
		state.SampleRate = frame.SampleRate
	}
	if frame.Channels > 0 {
		state.Channels = frame.Channels
	}
	if frame.LanguageHint != "" {
		state.LanguageHint = frame.LanguageHint
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if s.cfg.PublishInterim && !frame.Final {
		if s.shouldSchedulePartial(frame.SessionID) {
			s.scheduleTranscription(frame.SessionID, false)
		}
	}
	if frame.Final {
		s.scheduleTranscription(frame.SessionID, true)
	}
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil {
		return false
	}
	if state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	var pcm []byte
	if final {
		// audio arriving while the final is in flight belongs to the next utterance
		pcm, state.Buffer = state.Buffer, nil
	} else {
		pcm = append([]byte(nil), state.Buffer...)
	}
	sampleRate, channels, hint := state.SampleRate, state.Channels, state.LanguageHint
	// one counter across sessions keeps sequences increasing when a session
	// id is reused for the next utterance
	s.sequence++
	seq := s.sequence
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := 45 * time.Second
		if s.cfg.TimeoutMS > 0 {
			timeout = time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		req, err := RequestFromPCM(pcm, sampleRate, channels, hint)
		if err != nil {
			s.logger.Warn("failed to encode audio", slogError(err))
		} else {
			text, err := s.transcriber.Transcribe(ctx, req)
			if err != nil {
				s.logger.Warn("transcription failed", slogError(err), slog.String("session_id", sessionID))
			} else {
				s.publishTranscript(sessionID, seq, text, hint, final)
			}
		}

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			state.PendingFinal = false
			if !final {
				state.LastPartial = time.Now()
			}
			if final && !pendingFinal && len(state.Buffer) == 0 {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal {
			s.scheduleTranscription(sessionID, true)
		}
	}()
}

func (s *Service) publishTranscript(sessionID string, seq int, text, lang string, final bool) {
	if text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID: sessionID,
		Sequence:  seq,
		Text:      text,
		Partial:   !final,
		Language:  lang,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

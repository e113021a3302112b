package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource adapts transcripts published on stt.text.* into events. Browser
// recognizers and the audio transcription service both publish there.
type BusSource struct {
	bus    *bus.Client
	buffer int
	logger *slog.Logger
}

func NewBusSource(busClient *bus.Client, buffer int, logger *slog.Logger) *BusSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &BusSource{bus: busClient, buffer: buffer, logger: logger.With(slog.String("component", "speech-bus-source"))}
}

func (s *BusSource) Events(ctx context.Context) (<-chan Event, error) {
	msgs := make(chan *nats.Msg, s.buffer)
	sub, err := s.bus.Conn().ChanSubscribe(protocol.SubjectTranscriptAll, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe transcripts: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				var tr protocol.Transcript
				if err := json.Unmarshal(msg.Data, &tr); err != nil {
					s.logger.Warn("failed to decode transcript", slog.String("error", err.Error()))
					continue
				}
				evt := Event{
					SessionID: tr.SessionID,
					Sequence:  tr.Sequence,
					Text:      tr.Text,
					Final:     !tr.Partial,
					Language:  language.Code(tr.Language),
					Timestamp: tr.Timestamp,
				}
				select {
				case <-ctx.Done():
					return
				case out <- evt:
				}
			}
		}
	}()
	return out, nil
}

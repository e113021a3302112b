// Package speech models speech capture as a pluggable capability that yields
// interim and final transcript events.
package speech

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-caption/internal/language"
)

// Event is one recognition result. Interim events may be revised by later
// events with a higher Sequence; a Final event closes the utterance.
type Event struct {
	SessionID string
	Sequence  int
	Text      string
	Final     bool
	Language  language.Code
	Timestamp time.Time
}

// Source produces events lazily: nothing is captured until Events is called,
// the stream runs until ctx is cancelled or the source is exhausted, and
// Events may be called again afterwards to restart capture.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

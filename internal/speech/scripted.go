package speech

import (
	"context"
	"sync"
	"time"
)

// ScriptedSource replays a fixed list of events. Each call to Events starts
// the script from the beginning.
type ScriptedSource struct {
	events []Event
	delay  time.Duration

	mu     sync.Mutex
	starts int
}

func NewScriptedSource(events []Event, delay time.Duration) *ScriptedSource {
	return &ScriptedSource{events: append([]Event(nil), events...), delay: delay}
}

func (s *ScriptedSource) Events(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		for _, evt := range s.events {
			if s.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.delay):
				}
			}
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now().UTC()
			}
			select {
			case <-ctx.Done():
				return
			case out <- evt:
			}
		}
	}()
	return out, nil
}

// Starts reports how many times Events has been called.
func (s *ScriptedSource) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

package captioner

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/loqalabs/loqa-caption/internal/speech"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/loqalabs/loqa-caption/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu       sync.Mutex
	captions []protocol.Caption
}

func (p *capturePublisher) Publish(subject string, data []byte) error {
	if subject != protocol.SubjectCaptionUpdate {
		return nil
	}
	var c protocol.Caption
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	p.mu.Lock()
	p.captions = append(p.captions, c)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) all() []protocol.Caption {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Caption(nil), p.captions...)
}

func (p *capturePublisher) translated() []protocol.Caption {
	var out []protocol.Caption
	for _, c := range p.all() {
		if !c.Translating && (c.Translation != "" || c.Error != "") {
			out = append(out, c)
		}
	}
	return out
}

type memoryRecorder struct {
	mu       sync.Mutex
	sessions []string
	events   []eventstore.Event
}

func (r *memoryRecorder) AppendSession(_ context.Context, sessionID, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	return nil
}

func (r *memoryRecorder) AppendEvent(_ context.Context, evt eventstore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *memoryRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// gatedTranslator blocks each text until its gate is released.
type gatedTranslator struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedTranslator(texts ...string) *gatedTranslator {
	g := &gatedTranslator{gates: make(map[string]chan struct{})}
	for _, text := range texts {
		g.gates[text] = make(chan struct{})
	}
	return g
}

func (g *gatedTranslator) release(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.gates[text])
}

func (g *gatedTranslator) Translate(ctx context.Context, text string, _, target language.Code) (string, error) {
	g.mu.Lock()
	gate := g.gates[text]
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "[" + string(target) + "] " + text, nil
}

type failingTranslator struct{ err error }

func (f failingTranslator) Translate(context.Context, string, language.Code, language.Code) (string, error) {
	return "", f.err
}

type countingTranslator struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (c *countingTranslator) Translate(_ context.Context, text string, _, _ language.Code) (string, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return text, nil
}

func testConfig() config.CaptionerConfig {
	return config.CaptionerConfig{
		Enabled:        true,
		SourceLanguage: "en-US",
		TargetLanguage: "he-IL",
		MaxConcurrency: 4,
		TimeoutMS:      5000,
		PrivacyScope:   "session",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceTranslatesFinalTranscripts(t *testing.T) {
	source := speech.NewScriptedSource([]speech.Event{
		{SessionID: "s1", Sequence: 1, Text: "hel"},
		{SessionID: "s1", Sequence: 2, Text: "hello", Final: true},
	}, 0)
	pub := &capturePublisher{}
	rec := &memoryRecorder{}
	svc := NewService(context.Background(), testConfig(), source, translate.NewMockTranslator(), pub, rec, discardLogger())
	require.NoError(t, svc.Start())
	svc.Wait()
	t.Cleanup(svc.Close)

	captions := pub.all()
	require.Len(t, captions, 3)
	assert.Equal(t, "hel", captions[0].Transcript)
	assert.False(t, captions[0].Translating)
	assert.True(t, captions[1].Translating)
	assert.Equal(t, "[he-IL] hello", captions[2].Translation)
	assert.True(t, captions[2].Final)
	assert.Equal(t, captions[1].TraceID, captions[2].TraceID)

	snap, ok := svc.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "hello", snap.Transcript.Text)
	assert.False(t, snap.Transcript.Listening)
	assert.Equal(t, "[he-IL] hello", snap.Translation.Text)
	assert.False(t, snap.Translation.Translating)
	assert.Equal(t, "en-US", snap.SourceLanguage)

	assert.Equal(t, []string{"s1"}, rec.sessions)
	assert.Equal(t, []string{eventstore.TypeTranscript, eventstore.TypeTranscript, eventstore.TypeCaption}, rec.types())
	assert.Equal(t, 1, source.Starts())
}

func TestServiceDropsOutOfOrderInterimTranslation(t *testing.T) {
	cfg := testConfig()
	cfg.TranslateInterim = true
	tr := newGatedTranslator("a", "ab")
	pub := &capturePublisher{}
	svc := NewService(context.Background(), cfg, nil, tr, pub, nil, discardLogger())
	t.Cleanup(svc.Close)

	svc.Handle(speech.Event{SessionID: "s1", Sequence: 1, Text: "a"})
	svc.Handle(speech.Event{SessionID: "s1", Sequence: 2, Text: "ab"})

	tr.release("ab")
	require.Eventually(t, func() bool { return len(pub.translated()) == 1 }, 2*time.Second, 10*time.Millisecond)
	tr.release("a")
	svc.Wait()

	translated := pub.translated()
	require.Len(t, translated, 1)
	assert.Equal(t, "[he-IL] ab", translated[0].Translation)

	snap, ok := svc.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "[he-IL] ab", snap.Translation.Text)
	assert.False(t, snap.Translation.Translating)
}

func TestServiceAlwaysPublishesFinalTranslation(t *testing.T) {
	cfg := testConfig()
	cfg.TranslateInterim = true
	tr := newGatedTranslator("done", "next")
	pub := &capturePublisher{}
	svc := NewService(context.Background(), cfg, nil, tr, pub, nil, discardLogger())
	t.Cleanup(svc.Close)

	svc.Handle(speech.Event{SessionID: "s1", Sequence: 1, Text: "done", Final: true})
	svc.Handle(speech.Event{SessionID: "s1", Sequence: 2, Text: "next"})

	tr.release("next")
	require.Eventually(t, func() bool { return len(pub.translated()) == 1 }, 2*time.Second, 10*time.Millisecond)
	tr.release("done")
	svc.Wait()

	translated := pub.translated()
	require.Len(t, translated, 2)
	assert.Equal(t, "[he-IL] next", translated[0].Translation)
	assert.Equal(t, "[he-IL] done", translated[1].Translation)
	assert.True(t, translated[1].Final)
}

func TestServiceIgnoresStaleTranscripts(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(context.Background(), testConfig(), nil, translate.NewMockTranslator(), pub, nil, discardLogger())
	t.Cleanup(svc.Close)

	svc.Handle(speech.Event{SessionID: "s1", Sequence: 5, Text: "newer"})
	svc.Handle(speech.Event{SessionID: "s1", Sequence: 3, Text: "older"})
	svc.Wait()

	require.Len(t, pub.all(), 1)
	snap, _ := svc.Snapshot("s1")
	assert.Equal(t, "newer", snap.Transcript.Text)
	assert.True(t, snap.Transcript.Listening)
}

func TestServicePublishesTranslationErrors(t *testing.T) {
	pub := &capturePublisher{}
	rec := &memoryRecorder{}
	failure := svcerr.API("translation", 500, "boom")
	svc := NewService(context.Background(), testConfig(), nil, failingTranslator{err: failure}, pub, rec, discardLogger())
	t.Cleanup(svc.Close)

	svc.Handle(speech.Event{SessionID: "s1", Sequence: 1, Text: "hello", Final: true})
	svc.Wait()

	translated := pub.translated()
	require.Len(t, translated, 1)
	assert.Equal(t, failure.Error(), translated[0].Error)
	assert.Empty(t, translated[0].Translation)

	snap, _ := svc.Snapshot("s1")
	assert.Equal(t, failure.Error(), snap.Translation.Error)
	assert.Contains(t, rec.types(), eventstore.TypeError)
}

func TestServiceBoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	tr := &countingTranslator{}
	svc := NewService(context.Background(), cfg, nil, tr, &capturePublisher{}, nil, discardLogger())
	t.Cleanup(svc.Close)

	for i := 1; i <= 4; i++ {
		svc.Handle(speech.Event{SessionID: "s1", Sequence: i, Text: "x", Final: true})
	}
	svc.Wait()
	assert.Equal(t, 1, tr.maxSeen)
}

func TestServiceDisabledDoesNotStartCapture(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	source := speech.NewScriptedSource(nil, 0)
	svc := NewService(context.Background(), cfg, source, translate.NewMockTranslator(), nil, nil, discardLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	assert.True(t, svc.Healthy())
	assert.Equal(t, 0, source.Starts())
	_, ok := svc.Snapshot("missing")
	assert.False(t, ok)
}

func TestServiceRenumbersRestartedUtterances(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(context.Background(), testConfig(), nil, translate.NewMockTranslator(), pub, nil, discardLogger())
	t.Cleanup(svc.Close)

	svc.Handle(speech.Event{SessionID: "s1", Sequence: 1, Text: "first", Final: true})
	svc.Wait()
	svc.Handle(speech.Event{SessionID: "s1", Sequence: 1, Text: "second", Final: true})
	svc.Wait()

	translated := pub.translated()
	require.Len(t, translated, 2)
	assert.Equal(t, 1, translated[0].Sequence)
	assert.Equal(t, 2, translated[1].Sequence)
	assert.Equal(t, "[he-IL] second", translated[1].Translation)
}

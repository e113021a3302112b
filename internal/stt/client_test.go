package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTranscribeEmptyAudioSkipsNetwork(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	client := NewClient(config.TranscriptionConfig{Endpoint: srv.URL}, nil)

	got, err := client.Transcribe(context.Background(), Request{MIMEType: "audio/webm"})

	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestTranscribeUnconfigured(t *testing.T) {
	var calls int32
	spy := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected call")
	})}
	for _, endpoint := range []string{"", config.PlaceholderTranscriptionURL} {
		client := NewClient(config.TranscriptionConfig{Endpoint: endpoint}, spy)
		_, err := client.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/webm"})
		assert.True(t, errors.Is(err, svcerr.ErrConfig), "endpoint %q: %v", endpoint, err)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTranscribeOptionalFields(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		hint     language.Code
		wantKeys []string
		noKeys   []string
	}{
		{name: "no hint no model", wantKeys: []string{"audio_base64", "mime_type"}, noKeys: []string{"language_hint", "model"}},
		{name: "hint only", hint: language.Hebrew, wantKeys: []string{"language_hint"}, noKeys: []string{"model"}},
		{name: "model only", model: "base", wantKeys: []string{"model"}, noKeys: []string{"language_hint"}},
		{name: "both", model: "base", hint: language.EnglishUS, wantKeys: []string{"model", "language_hint"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]any
			srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
				_, _ = w.Write([]byte(`{"transcript":"ok"}`))
			})
			client := NewClient(config.TranscriptionConfig{Endpoint: srv.URL, Model: tt.model}, nil)

			_, err := client.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/webm", LanguageHint: tt.hint})
			require.NoError(t, err)

			for _, k := range tt.wantKeys {
				assert.Contains(t, raw, k)
			}
			for _, k := range tt.noKeys {
				assert.NotContains(t, raw, k)
			}
			assert.Equal(t, "AAAA", raw["audio_base64"])
			assert.Equal(t, "audio/webm", raw["mime_type"])
		})
	}
}

func TestTranscribeTrimsTranscript(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"transcript":"  hello world \n"}`))
	})
	client := NewClient(config.TranscriptionConfig{Endpoint: srv.URL}, nil)

	got, err := client.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/wav"})

	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestTranscribeAPIError(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"model loading"}`))
	})
	client := NewClient(config.TranscriptionConfig{Endpoint: srv.URL}, nil)

	_, err := client.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/wav"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerr.ErrAPI))
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model loading")
}

func TestTranscribeNonStringTranscript(t *testing.T) {
	for _, body := range []string{`{"transcript":7}`, `{"transcript":null}`, `{}`, `[]`} {
		srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		client := NewClient(config.TranscriptionConfig{Endpoint: srv.URL}, nil)
		_, err := client.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/wav"})
		assert.True(t, errors.Is(err, svcerr.ErrFormat), "body %s: %v", body, err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	tr, err := New(config.TranscriptionConfig{Mode: "mock"})
	require.NoError(t, err)
	got, err := tr.Transcribe(context.Background(), Request{AudioBase64: "AAAA", MIMEType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "[transcript audio/wav length=4]", got)

	_, err = New(config.TranscriptionConfig{Mode: "bogus"})
	assert.Error(t, err)
}

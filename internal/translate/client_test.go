package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable() *language.Table {
	return language.NewTable(config.Default().Languages)
}

// newBackend starts a fake chat-completion server and counts requests.
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

func newTestClient(baseURL string) *Client {
	return NewClient(config.TranslationConfig{Mode: "http", BaseURL: baseURL, Model: "llama3"}, newTable(), nil)
}

func TestTranslateBlankInputSkipsNetwork(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(srv.URL)

	for _, text := range []string{"", "   ", "\n\t "} {
		got, err := client.Translate(context.Background(), text, language.EnglishUS, language.Hebrew)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestTranslateUnconfiguredFailsBeforeNetwork(t *testing.T) {
	for _, base := range []string{"", config.PlaceholderTranslationURL} {
		client := newTestClient(base)
		_, err := client.Translate(context.Background(), "hello", language.EnglishUS, language.Hebrew)
		require.Error(t, err)
		assert.True(t, errors.Is(err, svcerr.ErrConfig), "base %q: %v", base, err)
	}
}

func TestTranslatePlaceholderMakesNoCalls(t *testing.T) {
	var calls int32
	spy := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected call")
	})}
	client := NewClient(config.TranslationConfig{BaseURL: config.PlaceholderTranslationURL, Model: "llama3"}, newTable(), spy)

	_, err := client.Translate(context.Background(), "hello", language.EnglishUS, language.Hebrew)

	assert.True(t, errors.Is(err, svcerr.ErrConfig))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestTranslateTrimsContent(t *testing.T) {
	var got chatRequest
	var path string
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" Bonjour "}}]}`))
	})
	client := newTestClient(srv.URL + "/")

	result, err := client.Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)

	require.NoError(t, err)
	assert.Equal(t, "Bonjour", result)
	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "from English to Hebrew")
	assert.Contains(t, got.Messages[0].Content, `Text to translate: "Hello"`)
}

func TestTranslateRequestBodyHasStreamFalse(t *testing.T) {
	var raw map[string]any
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	_, err := newTestClient(srv.URL).Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)

	require.NoError(t, err)
	stream, present := raw["stream"]
	assert.True(t, present)
	assert.Equal(t, false, stream)
}

func TestTranslateAPIError(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	})

	_, err := newTestClient(srv.URL).Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)

	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerr.ErrAPI))
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
	var apiErr *svcerr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestTranslateAPIErrorNonJSONBody(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := newTestClient(srv.URL).Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestTranslateNonStringContent(t *testing.T) {
	bodies := []string{
		`{"choices":[{"message":{"content":42}}]}`,
		`{"choices":[{"message":{"content":null}}]}`,
		`{"choices":[{"message":{}}]}`,
		`{"choices":[]}`,
		`not json`,
	}
	for _, body := range bodies {
		srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := newTestClient(srv.URL).Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)
		assert.True(t, errors.Is(err, svcerr.ErrFormat), "body %s: %v", body, err)
	}
}

func TestTranslateTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Translate(context.Background(), "Hello", language.EnglishUS, language.Hebrew)

	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerr.ErrTransport))
}

func TestBuildPromptFallbackNames(t *testing.T) {
	prompt := BuildPrompt(newTable(), "שלום", "xx-XX", "yy-YY")

	assert.True(t, strings.HasPrefix(prompt, "Translate the following text accurately from the source language to the target language."))
	assert.True(t, strings.HasSuffix(prompt, `Text to translate: "שלום"`))
}

func TestNewSelectsMode(t *testing.T) {
	tr, err := New(config.TranslationConfig{Mode: "mock"}, newTable())
	require.NoError(t, err)
	got, err := tr.Translate(context.Background(), " hi ", language.EnglishUS, language.Hebrew)
	require.NoError(t, err)
	assert.Equal(t, "[he-IL] hi", got)

	_, err = New(config.TranslationConfig{Mode: "carrier-pigeon"}, newTable())
	assert.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

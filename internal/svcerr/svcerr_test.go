package svcerr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFromResponseMessagePrecedence(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "nested error message", body: `{"error":{"message":"model not found"},"message":"outer"}`, want: "model not found"},
		{name: "string error", body: `{"error":"bad model"}`, want: "bad model"},
		{name: "top level message", body: `{"message":"boom"}`, want: "boom"},
		{name: "numeric message", body: `{"message":42}`, want: "42"},
		{name: "numeric nested message", body: `{"error":{"message":503.5}}`, want: "503.5"},
		{name: "zero message falls back", body: `{"message":0}`, want: "failed"},
		{name: "object message falls back", body: `{"message":{"code":1}}`, want: "failed"},
		{name: "json without message", body: `{}`, want: "failed"},
		{name: "not json", body: `<html>oops</html>`, want: "Internal Server Error"},
		{name: "empty body", body: ``, want: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromResponse("translation", response(http.StatusInternalServerError, tt.body), "failed")
			assert.Equal(t, KindAPI, err.Kind)
			assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
			assert.Equal(t, tt.want, err.Message)
		})
	}
}

func TestErrorMessageIncludesStatus(t *testing.T) {
	err := API("translation", 500, "boom")
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestSentinelsMatchByKind(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", Config("transcription", "endpoint is not configured"))

	assert.True(t, errors.Is(err, ErrConfig))
	assert.False(t, errors.Is(err, ErrAPI))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "transcription", typed.Service)
}

func TestTransportUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport("translation", cause)

	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "translation transport error: connection refused", err.Error())
}

// Package svcerr classifies failures of the translation and transcription
// backends.
package svcerr

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind identifies the class of a backend failure.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindTransport
	KindAPI
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindAPI:
		return "api"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Error is returned by the backend clients. StatusCode is only set for KindAPI.
type Error struct {
	Kind       Kind
	Service    string
	StatusCode int
	Message    string
	Err        error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrConfig    = &Error{Kind: KindConfig}
	ErrTransport = &Error{Kind: KindTransport}
	ErrAPI       = &Error{Kind: KindAPI}
	ErrFormat    = &Error{Kind: KindFormat}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Service != "" {
		b.WriteString(e.Service)
		b.WriteString(" ")
	}
	switch e.Kind {
	case KindAPI:
		fmt.Fprintf(&b, "api error (%d): %s", e.StatusCode, e.Message)
	case KindConfig:
		b.WriteString("configuration error: ")
		b.WriteString(e.Message)
	case KindFormat:
		b.WriteString("format error: ")
		b.WriteString(e.Message)
	default:
		fmt.Fprintf(&b, "%s error: %s", e.Kind, e.Message)
	}
	if e.Err != nil && e.Kind != KindTransport {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Service == "" && t.Message == ""
}

// Config reports an unset or placeholder backend URL.
func Config(service, message string) *Error {
	return &Error{Kind: KindConfig, Service: service, Message: message}
}

// Transport wraps a connection-level failure.
func Transport(service string, err error) *Error {
	return &Error{Kind: KindTransport, Service: service, Message: err.Error(), Err: err}
}

// Format reports a response that lacks the expected field.
func Format(service, message string, err error) *Error {
	return &Error{Kind: KindFormat, Service: service, Message: message, Err: err}
}

// API builds an API error directly.
func API(service string, status int, message string) *Error {
	return &Error{Kind: KindAPI, Service: service, StatusCode: status, Message: message}
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message json.RawMessage `json:"message"`
}

// FromResponse builds an API error from a non-2xx response. The message is
// taken from error.message, then error (when it is a string), then message,
// then fallback; a body that is not JSON yields the HTTP status text.
func FromResponse(service string, resp *http.Response, fallback string) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return API(service, resp.StatusCode, extractMessage(data, resp, fallback))
}

func extractMessage(data []byte, resp *http.Response, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return statusText(resp)
	}
	if len(body.Error) > 0 {
		var nested struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil {
			if msg := scalarText(nested.Message); msg != "" {
				return msg
			}
		}
		var plain string
		if err := json.Unmarshal(body.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	if msg := scalarText(body.Message); msg != "" {
		return msg
	}
	return fallback
}

// scalarText renders a JSON string, number or true as text. Empty strings,
// zero, false, null, objects and arrays yield "".
func scalarText(raw json.RawMessage) string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
		return strings.TrimSpace(string(raw))
	case bool:
		if t {
			return "true"
		}
	}
	return ""
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

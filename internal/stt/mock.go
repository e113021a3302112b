package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, req Request) (string, error) {
	if req.AudioBase64 == "" {
		return "", nil
	}
	return fmt.Sprintf("[transcript %s length=%d]", req.MIMEType, len(req.AudioBase64)), nil
}

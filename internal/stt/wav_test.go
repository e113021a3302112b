package stt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	data, err := EncodeWAV(pcm, 16000, 1)

	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
}

func TestEncodeWAVRejectsOddLength(t *testing.T) {
	_, err := EncodeWAV([]byte{1, 2, 3}, 16000, 1)
	assert.Error(t, err)
}

func TestRequestFromPCM(t *testing.T) {
	req, err := RequestFromPCM(make([]byte, 320), 16000, 1, "he-IL")
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", req.MIMEType)
	assert.Equal(t, "he-IL", string(req.LanguageHint))
	decoded, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(decoded[0:4]))

	empty, err := RequestFromPCM(nil, 16000, 1, "")
	require.NoError(t, err)
	assert.Empty(t, empty.AudioBase64)
}

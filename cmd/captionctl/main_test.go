package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTranslateMock(t *testing.T) {
	t.Setenv("LOQA_CAPTION_TRANSLATION_MODE", "mock")
	out, err := run(t, "translate", "--source", "en-US", "--target", "he-IL", "good", "morning")
	require.NoError(t, err)
	assert.Equal(t, "[he-IL] good morning\n", out)
}

func TestTranslateUnconfigured(t *testing.T) {
	t.Setenv("LOQA_CAPTION_TRANSLATION_BASE_URL", "http://localhost:11434/v1_example")
	_, err := run(t, "translate", "--source", "en-US", "--target", "he-IL", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestTranscribeMockFile(t *testing.T) {
	t.Setenv("LOQA_CAPTION_TRANSCRIPTION_MODE", "mock")
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	out, err := run(t, "transcribe", "--mime", "audio/webm", path)
	require.NoError(t, err)
	assert.Equal(t, "[transcript audio/webm length=4]\n", out)
}

func TestTranscribeMockPCM(t *testing.T) {
	t.Setenv("LOQA_CAPTION_TRANSCRIPTION_MODE", "mock")
	path := filepath.Join(t.TempDir(), "clip.pcm")
	require.NoError(t, os.WriteFile(path, make([]byte, 320), 0o644))

	out, err := run(t, "transcribe", "--mime", "", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[transcript audio/wav length=")
}

func TestLanguages(t *testing.T) {
	out, err := run(t, "languages")
	require.NoError(t, err)
	assert.Contains(t, out, "en-US")
	assert.Contains(t, out, "עברית (Hebrew)")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

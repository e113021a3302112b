package stt

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-caption/internal/language"
)

const wavMIMEType = "audio/wav"

// EncodeWAV wraps little-endian 16-bit PCM in a WAV container. The encoder
// needs a seekable writer, so the file is staged on disk.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format: rate=%d channels=%d", sampleRate, channels)
	}

	file, err := os.CreateTemp("", "loqa_caption_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	name := file.Name()
	defer os.Remove(name)

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		file.Close()
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close wav file: %w", err)
	}
	return os.ReadFile(name)
}

// RequestFromPCM encodes PCM as a base64 WAV transcription request.
func RequestFromPCM(pcm []byte, sampleRate, channels int, hint string) (Request, error) {
	if len(pcm) == 0 {
		return Request{MIMEType: wavMIMEType}, nil
	}
	data, err := EncodeWAV(pcm, sampleRate, channels)
	if err != nil {
		return Request{}, err
	}
	return Request{
		AudioBase64:  base64.StdEncoding.EncodeToString(data),
		MIMEType:     wavMIMEType,
		LanguageHint: language.Code(hint),
	}, nil
}

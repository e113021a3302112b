package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture clients.
type AudioFrame struct {
	SessionID    string `json:"session_id"`
	Sequence     int    `json:"sequence"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	PCM          []byte `json:"pcm"`
	Final        bool   `json:"final"`
	LanguageHint string `json:"language_hint,omitempty"`
}

// Transcript represents speech capture output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Language   string    `json:"language,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Caption is the presentation state for one utterance.
type Caption struct {
	SessionID      string    `json:"session_id"`
	Sequence       int       `json:"sequence"`
	Transcript     string    `json:"transcript"`
	Translation    string    `json:"translation,omitempty"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Final          bool      `json:"final"`
	Translating    bool      `json:"translating"`
	Error          string    `json:"error,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TranslateRequest asks the translation service for a single translation.
type TranslateRequest struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	TraceID string `json:"trace_id,omitempty"`
}

// TranslateResponse answers a TranslateRequest; exactly one of Text or Error
// is meaningful.
type TranslateResponse struct {
	Text      string `json:"text"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectTranscriptAll     = "stt.text.*"
	SubjectCaptionUpdate     = "caption.update"
	SubjectTranslateRequest  = "translate.request"
)

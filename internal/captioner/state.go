package captioner

import "time"

// TranscriptState is what the presentation layer shows for the spoken side.
type TranscriptState struct {
	Text      string `json:"text"`
	Listening bool   `json:"listening"`
}

// TranslationState is what the presentation layer shows for the translated side.
type TranslationState struct {
	Text        string `json:"text"`
	Translating bool   `json:"translating"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is the current caption state of one session.
type Snapshot struct {
	SessionID      string           `json:"session_id"`
	SourceLanguage string           `json:"source_language"`
	TargetLanguage string           `json:"target_language"`
	Transcript     TranscriptState  `json:"transcript"`
	Translation    TranslationState `json:"translation"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type sessionState struct {
	snapshot     Snapshot
	lastSeq      int // highest sequence seen from capture
	publishedSeq int // highest sequence whose translation was published
	pending      int // translations in flight
	closed       bool
}

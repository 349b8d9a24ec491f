package transcription

import (
	"github.com/purestory/whisper-service/internal/whisper"
)

// Request carries the per-request decode parameters for one transcription
type Request struct {
	ModelSize      string // empty resolves to active -> saved -> default
	Language       string // empty triggers auto-detection
	WordTimestamps bool
	BeamSize       int // bounded, DefaultBeamSize when the caller omits it
	VADFilter      bool
}

// DefaultBeamSize is used when the caller does not specify a beam width
const DefaultBeamSize = 5

// OptionsEcho mirrors the decode options back in the response
type OptionsEcho struct {
	BeamSize       int    `json:"beam_size"`
	WordTimestamps bool   `json:"word_timestamps"`
	VADFilter      bool   `json:"vad_filter"`
	Language       string `json:"language,omitempty"`
}

// Result is the canonical output of one completed recognition. Immutable
// once constructed; the server does not retain it after the response.
type Result struct {
	Text                string            `json:"text"`
	Segments            []whisper.Segment `json:"segments"`
	Language            string            `json:"language"`
	LanguageProbability float64           `json:"language_probability"`
	Duration            float64           `json:"duration"`
	TotalCharacters     int               `json:"total_characters"`
	CharactersPerSecond float64           `json:"characters_per_second"`
	ModelSize           string            `json:"model_size"`
	Options             OptionsEcho       `json:"options"`
}

// UsageRecord summarizes one completed transcription for the metrics log.
// It deliberately carries no transcript text.
type UsageRecord struct {
	ModelSize           string  `json:"model_size"`
	Language            string  `json:"language"`
	Duration            float64 `json:"duration"`
	TotalCharacters     int     `json:"total_characters"`
	CharactersPerSecond float64 `json:"characters_per_second"`
	ProcessingMs        int64   `json:"processing_ms"`
}

// UsageRecorder appends usage records to the metrics log
type UsageRecorder interface {
	RecordUsage(rec *UsageRecord) error
}

// Transcription lifecycle event names
const (
	EventStarted   = "transcription_started"
	EventCompleted = "transcription_completed"
	EventFailed    = "transcription_failed"
)

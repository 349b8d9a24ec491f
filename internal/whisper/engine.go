package whisper

import (
	"context"
)

// Word is a single recognized word with its time span
type Word struct {
	Word        string   `json:"word"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Probability *float64 `json:"probability,omitempty"`
}

// Segment is a contiguous span of recognized speech. Segments arrive in
// chronological, non-overlapping order with End >= Start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Info is the per-invocation metadata reported by the recognizer
type Info struct {
	Language            string  // detected (or forced) language code
	LanguageProbability float64 // detection confidence, 0.0-1.0
	Duration            float64 // audio duration in seconds
}

// DecodeOptions are the per-request decode parameters passed to the recognizer
type DecodeOptions struct {
	Language       string // empty triggers auto-detection
	BeamSize       int
	WordTimestamps bool
	VADFilter      bool
}

// Engine is the recognition capability: a loaded model instance that turns
// an audio file into a stream of segments. Implementations are not safe for
// concurrent use; the Manager serializes all calls.
type Engine interface {
	// Transcribe runs recognition over the audio file, calling emit for each
	// segment in order as it is produced. If emit returns an error the stream
	// is abandoned. The returned Info is valid only when err is nil.
	Transcribe(ctx context.Context, audioPath string, opts DecodeOptions, emit func(Segment) error) (*Info, error)

	// Alive reports whether the underlying model instance is still usable.
	// A false return means the instance must be discarded.
	Alive() bool

	// Close releases the model and its accelerator memory.
	Close() error
}

// EngineFactory constructs a loaded Engine for a descriptor on a device
type EngineFactory interface {
	Load(ctx context.Context, desc Descriptor, device Device) (Engine, error)
}

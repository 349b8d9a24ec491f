package transcription

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/purestory/whisper-service/internal/media"
	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

// scriptedEngine plays back a fixed set of segments
type scriptedEngine struct {
	segments []whisper.Segment
	info     whisper.Info
	err      error
	dead     bool
	runs     int
}

func (e *scriptedEngine) Transcribe(ctx context.Context, audioPath string, opts whisper.DecodeOptions, emit func(whisper.Segment) error) (*whisper.Info, error) {
	e.runs++
	for _, seg := range e.segments {
		if err := emit(seg); err != nil {
			return nil, err
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	info := e.info
	return &info, nil
}

func (e *scriptedEngine) Alive() bool { return !e.dead }
func (e *scriptedEngine) Close() error {
	e.dead = true
	return nil
}

type scriptedFactory struct {
	engine *scriptedEngine
	loads  int
}

func (f *scriptedFactory) Load(ctx context.Context, desc whisper.Descriptor, device whisper.Device) (whisper.Engine, error) {
	f.loads++
	return f.engine, nil
}

type memorySettings struct {
	mu   sync.Mutex
	last string
}

func (s *memorySettings) LastModel() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *memorySettings) SetLastModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = id
	return nil
}

type memoryUsage struct {
	records []*UsageRecord
}

func (u *memoryUsage) RecordUsage(rec *UsageRecord) error {
	u.records = append(u.records, rec)
	return nil
}

func newTestArtifact(t *testing.T) *media.Artifact {
	t.Helper()
	store, err := media.NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	artifact, err := store.Save(strings.NewReader("fake audio bytes"), "recording.wav")
	if err != nil {
		t.Fatalf("failed to save artifact: %v", err)
	}
	return artifact
}

func newTestService(engine *scriptedEngine, settings whisper.SettingsStore, usage UsageRecorder) (*Service, *scriptedFactory) {
	factory := &scriptedFactory{engine: engine}
	manager := whisper.NewManager(factory, whisper.DeviceCPU, settings, nil, 0, logger.NewNop())
	svc := NewService(manager, settings, usage, nil, Config{DefaultModel: "base", MaxBeamSize: 10}, logger.NewNop())
	return svc, factory
}

func TestTranscribeComputesStats(t *testing.T) {
	engine := &scriptedEngine{
		segments: []whisper.Segment{
			{Start: 0, End: 5, Text: " 안녕하세요 "},
			{Start: 5, End: 10, Text: "  hello world  "},
		},
		info: whisper.Info{Language: "ko", LanguageProbability: 0.87, Duration: 10},
	}
	usage := &memoryUsage{}
	svc, _ := newTestService(engine, nil, usage)

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5, VADFilter: true})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}

	if result.Text != "안녕하세요 hello world" {
		t.Errorf("text = %q", result.Text)
	}
	// 5 runes + 11 runes of trimmed segment text
	if result.TotalCharacters != 16 {
		t.Errorf("total_characters = %d, want 16", result.TotalCharacters)
	}
	// 16 chars / 10 s, rounded to two decimals
	if result.CharactersPerSecond != 1.6 {
		t.Errorf("characters_per_second = %v, want 1.6", result.CharactersPerSecond)
	}
	if result.Language != "ko" || result.LanguageProbability != 0.87 {
		t.Errorf("language = %q (%v)", result.Language, result.LanguageProbability)
	}
	if result.ModelSize != "base" {
		t.Errorf("model_size = %q, want default base", result.ModelSize)
	}
	if len(result.Segments) != 2 {
		t.Errorf("segments = %d, want 2", len(result.Segments))
	}

	if len(usage.records) != 1 {
		t.Fatalf("usage records = %d, want 1", len(usage.records))
	}
	if usage.records[0].TotalCharacters != 16 {
		t.Errorf("usage total_characters = %d", usage.records[0].TotalCharacters)
	}
}

func TestTranscribeZeroDurationYieldsZeroRate(t *testing.T) {
	engine := &scriptedEngine{
		info: whisper.Info{Language: "en", LanguageProbability: 0.5, Duration: 0},
	}
	svc, _ := newTestService(engine, nil, nil)

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.CharactersPerSecond != 0 {
		t.Errorf("characters_per_second = %v, want 0 for zero duration", result.CharactersPerSecond)
	}
	if result.Text != "" || len(result.Segments) != 0 {
		t.Errorf("silent clip should yield empty result, got %q", result.Text)
	}
}

func TestTranscribeForcedLanguageSkipsDetection(t *testing.T) {
	engine := &scriptedEngine{
		segments: []whisper.Segment{{Start: 0, End: 1, Text: "hola"}},
		info:     whisper.Info{Language: "es", LanguageProbability: 0.42, Duration: 1},
	}
	svc, _ := newTestService(engine, nil, nil)

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5, Language: "es"})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.Language != "es" {
		t.Errorf("language = %q, want es", result.Language)
	}
	if result.LanguageProbability != 1.0 {
		t.Errorf("forced language confidence = %v, want 1.0", result.LanguageProbability)
	}
}

func TestTranscribeRejectsBadBeamSizeBeforeLoading(t *testing.T) {
	engine := &scriptedEngine{}
	svc, factory := newTestService(engine, nil, nil)

	for _, beam := range []int{0, -1, 11} {
		artifact := newTestArtifact(t)
		_, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: beam})
		if err == nil {
			t.Fatalf("beam_size %d accepted", beam)
		}
		if whisper.KindOf(err) != whisper.KindInvalidInput {
			t.Errorf("beam_size %d: kind = %q, want invalid_input", beam, whisper.KindOf(err))
		}
		if _, statErr := os.Stat(filepath.Dir(artifact.Path)); !os.IsNotExist(statErr) {
			t.Errorf("artifact not cleaned up after rejected beam_size %d", beam)
		}
	}

	if factory.loads != 0 {
		t.Errorf("model loaded despite invalid beam_size, loads = %d", factory.loads)
	}
	if engine.runs != 0 {
		t.Errorf("recognition attempted despite invalid beam_size, runs = %d", engine.runs)
	}
}

func TestTranscribeCleansUpArtifactOnFailure(t *testing.T) {
	engine := &scriptedEngine{
		segments: []whisper.Segment{{Start: 0, End: 1, Text: "partial"}},
		err:      whisper.NewError(whisper.KindTranscriptionFailure, "recognizer crashed mid-stream"),
	}
	svc, _ := newTestService(engine, nil, nil)

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5})
	if err == nil {
		t.Fatal("expected transcription failure")
	}
	if result != nil {
		t.Error("partial result returned on failure")
	}
	if _, statErr := os.Stat(filepath.Dir(artifact.Path)); !os.IsNotExist(statErr) {
		t.Error("artifact not cleaned up after failure")
	}
}

func TestTranscribeCleansUpArtifactOnSuccess(t *testing.T) {
	engine := &scriptedEngine{
		info: whisper.Info{Language: "en", LanguageProbability: 0.9, Duration: 1},
	}
	svc, _ := newTestService(engine, nil, nil)

	artifact := newTestArtifact(t)
	if _, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5}); err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if _, statErr := os.Stat(filepath.Dir(artifact.Path)); !os.IsNotExist(statErr) {
		t.Error("artifact not cleaned up after success")
	}
}

func TestResolveModelPrefersSavedOverDefault(t *testing.T) {
	engine := &scriptedEngine{
		info: whisper.Info{Language: "en", LanguageProbability: 0.9, Duration: 1},
	}
	settings := &memorySettings{last: "small"}
	svc, _ := newTestService(engine, settings, nil)

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.ModelSize != "small" {
		t.Errorf("model_size = %q, want saved model small", result.ModelSize)
	}
}

func TestResolveModelPrefersActiveOverSaved(t *testing.T) {
	engine := &scriptedEngine{
		info: whisper.Info{Language: "en", LanguageProbability: 0.9, Duration: 1},
	}
	settings := &memorySettings{last: "small"}
	svc, _ := newTestService(engine, settings, nil)

	if err := svc.ChangeModel(context.Background(), "medium"); err != nil {
		t.Fatalf("change model failed: %v", err)
	}

	artifact := newTestArtifact(t)
	result, err := svc.Transcribe(context.Background(), artifact, Request{BeamSize: 5})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.ModelSize != "medium" {
		t.Errorf("model_size = %q, want active model medium", result.ModelSize)
	}
}

func TestChangeModelUnknownModel(t *testing.T) {
	engine := &scriptedEngine{}
	svc, factory := newTestService(engine, nil, nil)

	err := svc.ChangeModel(context.Background(), "not-a-model")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if whisper.KindOf(err) != whisper.KindNotFound {
		t.Errorf("kind = %q, want not_found", whisper.KindOf(err))
	}
	if factory.loads != 0 {
		t.Errorf("factory invoked for unknown model")
	}
}

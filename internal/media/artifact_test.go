package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

func TestStoreSaveAndRemove(t *testing.T) {
	store, err := NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	payload := "fake audio payload"
	artifact, err := store.Save(strings.NewReader(payload), "Meeting Recording.MP3")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if artifact.OriginalName != "Meeting Recording.MP3" {
		t.Errorf("original name = %q", artifact.OriginalName)
	}
	if artifact.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", artifact.Size, len(payload))
	}
	// Extension is preserved (lowercased) as a demuxer hint
	if filepath.Base(artifact.Path) != "audio.mp3" {
		t.Errorf("stored name = %q, want audio.mp3", filepath.Base(artifact.Path))
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if string(data) != payload {
		t.Errorf("stored content = %q", data)
	}

	dir := filepath.Dir(artifact.Path)
	artifact.Remove()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("artifact directory not removed")
	}

	// Remove is idempotent
	artifact.Remove()
}

func TestStoreSavesIntoDistinctDirectories(t *testing.T) {
	store, err := NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	a, err := store.Save(strings.NewReader("one"), "a.wav")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	b, err := store.Save(strings.NewReader("two"), "a.wav")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if filepath.Dir(a.Path) == filepath.Dir(b.Path) {
		t.Error("two uploads share a directory")
	}
}

func TestStoreRejectsEmptyFilename(t *testing.T) {
	store, err := NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	_, err = store.Save(strings.NewReader("x"), "")
	if err == nil {
		t.Fatal("expected error for empty filename")
	}
	if whisper.KindOf(err) != whisper.KindInvalidInput {
		t.Errorf("kind = %q, want invalid_input", whisper.KindOf(err))
	}
}

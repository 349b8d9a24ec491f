package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/purestory/whisper-service/internal/transcription"
	"github.com/purestory/whisper-service/pkg/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLastModelRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.LastModel()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "" {
		t.Errorf("fresh database returned last model %q", got)
	}

	if err := s.SetLastModel("base"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err = s.LastModel()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "base" {
		t.Errorf("last model = %q, want base", got)
	}

	// Upsert replaces the previous value
	if err := s.SetLastModel("large-v3"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err = s.LastModel()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "large-v3" {
		t.Errorf("last model = %q, want large-v3", got)
	}
}

func TestUsageLogOrderAndLimit(t *testing.T) {
	s := newTestStorage(t)

	for i, model := range []string{"tiny", "base", "small"} {
		rec := &transcription.UsageRecord{
			ModelSize:           model,
			Language:            "ko",
			Duration:            float64(10 * (i + 1)),
			TotalCharacters:     100 * (i + 1),
			CharactersPerSecond: 10,
			ProcessingMs:        int64(500 * (i + 1)),
		}
		if err := s.RecordUsage(rec); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	records, err := s.GetRecentUsage(10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	// Newest first
	if records[0].ModelSize != "small" || records[2].ModelSize != "tiny" {
		t.Errorf("unexpected order: %q, %q, %q",
			records[0].ModelSize, records[1].ModelSize, records[2].ModelSize)
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
	if records[0].Language != "ko" {
		t.Errorf("language = %q, want ko", records[0].Language)
	}

	limited, err := s.GetRecentUsage(2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d records", len(limited))
	}
}

func TestStorageReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := s.SetLastModel("medium"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	s.Close()

	s2, err := NewStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer s2.Close()

	got, err := s2.LastModel()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "medium" {
		t.Errorf("last model after reopen = %q, want medium", got)
	}
}

// Package media handles uploaded audio artifacts: per-request temporary
// storage and container validation via ffprobe.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

// Artifact is one uploaded audio file, owned by the request that created it
type Artifact struct {
	Path         string // location of the stored audio file
	OriginalName string // filename supplied by the uploader
	Size         int64  // stored size in bytes

	dir    string
	logger *logger.Logger
}

// Store stores uploaded audio files under per-request temp directories
type Store struct {
	baseDir string
	logger  *logger.Logger
}

// NewStore creates an artifact store rooted at baseDir (os.TempDir when empty)
func NewStore(baseDir string, log *logger.Logger) (*Store, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "whisper-uploads")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{baseDir: baseDir, logger: log.Named("media-store")}, nil
}

// Save copies the uploaded payload into a fresh per-request directory.
// The caller owns the returned artifact and must Remove it when done.
func (s *Store) Save(r io.Reader, originalName string) (*Artifact, error) {
	if originalName == "" {
		return nil, whisper.NewError(whisper.KindInvalidInput, "uploaded file has no filename")
	}

	dir := filepath.Join(s.baseDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Keep the original extension so the demuxer can use it as a hint.
	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(dir, "audio"+ext)

	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	s.logger.Debug("Stored upload",
		logger.String("path", path),
		logger.String("original_name", originalName),
		logger.Int64("bytes", size))

	return &Artifact{
		Path:         path,
		OriginalName: originalName,
		Size:         size,
		dir:          dir,
		logger:       s.logger,
	}, nil
}

// Remove deletes the artifact and its directory. Safe to call more than once.
func (a *Artifact) Remove() {
	if a.dir == "" {
		return
	}
	if err := os.RemoveAll(a.dir); err != nil {
		a.logger.Warn("Failed to remove artifact", logger.String("dir", a.dir), logger.Error(err))
	}
	a.dir = ""
}

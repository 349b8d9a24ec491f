// Package transcription orchestrates one recognition run: it resolves the
// requested model, drives the recognizer through the model manager, and
// assembles the canonical result.
package transcription

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/purestory/whisper-service/internal/media"
	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

// Config contains the orchestrator's operational limits
type Config struct {
	DefaultModel   string        // model used when nothing else resolves
	MaxBeamSize    int           // upper bound for the beam width
	TimeoutSeconds int           // wall-clock budget per transcription, 0 = none
	LoadTimeout    time.Duration // included in the budget headroom for model loads
}

// Service runs transcriptions against the managed model slot
type Service struct {
	manager  *whisper.Manager
	settings whisper.SettingsStore
	usage    UsageRecorder
	events   whisper.EventSink
	cfg      Config
	logger   *logger.Logger
}

// NewService creates a transcription orchestrator. settings, usage and
// events may be nil.
func NewService(manager *whisper.Manager, settings whisper.SettingsStore, usage UsageRecorder, events whisper.EventSink, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxBeamSize <= 0 {
		cfg.MaxBeamSize = 10
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "base"
	}
	return &Service{
		manager:  manager,
		settings: settings,
		usage:    usage,
		events:   events,
		cfg:      cfg,
		logger:   log.Named("transcription"),
	}
}

// Transcribe runs recognition over the artifact and returns the canonical
// result. The artifact is removed on every exit path. Validation failures
// are reported before the model slot is touched.
func (s *Service) Transcribe(ctx context.Context, artifact *media.Artifact, req Request) (*Result, error) {
	defer artifact.Remove()

	if req.BeamSize < 1 || req.BeamSize > s.cfg.MaxBeamSize {
		return nil, whisper.NewError(whisper.KindInvalidInput,
			"beam_size %d out of range (must be 1-%d)", req.BeamSize, s.cfg.MaxBeamSize)
	}

	modelID := s.resolveModel(req.ModelSize)

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second+s.cfg.LoadTimeout)
		defer cancel()
	}

	s.logger.Info("Starting transcription",
		logger.String("model", modelID),
		logger.String("file", artifact.OriginalName),
		logger.Int64("bytes", artifact.Size),
		logger.Int("beam_size", req.BeamSize),
		logger.Bool("word_timestamps", req.WordTimestamps))

	if s.events != nil {
		s.events.Publish(EventStarted, map[string]any{
			"model":    modelID,
			"filename": artifact.OriginalName,
		})
	}

	start := time.Now()
	var (
		segments   []whisper.Segment
		textParts  []string
		totalChars int
		info       *whisper.Info
	)

	err := s.manager.WithEngine(ctx, modelID, func(engine whisper.Engine, desc whisper.Descriptor) error {
		opts := whisper.DecodeOptions{
			Language:       req.Language,
			BeamSize:       req.BeamSize,
			WordTimestamps: req.WordTimestamps,
			VADFilter:      req.VADFilter,
		}

		streamInfo, err := engine.Transcribe(ctx, artifact.Path, opts, func(seg whisper.Segment) error {
			segments = append(segments, seg)
			text := strings.TrimSpace(seg.Text)
			if text != "" {
				textParts = append(textParts, text)
			}
			totalChars += len([]rune(text))
			return nil
		})
		if err != nil {
			return err
		}
		info = streamInfo
		return nil
	})
	if err != nil {
		// Partial output is discarded; the artifact cleanup is deferred.
		s.logger.Error("Transcription failed",
			logger.String("model", modelID),
			logger.String("file", artifact.OriginalName),
			logger.Error(err))
		if s.events != nil {
			s.events.Publish(EventFailed, map[string]any{
				"model": modelID,
				"error": whisper.DetailOf(err),
			})
		}
		return nil, err
	}

	language := info.Language
	confidence := info.LanguageProbability
	if req.Language != "" {
		// Caller forced the language, so detection never ran.
		language = req.Language
		confidence = 1.0
	}

	cps := 0.0
	if info.Duration > 0 {
		cps = math.Round(float64(totalChars)/info.Duration*100) / 100
	}

	result := &Result{
		Text:                strings.Join(textParts, " "),
		Segments:            segments,
		Language:            language,
		LanguageProbability: confidence,
		Duration:            info.Duration,
		TotalCharacters:     totalChars,
		CharactersPerSecond: cps,
		ModelSize:           modelID,
		Options: OptionsEcho{
			BeamSize:       req.BeamSize,
			WordTimestamps: req.WordTimestamps,
			VADFilter:      req.VADFilter,
			Language:       req.Language,
		},
	}

	elapsed := time.Since(start)
	s.logger.Info("Transcription completed",
		logger.String("model", modelID),
		logger.String("language", language),
		logger.Float64("duration_secs", info.Duration),
		logger.Int("segments", len(segments)),
		logger.Int("total_characters", totalChars),
		logger.Float64("characters_per_second", cps),
		logger.Duration("elapsed", elapsed))

	if s.usage != nil {
		rec := &UsageRecord{
			ModelSize:           modelID,
			Language:            language,
			Duration:            info.Duration,
			TotalCharacters:     totalChars,
			CharactersPerSecond: cps,
			ProcessingMs:        elapsed.Milliseconds(),
		}
		if err := s.usage.RecordUsage(rec); err != nil {
			s.logger.Warn("Failed to record usage", logger.Error(err))
		}
	}
	if s.events != nil {
		s.events.Publish(EventCompleted, map[string]any{
			"model":            modelID,
			"language":         language,
			"duration":         info.Duration,
			"total_characters": totalChars,
		})
	}

	return result, nil
}

// ChangeModel activates the named model eagerly
func (s *Service) ChangeModel(ctx context.Context, modelID string) error {
	if s.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LoadTimeout)
		defer cancel()
	}
	return s.manager.EnsureActive(ctx, modelID)
}

// resolveModel picks the effective model: explicit request, then the
// currently active model, then the persisted last model, then the default.
func (s *Service) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	if active := s.manager.ActiveModel(); active != "" {
		return active
	}
	if s.settings != nil {
		if last, err := s.settings.LastModel(); err == nil && last != "" {
			return last
		}
	}
	return s.cfg.DefaultModel
}

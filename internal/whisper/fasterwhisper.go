package whisper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	_ "embed"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/purestory/whisper-service/pkg/logger"
)

//go:embed assets/fw_worker.py
var workerScript []byte

// closeGrace is how long Close waits for the worker to exit after stdin
// closes before killing it.
const closeGrace = 3 * time.Second

// FasterWhisperConfig configures the faster-whisper worker factory
type FasterWhisperConfig struct {
	PythonPath   string // python interpreter, default "python3"
	ComputeType  string // faster-whisper compute type, default "auto"
	DownloadRoot string // model weight cache directory, empty for default
}

// FasterWhisperFactory loads models by spawning a resident python worker
// process per handle. The worker keeps the model in (accelerator) memory
// until the process exits, so Close on the engine is what actually frees
// the footprint.
type FasterWhisperFactory struct {
	cfg    FasterWhisperConfig
	logger *logger.Logger
}

// NewFasterWhisperFactory creates a factory for faster-whisper engines
func NewFasterWhisperFactory(cfg FasterWhisperConfig, log *logger.Logger) *FasterWhisperFactory {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = "auto"
	}
	return &FasterWhisperFactory{cfg: cfg, logger: log.Named("faster-whisper")}
}

// workerEvent is one NDJSON line from the worker process
type workerEvent struct {
	Event               string  `json:"event"`
	Kind                string  `json:"kind,omitempty"`
	Message             string  `json:"message,omitempty"`
	Device              string  `json:"device,omitempty"`
	Language            string  `json:"language,omitempty"`
	LanguageProbability float64 `json:"language_probability,omitempty"`
	Duration            float64 `json:"duration,omitempty"`
	Start               float64 `json:"start,omitempty"`
	End                 float64 `json:"end,omitempty"`
	Text                string  `json:"text,omitempty"`
	Words               []Word  `json:"words,omitempty"`
}

// workerRequest is one transcription request line sent to the worker
type workerRequest struct {
	Audio          string `json:"audio"`
	Language       string `json:"language,omitempty"`
	BeamSize       int    `json:"beam_size"`
	WordTimestamps bool   `json:"word_timestamps"`
	VADFilter      bool   `json:"vad_filter"`
}

// Load spawns a worker for the descriptor and waits for it to report the
// model loaded. A failed load never leaves a worker process behind.
func (f *FasterWhisperFactory) Load(ctx context.Context, desc Descriptor, device Device) (Engine, error) {
	scriptPath := filepath.Join(os.TempDir(), "whisper_service_fw_worker.py")
	if err := os.WriteFile(scriptPath, workerScript, 0o755); err != nil {
		return nil, WrapError(KindLoadFailure, err, "failed to write worker script")
	}

	args := []string{
		scriptPath,
		"--model", desc.ID,
		"--device", string(device),
		"--compute-type", f.cfg.ComputeType,
	}
	if f.cfg.DownloadRoot != "" {
		args = append(args, "--download-root", f.cfg.DownloadRoot)
	}

	cmd := exec.Command(f.cfg.PythonPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, WrapError(KindLoadFailure, err, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, WrapError(KindLoadFailure, err, "failed to open worker stdout")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, WrapError(KindLoadFailure, err, "failed to start worker process")
	}

	e := &fasterWhisperEngine{
		model:   desc.ID,
		cmd:     cmd,
		stdin:   stdin,
		scanner: bufio.NewScanner(stdout),
		stderr:  &stderr,
		logger:  f.logger,
	}
	e.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	e.alive.Store(true)

	// The first event is either ready or a load error. Loading large models
	// can take minutes; the caller bounds it through ctx, and the watchdog
	// turns cancellation into a worker kill so the read below unblocks.
	loaded := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.kill()
		case <-loaded:
		}
	}()

	ev, err := e.readEvent()
	close(loaded)
	if err != nil {
		e.kill()
		if ctx.Err() != nil {
			return nil, WrapError(KindTimeout, ctx.Err(), "model load timed out")
		}
		return nil, WrapError(KindLoadFailure, err, "worker exited during load: %s", e.stderrTail())
	}

	switch ev.Event {
	case "ready":
		f.logger.Info("Worker ready",
			logger.String("model", desc.ID),
			logger.String("device", string(device)))
		return e, nil
	case "error":
		e.kill()
		if ev.Kind == "oom" {
			return nil, NewError(KindResourceExhausted, "device memory exhausted loading %q: %s", desc.ID, ev.Message)
		}
		return nil, NewError(KindLoadFailure, "failed to load model %q: %s", desc.ID, ev.Message)
	default:
		e.kill()
		return nil, NewError(KindLoadFailure, "unexpected worker event %q during load", ev.Event)
	}
}

// fasterWhisperEngine is one resident worker process holding one model
type fasterWhisperEngine struct {
	model   string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	alive   atomic.Bool
	logger  *logger.Logger
}

// Transcribe sends one request to the worker and drains its event stream.
// If ctx expires mid-stream the worker is killed: recognition cannot be
// preempted cooperatively, so reclaiming the process is the only way to
// release the accelerator. The engine reports not-alive afterwards and the
// manager empties the slot.
func (e *fasterWhisperEngine) Transcribe(ctx context.Context, audioPath string, opts DecodeOptions, emit func(Segment) error) (*Info, error) {
	if !e.alive.Load() {
		return nil, NewError(KindTranscriptionFailure, "model worker is no longer running")
	}

	req := workerRequest{
		Audio:          audioPath,
		Language:       opts.Language,
		BeamSize:       opts.BeamSize,
		WordTimestamps: opts.WordTimestamps,
		VADFilter:      opts.VADFilter,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, WrapError(KindTranscriptionFailure, err, "failed to encode request")
	}
	if _, err := e.stdin.Write(append(payload, '\n')); err != nil {
		e.alive.Store(false)
		return nil, WrapError(KindTranscriptionFailure, err, "failed to send request to worker")
	}

	// Watchdog: a cancelled context kills the worker, which unblocks the
	// scanner below. Stopped via done once the stream completes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.logger.Warn("Context cancelled mid-transcription, killing worker",
				logger.String("model", e.model))
			e.kill()
		case <-done:
		}
	}()

	var info *Info
	for {
		ev, err := e.readEvent()
		if err != nil {
			e.alive.Store(false)
			if ctx.Err() == context.DeadlineExceeded {
				return nil, WrapError(KindTimeout, ctx.Err(), "transcription exceeded the configured time budget")
			}
			if ctx.Err() != nil {
				return nil, WrapError(KindTranscriptionFailure, ctx.Err(), "transcription cancelled")
			}
			return nil, WrapError(KindTranscriptionFailure, err, "worker died mid-stream: %s", e.stderrTail())
		}

		switch ev.Event {
		case "info":
			info = &Info{
				Language:            ev.Language,
				LanguageProbability: ev.LanguageProbability,
				Duration:            ev.Duration,
			}
		case "segment":
			if err := emit(Segment{Start: ev.Start, End: ev.End, Text: ev.Text, Words: ev.Words}); err != nil {
				return nil, err
			}
		case "done":
			if info == nil {
				return nil, NewError(KindTranscriptionFailure, "worker completed without reporting stream info")
			}
			return info, nil
		case "error":
			// The worker caught the exception itself and is still serving,
			// so the loaded model survives this failure.
			return nil, NewError(KindTranscriptionFailure, "recognition failed: %s", ev.Message)
		default:
			return nil, NewError(KindTranscriptionFailure, "unexpected worker event %q", ev.Event)
		}
	}
}

// Alive reports whether the worker process is still usable
func (e *fasterWhisperEngine) Alive() bool {
	return e.alive.Load()
}

// Close shuts the worker down, waiting briefly for a clean exit before
// killing it. Accelerator memory is released when the process dies.
func (e *fasterWhisperEngine) Close() error {
	if !e.alive.Swap(false) {
		return nil
	}

	e.stdin.Close()
	exited := make(chan error, 1)
	go func() { exited <- e.cmd.Wait() }()

	select {
	case <-exited:
	case <-time.After(closeGrace):
		e.logger.Warn("Worker did not exit after stdin close, killing",
			logger.String("model", e.model))
		e.cmd.Process.Kill()
		<-exited
	}
	return nil
}

// kill terminates the worker process immediately and reaps it
func (e *fasterWhisperEngine) kill() {
	if !e.alive.Swap(false) {
		return
	}
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	go e.cmd.Wait()
}

// readEvent reads the next NDJSON event from the worker, skipping any
// non-JSON noise the underlying libraries print to stdout.
func (e *fasterWhisperEngine) readEvent() (*workerEvent, error) {
	for e.scanner.Scan() {
		line := strings.TrimSpace(e.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var ev workerEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			e.logger.Debug("Skipping unparseable worker output", logger.String("line", line))
			continue
		}
		return &ev, nil
	}
	if err := e.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// stderrTail returns the last portion of the worker's stderr for error messages
func (e *fasterWhisperEngine) stderrTail() string {
	s := strings.TrimSpace(e.stderr.String())
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	if s == "" {
		return "(no stderr output)"
	}
	return s
}

var _ EngineFactory = (*FasterWhisperFactory)(nil)

package whisper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/purestory/whisper-service/pkg/logger"
)

// Snapshot is the lock-free view of the active model slot. It describes the
// last fully published handle and may be momentarily stale during a swap;
// it never describes a partially constructed one.
type Snapshot struct {
	ModelID string
	Device  Device
	Loaded  bool
}

// SettingsStore persists the last activated model across restarts
type SettingsStore interface {
	LastModel() (string, error)
	SetLastModel(id string) error
}

// EventSink receives model lifecycle events for broadcast to clients
type EventSink interface {
	Publish(event string, data map[string]any)
}

// Model lifecycle event names
const (
	EventModelLoading  = "model_loading"
	EventModelChanged  = "model_changed"
	EventModelUnloaded = "model_unloaded"
)

// handle pairs a loaded engine with the descriptor and device it was built
// from. It only exists fully constructed; the manager never exposes one
// whose engine has been released.
type handle struct {
	desc   Descriptor
	device Device
	engine Engine
}

// Manager owns the process-wide model slot. A single mutex covers both
// activation (construct/replace the handle) and use (one recognition run),
// so the accelerator never sees two models or two overlapping inferences.
// Status reads bypass the mutex via the published snapshot.
type Manager struct {
	mu        sync.Mutex
	active    *handle
	published atomic.Pointer[Snapshot]

	factory     EngineFactory
	device      Device
	settings    SettingsStore
	events      EventSink
	idleTimeout time.Duration
	idleTimer   *time.Timer
	logger      *logger.Logger
}

// NewManager creates a model instance manager. settings and events may be
// nil. idleTimeout of zero disables idle unloading.
func NewManager(factory EngineFactory, device Device, settings SettingsStore, events EventSink, idleTimeout time.Duration, log *logger.Logger) *Manager {
	m := &Manager{
		factory:     factory,
		device:      device,
		settings:    settings,
		events:      events,
		idleTimeout: idleTimeout,
		logger:      log.Named("model-manager"),
	}
	m.published.Store(&Snapshot{})
	return m
}

// Status returns the last published slot state without taking the model
// lock, so it stays responsive during long loads and transcriptions.
func (m *Manager) Status() Snapshot {
	return *m.published.Load()
}

// ActiveModel returns the identifier of the active model, or "" when the
// slot is empty.
func (m *Manager) ActiveModel() string {
	return m.published.Load().ModelID
}

// EnsureActive makes the named model the active one. It is idempotent: if
// the model is already active it returns immediately with no resource
// churn. Otherwise it blocks all other activations and transcriptions,
// fully releases the previous handle, and constructs the new one. On
// construction failure the slot is left empty so the caller can retry with
// a smaller model.
func (m *Manager) EnsureActive(ctx context.Context, modelID string) error {
	desc, err := Lookup(modelID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureActiveLocked(ctx, desc)
}

// WithEngine runs fn against the engine for the named model, holding the
// exclusive slot lock for the whole invocation. If the engine died during
// the run (e.g. the worker was killed on timeout) the slot is emptied
// before the lock is released.
func (m *Manager) WithEngine(ctx context.Context, modelID string, fn func(Engine, Descriptor) error) error {
	desc, err := Lookup(modelID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureActiveLocked(ctx, desc); err != nil {
		return err
	}

	h := m.active
	useErr := fn(h.engine, h.desc)

	if !h.engine.Alive() {
		m.logger.Warn("Engine no longer alive after use, emptying model slot",
			logger.String("model", h.desc.ID))
		m.teardownLocked()
	} else {
		m.touchLocked()
	}

	return useErr
}

// Unload releases the active model, if any. Used by the idle timer and at
// shutdown.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.logger.Info("Unloading model", logger.String("model", m.active.desc.ID))
	m.teardownLocked()
	if m.events != nil {
		m.events.Publish(EventModelUnloaded, map[string]any{})
	}
}

// Close releases the active model and stops the idle timer
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.teardownLocked()
}

// ensureActiveLocked implements the activation contract. Callers hold m.mu.
func (m *Manager) ensureActiveLocked(ctx context.Context, desc Descriptor) error {
	if m.active != nil && m.active.desc.ID == desc.ID {
		m.touchLocked()
		return nil
	}

	if m.events != nil {
		m.events.Publish(EventModelLoading, map[string]any{"model": desc.ID})
	}

	// Release the previous handle completely before constructing the new
	// one, so both never occupy accelerator memory at once.
	if m.active != nil {
		m.logger.Info("Releasing previous model",
			logger.String("previous", m.active.desc.ID),
			logger.String("requested", desc.ID))
		m.teardownLocked()
	}

	start := time.Now()
	m.logger.Info("Loading model",
		logger.String("model", desc.ID),
		logger.String("device", string(m.device)))

	engine, err := m.factory.Load(ctx, desc, m.device)
	if err != nil {
		// Slot stays empty: the caller decides whether to retry with a
		// smaller descriptor.
		m.logger.Error("Model load failed", logger.String("model", desc.ID), logger.Error(err))
		return err
	}

	m.active = &handle{desc: desc, device: m.device, engine: engine}
	m.published.Store(&Snapshot{ModelID: desc.ID, Device: m.device, Loaded: true})
	m.touchLocked()

	m.logger.Info("Model loaded",
		logger.String("model", desc.ID),
		logger.String("device", string(m.device)),
		logger.Duration("load_time", time.Since(start)))

	if m.settings != nil {
		if err := m.settings.SetLastModel(desc.ID); err != nil {
			m.logger.Warn("Failed to persist last model", logger.Error(err))
		}
	}
	if m.events != nil {
		m.events.Publish(EventModelChanged, map[string]any{
			"model":  desc.ID,
			"device": string(m.device),
		})
	}

	return nil
}

// teardownLocked releases the active handle and publishes the empty slot.
// Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.active == nil {
		return
	}
	if err := m.active.engine.Close(); err != nil {
		m.logger.Error("Error closing engine", logger.Error(err))
	}
	m.active = nil
	m.published.Store(&Snapshot{})
}

// touchLocked restarts the idle unload countdown. Callers hold m.mu.
func (m *Manager) touchLocked() {
	if m.idleTimeout <= 0 {
		return
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.logger.Info("Idle timeout reached, unloading model")
		m.Unload()
	})
}

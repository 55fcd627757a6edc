package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"speechd/internal/engine"
	"speechd/internal/registry"
)

// Manager keeps at most one SelfDisposingModel per model id for one family.
// The loaded map is the single source of truth for "loaded or loading".
type Manager[T Disposer] struct {
	family    string
	ttl       time.Duration
	registry  registry.Registry
	loader    Loader[T]
	providers engine.ProviderOptions
	obs       observer

	// serializes download+insert per id; unrelated ids never wait on each other
	inserts singleflight.Group

	mu     sync.Mutex
	loaded map[string]*SelfDisposingModel[T]
	order  []string
	closed bool
}

// Family returns the family name.
func (m *Manager[T]) Family() string { return m.family }

// TTL returns the idle TTL applied to new wrappers.
func (m *Manager[T]) TTL() time.Duration { return m.ttl }

// Registry returns the family registry.
func (m *Manager[T]) Registry() registry.Registry { return m.registry }

// LoadModel returns the wrapper for id, creating it if absent. Model files
// are downloaded first when missing locally; a failing download leaves no
// entry. The instance itself is loaded on the wrapper's first Acquire.
func (m *Manager[T]) LoadModel(ctx context.Context, id string) (*SelfDisposingModel[T], error) {
	if id == "" {
		return nil, ErrModelNotFound("(unspecified)")
	}
	if w, err := m.lookup(id); w != nil || err != nil {
		return w, err
	}
	v, err, _ := m.inserts.Do(id, func() (any, error) {
		return m.insert(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SelfDisposingModel[T]), nil
}

// lookup returns the live wrapper for id. A disposed wrapper whose unload
// callback has not run yet is dropped here.
func (m *Manager[T]) lookup(id string) (*SelfDisposingModel[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	w, ok := m.loaded[id]
	if !ok {
		return nil, nil
	}
	if w.Disposed() {
		m.removeLocked(id, w)
		return nil, nil
	}
	return w, nil
}

func (m *Manager[T]) insert(ctx context.Context, id string) (*SelfDisposingModel[T], error) {
	if w, err := m.lookup(id); w != nil || err != nil {
		return w, err
	}
	if err := m.ensureLocal(ctx, id); err != nil {
		return nil, err
	}

	var w *SelfDisposingModel[T]
	w = newWrapper(id, m.loadFunc(id), m.ttl, func(id string) { m.handleUnloaded(id, w) }, m.obs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	m.loaded[id] = w
	m.order = append(m.order, id)
	return w, nil
}

func (m *Manager[T]) ensureLocal(ctx context.Context, id string) error {
	if _, err := m.registry.ResolveLocalFiles(id); err == nil {
		return nil
	}
	m.obs.log.Info().Str("model", id).Msg("model not found locally, downloading")
	m.obs.publish(EventDownloadStart, id, nil)
	start := time.Now()
	downloaded, err := m.registry.DownloadIfMissing(ctx, id)
	if err != nil {
		m.obs.log.Error().Err(err).Str("model", id).Msg("model download failed")
		m.obs.publish(EventDownloadFailed, id, map[string]any{"error": err.Error()})
		return ErrDownloadFailure(id, err)
	}
	m.obs.publish(EventDownloadDone, id, map[string]any{
		"downloaded":  downloaded,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// loadFunc binds id to the family loader. Files are resolved at load time
// so a re-load after unload sees the current files.
func (m *Manager[T]) loadFunc(id string) LoadFunc[T] {
	return func(ctx context.Context) (T, error) {
		files, err := m.registry.ResolveLocalFiles(id)
		if err != nil {
			var zero T
			return zero, err
		}
		return m.loader(ctx, LoadRequest{ModelID: id, Files: files, Providers: m.providers})
	}
}

// Acquire loads id if needed and returns the instance with its release func.
func (m *Manager[T]) Acquire(ctx context.Context, id string) (T, func(), error) {
	for attempt := 0; ; attempt++ {
		w, err := m.LoadModel(ctx, id)
		if err != nil {
			var zero T
			return zero, func() {}, err
		}
		inst, release, err := w.Acquire(ctx)
		// the wrapper unloaded between LoadModel and Acquire
		if errors.Is(err, ErrUnloaded) && attempt == 0 {
			continue
		}
		return inst, release, err
	}
}

// Use runs fn with the instance for id, releasing it afterwards.
func (m *Manager[T]) Use(ctx context.Context, id string, fn func(T) error) error {
	inst, release, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return fn(inst)
}

// UnloadModel unloads id. It fails with a not-found error when id has no
// entry and with an in-use error while handles are outstanding.
func (m *Manager[T]) UnloadModel(id string) error {
	m.mu.Lock()
	w, ok := m.loaded[id]
	m.mu.Unlock()
	if !ok {
		return ErrModelNotFound(id)
	}
	m.obs.publish(EventUnloadStart, id, nil)
	return w.Unload()
}

// handleUnloaded drops id if it still maps to w.
func (m *Manager[T]) handleUnloaded(id string, w *SelfDisposingModel[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded[id] == w {
		m.removeLocked(id, w)
	}
}

func (m *Manager[T]) removeLocked(id string, w *SelfDisposingModel[T]) {
	if m.loaded[id] != w {
		return
	}
	delete(m.loaded, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

// Contains reports whether id has an entry.
func (m *Manager[T]) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[id]
	return ok
}

// Loaded returns stats for every entry in insertion order.
func (m *Manager[T]) Loaded() []ModelStats {
	m.mu.Lock()
	ws := make([]*SelfDisposingModel[T], 0, len(m.order))
	for _, id := range m.order {
		ws = append(ws, m.loaded[id])
	}
	m.mu.Unlock()

	out := make([]ModelStats, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Stats())
	}
	return out
}

// Close rejects further LoadModel calls and unloads every entry. Entries
// still in use stay loaded and are reported in the joined error.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	m.closed = true
	ws := make([]*SelfDisposingModel[T], 0, len(m.order))
	for _, id := range m.order {
		ws = append(ws, m.loaded[id])
	}
	m.mu.Unlock()

	var errs []error
	for _, w := range ws {
		if err := w.Unload(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

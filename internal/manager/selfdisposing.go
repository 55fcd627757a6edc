package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SelfDisposingModel wraps one lazily constructed model instance. It counts
// active handles and unloads the instance once it has been idle for ttl.
//
// instance, refs, timer and gen are guarded together by mu. The first load
// runs with mu held so concurrent acquirers wait for it instead of loading
// twice.
type SelfDisposingModel[T Disposer] struct {
	id         string
	load       LoadFunc[T]
	ttl        time.Duration
	onUnloaded func(id string)
	obs        observer

	mu           sync.Mutex
	instance     T
	loaded       bool
	refs         int
	timer        *time.Timer
	gen          uint64
	loadedAt     time.Time
	lastReleased time.Time
	expiresAt    time.Time

	// set under mu, read without it
	disposed atomic.Bool
	loading  atomic.Bool
}

// NewSelfDisposingModel returns an unloaded wrapper. A negative ttl disables
// idle unloading. onUnloaded may be nil.
func NewSelfDisposingModel[T Disposer](id string, load LoadFunc[T], ttl time.Duration, onUnloaded func(id string)) *SelfDisposingModel[T] {
	return newWrapper(id, load, ttl, onUnloaded, newObserver("", zerolog.Nop(), nil))
}

func newWrapper[T Disposer](id string, load LoadFunc[T], ttl time.Duration, onUnloaded func(id string), obs observer) *SelfDisposingModel[T] {
	return &SelfDisposingModel[T]{id: id, load: load, ttl: ttl, onUnloaded: onUnloaded, obs: obs}
}

// ID returns the model id.
func (s *SelfDisposingModel[T]) ID() string { return s.id }

// Disposed reports whether the instance was unloaded. A disposed wrapper is
// never reused.
func (s *SelfDisposingModel[T]) Disposed() bool { return s.disposed.Load() }

// Acquire returns the instance, loading it first if needed, and a release
// func that must be called when the caller is done. release is idempotent.
// A failing load leaves the wrapper unloaded and retryable.
func (s *SelfDisposingModel[T]) Acquire(ctx context.Context) (T, func(), error) {
	var zero T
	s.mu.Lock()
	if s.disposed.Load() {
		s.mu.Unlock()
		return zero, func() {}, ErrUnloaded
	}
	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil {
			s.mu.Unlock()
			return zero, func() {}, err
		}
	}
	s.stopTimerLocked()
	s.refs++
	inst := s.instance
	s.mu.Unlock()

	var once sync.Once
	return inst, func() { once.Do(s.release) }, nil
}

// Use runs fn with the acquired instance. The handle is released on every
// exit path, panics included.
func (s *SelfDisposingModel[T]) Use(ctx context.Context, fn func(T) error) error {
	inst, release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(inst)
}

func (s *SelfDisposingModel[T]) loadLocked(ctx context.Context) error {
	s.loading.Store(true)
	defer s.loading.Store(false)

	s.obs.publish(EventLoadStart, s.id, nil)
	start := time.Now()
	inst, err := s.load(ctx)
	took := time.Since(start)
	if err != nil {
		modelLoadsTotal.WithLabelValues(s.obs.family, "error").Inc()
		s.obs.log.Error().Err(err).Str("model", s.id).Dur("took", took).Msg("model load failed")
		s.obs.publish(EventLoadFailed, s.id, map[string]any{"error": err.Error()})
		return ErrLoadFailure(s.id, err)
	}
	s.instance = inst
	s.loaded = true
	s.loadedAt = time.Now()
	modelLoadsTotal.WithLabelValues(s.obs.family, "ok").Inc()
	modelLoadSeconds.WithLabelValues(s.obs.family).Observe(took.Seconds())
	modelsLoaded.WithLabelValues(s.obs.family).Inc()
	s.obs.log.Info().Str("model", s.id).Dur("took", took).Msg("model loaded")
	s.obs.publish(EventLoadReady, s.id, map[string]any{"duration_ms": took.Milliseconds()})
	return nil
}

func (s *SelfDisposingModel[T]) release() {
	s.mu.Lock()
	s.refs--
	if s.refs > 0 || !s.loaded {
		s.mu.Unlock()
		return
	}
	s.lastReleased = time.Now()
	if s.ttl < 0 {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.expiresAt = s.lastReleased.Add(s.ttl)
	s.timer = time.AfterFunc(s.ttl, func() { s.expire(gen) })
	s.mu.Unlock()
	s.obs.publish(EventTimerArmed, s.id, map[string]any{"ttl_ms": s.ttl.Milliseconds()})
}

// stopTimerLocked cancels an armed idle timer. Bumping gen turns a timer
// that already fired but has not yet taken mu into a no-op.
func (s *SelfDisposingModel[T]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.expiresAt = time.Time{}
}

func (s *SelfDisposingModel[T]) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.refs > 0 || !s.loaded {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.obs.publish(EventIdleExpired, s.id, nil)
	if err := s.unload(reasonIdle, gen, true); err != nil && !IsDisposeFailure(err) {
		s.obs.log.Warn().Err(err).Str("model", s.id).Msg("idle unload")
	}
}

// Unload disposes the instance. It is a no-op when nothing is loaded and
// fails with an InUse error while handles are outstanding. A failing Close
// is reported after cleanup has completed.
func (s *SelfDisposingModel[T]) Unload() error {
	return s.unload(reasonExplicit, 0, false)
}

func (s *SelfDisposingModel[T]) unload(reason string, gen uint64, fromTimer bool) error {
	s.mu.Lock()
	if fromTimer && gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	if s.refs > 0 {
		refs := s.refs
		s.mu.Unlock()
		s.obs.publish(EventUnloadRejected, s.id, map[string]any{"refs": refs})
		return ErrInUse(s.id, refs)
	}
	s.stopTimerLocked()
	closeErr := s.instance.Close()
	var zero T
	s.instance = zero
	s.loaded = false
	s.disposed.Store(true)
	s.mu.Unlock()

	modelsLoaded.WithLabelValues(s.obs.family).Dec()
	modelUnloadsTotal.WithLabelValues(s.obs.family, reason).Inc()
	var err error
	if closeErr != nil {
		s.obs.log.Error().Err(closeErr).Str("model", s.id).Msg("model dispose failed")
		s.obs.publish(EventDisposeFailed, s.id, map[string]any{"error": closeErr.Error()})
		err = ErrDisposeFailure(s.id, closeErr)
	}
	if s.onUnloaded != nil {
		s.onUnloaded(s.id)
	}
	s.obs.log.Info().Str("model", s.id).Str("reason", reason).Msg("model unloaded")
	s.obs.publish(EventUnloadDone, s.id, map[string]any{"reason": reason})
	return err
}

// Stats returns a snapshot of the wrapper. It does not wait for an
// in-progress load.
func (s *SelfDisposingModel[T]) Stats() ModelStats {
	if s.loading.Load() {
		return ModelStats{ID: s.id, TTL: s.ttl, Loading: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ModelStats{
		ID:       s.id,
		Loaded:   s.loaded,
		Refs:     s.refs,
		TTL:      s.ttl,
		LoadedAt: s.loadedAt,
	}
	if s.loaded && s.refs == 0 {
		st.IdleSince = s.lastReleased
		st.ExpiresAt = s.expiresAt
	}
	return st
}

package speech

import (
	"context"
	"time"

	"speechd/internal/manager"
	"speechd/internal/registry"
	"speechd/pkg/types"
)

// Family names.
const (
	FamilyASR = "asr"
	FamilyTTS = "tts"
)

// Family is the engine-independent view of one model manager used by the
// admin API and the CLI.
type Family interface {
	Name() string
	Task() string
	Registry() registry.Registry
	// Warm loads id if needed and releases it again, arming the idle timer.
	Warm(ctx context.Context, id string) (types.LoadedModel, error)
	Unload(id string) error
	Contains(id string) bool
	Stats(id string) (types.LoadedModel, bool)
	Loaded() []types.LoadedModel
	Close() error
}

type family[T manager.Disposer] struct {
	task string
	m    *manager.Manager[T]
}

// NewFamily adapts m to Family.
func NewFamily[T manager.Disposer](task string, m *manager.Manager[T]) Family {
	return &family[T]{task: task, m: m}
}

func (f *family[T]) Name() string                { return f.m.Family() }
func (f *family[T]) Task() string                { return f.task }
func (f *family[T]) Registry() registry.Registry { return f.m.Registry() }
func (f *family[T]) Unload(id string) error      { return f.m.UnloadModel(id) }
func (f *family[T]) Contains(id string) bool     { return f.m.Contains(id) }
func (f *family[T]) Close() error                { return f.m.Close() }

func (f *family[T]) Warm(ctx context.Context, id string) (types.LoadedModel, error) {
	_, release, err := f.m.Acquire(ctx, id)
	if err != nil {
		return types.LoadedModel{}, err
	}
	release()
	st, ok := f.Stats(id)
	if !ok {
		// ttl 0 unloads on release
		st = types.LoadedModel{Family: f.Name(), ModelID: id, TTLSeconds: ttlSeconds(f.m.TTL())}
	}
	return st, nil
}

func (f *family[T]) Stats(id string) (types.LoadedModel, bool) {
	for _, s := range f.m.Loaded() {
		if s.ID == id {
			return f.project(s), true
		}
	}
	return types.LoadedModel{}, false
}

func (f *family[T]) Loaded() []types.LoadedModel {
	stats := f.m.Loaded()
	out := make([]types.LoadedModel, 0, len(stats))
	for _, s := range stats {
		out = append(out, f.project(s))
	}
	return out
}

func (f *family[T]) project(s manager.ModelStats) types.LoadedModel {
	return types.LoadedModel{
		Family:     f.Name(),
		ModelID:    s.ID,
		Loaded:     s.Loaded,
		Loading:    s.Loading,
		RefCount:   s.Refs,
		LoadedAt:   unix(s.LoadedAt),
		IdleSince:  unix(s.IdleSince),
		ExpiresAt:  unix(s.ExpiresAt),
		TTLSeconds: ttlSeconds(s.TTL),
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func ttlSeconds(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return int64(d / time.Second)
}

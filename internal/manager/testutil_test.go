package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/engine"
	"speechd/internal/registry"
	"speechd/pkg/types"
)

// fakeRegistry is an in-memory registry. Ids in local resolve; ids in
// remote can be downloaded.
type fakeRegistry struct {
	mu         sync.Mutex
	local      map[string]bool
	remote     map[string]bool
	downloadFn func(ctx context.Context, id string) error
	downloads  atomic.Int32
}

func newFakeRegistry(local ...string) *fakeRegistry {
	r := &fakeRegistry{local: map[string]bool{}, remote: map[string]bool{}}
	for _, id := range local {
		r.local[id] = true
	}
	return r
}

func (r *fakeRegistry) ResolveLocalFiles(id string) (registry.Files, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.local[id] {
		return registry.Files{}, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	return registry.Files{Dir: "/models/" + id, Model: "/models/" + id + "/model.bin"}, nil
}

func (r *fakeRegistry) DownloadIfMissing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	if r.local[id] {
		r.mu.Unlock()
		return false, nil
	}
	known := r.remote[id]
	fn := r.downloadFn
	r.mu.Unlock()
	if !known {
		return false, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	r.downloads.Add(1)
	if fn != nil {
		if err := fn(ctx, id); err != nil {
			return false, err
		}
	}
	r.mu.Lock()
	r.local[id] = true
	r.mu.Unlock()
	return true, nil
}

func (r *fakeRegistry) ListLocal() ([]types.Model, error) { return nil, nil }
func (r *fakeRegistry) ListRemote() []types.Model         { return nil }
func (r *fakeRegistry) Delete(id string) error            { return nil }

// fakeModel records Close calls.
type fakeModel struct {
	id       string
	closeErr error
	closed   atomic.Int32
}

func (f *fakeModel) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

// fakeLoader counts loads and hands out fakeModels.
type fakeLoader struct {
	mu       sync.Mutex
	loads    atomic.Int32
	failNext int
	closeErr error
	delay    time.Duration
	models   []*fakeModel
	lastReq  LoadRequest
}

func (l *fakeLoader) load(ctx context.Context, req LoadRequest) (*fakeModel, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastReq = req
	if l.failNext > 0 {
		l.failNext--
		return nil, errors.New("engine exploded")
	}
	m := &fakeModel{id: req.ModelID, closeErr: l.closeErr}
	l.models = append(l.models, m)
	return m, nil
}

func (l *fakeLoader) model(i int) *fakeModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.models[i]
}

func newTestManager(t *testing.T, ttl time.Duration, reg *fakeRegistry, l *fakeLoader) (*Manager[*fakeModel], *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	m, err := NewWithConfig(ManagerConfig[*fakeModel]{
		Family:    "test",
		TTL:       ttl,
		Registry:  reg,
		Loader:    l.load,
		Providers: engine.ProviderOptions{Exclude: []string{"tensorrt"}},
		Logger:    zerolog.Nop(),
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	return m, pub
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

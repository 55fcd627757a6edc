package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newCountingWrapper(ttl time.Duration) (*SelfDisposingModel[*fakeModel], *atomic.Int32, *atomic.Int32) {
	var loads, callbacks atomic.Int32
	w := NewSelfDisposingModel("w", func(context.Context) (*fakeModel, error) {
		loads.Add(1)
		return &fakeModel{id: "w"}, nil
	}, ttl, func(string) { callbacks.Add(1) })
	return w, &loads, &callbacks
}

func TestWrapper_ConcurrentUnloadFiresCallbackOnce(t *testing.T) {
	w, _, callbacks := newCountingWrapper(time.Minute)
	if err := w.Use(testCtx(t), func(*fakeModel) error { return nil }); err != nil {
		t.Fatalf("Use: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Unload()
		}()
	}
	wg.Wait()
	if n := callbacks.Load(); n != 1 {
		t.Fatalf("expected one unload callback, got %d", n)
	}
	if !w.Disposed() {
		t.Fatalf("expected wrapper disposed")
	}
}

func TestWrapper_UnloadWhenEmptyIsNoop(t *testing.T) {
	w, loads, callbacks := newCountingWrapper(time.Minute)
	if err := w.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if callbacks.Load() != 0 || loads.Load() != 0 || w.Disposed() {
		t.Fatalf("unload of an empty wrapper must do nothing")
	}
}

func TestWrapper_UseReleasesOnPanic(t *testing.T) {
	w, _, _ := newCountingWrapper(time.Minute)
	func() {
		defer func() { _ = recover() }()
		_ = w.Use(testCtx(t), func(*fakeModel) error { panic("boom") })
	}()
	if st := w.Stats(); st.Refs != 0 || !st.Loaded {
		t.Fatalf("expected handle released after panic, got %+v", st)
	}
	if err := w.Unload(); err != nil {
		t.Fatalf("Unload after panic: %v", err)
	}
}

func TestWrapper_UseReturnsCallbackError(t *testing.T) {
	w, _, _ := newCountingWrapper(time.Minute)
	want := errors.New("decode failed")
	if err := w.Use(testCtx(t), func(*fakeModel) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if st := w.Stats(); st.Refs != 0 {
		t.Fatalf("expected released handle, got refs=%d", st.Refs)
	}
}

func TestWrapper_StaleTimerIsNoop(t *testing.T) {
	w, _, callbacks := newCountingWrapper(time.Minute)
	inst, release, err := w.Acquire(testCtx(t))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	w.mu.Lock()
	staleGen := w.gen
	w.mu.Unlock()

	_, release, err = w.Acquire(testCtx(t))
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	release()
	// a timer that fired for the first release must not unload
	w.expire(staleGen)
	if callbacks.Load() != 0 || inst.closed.Load() != 0 {
		t.Fatalf("stale timer unloaded the model")
	}
}

func TestWrapper_AcquireWaitsForFirstLoad(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	finish := make(chan struct{})
	w := NewSelfDisposingModel("slow", func(context.Context) (*fakeModel, error) {
		if loads.Add(1) == 1 {
			close(started)
		}
		<-finish
		return &fakeModel{id: "slow"}, nil
	}, NeverExpire, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := w.Acquire(context.Background())
			if err == nil {
				release()
			}
		}()
	}
	<-started
	if st := w.Stats(); !st.Loading {
		t.Fatalf("expected loading stats during first load, got %+v", st)
	}
	close(finish)
	wg.Wait()
	if n := loads.Load(); n != 1 {
		t.Fatalf("expected one load, got %d", n)
	}
}

func TestWrapper_EventsOnIdleExpiry(t *testing.T) {
	pub := NewMemoryPublisher()
	var w *SelfDisposingModel[*fakeModel]
	w = newWrapper("e", func(context.Context) (*fakeModel, error) {
		return &fakeModel{id: "e"}, nil
	}, 10*time.Millisecond, nil, newObserver("test", zerolog.Nop(), pub))
	if err := w.Use(testCtx(t), func(*fakeModel) error { return nil }); err != nil {
		t.Fatalf("Use: %v", err)
	}
	waitFor(t, time.Second, w.Disposed, "idle expiry")
	waitFor(t, time.Second, func() bool {
		n := pub.Names("e")
		return len(n) > 0 && n[len(n)-1] == EventUnloadDone
	}, "unload_done event")
	want := []string{EventLoadStart, EventLoadReady, EventTimerArmed, EventIdleExpired, EventUnloadDone}
	got := pub.Names("e")
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	for _, e := range pub.Events() {
		if e.Family != "test" {
			t.Fatalf("expected family on event, got %+v", e)
		}
	}
}

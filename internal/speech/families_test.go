package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/config"
	"speechd/internal/eventlog"
	"speechd/internal/manager"
	"speechd/internal/registry"
	"speechd/pkg/types"
)

type stubEngine struct{ closed atomic.Bool }

func (e *stubEngine) Close() error { e.closed.Store(true); return nil }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// install creates <dir>/<id>/<id><ext>.
func install(t *testing.T, dir, id, ext string) {
	t.Helper()
	d := filepath.Join(dir, id)
	if err := os.MkdirAll(d, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(d, filepath.Base(id)+ext), []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newStubFamily(t *testing.T, name, task string, ttl time.Duration, pub manager.EventPublisher) (Family, *registry.DirRegistry) {
	t.Helper()
	reg, err := registry.NewDirRegistry(registry.Options{
		Family:   name + "-engine",
		Task:     task,
		Dir:      filepath.Join(t.TempDir(), name),
		ModelExt: ".bin",
		Catalog: registry.Catalog{
			"remote-" + name: {ID: "remote-" + name, Files: []registry.RemoteFile{{Name: "remote-" + name + ".bin", URL: "http://127.0.0.1:1/unused"}}},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	m, err := manager.NewWithConfig(manager.ManagerConfig[*stubEngine]{
		Family:    name,
		TTL:       ttl,
		Registry:  reg,
		Loader:    func(ctx context.Context, req manager.LoadRequest) (*stubEngine, error) { return &stubEngine{}, nil },
		Logger:    zerolog.Nop(),
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return NewFamily(task, m), reg
}

func TestWarmAndLoaded(t *testing.T) {
	asr, reg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, time.Minute, nil)
	install(t, reg.Dir(), "tiny", ".bin")
	fams := NewFromFamilies(nil, zerolog.Nop(), asr)

	st, err := asr.Warm(testCtx(t), "tiny")
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if !st.Loaded || st.RefCount != 0 || st.Family != FamilyASR || st.TTLSeconds != 60 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.ExpiresAt == 0 || st.IdleSince == 0 || st.LoadedAt == 0 {
		t.Fatalf("expected timer fields, got %+v", st)
	}
	loaded := fams.Loaded()
	if len(loaded) != 1 || loaded[0].ModelID != "tiny" {
		t.Fatalf("unexpected loaded %+v", loaded)
	}
	if err := asr.Unload("tiny"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if asr.Contains("tiny") {
		t.Fatalf("expected entry removed")
	}
}

func TestWarmWithZeroTTLReportsUnloaded(t *testing.T) {
	asr, reg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, 0, nil)
	install(t, reg.Dir(), "tiny", ".bin")
	st, err := asr.Warm(testCtx(t), "tiny")
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if st.ModelID != "tiny" || st.RefCount != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestNeverExpireTTLSeconds(t *testing.T) {
	tts, reg := newStubFamily(t, FamilyTTS, types.TaskTextToSpeech, manager.NeverExpire, nil)
	install(t, reg.Dir(), "voice", ".bin")
	st, err := tts.Warm(testCtx(t), "voice")
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if st.TTLSeconds != -1 || st.ExpiresAt != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestListFiltersByTask(t *testing.T) {
	asr, areg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, time.Minute, nil)
	tts, treg := newStubFamily(t, FamilyTTS, types.TaskTextToSpeech, time.Minute, nil)
	install(t, areg.Dir(), "tiny", ".bin")
	install(t, treg.Dir(), "voice", ".bin")
	fams := NewFromFamilies(nil, zerolog.Nop(), asr, tts)

	all, err := fams.ListLocal("")
	if err != nil {
		t.Fatalf("ListLocal: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 local models, got %+v", all)
	}
	only, _ := fams.ListLocal(types.TaskTextToSpeech)
	if len(only) != 1 || only[0].ID != "voice" {
		t.Fatalf("unexpected filtered list %+v", only)
	}
	remote := fams.ListRemote(types.TaskSpeechRecognition)
	if len(remote) != 1 || remote[0].ID != "remote-asr" {
		t.Fatalf("unexpected remote list %+v", remote)
	}
	if _, ok := fams.Get(FamilyTTS); !ok {
		t.Fatalf("expected tts family")
	}
	if _, ok := fams.Get("nope"); ok {
		t.Fatalf("unexpected family")
	}
}

func TestDownloadUnknownAndPresent(t *testing.T) {
	asr, reg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, time.Minute, nil)
	install(t, reg.Dir(), "local-only", ".bin")
	fams := NewFromFamilies(nil, zerolog.Nop(), asr)

	if _, err := fams.Download(testCtx(t), "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := fams.Download(testCtx(t), "local-only")
	if err != nil || got {
		t.Fatalf("expected already present, got %v %v", got, err)
	}
}

func TestDeleteRejectsLoaded(t *testing.T) {
	asr, reg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, time.Minute, nil)
	install(t, reg.Dir(), "tiny", ".bin")
	fams := NewFromFamilies(nil, zerolog.Nop(), asr)

	if _, err := asr.Warm(testCtx(t), "tiny"); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if err := fams.Delete("tiny"); !manager.IsInUse(err) {
		t.Fatalf("expected in-use error, got %v", err)
	}
	if err := asr.Unload("tiny"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if err := fams.Delete("tiny"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := fams.Delete("tiny"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventsFromJournal(t *testing.T) {
	j, err := eventlog.Open(filepath.Join(t.TempDir(), "ev.db"), eventlog.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	asr, reg := newStubFamily(t, FamilyASR, types.TaskSpeechRecognition, time.Minute, j)
	install(t, reg.Dir(), "tiny", ".bin")
	fams := NewFromFamilies(j, zerolog.Nop(), asr)
	defer fams.Close()

	if _, err := asr.Warm(testCtx(t), "tiny"); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if err := j.Sync(testCtx(t)); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	evs, err := fams.Events(testCtx(t), 50)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range evs {
		if e.Family != FamilyASR || e.ModelID != "tiny" {
			t.Fatalf("unexpected event %+v", e)
		}
		seen[e.Name] = true
	}
	for _, name := range []string{manager.EventLoadStart, manager.EventLoadReady, manager.EventTimerArmed} {
		if !seen[name] {
			t.Fatalf("missing %s in %+v", name, evs)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	data := t.TempDir()
	fams, err := New(config.Config{DataDir: data}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer fams.Close()

	if fams.ASR == nil || fams.TTS == nil || len(fams.All()) != 2 {
		t.Fatalf("expected both families")
	}
	if _, err := os.Stat(filepath.Join(data, "events.db")); err != nil {
		t.Fatalf("expected journal db: %v", err)
	}
	remote := fams.ListRemote(types.TaskSpeechRecognition)
	if !hasModel(remote, "ggml-tiny") {
		t.Fatalf("expected built-in whisper catalog, got %d models", len(remote))
	}
	if !hasModel(fams.ListRemote(types.TaskTextToSpeech), "en_US-amy-medium") {
		t.Fatalf("expected built-in piper catalog")
	}
	engines := fams.Engines()
	if len(engines) != 2 || engines[0].Family != FamilyASR || engines[0].Bin != "whisper-server" || engines[1].Bin != "piper" {
		t.Fatalf("unexpected engines %+v", engines)
	}
	if stub := NewFromFamilies(nil, zerolog.Nop()); len(stub.Engines()) != 0 {
		t.Fatalf("expected no engines without New")
	}
	evs, err := fams.Events(testCtx(t), 10)
	if err != nil || len(evs) != 0 {
		t.Fatalf("expected empty journal, got %v %v", evs, err)
	}
}

func TestNewRejectsBadCatalog(t *testing.T) {
	data := t.TempDir()
	_, err := New(config.Config{DataDir: data, ASR: config.Family{Catalog: filepath.Join(data, "missing.yaml")}}, zerolog.Nop())
	if err == nil {
		t.Fatalf("expected catalog error")
	}
}

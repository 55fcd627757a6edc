package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/manager"
	"speechd/internal/registry"
	"speechd/internal/speech"
	"speechd/pkg/types"
)

type stubEngine struct{ closeErr error }

func (e *stubEngine) Close() error { return e.closeErr }

// testEnv is a two-family service over temp dirs with a local catalog server.
type testEnv struct {
	fams     *speech.Families
	tts      *manager.Manager[*stubEngine]
	asrDir   string
	ttsDir   string
	failLoad atomic.Bool
	closeErr atomic.Pointer[error]
}

func newTestEnv(t *testing.T, ttl time.Duration) *testEnv {
	t.Helper()
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.bin" {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("weights for " + r.URL.Path))
	}))
	t.Cleanup(files.Close)

	env := &testEnv{}
	build := func(name, task string, cat registry.Catalog) (*manager.Manager[*stubEngine], string) {
		dir := filepath.Join(t.TempDir(), name)
		reg, err := registry.NewDirRegistry(registry.Options{
			Family: name + "-engine", Task: task, Dir: dir, ModelExt: ".bin",
			Catalog: cat, Logger: zerolog.Nop(),
		})
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
		m, err := manager.NewWithConfig(manager.ManagerConfig[*stubEngine]{
			Family: name, TTL: ttl, Registry: reg, Logger: zerolog.Nop(),
			Loader: func(ctx context.Context, req manager.LoadRequest) (*stubEngine, error) {
				if env.failLoad.Load() {
					return nil, errors.New("engine exploded")
				}
				e := &stubEngine{}
				if p := env.closeErr.Load(); p != nil {
					e.closeErr = *p
				}
				return e, nil
			},
		})
		if err != nil {
			t.Fatalf("manager: %v", err)
		}
		return m, reg.Dir()
	}
	asr, asrDir := build(speech.FamilyASR, types.TaskSpeechRecognition, registry.Catalog{
		"ggml-tiny":   {ID: "ggml-tiny", Files: []registry.RemoteFile{{Name: "ggml-tiny.bin", URL: files.URL + "/ggml-tiny.bin"}}},
		"broken":      {ID: "broken", Files: []registry.RemoteFile{{Name: "broken.bin", URL: files.URL + "/broken.bin"}}},
		"Systran/fws": {ID: "Systran/fws", Files: []registry.RemoteFile{{Name: "model.bin", URL: files.URL + "/fws.bin"}}},
	})
	ttsMgr, ttsDir := build(speech.FamilyTTS, types.TaskTextToSpeech, registry.Catalog{
		"voice": {ID: "voice", Files: []registry.RemoteFile{{Name: "voice.bin", URL: files.URL + "/voice.bin"}}},
	})
	env.tts = ttsMgr
	env.fams = speech.NewFromFamilies(nil, zerolog.Nop(),
		speech.NewFamily(types.TaskSpeechRecognition, asr),
		speech.NewFamily(types.TaskTextToSpeech, ttsMgr),
	)
	env.asrDir, env.ttsDir = asrDir, ttsDir
	t.Cleanup(func() { _ = env.fams.Close() })
	return env
}

func (e *testEnv) install(t *testing.T, dir, id string) {
	t.Helper()
	d := filepath.Join(dir, id)
	if err := os.MkdirAll(d, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(d, "model.bin"), []byte("w"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func doReq(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// installVoice installs a tts model with a piper voice config next to it.
func (e *testEnv) installVoice(t *testing.T, id, cfgJSON string) {
	t.Helper()
	e.install(t, e.ttsDir, id)
	cfg := filepath.Join(e.ttsDir, id, "model.bin.json")
	if err := os.WriteFile(cfg, []byte(cfgJSON), 0o644); err != nil {
		t.Fatalf("write voice config: %v", err)
	}
}

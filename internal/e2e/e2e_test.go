package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/config"
	"speechd/internal/engine/piper"
	"speechd/internal/httpapi"
	"speechd/internal/manager"
	"speechd/internal/speech"
	"speechd/pkg/types"
)

// TestE2E_VoiceLifecycle downloads a voice from a catalog file, loads it over
// the admin API, synthesizes through the manager, lets the idle timer unload
// it and checks the journal recorded each step.
func TestE2E_VoiceLifecycle(t *testing.T) {
	bin := buildFakePiper(t)

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voices/e2e-voice.onnx":
			_, _ = w.Write([]byte("onnx weights"))
		case "/voices/e2e-voice.onnx.json":
			_, _ = w.Write([]byte(voiceJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer files.Close()

	data := t.TempDir()
	catalog := filepath.Join(data, "voices.yaml")
	yml := "models:\n" +
		"  - id: e2e-voice\n" +
		"    language: en_US\n" +
		"    files:\n" +
		"      - name: e2e-voice.onnx\n" +
		"        url: " + files.URL + "/voices/e2e-voice.onnx\n" +
		"      - name: e2e-voice.onnx.json\n" +
		"        url: " + files.URL + "/voices/e2e-voice.onnx.json\n"
	if err := os.WriteFile(catalog, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ttl := 1
	cfg := config.Config{
		DataDir: data,
		TTS:     config.Family{Bin: bin, Catalog: catalog, TTLSeconds: &ttl},
	}
	fams, err := speech.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	defer fams.Close()
	srv := httptest.NewServer(httpapi.NewMux(fams))
	defer srv.Close()

	remote := getJSON[types.ModelsResponse](t, srv.URL+"/v1/registry?task="+types.TaskTextToSpeech)
	found := false
	for _, m := range remote.Data {
		found = found || m.ID == "e2e-voice"
	}
	if !found {
		t.Fatalf("catalog voice not listed: %+v", remote.Data)
	}

	resp, body := request(t, http.MethodPost, srv.URL+"/v1/loaded/tts/e2e-voice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load: %d %s", resp.StatusCode, body)
	}

	err = fams.TTS.Use(context.Background(), "e2e-voice", func(v *piper.Voice) error {
		if v.SampleRate != 16000 || v.Language != "en_US" {
			t.Errorf("unexpected voice %+v", v)
		}
		out, err := v.Synthesize(context.Background(), "hello there", piper.SynthesizeOptions{})
		if err != nil {
			return err
		}
		if !strings.Contains(string(out), "--model") || !strings.HasSuffix(string(out), "|hello there") {
			t.Errorf("unexpected synth output %q", out)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}

	eventually(t, 5*time.Second, "idle unload", func() bool {
		return len(getJSON[types.LoadedResponse](t, srv.URL+"/v1/loaded").Models) == 0
	})

	want := []string{manager.EventDownloadDone, manager.EventLoadReady, manager.EventIdleExpired, manager.EventUnloadDone}
	eventually(t, 5*time.Second, "journal events", func() bool {
		evs := getJSON[types.EventsResponse](t, srv.URL+"/v1/events?limit=100")
		seen := map[string]bool{}
		for _, e := range evs.Events {
			if e.ModelID == "e2e-voice" && e.Family == speech.FamilyTTS {
				seen[e.Name] = true
			}
		}
		for _, n := range want {
			if !seen[n] {
				return false
			}
		}
		return true
	})

	local := getJSON[types.ModelsResponse](t, srv.URL+"/v1/models?task="+types.TaskTextToSpeech)
	if len(local.Data) != 1 || local.Data[0].ID != "e2e-voice" {
		t.Fatalf("unexpected local models %+v", local.Data)
	}
	if resp, body := request(t, http.MethodDelete, srv.URL+"/v1/models/e2e-voice"); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.StatusCode, body)
	}
}

// TestE2E_StatusWithoutEngines checks /status reports missing engine binaries
// without failing the request.
func TestE2E_StatusWithoutEngines(t *testing.T) {
	cfg := config.Config{
		DataDir: t.TempDir(),
		ASR:     config.Family{Bin: "definitely-not-a-whisper-server"},
		TTS:     config.Family{Bin: "definitely-not-piper"},
	}
	fams, err := speech.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	defer fams.Close()
	srv := httptest.NewServer(httpapi.NewMux(fams))
	defer srv.Close()

	st := getJSON[types.StatusResponse](t, srv.URL+"/status")
	if len(st.Engines) != 2 {
		t.Fatalf("expected 2 engine reports, got %+v", st.Engines)
	}
	for _, e := range st.Engines {
		if e.Found || e.Error == "" {
			t.Fatalf("expected missing engine, got %+v", e)
		}
	}
	if resp, _ := request(t, http.MethodGet, srv.URL+"/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

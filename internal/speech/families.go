// Package speech assembles the speech recognition and synthesis model
// families from configuration and exposes them to the HTTP and CLI layers.
package speech

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"speechd/internal/config"
	"speechd/internal/engine"
	"speechd/internal/engine/piper"
	"speechd/internal/engine/whisper"
	"speechd/internal/eventlog"
	"speechd/internal/manager"
	"speechd/internal/registry"
	"speechd/pkg/types"
)

// Families owns every model manager of the process plus the event journal.
type Families struct {
	ASR *manager.Manager[*whisper.Model]
	TTS *manager.Manager[*piper.Voice]

	journal *eventlog.Journal
	fams    []Family
	bins    map[string]string
	log     zerolog.Logger
}

// New builds the asr (whisper) and tts (piper) families from cfg. The event
// journal is opened when cfg.EventsDB is set.
func New(cfg config.Config, log zerolog.Logger) (*Families, error) {
	cfg = cfg.WithDefaults()
	f := &Families{log: log, bins: map[string]string{FamilyASR: cfg.ASR.Bin, FamilyTTS: cfg.TTS.Bin}}

	var pub manager.EventPublisher
	if cfg.EventsDB != "" {
		j, err := eventlog.Open(cfg.EventsDB, eventlog.Options{Logger: log})
		if err != nil {
			return nil, err
		}
		f.journal = j
		pub = j
	}

	asrReg, err := newRegistry(cfg.ASR, "whisper", types.TaskSpeechRecognition, ".bin", registry.WhisperCatalog(), log)
	if err != nil {
		f.closeJournal()
		return nil, err
	}
	f.ASR, err = manager.NewWithConfig(manager.ManagerConfig[*whisper.Model]{
		Family:    FamilyASR,
		TTL:       cfg.ASR.TTL(),
		Registry:  asrReg,
		Loader:    whisper.NewLoader(whisper.Config{Bin: cfg.ASR.Bin, Threads: cfg.ASR.Threads, Logger: log}),
		Providers: cfg.ASR.Providers,
		Logger:    log,
		Publisher: pub,
	})
	if err != nil {
		f.closeJournal()
		return nil, err
	}

	ttsReg, err := newRegistry(cfg.TTS, "piper", types.TaskTextToSpeech, ".onnx", registry.PiperCatalog(), log)
	if err != nil {
		f.closeJournal()
		return nil, err
	}
	f.TTS, err = manager.NewWithConfig(manager.ManagerConfig[*piper.Voice]{
		Family:    FamilyTTS,
		TTL:       cfg.TTS.TTL(),
		Registry:  ttsReg,
		Loader:    piper.NewLoader(piper.Config{Bin: cfg.TTS.Bin, Logger: log}),
		Providers: cfg.TTS.Providers,
		Logger:    log,
		Publisher: pub,
	})
	if err != nil {
		f.closeJournal()
		return nil, err
	}

	f.fams = []Family{
		NewFamily(types.TaskSpeechRecognition, f.ASR),
		NewFamily(types.TaskTextToSpeech, f.TTS),
	}
	return f, nil
}

func newRegistry(fc config.Family, engineName, task, ext string, builtin registry.Catalog, log zerolog.Logger) (*registry.DirRegistry, error) {
	cat := builtin
	if fc.Catalog != "" {
		extra, err := registry.LoadCatalog(fc.Catalog)
		if err != nil {
			return nil, fmt.Errorf("%s catalog: %w", engineName, err)
		}
		cat = registry.Merge(builtin, extra)
	}
	return registry.NewDirRegistry(registry.Options{
		Family:   engineName,
		Task:     task,
		Dir:      fc.ModelsDir,
		ModelExt: ext,
		Catalog:  cat,
		Logger:   log,
	})
}

// NewFromFamilies wires pre-built families; journal may be nil.
func NewFromFamilies(journal *eventlog.Journal, log zerolog.Logger, fams ...Family) *Families {
	return &Families{journal: journal, fams: fams, log: log}
}

// All returns every family in a stable order.
func (f *Families) All() []Family { return f.fams }

// Get returns the family called name.
func (f *Families) Get(name string) (Family, bool) {
	for _, fam := range f.fams {
		if fam.Name() == name {
			return fam, true
		}
	}
	return nil, false
}

// ListLocal lists installed models of every family, optionally filtered by task.
func (f *Families) ListLocal(task string) ([]types.Model, error) {
	var out []types.Model
	for _, fam := range f.fams {
		if task != "" && fam.Task() != task {
			continue
		}
		ms, err := fam.Registry().ListLocal()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fam.Name(), err)
		}
		out = append(out, ms...)
	}
	return out, nil
}

// ListRemote lists downloadable models of every family, optionally filtered by task.
func (f *Families) ListRemote(task string) []types.Model {
	var out []types.Model
	for _, fam := range f.fams {
		if task != "" && fam.Task() != task {
			continue
		}
		out = append(out, fam.Registry().ListRemote()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Task != out[j].Task {
			return out[i].Task < out[j].Task
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Download fetches id into the first family whose catalog knows it.
// It reports whether files were downloaded (false when already present).
func (f *Families) Download(ctx context.Context, id string) (bool, error) {
	for _, fam := range f.fams {
		if hasModel(fam.Registry().ListRemote(), id) {
			return fam.Registry().DownloadIfMissing(ctx, id)
		}
	}
	for _, fam := range f.fams {
		if _, err := fam.Registry().ResolveLocalFiles(id); err == nil {
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
}

// Delete removes the local files of id. Models with a manager entry are
// rejected with an in-use error.
func (f *Families) Delete(id string) error {
	for _, fam := range f.fams {
		if _, err := fam.Registry().ResolveLocalFiles(id); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			return err
		}
		if st, ok := fam.Stats(id); ok {
			return manager.ErrInUse(id, st.RefCount)
		}
		return fam.Registry().Delete(id)
	}
	return fmt.Errorf("%w: %s", registry.ErrNotFound, id)
}

// Model returns the installed model id, downloading it from the first
// catalog that knows it when it is not installed yet.
func (f *Families) Model(ctx context.Context, id string) (types.Model, error) {
	if m, ok, err := f.findLocal(id); ok || err != nil {
		return m, err
	}
	f.log.Info().Str("model", id).Msg("model not installed, downloading")
	if _, err := f.Download(ctx, id); err != nil {
		return types.Model{}, err
	}
	m, ok, err := f.findLocal(id)
	if err != nil {
		return types.Model{}, err
	}
	if !ok {
		return types.Model{}, fmt.Errorf("%w: %s missing after download", registry.ErrNotFound, id)
	}
	return m, nil
}

func (f *Families) findLocal(id string) (types.Model, bool, error) {
	ms, err := f.ListLocal("")
	if err != nil {
		return types.Model{}, false, err
	}
	i := slices.IndexFunc(ms, func(m types.Model) bool { return m.ID == id })
	if i < 0 {
		return types.Model{}, false, nil
	}
	return ms[i], true, nil
}

// AudioModels lists installed speech synthesis models.
func (f *Families) AudioModels() ([]types.Model, error) {
	return f.ListLocal(types.TaskTextToSpeech)
}

// Voices lists the voices of every installed synthesis model. Models whose
// voice config cannot be read are skipped.
func (f *Families) Voices() ([]types.Voice, error) {
	out := []types.Voice{}
	for _, fam := range f.fams {
		if fam.Task() != types.TaskTextToSpeech {
			continue
		}
		ms, err := fam.Registry().ListLocal()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fam.Name(), err)
		}
		for _, m := range ms {
			vs, err := voicesOf(fam.Registry(), m.ID)
			if err != nil {
				f.log.Warn().Err(err).Str("model", m.ID).Msg("skip voice")
				continue
			}
			out = append(out, vs...)
		}
	}
	return out, nil
}

func voicesOf(reg registry.Registry, id string) ([]types.Voice, error) {
	files, err := reg.ResolveLocalFiles(id)
	if err != nil {
		return nil, err
	}
	v, err := piper.ReadVoice(id, files)
	if err != nil {
		return nil, err
	}
	voice := types.Voice{ModelID: id, VoiceID: id, Language: v.Language, SampleRate: v.SampleRate, Quality: v.Quality}
	speakers := v.Speakers()
	if len(speakers) == 0 {
		return []types.Voice{voice}, nil
	}
	out := make([]types.Voice, 0, len(speakers))
	for _, name := range speakers {
		voice.VoiceID = name
		out = append(out, voice)
	}
	return out, nil
}

func hasModel(ms []types.Model, id string) bool {
	return slices.ContainsFunc(ms, func(m types.Model) bool { return m.ID == id })
}

// Engines checks the engine executable of every family built by New.
func (f *Families) Engines() []types.EngineStatus {
	var out []types.EngineStatus
	for _, fam := range f.fams {
		if bin, ok := f.bins[fam.Name()]; ok {
			out = append(out, engine.CheckBinary(fam.Name(), bin))
		}
	}
	return out
}

// Loaded returns every manager entry across families.
func (f *Families) Loaded() []types.LoadedModel {
	out := []types.LoadedModel{}
	for _, fam := range f.fams {
		out = append(out, fam.Loaded()...)
	}
	return out
}

// Events returns the most recent journal entries, newest first.
func (f *Families) Events(ctx context.Context, limit int) ([]types.EventRecord, error) {
	if f.journal == nil {
		return []types.EventRecord{}, nil
	}
	return f.journal.Recent(ctx, limit)
}

// Watch runs the models-dir watchers of every family until ctx is done.
func (f *Families) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, fam := range f.fams {
		dr, ok := fam.Registry().(*registry.DirRegistry)
		if !ok {
			continue
		}
		g.Go(func() error { return dr.Watch(ctx) })
	}
	return g.Wait()
}

// Close unloads every family and closes the journal last so the final
// unload events are recorded.
func (f *Families) Close() error {
	var errs []error
	for _, fam := range f.fams {
		if err := fam.Close(); err != nil {
			f.log.Warn().Err(err).Str("family", fam.Name()).Msg("close family")
			errs = append(errs, err)
		}
	}
	if f.journal != nil {
		if err := f.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Families) closeJournal() {
	if f.journal != nil {
		_ = f.journal.Close()
	}
}

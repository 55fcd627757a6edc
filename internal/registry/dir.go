package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"speechd/internal/common/fsutil"
	"speechd/pkg/types"
)

// Options configures a DirRegistry.
type Options struct {
	// Family is the engine family name (whisper, piper).
	Family string
	// Task is reported on listed models.
	Task string
	// Dir holds one sub-directory per installed model. '~' is expanded.
	Dir string
	// ModelExt is the extension of the primary weights file (".bin", ".onnx").
	ModelExt string
	Catalog  Catalog
	// Client is used for downloads; http.DefaultClient when nil.
	Client *http.Client
	Logger zerolog.Logger
}

// DirRegistry is a Registry over a local directory with a remote catalog.
type DirRegistry struct {
	family  string
	task    string
	dir     string
	ext     string
	catalog Catalog
	client  *http.Client
	log     zerolog.Logger

	downloads singleflight.Group

	mu      sync.Mutex
	cache   []types.Model
	cached  bool
	version uint64

	watchOnce sync.Once
	watching  chan struct{}
}

var _ Registry = (*DirRegistry)(nil)

// NewDirRegistry creates the models directory if needed.
func NewDirRegistry(opts Options) (*DirRegistry, error) {
	if opts.Family == "" {
		return nil, errors.New("registry: family is required")
	}
	if opts.ModelExt == "" {
		return nil, errors.New("registry: model extension is required")
	}
	base, err := fsutil.ExpandHome(opts.Dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	cat := opts.Catalog
	if cat == nil {
		cat = Catalog{}
	}
	return &DirRegistry{
		family:   opts.Family,
		task:     opts.Task,
		dir:      abs,
		ext:      strings.ToLower(opts.ModelExt),
		catalog:  cat,
		client:   client,
		log:      opts.Logger.With().Str("component", "registry").Str("family", opts.Family).Logger(),
		watching: make(chan struct{}),
	}, nil
}

// Dir returns the absolute models directory.
func (r *DirRegistry) Dir() string { return r.dir }

// Family returns the engine family name.
func (r *DirRegistry) Family() string { return r.family }

// ResolveLocalFiles returns the installed files of id.
func (r *DirRegistry) ResolveLocalFiles(id string) (Files, error) {
	rel, err := cleanID(id)
	if err != nil {
		return Files{}, err
	}
	dir := filepath.Join(r.dir, rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Files{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Files{}, fmt.Errorf("read model dir: %w", err)
	}
	f := Files{Dir: dir}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), r.ext) {
			f.Model = filepath.Join(dir, e.Name())
			break
		}
	}
	if f.Model == "" {
		return Files{}, fmt.Errorf("%w: %s has no %s file", ErrNotFound, id, r.ext)
	}
	if cfg := f.Model + ".json"; fsutil.PathExists(cfg) {
		f.Config = cfg
	}
	return f, nil
}

// ListLocal returns installed models sorted by id. The result is cached until
// the directory changes through this registry or the watcher sees a change.
func (r *DirRegistry) ListLocal() ([]types.Model, error) {
	r.mu.Lock()
	if r.cached {
		out := slices.Clone(r.cache)
		r.mu.Unlock()
		return out, nil
	}
	version := r.version
	r.mu.Unlock()

	models, err := r.scan()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.version == version {
		r.cache = models
		r.cached = true
	}
	r.mu.Unlock()
	return slices.Clone(models), nil
}

func (r *DirRegistry) scan() ([]types.Model, error) {
	seen := map[string]bool{}
	var models []types.Model
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(strings.ToLower(d.Name()), r.ext) {
			return nil
		}
		dir := filepath.Dir(path)
		if dir == r.dir {
			return nil
		}
		rel, err := filepath.Rel(r.dir, dir)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if seen[id] {
			return nil
		}
		seen[id] = true
		size, err := fsutil.Size(dir)
		if err != nil {
			return err
		}
		models = append(models, types.Model{
			ID:        id,
			Task:      r.task,
			Family:    r.family,
			Path:      path,
			SizeBytes: size,
			Size:      humanize.Bytes(size),
			Language:  r.catalog[id].Language,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan models dir: %w", err)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// ListRemote returns the catalog entries sorted by id.
func (r *DirRegistry) ListRemote() []types.Model {
	out := make([]types.Model, 0, len(r.catalog))
	for _, id := range r.catalog.IDs() {
		e := r.catalog[id]
		out = append(out, types.Model{
			ID:       id,
			Task:     r.task,
			Family:   r.family,
			Size:     e.Size,
			Language: e.Language,
		})
	}
	return out
}

// Delete removes the installed files of id.
func (r *DirRegistry) Delete(id string) error {
	rel, err := cleanID(id)
	if err != nil {
		return err
	}
	dir := filepath.Join(r.dir, rel)
	if !fsutil.PathExists(dir) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	// drop now-empty parents of nested ids
	for parent := filepath.Dir(dir); parent != r.dir && strings.HasPrefix(parent, r.dir); parent = filepath.Dir(parent) {
		if err := os.Remove(parent); err != nil {
			break
		}
	}
	r.invalidate()
	r.log.Info().Str("model", id).Msg("model deleted")
	return nil
}

func (r *DirRegistry) invalidate() {
	r.mu.Lock()
	r.cached = false
	r.cache = nil
	r.version++
	r.mu.Unlock()
}

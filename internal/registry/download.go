package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"

	"speechd/internal/common/fsutil"
)

// DownloadIfMissing fetches id from the catalog unless it is installed.
// Concurrent calls for the same id share one download.
func (r *DirRegistry) DownloadIfMissing(ctx context.Context, id string) (bool, error) {
	if _, err := r.ResolveLocalFiles(id); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	entry, ok := r.catalog[id]
	if !ok {
		return false, fmt.Errorf("%w: %s is not in the %s catalog", ErrNotFound, id, r.family)
	}
	v, err, _ := r.downloads.Do(id, func() (any, error) {
		if _, err := r.ResolveLocalFiles(id); err == nil {
			return false, nil
		}
		if err := r.download(ctx, entry); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

type partFile struct {
	tmp string
	dst string
}

func (r *DirRegistry) download(ctx context.Context, e Entry) error {
	rel, err := cleanID(e.ID)
	if err != nil {
		return err
	}
	dir := filepath.Join(r.dir, rel)
	created := !fsutil.PathExists(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create model dir: %w", ErrDownload, err)
	}
	log := r.log.With().Str("model", e.ID).Logger()
	log.Info().Int("files", len(e.Files)).Msg("downloading model")

	start := time.Now()
	var parts []partFile
	cleanup := func() {
		for _, p := range parts {
			_ = os.Remove(p.tmp)
		}
		if created {
			_ = os.RemoveAll(dir)
		}
	}
	var total uint64
	for _, f := range e.Files {
		name := filepath.Base(f.Name)
		if name != f.Name || name == "." || name == ".." {
			cleanup()
			return fmt.Errorf("%w: bad file name %q", ErrDownload, f.Name)
		}
		p := partFile{
			dst: filepath.Join(dir, name),
			tmp: filepath.Join(dir, name+"."+xid.New().String()+".part"),
		}
		parts = append(parts, p)
		n, err := r.fetch(ctx, f.URL, p.tmp)
		if err != nil {
			cleanup()
			log.Error().Err(err).Str("url", f.URL).Msg("download failed")
			return fmt.Errorf("%w: %s: %w", ErrDownload, name, err)
		}
		log.Debug().Str("file", name).Str("size", humanize.Bytes(n)).Msg("file fetched")
		total += n
	}

	// the weights file goes last so a resolvable model always has its sidecars
	sort.SliceStable(parts, func(i, j int) bool {
		return !r.isModelFile(parts[i].dst) && r.isModelFile(parts[j].dst)
	})
	for _, p := range parts {
		if err := os.Rename(p.tmp, p.dst); err != nil {
			cleanup()
			return fmt.Errorf("%w: install %s: %w", ErrDownload, filepath.Base(p.dst), err)
		}
	}
	r.invalidate()
	log.Info().Str("size", humanize.Bytes(total)).Dur("took", time.Since(start)).Msg("model downloaded")
	return nil
}

func (r *DirRegistry) isModelFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), r.ext)
}

func (r *DirRegistry) fetch(ctx context.Context, url, dst string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return uint64(n), err
}

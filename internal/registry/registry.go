// Package registry resolves speech model ids to files on disk and fetches
// missing models from a catalog of download URLs.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"speechd/pkg/types"
)

// Registry is the per-family model registry consumed by the manager and the
// admin API.
type Registry interface {
	// ResolveLocalFiles returns the installed files of id, or ErrNotFound.
	ResolveLocalFiles(id string) (Files, error)
	// DownloadIfMissing fetches id from the catalog unless it is already
	// installed. It reports whether a download actually happened.
	DownloadIfMissing(ctx context.Context, id string) (bool, error)
	ListLocal() ([]types.Model, error)
	ListRemote() []types.Model
	// Delete removes the installed files of id, or returns ErrNotFound.
	Delete(id string) error
}

// Files are the resolved local files of one model.
type Files struct {
	// Dir is the model directory.
	Dir string
	// Model is the primary weights file.
	Model string
	// Config is an optional sidecar config (<model>.json); empty when absent.
	Config string
}

// cleanID maps a model id to a relative directory. Ids may contain '/'
// (e.g. "Systran/faster-whisper-small") but never escape the models dir.
func cleanID(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.HasPrefix(id, "/") || strings.Contains(id, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return filepath.FromSlash(id), nil
}

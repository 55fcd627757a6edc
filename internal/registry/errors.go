package registry

import "errors"

// Sentinel errors for registry operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNotFound indicates the model is not installed locally, or is not
	// known to the catalog when returned from a download.
	ErrNotFound = errors.New("registry: model not found")

	// ErrDownload indicates fetching model files from the catalog failed.
	ErrDownload = errors.New("registry: download failed")

	// ErrInvalidID indicates a model id that cannot be mapped to a directory.
	ErrInvalidID = errors.New("registry: invalid model id")
)

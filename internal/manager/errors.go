package manager

import (
	"errors"
	"strconv"
)

// ErrUnloaded is returned by Acquire on a wrapper whose instance was unloaded.
// The wrapper has left the manager; LoadModel returns a fresh one.
var ErrUnloaded = errors.New("manager: model was unloaded")

// ErrManagerClosed is returned by LoadModel after Close.
var ErrManagerClosed = errors.New("manager: closed")

// modelNotFoundError is returned when an id has no entry in the manager.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for an id with no current entry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// inUseError rejects an unload while handles are outstanding (409 mapping).
type inUseError struct {
	id   string
	refs int
}

func (e inUseError) Error() string {
	return "model in use: " + e.id + " (" + strconv.Itoa(e.refs) + " active)"
}

// ErrInUse constructs an inUseError.
func ErrInUse(id string, refs int) error { return inUseError{id: id, refs: refs} }

// IsInUse reports whether err rejected an unload of a model in use.
func IsInUse(err error) bool {
	var e inUseError
	return errors.As(err, &e)
}

// downloadError wraps a registry failure to materialize model files.
type downloadError struct {
	id  string
	err error
}

func (e downloadError) Error() string { return "download " + e.id + ": " + e.err.Error() }
func (e downloadError) Unwrap() error { return e.err }

// ErrDownloadFailure constructs a downloadError wrapping cause.
func ErrDownloadFailure(id string, cause error) error { return downloadError{id: id, err: cause} }

// IsDownloadFailure reports whether LoadModel failed to obtain model files.
func IsDownloadFailure(err error) bool {
	var e downloadError
	return errors.As(err, &e)
}

// loadError wraps a failing engine load. The wrapper stays retryable.
type loadError struct {
	id  string
	err error
}

func (e loadError) Error() string { return "load " + e.id + ": " + e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

// ErrLoadFailure constructs a loadError wrapping cause.
func ErrLoadFailure(id string, cause error) error { return loadError{id: id, err: cause} }

// IsLoadFailure reports whether the engine failed to construct the model.
func IsLoadFailure(err error) bool {
	var e loadError
	return errors.As(err, &e)
}

// disposeError reports a failing Close. Cleanup has completed regardless.
type disposeError struct {
	id  string
	err error
}

func (e disposeError) Error() string { return "dispose " + e.id + ": " + e.err.Error() }
func (e disposeError) Unwrap() error { return e.err }

// ErrDisposeFailure constructs a disposeError wrapping cause.
func ErrDisposeFailure(id string, cause error) error { return disposeError{id: id, err: cause} }

// IsDisposeFailure reports whether an unload completed with a failing Close.
func IsDisposeFailure(err error) bool {
	var e disposeError
	return errors.As(err, &e)
}

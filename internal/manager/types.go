package manager

import (
	"context"
	"time"

	"speechd/internal/engine"
	"speechd/internal/registry"
)

// Disposer is the engine contract: Close releases native/engine resources
// held by a loaded model.
type Disposer interface {
	Close() error
}

// LoadFunc constructs the instance held by a SelfDisposingModel.
type LoadFunc[T Disposer] func(ctx context.Context) (T, error)

// LoadRequest carries everything an engine needs to construct a model.
type LoadRequest struct {
	ModelID   string
	Files     registry.Files
	Providers engine.ProviderOptions
}

// Loader is the family-specific construction step. It must not retain req.
type Loader[T Disposer] func(ctx context.Context, req LoadRequest) (T, error)

// ModelStats is a point-in-time view of one wrapper.
type ModelStats struct {
	ID       string
	Loaded   bool
	// Loading is set while the first Acquire is constructing the instance.
	Loading  bool
	Refs     int
	TTL      time.Duration
	LoadedAt time.Time
	// IdleSince is the last release that dropped refs to zero; zero while in use.
	IdleSince time.Time
	// ExpiresAt is when the armed idle timer fires; zero when none is armed.
	ExpiresAt time.Time
}

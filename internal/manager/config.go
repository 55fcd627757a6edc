package manager

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"speechd/internal/engine"
	"speechd/internal/registry"
)

// NeverExpire disables idle unloading when used as a TTL.
const NeverExpire time.Duration = -1

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig[T Disposer] struct {
	// Family names the model family (e.g. "asr", "tts") in logs, metrics and events.
	Family string
	// TTL is the idle time before a loaded model is unloaded. Negative
	// values never expire; zero unloads as soon as the last handle is released.
	TTL       time.Duration
	Registry  registry.Registry
	Loader    Loader[T]
	Providers engine.ProviderOptions
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig[T Disposer](cfg ManagerConfig[T]) (*Manager[T], error) {
	if cfg.Registry == nil {
		return nil, errors.New("manager: registry is required")
	}
	if cfg.Loader == nil {
		return nil, errors.New("manager: loader is required")
	}
	if cfg.Family == "" {
		cfg.Family = "default"
	}
	log := cfg.Logger.With().Str("component", "manager").Str("family", cfg.Family).Logger()
	return &Manager[T]{
		family:    cfg.Family,
		ttl:       cfg.TTL,
		registry:  cfg.Registry,
		loader:    cfg.Loader,
		providers: cfg.Providers,
		obs:       newObserver(cfg.Family, log, cfg.Publisher),
		loaded:    make(map[string]*SelfDisposingModel[T]),
	}, nil
}

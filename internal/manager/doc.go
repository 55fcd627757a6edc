// Package manager provides on-demand loading and idle eviction of speech
// model instances. It is structured into small files by concern:
//
//   - selfdisposing.go: SelfDisposingModel, a ref-counted wrapper around one
//     lazily loaded instance with an idle timer.
//   - manager.go: Manager, one per model family, mapping ids to wrappers,
//     downloading missing files through the family registry.
//   - config.go: ManagerConfig; NewWithConfig applies defaults.
//   - types.go: Disposer, LoadRequest, Loader and ModelStats.
//   - errors.go: error types and helpers (IsModelNotFound, IsInUse, ...).
//   - events.go, eventpub_memory.go: lifecycle events and publishers.
//   - metrics.go: Prometheus collectors.
//
// Lock order is manager before wrapper. Neither lock is held while the
// unload callback runs. The wrapper lock is held for the
// duration of the first load, so concurrent acquirers wait for it.
//
// Engines returned by Acquire are used outside any lock; engines must be
// safe for concurrent use or serialize internally.
package manager

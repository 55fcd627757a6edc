package types

// ModelsResponse wraps a list of models returned by GET /v1/models and GET /v1/registry.
type ModelsResponse struct {
	// List of models.
	Data []Model `json:"data"`
	// Always "list".
	Object string `json:"object" example:"list"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: ggml-tiny
	Error string `json:"error" example:"model not found: ggml-tiny"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// DetailResponse carries a short human readable outcome.
type DetailResponse struct {
	// example: Model 'ggml-base.en' downloaded
	Detail string `json:"detail" example:"Model 'ggml-base.en' downloaded"`
}

// LoadedModel summarizes one entry of a model manager.
type LoadedModel struct {
	// Model family (asr, tts).
	// example: asr
	Family string `json:"family" example:"asr"`
	// ID of the model.
	// example: ggml-base.en
	ModelID string `json:"model_id" example:"ggml-base.en"`
	// Whether the underlying instance is currently in memory.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Whether the first load is in progress.
	Loading bool `json:"loading,omitempty"`
	// Number of callers currently holding the model.
	// example: 0
	RefCount int `json:"ref_count" example:"0"`
	// When the instance was loaded (unix seconds, 0 when not loaded).
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix,omitempty" example:"1700000000"`
	// When the last holder released the model (unix seconds).
	// example: 1700000100
	IdleSince int64 `json:"idle_since_unix,omitempty" example:"1700000100"`
	// When the idle timer fires (unix seconds, 0 when no timer is armed).
	// example: 1700000400
	ExpiresAt int64 `json:"expires_at_unix,omitempty" example:"1700000400"`
	// Idle TTL in seconds, negative when the model never expires.
	// example: 300
	TTLSeconds int64 `json:"ttl_seconds" example:"300"`
}

// LoadedResponse is returned by GET /v1/loaded.
type LoadedResponse struct {
	Models []LoadedModel `json:"models"`
}

// MemoryStatus reports host and process memory.
type MemoryStatus struct {
	// example: 16384
	TotalMB uint64 `json:"total_mb" example:"16384"`
	// example: 8192
	UsedMB uint64 `json:"used_mb" example:"8192"`
	// example: 50.0
	UsedPercent float64 `json:"used_percent" example:"50.0"`
	// Resident set size of the daemon itself.
	// example: 512
	ProcessRSSMB uint64 `json:"process_rss_mb" example:"512"`
}

// EngineStatus reports whether a family's engine executable is usable.
type EngineStatus struct {
	// example: asr
	Family string `json:"family" example:"asr"`
	// example: whisper-server
	Bin string `json:"bin" example:"whisper-server"`
	// example: true
	Found bool `json:"found" example:"true"`
	// example: /usr/local/bin/whisper-server
	Path string `json:"path,omitempty" example:"/usr/local/bin/whisper-server"`
	// Compute providers discovered on this host.
	Providers []string `json:"providers,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded and loading models across all families.
	Models []LoadedModel `json:"models"`
	// Engine executables, one per family.
	Engines []EngineStatus `json:"engines,omitempty"`
	// Host memory snapshot; omitted when unavailable.
	Memory *MemoryStatus `json:"memory,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Optional error while collecting status.
	Error string `json:"error,omitempty"`
}

// EventRecord is a persisted lifecycle event.
type EventRecord struct {
	// example: cn0v5h2l0s7g00a9m1lg
	ID string `json:"id" example:"cn0v5h2l0s7g00a9m1lg"`
	// example: 1700000000
	TimeUnix int64 `json:"time_unix" example:"1700000000"`
	// example: asr
	Family string `json:"family" example:"asr"`
	// example: unload_done
	Name string `json:"name" example:"unload_done"`
	// example: ggml-base.en
	ModelID string `json:"model_id" example:"ggml-base.en"`
	// Extra key/values attached to the event.
	Fields map[string]any `json:"fields,omitempty"`
}

// EventsResponse is returned by GET /v1/events.
type EventsResponse struct {
	Events []EventRecord `json:"events"`
}

// AudioModelsResponse is returned by GET /v1/audio/models.
type AudioModelsResponse struct {
	// Installed speech synthesis models.
	Models []Model `json:"models"`
	// Always "list".
	Object string `json:"object" example:"list"`
}

// Voice is one selectable voice of an installed synthesis model. A
// multi-speaker model contributes one voice per speaker.
type Voice struct {
	// example: en_US-libritts-high
	ModelID string `json:"model_id" example:"en_US-libritts-high"`
	// Speaker name, or the model id for single-speaker models.
	// example: p3922
	VoiceID string `json:"voice_id" example:"p3922"`
	// example: en_US
	Language string `json:"language,omitempty" example:"en_US"`
	// example: 22050
	SampleRate int `json:"sample_rate" example:"22050"`
	// example: high
	Quality string `json:"quality,omitempty" example:"high"`
}

// VoicesResponse is returned by GET /v1/audio/voices.
type VoicesResponse struct {
	Voices []Voice `json:"voices"`
	// Always "list".
	Object string `json:"object" example:"list"`
}

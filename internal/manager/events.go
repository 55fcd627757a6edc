package manager

import "github.com/rs/zerolog"

// Lifecycle event names.
const (
	EventLoadStart      = "load_start"
	EventLoadReady      = "load_ready"
	EventLoadFailed     = "load_failed"
	EventDownloadStart  = "download_start"
	EventDownloadDone   = "download_done"
	EventDownloadFailed = "download_failed"
	EventUnloadStart    = "unload_start"
	EventUnloadDone     = "unload_done"
	EventUnloadRejected = "unload_rejected"
	EventTimerArmed     = "idle_timer_armed"
	EventIdleExpired    = "idle_expired"
	EventDisposeFailed  = "dispose_failed"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + family + model ID and optional fields via key/values.
type Event struct {
	Name    string
	Family  string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic. Load events are
// published while the loading wrapper is locked; no other event is.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// observer carries the per-family logging and event plumbing shared by a
// manager and its wrappers.
type observer struct {
	family string
	log    zerolog.Logger
	pub    EventPublisher
}

func newObserver(family string, log zerolog.Logger, pub EventPublisher) observer {
	if pub == nil {
		pub = noopPublisher{}
	}
	return observer{family: family, log: log, pub: pub}
}

func (o observer) publish(name, id string, fields map[string]any) {
	o.log.Debug().Str("event", name).Str("model", id).Fields(fields).Msg("model event")
	o.pub.Publish(Event{Name: name, Family: o.family, ModelID: id, Fields: fields})
}

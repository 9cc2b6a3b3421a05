package engine

// Event names published by the engine.
const (
	EventSetupStart    = "setup_start"
	EventSetupDone     = "setup_done"
	EventPredictStart  = "predict_start"
	EventPredictDone   = "predict_done"
	EventNSFWFiltered  = "nsfw_filtered"
	EventPredictFailed = "predict_failed"
)

// Event represents an engine lifecycle event.
type Event struct {
	Name      string
	RequestID string
	Fields    map[string]any
}

// EventPublisher receives events from the engine. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

package events

// Event represents a structured state change emitted by the vault or the
// session engine after the corresponding mutation has committed.
type Event interface {
	EventType() string
	// Attributes returns the flattened string representation used by
	// downstream consumers (gateway stream, session mirror).
	Attributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. the gateway stream
// or the session mirror).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose caller does not care about notifications.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

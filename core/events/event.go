package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (fn EmitterFunc) Emit(evt Event) {
	if fn == nil {
		return
	}
	fn(evt)
}

// MultiEmitter fans a single emission out to every registered sink in order.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter builds a fan-out emitter over the supplied sinks; nil
// entries are skipped.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Attach registers an additional sink.
func (m *MultiEmitter) Attach(sink Emitter) {
	if m == nil || sink == nil {
		return
	}
	m.sinks = append(m.sinks, sink)
}

// Emit implements the Emitter interface.
func (m *MultiEmitter) Emit(evt Event) {
	if m == nil {
		return
	}
	for _, sink := range m.sinks {
		sink.Emit(evt)
	}
}

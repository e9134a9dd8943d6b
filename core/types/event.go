package types

// Event represents a typed event emitted during ledger state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute or an empty string when unset.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Clone returns a deep copy so emitters can hand events to sinks that retain
// them beyond the transition.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	copied := &Event{Type: e.Type}
	if e.Attributes != nil {
		copied.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			copied.Attributes[k] = v
		}
	}
	return copied
}

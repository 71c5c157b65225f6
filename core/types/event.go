package types

// Event represents a typed notification emitted by a ledger or coordinator
// state change. Attribute values are always rendered as strings so the event
// can be journaled and streamed without knowledge of the originating module.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute stored under key or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

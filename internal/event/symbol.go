package event

import "encoding/json"

// Symbol extracts the payload's `symbol` field, if present. Shared by
// the store (to compute domain keys) and the transport (to track a
// subscription's observed sequence cursor) without either package
// depending on the other, per spec.md §9's no-cross-reference design
// note.
func Symbol(e Event) string {
	var p symbolPayload
	_ = json.Unmarshal(e.Payload, &p)
	return p.Symbol
}

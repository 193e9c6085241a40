// Package event defines the wire-level event envelope ingested by the
// state store, and the domain-key partitioning rule of spec.md §4.2.3.
package event

import (
	"encoding/json"
	"fmt"

	"tradecore/internal/seqnum"
)

// Kind discriminates snapshot vs. delta events per spec.md §3.1.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDelta    Kind = "delta"
)

// Channel names the class of stream an event belongs to (spec.md Glossary).
type Channel string

const (
	ChannelMarketData Channel = "market_data"
	ChannelAccount    Channel = "account"
	ChannelTrades     Channel = "trades"
)

// Event is the canonical, parsed form of a non-control server frame.
//
// spec.md §9's Open Question: the wire protocol sometimes frames a
// snapshot as a top-level `type:"snapshot"` object, while the base-event
// form discriminates via `event_type` inside the envelope. This package
// treats the base-event form as canonical; ParseEvent coerces a
// top-level `type` into EventType when `event_type` is absent.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType Kind            `json:"event_type"`
	Source    Channel         `json:"source"`
	Sequence  seqnum.Seq      `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// wireEvent mirrors Event's JSON shape but also accepts the legacy
// top-level `type` field so coercion can happen in one place.
type wireEvent struct {
	EventID   string          `json:"event_id"`
	EventType Kind            `json:"event_type"`
	Type      Kind            `json:"type"`
	Source    Channel         `json:"source"`
	Sequence  seqnum.Seq      `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ParseEvent decodes a data-event frame, applying the event_type/type
// coercion described above. It returns an error for malformed frames;
// callers at the transport boundary are expected to drop, not propagate,
// such errors (spec.md §4.1.6: "malformed frames ... must not crash the
// client").
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("event: unmarshal: %w", err)
	}

	kind := w.EventType
	if kind == "" {
		kind = w.Type
	}
	if kind != KindSnapshot && kind != KindDelta {
		return Event{}, fmt.Errorf("event: unrecognized event_type %q", kind)
	}
	if w.EventID == "" {
		return Event{}, fmt.Errorf("event: missing event_id")
	}

	return Event{
		EventID:   w.EventID,
		EventType: kind,
		Source:    w.Source,
		Sequence:  w.Sequence,
		Timestamp: w.Timestamp,
		Payload:   w.Payload,
		Metadata:  w.Metadata,
	}, nil
}

// IsDataFrame reports whether a raw frame looks like a data event rather
// than a control frame, per spec.md §4.1.6: "Any frame carrying event_id
// and sequence fields is treated as a data event."
func IsDataFrame(data []byte) bool {
	var probe struct {
		EventID  *string `json:"event_id"`
		Sequence *string `json:"sequence"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.EventID != nil && probe.Sequence != nil
}

// symbolPayload extracts the `symbol` field some payloads carry, used
// only to compute a domain key.
type symbolPayload struct {
	Symbol string `json:"symbol"`
}

// DomainKey computes the partition key of spec.md §4.2.3: "<channel>::<symbol>"
// for market_data/trades events whose payload carries a symbol, or plain
// "account" for account events.
func DomainKey(e Event) string {
	if e.Source == ChannelAccount {
		return "account"
	}
	var p symbolPayload
	_ = json.Unmarshal(e.Payload, &p)
	return string(e.Source) + "::" + p.Symbol
}

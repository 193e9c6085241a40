package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseEvent_CoercesTopLevelTypeToEventType pins spec.md §9's Open
// Question: a frame framing its kind as a top-level `type` field (rather
// than the base event's `event_type`) still parses with EventType set,
// per the base-event form being treated as canonical.
func TestParseEvent_CoercesTopLevelTypeToEventType(t *testing.T) {
	data := []byte(`{
		"event_id": "e1",
		"type": "snapshot",
		"source": "market_data",
		"sequence": "100",
		"timestamp": "2026-08-06T00:00:00Z",
		"payload": {"symbol": "BTC_USD", "bids": [], "asks": []}
	}`)

	ev, err := ParseEvent(data)
	require.NoError(t, err)
	require.Equal(t, KindSnapshot, ev.EventType)
	require.Equal(t, ChannelMarketData, ev.Source)
	require.Equal(t, "100", ev.Sequence.String())
}

// TestParseEvent_EventTypeTakesPrecedenceOverType confirms the base-event
// form wins when both fields are present.
func TestParseEvent_EventTypeTakesPrecedenceOverType(t *testing.T) {
	data := []byte(`{
		"event_id": "e2",
		"event_type": "delta",
		"type": "snapshot",
		"source": "market_data",
		"sequence": "101",
		"payload": {"symbol": "BTC_USD"}
	}`)

	ev, err := ParseEvent(data)
	require.NoError(t, err)
	require.Equal(t, KindDelta, ev.EventType)
}

// TestParseEvent_RejectsUnrecognizedEventType guards the error path: a
// frame whose kind is neither snapshot nor delta is rejected rather than
// silently accepted.
func TestParseEvent_RejectsUnrecognizedEventType(t *testing.T) {
	data := []byte(`{"event_id": "e3", "type": "heartbeat", "source": "market_data", "sequence": "1", "payload": {}}`)

	_, err := ParseEvent(data)
	require.Error(t, err)
}

// TestParseEvent_TickerPayloadUsesVolume24hFieldName pins spec.md §9's
// other Open Question: the ticker volume field is named volume_24h on
// the wire, not volume or vol24h.
func TestParseEvent_TickerPayloadUsesVolume24hFieldName(t *testing.T) {
	data := []byte(`{
		"event_id": "e4",
		"event_type": "delta",
		"source": "market_data",
		"sequence": "5",
		"payload": {"symbol": "BTC_USD", "last_price": "50000", "volume_24h": "123.5"}
	}`)

	ev, err := ParseEvent(data)
	require.NoError(t, err)

	var payload TickerDeltaPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, "BTC_USD", payload.Symbol)
	require.NotNil(t, payload.LastPrice)
	require.Equal(t, "50000", *payload.LastPrice)
	require.NotNil(t, payload.Volume24h)
	require.Equal(t, "123.5", *payload.Volume24h)
}

func TestIsDataFrame(t *testing.T) {
	require.True(t, IsDataFrame([]byte(`{"event_id":"e1","sequence":"1"}`)))
	require.False(t, IsDataFrame([]byte(`{"type":"ping"}`)))
	require.False(t, IsDataFrame([]byte(`not json`)))
}

func TestDomainKey(t *testing.T) {
	marketEv := Event{Source: ChannelMarketData, Payload: []byte(`{"symbol":"BTC_USD"}`)}
	require.Equal(t, "market_data::BTC_USD", DomainKey(marketEv))

	accountEv := Event{Source: ChannelAccount, Payload: []byte(`{}`)}
	require.Equal(t, "account", DomainKey(accountEv))
}

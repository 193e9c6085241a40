package transport

import (
	"sort"
	"strings"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// subscriptionKey computes the deterministic key of spec.md §3.5:
// channel name together with canonically-sorted parameter pairs.
func subscriptionKey(channel string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(channel)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

// pendingSubscribe tracks every in-flight Subscribe call awaiting the
// server's acknowledgement for one key, per spec.md §4.1.1. Concurrent
// callers subscribing to the same (channel, params) before the ack
// arrives all wait on the same key; each gets its own done channel so
// one caller's context cancellation never affects another's.
type pendingSubscribe struct {
	channel string
	params  map[string]string
	waiters []chan error
}

// subscription is a registry entry: the channel/params pair and the
// highest sequence observed or acknowledged on that stream, per
// spec.md §3.5.
type subscription struct {
	channel string
	params  map[string]string
	lastSeq seqnum.Seq
}

// subscriptionKeyForEvent derives the registry key an incoming event
// belongs to, so the client can track each active subscription's
// highest observed sequence for the reconnect replay of spec.md §4.1.5.
func subscriptionKeyForEvent(ev event.Event) string {
	if ev.Source == event.ChannelAccount {
		return subscriptionKey(string(ev.Source), map[string]string{})
	}
	return subscriptionKey(string(ev.Source), map[string]string{"symbol": event.Symbol(ev)})
}

func cloneParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

package transport

import (
	"errors"
	"fmt"
)

// errNotConnected is returned when a caller subscribes or requests a
// replay while the socket is down. The request is not queued: a
// Subscribe that fails this way is not added to the subscription
// registry, so the reconnect loop does not re-subscribe it.
var errNotConnected = errors.New("transport: not connected")

// TransportError covers socket-open failures, unexpected closes, and
// malformed frames, per spec.md §7. It is a struct (not a bare
// errors.New string) so callers can branch on Op, the way the teacher's
// binance.HTTPError carries structured fields instead of a flat message.
type TransportError struct {
	Op  string // "connect" | "read" | "write" | "parse"
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s failed", e.Op)
	}
	return fmt.Sprintf("transport: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubscribeError rejects an outstanding Subscribe call when a server
// error frame tied to a subscribe/snapshot_since attempt (INVALID_CHANNEL,
// SEQ_TOO_OLD) is attributed to it, per spec.md §7. The wire protocol's
// error frame carries no channel/params of its own, so Channel/Params
// here are filled in from the pending subscribe it is attributed to,
// not parsed off the frame.
type SubscribeError struct {
	Channel string
	Params  map[string]string
	Code    string
	Message string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("transport: subscribe %s %v failed: %s (%s)", e.Channel, e.Params, e.Message, e.Code)
}

// serverError wraps a connection-level server error frame: a
// non-subscribe-correlated code (RATE_LIMIT_EXCEEDED, AUTH_FAILED,
// INVALID_ACTION) always, or a subscribe-correlated one with no
// outstanding subscribe to attribute it to. Surfaced only via OnError.
type serverError struct {
	code    string
	message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

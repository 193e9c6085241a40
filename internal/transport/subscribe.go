package transport

import (
	"context"

	"tradecore/internal/seqnum"
)

// Subscribe sends a subscribe frame and waits for the server's
// subscribed acknowledgement for exactly this (channel, params) pair.
// Idempotent: a second Subscribe for an already-active key resolves
// immediately without sending another frame.
func (c *Client) Subscribe(ctx context.Context, channel string, params map[string]string) error {
	key := subscriptionKey(channel, params)

	c.mu.Lock()
	if _, active := c.subs[key]; active {
		c.mu.Unlock()
		return nil
	}

	p, alreadyPending := c.pending[key]
	if !alreadyPending {
		p = &pendingSubscribe{channel: channel, params: cloneParams(params)}
		c.pending[key] = p
	}
	done := make(chan error, 1)
	p.waiters = append(p.waiters, done)
	conn := c.conn
	c.mu.Unlock()

	if !alreadyPending {
		if conn == nil {
			c.failPending(key, errNotConnected)
		} else if err := c.writeJSON(conn, subscribeFrame{Action: "subscribe", Channel: channel, Params: cloneParams(params)}); err != nil {
			c.failPending(key, err)
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) failPending(key string, err error) {
	c.mu.Lock()
	p := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if p == nil {
		return
	}
	for _, w := range p.waiters {
		w <- &TransportError{Op: "subscribe", Err: err}
	}
}

// Unsubscribe sends an unsubscribe frame and removes local subscription
// state unconditionally. It is fire-and-forget.
func (c *Client) Unsubscribe(channel string, params map[string]string) {
	key := subscriptionKey(channel, params)

	c.mu.Lock()
	delete(c.subs, key)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = c.writeJSON(conn, subscribeFrame{Action: "unsubscribe", Channel: channel, Params: cloneParams(params)})
}

// SnapshotSince issues an explicit replay request for a stream,
// independent of the automatic reconnect resubscribe flow. The host's
// session controller calls this in response to the store's
// onRequestSnapshot callback, per spec.md §6.2.
func (c *Client) SnapshotSince(channel string, params map[string]string, sinceSeq seqnum.Seq) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &TransportError{Op: "snapshot_since", Err: errNotConnected}
	}
	frame := snapshotSinceFrame{Action: "snapshot_since", Channel: channel, Params: cloneParams(params), LastSeq: sinceSeq.String()}
	return c.writeJSON(conn, frame)
}

// Package transport implements the reconnecting websocket client of
// spec.md §4.1: connection lifecycle, heartbeats, backoff reconnection
// with automatic re-subscribe and replay, and frame dispatch. It holds
// no reference to the store; integration happens through OnEvent and
// OnError callbacks, per spec.md §9.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradecore/internal/event"
)

const (
	heartbeatTimeout = 20 * time.Second
	writeWait        = 5 * time.Second
)

// Config configures a Client. GetToken is invoked immediately before
// every connection attempt, including reconnects; the core never
// caches a token across connections, per spec.md §4.1.3.
type Config struct {
	URL      string
	GetToken func(ctx context.Context) (string, error)
	Logger   *zap.Logger
	Metrics  *Metrics
}

type handlerEntry[T any] struct {
	id int
	fn T
}

// Client is a single reconnecting connection to the server. All public
// methods are safe for concurrent use; an internal mutex guards state,
// subscription registry, and pending-subscribe bookkeeping, but
// callbacks registered via OnEvent/OnError always run outside the lock.
type Client struct {
	cfg Config
	log *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	writeMu          sync.Mutex
	state            connState
	intentionalClose bool
	attempt          int
	sessionID        string
	subs             map[string]*subscription
	pending          map[string]*pendingSubscribe
	eventHandlers    map[event.Channel][]handlerEntry[func(event.Event)]
	errorHandlers    []handlerEntry[func(error)]
	nextHandlerID    int
	cancel           context.CancelFunc
	firstAttempt     chan error
	firstAttemptOnce *sync.Once
}

// NewClient constructs a Client. Connect must be called before any
// other method is useful.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:           cfg,
		log:           log,
		subs:          make(map[string]*subscription),
		pending:       make(map[string]*pendingSubscribe),
		eventHandlers: make(map[event.Channel][]handlerEntry[func(event.Event)]),
	}
}

// OnEvent registers a handler for every data event whose source
// channel matches. The returned function unregisters it.
func (c *Client) OnEvent(channel event.Channel, handler func(event.Event)) func() {
	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.eventHandlers[channel] = append(c.eventHandlers[channel], handlerEntry[func(event.Event)]{id, handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		entries := c.eventHandlers[channel]
		for i, e := range entries {
			if e.id == id {
				c.eventHandlers[channel] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// OnError registers a handler invoked for surfaced server error frames
// and connection-level transport errors. The returned function
// unregisters it.
func (c *Client) OnError(handler func(error)) func() {
	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.errorHandlers = append(c.errorHandlers, handlerEntry[func(error)]{id, handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		entries := c.errorHandlers
		for i, e := range entries {
			if e.id == id {
				c.errorHandlers = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	handlers := make([]func(error), 0, len(c.errorHandlers))
	for _, e := range c.errorHandlers {
		handlers = append(handlers, e.fn)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// Connect opens the connection and blocks until the server's connected
// frame is observed (or the dial fails). Subsequent unexpected closes
// are handled by an internal reconnect supervisor; Connect is not
// called again for those.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = stateConnecting
	c.intentionalClose = false
	c.attempt = 0
	ch := make(chan error, 1)
	once := &sync.Once{}
	c.firstAttempt = ch
	c.firstAttemptOnce = once
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.superviseLoop(runCtx)

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect marks the session as intentionally closed, cancels any
// scheduled reconnect, and closes the socket with code 1000. In-flight
// Subscribe calls are rejected as a cancellation per spec.md §5.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	c.state = stateDisconnected
	conn := c.conn
	cancel := c.cancel
	pendings := c.pending
	c.pending = make(map[string]*pendingSubscribe)
	c.mu.Unlock()

	for _, p := range pendings {
		for _, w := range p.waiters {
			w <- context.Canceled
		}
	}

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func (c *Client) signalFirst(err error) {
	c.mu.Lock()
	ch := c.firstAttempt
	once := c.firstAttemptOnce
	c.mu.Unlock()
	if ch == nil || once == nil {
		return
	}
	once.Do(func() { ch <- err })
}

// superviseLoop owns the dial-run-backoff cycle, adapted from the
// teacher's BrokerClient.Run: each iteration dials, runs one session to
// completion, and on unexpected closure sleeps a backoff delay before
// redialing. It returns only when ctx is cancelled or disconnect was
// intentional.
func (c *Client) superviseLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		token, err := c.cfg.GetToken(ctx)
		if err != nil {
			c.signalFirst(&TransportError{Op: "connect", Err: err})
			if !c.waitAndBackoff(ctx) {
				return
			}
			continue
		}

		conn, err := dialWS(ctx, c.cfg.URL, token)
		if err != nil {
			c.signalFirst(&TransportError{Op: "connect", Err: err})
			if !c.waitAndBackoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		sessionErr := c.runSession(ctx, conn)
		_ = conn.Close()

		c.mu.Lock()
		c.conn = nil
		intentional := c.intentionalClose
		c.mu.Unlock()

		if intentional || ctx.Err() != nil {
			return
		}

		c.log.Warn("session ended, reconnecting", zap.Error(sessionErr))
		c.mu.Lock()
		c.state = stateReconnecting
		c.mu.Unlock()
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.recordReconnect()
		}

		if !c.waitAndBackoff(ctx) {
			return
		}
	}
}

// waitAndBackoff sleeps the backoff delay for the current attempt
// counter and increments it, returning false if ctx was cancelled
// during the wait.
func (c *Client) waitAndBackoff(ctx context.Context) bool {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	return sleep(ctx, backoffDelay(attempt))
}

// Package client implements the gateway's client-side connection
// controller: a reconnecting WebSocket with exponential backoff, a
// bounded retry budget, and an outbound queue that preserves messages
// composed while disconnected.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/nadeko0/wirechat/service/chat"
	"github.com/nadeko0/wirechat/tools/errs"
)

// State is the controller's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ErrConnectBusy rejects a Connect call while an attempt is already in
// flight or the client is connected; no two attempts may overlap.
var ErrConnectBusy = errors.New("connect already in progress")

// Conn is the transport surface the controller needs; *websocket.Conn
// satisfies it, tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dialer opens one connection attempt.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Options struct {
	URL    string
	Header http.Header

	BaseDelay        time.Duration // first retry delay (default 500ms)
	MaxDelay         time.Duration // backoff ceiling (default 30s)
	MaxAttempts      int           // consecutive failures before giving up (default 8)
	HandshakeTimeout time.Duration // per-dial budget (default 10s)

	Dialer Dialer // nil => gorilla websocket dialer

	// OnMessage receives every inbound frame. Called from the read
	// goroutine; must not block for long.
	OnMessage func(data []byte)

	// OnStateChange observes transitions. err is non-nil exactly once,
	// with ErrReconnectExhausted, when the retry budget is spent.
	OnStateChange func(s State, err error)
}

func (o *Options) norm() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = gorillaDialer{}
	}
}

// Client is the reconnection controller. One mutex guards the state
// machine; network I/O and the backoff timer are the only suspension
// points outside it.
type Client struct {
	opts Options

	mu       sync.Mutex
	state    State
	attempts int
	queue    [][]byte
	conn     Conn
	timer    *time.Timer
	gen      uint64 // bumped when a connection dies; fences stale readers and timers
}

func New(opts Options) *Client {
	opts.norm()
	return &Client{opts: opts, state: StateDisconnected}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen reports how many outbound messages are waiting for a
// connection. The queue is unbounded; callers that care can shed on top
// of this.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect starts connecting. It resets the retry budget, so it is also
// the explicit manual reconnect required after exhaustion. Rejected with
// ErrConnectBusy while already Connecting or Connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected || c.state == StateClosing {
		c.mu.Unlock()
		return ErrConnectBusy
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.attempts = 0
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	c.notify(StateConnecting, nil)
	go c.attempt(gen)
	return nil
}

// Send transmits payload now if connected, otherwise queues it in FIFO
// order for the next successful handshake.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return errors.New("client is closing")
	}
	if c.state != StateConnected {
		c.queue = append(c.queue, payload)
		c.mu.Unlock()
		return nil
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// Not delivered: keep it at the head so redelivery preserves order.
		c.queue = append([][]byte{payload}, c.queue...)
		c.dropConnLocked()
		st, xerr := c.failLocked(err)
		c.mu.Unlock()
		c.notify(st, xerr)
		return nil
	}
	c.mu.Unlock()
	return nil
}

// SendMessage queues or sends one chat message on the wire format the
// gateway accepts.
func (c *Client) SendMessage(receiverID int64, content string) error {
	data, err := json.Marshal(chat.SendFrame{ReceiverID: receiverID, Content: content})
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close shuts the controller down: cancels any pending retry, closes the
// connection, and leaves the client in a terminal Disconnected state with
// no automatic reconnection. Queued messages are kept for a later
// explicit Connect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.dropConnLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.notify(StateDisconnected, nil)
}

func (c *Client) attempt(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	opts := c.opts
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opts.HandshakeTimeout)
	conn, err := opts.Dialer.Dial(ctx, opts.URL, opts.Header)
	cancel()

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// Closed or superseded while dialing.
		if conn != nil {
			_ = conn.Close()
		}
		c.mu.Unlock()
		return
	}

	if err != nil {
		st, xerr := c.failLocked(err)
		c.mu.Unlock()
		c.notify(st, xerr)
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0

	// Drain the queue strictly in order. An entry is removed only after
	// its write succeeded, so a failure mid-drain keeps the remainder —
	// no drops, no duplicates. Send callers block on the mutex until the
	// drain finishes, which keeps their messages behind the backlog.
	for len(c.queue) > 0 {
		head := c.queue[0]
		if werr := conn.WriteMessage(websocket.TextMessage, head); werr != nil {
			c.dropConnLocked()
			st, xerr := c.failLocked(werr)
			c.mu.Unlock()
			c.notify(st, xerr)
			return
		}
		c.queue = c.queue[1:]
	}
	c.mu.Unlock()

	c.notify(StateConnected, nil)
	go c.readPump(gen, conn)
}

func (c *Client) readPump(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportError(gen, err)
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

func (c *Client) transportError(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.dropConnLocked()
	st, xerr := c.failLocked(cause)
	c.mu.Unlock()
	c.notify(st, xerr)
}

// failLocked records one failed attempt: transitions to Disconnected and
// either schedules the next retry after min(base*2^attempt, cap) or, once
// the budget is spent, goes terminal with ReconnectExhausted.
func (c *Client) failLocked(cause error) (State, error) {
	attempt := c.attempts
	c.attempts++
	c.state = StateDisconnected

	if c.attempts >= c.opts.MaxAttempts {
		return StateDisconnected, errs.ErrReconnectExhausted.WithDetail(cause.Error())
	}

	gen := c.gen
	delay := backoffDelay(c.opts.BaseDelay, c.opts.MaxDelay, attempt)
	c.timer = time.AfterFunc(delay, func() { c.retry(gen) })
	return StateDisconnected, nil
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()

	c.notify(StateConnecting, nil)
	c.attempt(gen)
}

// dropConnLocked closes the current connection and bumps the generation,
// fencing off its read pump and any timer from the old life.
func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
}

func (c *Client) notify(s State, err error) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s, err)
	}
}

// backoffDelay computes min(base * 2^attempt, max). The loop form avoids
// shift overflow for large attempt values.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Package channel is the client side of the live support connection. A
// Channel is bound to one conversation and moves through Connecting, Open and
// Closed exactly once; a new binding needs a new Channel.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mahaj/venue-support/pkg/model"
)

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotOpen = errors.New("channel: not open")
	ErrClosed  = errors.New("channel: closed")
)

// SendError reports a failed write on an open channel.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "channel: send failed: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// Transition describes a state change. Code and Reason are set when the
// peer closed the connection; Err is set for dial and read failures.
type Transition struct {
	From   State
	To     State
	Code   int
	Reason string
	Err    error
}

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type Options struct {
	URL    string
	Header http.Header
	// Dialer defaults to a gorilla websocket dialer.
	Dialer Dialer
	Logger *slog.Logger
}

type Channel struct {
	url    string
	header http.Header
	dialer Dialer
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	closing  bool
	started  bool
	readDone chan struct{}
	system   string

	handlers map[State][]func(Transition)
	onFrame  []func(model.Frame)

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func New(opts Options) *Channel {
	c := &Channel{
		url:      opts.URL,
		header:   opts.Header,
		dialer:   opts.Dialer,
		logger:   opts.Logger,
		state:    Connecting,
		readDone: make(chan struct{}),
		handlers: make(map[State][]func(Transition)),
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(0)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// On registers fn to run whenever the channel enters state. Handlers run on
// the goroutine that caused the transition and must not block.
func (c *Channel) On(state State, fn func(Transition)) {
	c.mu.Lock()
	c.handlers[state] = append(c.handlers[state], fn)
	c.mu.Unlock()
}

// OnFrame registers fn for every well-formed inbound frame. It runs on the
// read goroutine and must not block.
func (c *Channel) OnFrame(fn func(model.Frame)) {
	c.mu.Lock()
	c.onFrame = append(c.onFrame, fn)
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the endpoint. On success the channel is Open and reading;
// on failure it is Closed and the dial error is returned.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Connecting || c.started {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.url, c.header)
	if err != nil {
		c.logger.Warn("live channel dial failed", "url", redact(c.url), "error", err)
		c.transition(Closed, 0, "", err)
		close(c.readDone)
		return err
	}

	c.mu.Lock()
	if c.closing || c.state == Closed {
		c.mu.Unlock()
		conn.Close()
		close(c.readDone)
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("live channel open", "url", redact(c.url))
	c.transition(Open, 0, "", nil)
	go c.readLoop(conn)
	return nil
}

// Send writes one outbound message.
func (c *Channel) Send(text string) error {
	c.mu.Lock()
	if c.state != Open || c.closing {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	payload, err := json.Marshal(model.OutboundFrame{Text: text})
	if err != nil {
		return &SendError{Err: err}
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Close sends a normal close frame and releases the connection. It blocks
// until the read goroutine has exited, so no frame handler runs after it
// returns. Calling Close more than once is safe.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.waitRead()
		return nil
	}
	c.closing = true
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.logger.Debug("write close frame", "error", err)
		}
		c.writeMu.Unlock()
		conn.Close()
	}
	if started {
		c.waitRead()
	}
	c.transition(Closed, websocket.CloseNormalClosure, "", nil)
	return nil
}

func (c *Channel) waitRead() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.readDone
	}
}

func (c *Channel) readLoop(conn Conn) {
	defer close(c.readDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			system := c.system
			c.mu.Unlock()
			if closing {
				return
			}
			code, reason := 0, system
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
				if ce.Text != "" {
					reason = ce.Text
				}
			}
			c.logger.Info("live channel closed by peer", "code", code, "reason", reason, "error", err)
			conn.Close()
			c.transition(Closed, code, reason, err)
			return
		}

		f, err := model.DecodeFrame(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err, "size", len(data))
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		if f.Type == model.FrameSystem {
			c.system = f.Text
		}
		handlers := append(([]func(model.Frame))(nil), c.onFrame...)
		c.mu.Unlock()

		for _, fn := range handlers {
			fn(f)
		}
	}
}

func (c *Channel) transition(to State, code int, reason string, err error) {
	c.mu.Lock()
	from := c.state
	if from == Closed || from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	handlers := append(([]func(Transition))(nil), c.handlers[to]...)
	c.mu.Unlock()

	t := Transition{From: from, To: to, Code: code, Reason: reason, Err: err}
	for _, fn := range handlers {
		fn(t)
	}
}

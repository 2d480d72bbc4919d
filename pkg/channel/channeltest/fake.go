// Package channeltest provides an in-memory Dialer and Conn for driving a
// channel.Channel without a network.
package channeltest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mahaj/venue-support/pkg/channel"
)

var errConnClosed = errors.New("channeltest: connection closed")

type Write struct {
	Type int
	Data []byte
}

// Conn is a fake connection. Frames pushed with Deliver are returned by
// ReadMessage in order.
type Conn struct {
	mu       sync.Mutex
	writes   []Write
	writeErr error
	closed   bool

	inbox chan inbound
	done  chan struct{}
}

type inbound struct {
	data []byte
	err  error
}

func NewConn() *Conn {
	return &Conn{
		inbox: make(chan inbound, 64),
		done:  make(chan struct{}),
	}
}

// Deliver queues a raw inbound frame.
func (c *Conn) Deliver(data []byte) {
	c.inbox <- inbound{data: data}
}

// DeliverString queues a raw inbound frame.
func (c *Conn) DeliverString(s string) {
	c.Deliver([]byte(s))
}

// Drop makes the read after any queued frames fail as if the peer closed
// with code and text.
func (c *Conn) Drop(code int, text string) {
	c.inbox <- inbound{err: &websocket.CloseError{Code: code, Text: text}}
}

// FailWrites makes every later WriteMessage return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case in := <-c.inbox:
		if in.err != nil {
			return 0, nil, in.err
		}
		return websocket.TextMessage, in.data, nil
	case <-c.done:
		return 0, nil, errConnClosed
	}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, Write{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Writes returns a copy of everything written so far.
func (c *Conn) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// TextWrites returns the payloads of text messages only.
func (c *Conn) TextWrites() []string {
	var out []string
	for _, w := range c.Writes() {
		if w.Type == websocket.TextMessage {
			out = append(out, string(w.Data))
		}
	}
	return out
}

// Dialer hands out fake connections and records every dial.
type Dialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*Conn
	err   error
	block chan struct{}
}

func NewDialer() *Dialer {
	return &Dialer{}
}

// Fail makes later dials return err.
func (d *Dialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Hold makes later dials block until Release or context cancellation.
func (d *Dialer) Hold() {
	d.mu.Lock()
	d.block = make(chan struct{})
	d.mu.Unlock()
}

func (d *Dialer) Release() {
	d.mu.Lock()
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, url string, _ http.Header) (channel.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := NewConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Conns returns the connections handed out so far, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultHandshakeTimeout = 10 * time.Second

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebsocketDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", redact(rawURL), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(rawURL), err)
	}
	return conn, nil
}

// redact hides the token query parameter so URLs can be logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

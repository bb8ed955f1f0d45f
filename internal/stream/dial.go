package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// Conn is the subset of *websocket.Conn the client drives.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a stream connection to url.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// NewDialer adapts a gorilla dialer. A nil dialer gets a default one with a
// bounded handshake.
func NewDialer(d *ws.Dialer) DialFunc {
	if d == nil {
		d = &ws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return conn, nil
	}
}

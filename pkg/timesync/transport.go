// ABOUTME: Push channel transport for the Subscriber
// ABOUTME: Wraps the gorilla websocket dialer behind a small interface
package timesync

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timesync-go/timesync/internal/protocol"
	"github.com/timesync-go/timesync/internal/version"
)

// Conn is one open push channel
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens push channels
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the authority with gorilla/websocket
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer creates a dialer. insecure skips certificate
// verification so self-signed authorities are accepted.
func NewWebsocketDialer(insecure bool, handshakeTimeout time.Duration) *WebsocketDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	if insecure {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &WebsocketDialer{dialer: &d}
}

// Dial opens a channel to url
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{"User-Agent": {version.UserAgent()}}
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTimeout, url, err)
		}
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: HTTP %d: %v", protocol.ErrTransport, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, url, err)
	}
	return conn, nil
}

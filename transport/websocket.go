// Copyright 2026 The Lightbox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightbox-foundation/lightbox/lib/clock"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second

	// defaultReadLimit bounds a single inbound frame. Liveview frames
	// are base64 JPEGs inside JSON and can run to several megabytes;
	// 16 MiB leaves generous headroom while still catching a runaway
	// peer.
	defaultReadLimit = 16 << 20
)

// Compile-time interface checks.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*webSocketConn)(nil)
)

// WebSocketDialer opens websocket connections to ws:// and wss://
// targets. The zero value is usable; fields override the defaults.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the HTTP upgrade. Default 10s.
	HandshakeTimeout time.Duration

	// Options configure every connection the dialer opens.
	Options WebSocketOptions
}

// WebSocketOptions configure a wrapped websocket connection.
type WebSocketOptions struct {
	// WriteTimeout is the per-message write deadline. Default 10s.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period: a ping control frame is
	// sent every interval, and the read side gives up if no pong (or
	// other traffic) arrives within twice the interval. Zero disables
	// keepalive and read deadlines.
	PingInterval time.Duration

	// ReadLimit bounds a single inbound frame in bytes. Default 16 MiB.
	ReadLimit int64

	// Clock drives the keepalive ticker and deadlines. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives keepalive diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Dial connects to target, which must be a ws:// or wss:// URL.
func (d *WebSocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid websocket target %q: %w", target, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("transport: websocket target %q: scheme must be ws or wss", target)
	}

	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	ws, response, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("transport: websocket dial %s: %w (HTTP %d)", target, err, response.StatusCode)
		}
		return nil, fmt.Errorf("transport: websocket dial %s: %w", target, err)
	}

	return NewWebSocketConn(ws, d.Options), nil
}

// NewWebSocketConn wraps an established gorilla connection as a Conn.
// The server side of the protocol (the mock rig) uses this directly
// after upgrading; WebSocketDialer uses it for outbound connections.
func NewWebSocketConn(ws *websocket.Conn, options WebSocketOptions) Conn {
	options = options.withDefaults()

	conn := &webSocketConn{
		ws:      ws,
		options: options,
		closed:  make(chan struct{}),
	}

	ws.SetReadLimit(options.ReadLimit)

	if options.PingInterval > 0 {
		pongWait := 2 * options.PingInterval
		ws.SetReadDeadline(options.Clock.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(options.Clock.Now().Add(pongWait))
		})
		go conn.keepalive()
	}

	return conn
}

type webSocketConn struct {
	ws      *websocket.Conn
	options WebSocketOptions

	// writeMu serializes data frames: gorilla allows only one
	// concurrent writer. Control frames (ping, close) are exempt and
	// go through WriteControl, which is concurrency-safe on its own.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *webSocketConn) Send(message Message) error {
	var frameType int
	switch message.Type {
	case TextMessage:
		frameType = websocket.TextMessage
	case BinaryMessage:
		frameType = websocket.BinaryMessage
	default:
		return fmt.Errorf("transport: cannot send message type %v", message.Type)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(c.options.Clock.Now().Add(c.options.WriteTimeout))
	if err := c.ws.WriteMessage(frameType, message.Data); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (c *webSocketConn) Receive() (Message, error) {
	frameType, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return Message{}, net.ErrClosed
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}

	switch frameType {
	case websocket.TextMessage:
		return Message{Type: TextMessage, Data: data}, nil
	case websocket.BinaryMessage:
		return Message{Type: BinaryMessage, Data: data}, nil
	default:
		// ReadMessage only surfaces data frames; anything else would
		// be a gorilla behavior change worth failing loudly on.
		return Message{}, fmt.Errorf("transport: unexpected websocket frame type %d", frameType)
	}
}

func (c *webSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// Best-effort close handshake so the peer sees a clean
		// shutdown instead of a dropped TCP connection.
		deadline := c.options.Clock.Now().Add(c.options.WriteTimeout)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// keepalive pings the peer every PingInterval until the connection
// closes. A failed ping write means the connection is dead; the read
// side will notice via its deadline, so the loop just exits.
func (c *webSocketConn) keepalive() {
	ticker := c.options.Clock.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.Chan():
			deadline := c.options.Clock.Now().Add(c.options.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.options.Logger.Debug("websocket keepalive ping failed", "error", err)
				return
			}
		}
	}
}

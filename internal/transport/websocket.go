package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/livereload/internal/config"
)

const defaultCloseTimeout = time.Second

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	MaxMessageSize   int64
	Header           http.Header
}

// NewWebSocketDialer creates a dialer from the client configuration.
func NewWebSocketDialer(cfg config.ClientConfig) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
		CloseTimeout:     cfg.CloseTimeoutDuration(),
		MaxMessageSize:   cfg.MaxMessageSize,
	}
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	if d.MaxMessageSize > 0 {
		conn.SetReadLimit(d.MaxMessageSize)
	}

	return NewWebSocketConn(conn, d.CloseTimeout), nil
}

// WebSocketConn wraps a WebSocket connection for the live-reload channel.
type WebSocketConn struct {
	conn         *websocket.Conn
	closeTimeout time.Duration
	mu           sync.Mutex // Protects closeCode
	closeCode    int
}

// NewWebSocketConn creates a new WebSocketConn from a WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn, closeTimeout time.Duration) *WebSocketConn {
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	return &WebSocketConn{
		conn:         conn,
		closeTimeout: closeTimeout,
	}
}

// Receive reads the next text message (blocking). Binary frames are skipped.
func (c *WebSocketConn) Receive() (string, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.conn.Close()
			return "", c.closeError(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return string(message), nil
	}
}

// closeError reports a locally initiated close with its own code when the
// server never answered the close frame.
func (c *WebSocketConn) closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return err
	}

	c.mu.Lock()
	code := c.closeCode
	c.mu.Unlock()

	if code != 0 {
		return &websocket.CloseError{Code: code, Text: err.Error()}
	}
	return err
}

// Close sends a close frame with code and waits up to the close timeout for
// the server's reply, which Receive then returns.
func (c *WebSocketConn) Close(code int) error {
	c.mu.Lock()
	if c.closeCode != 0 {
		c.mu.Unlock()
		return nil
	}
	c.closeCode = code
	c.mu.Unlock()

	deadline := time.Now().Add(c.closeTimeout)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to send close frame: %w", err)
	}
	return c.conn.SetReadDeadline(deadline)
}

// RemoteAddr returns the remote address as a string.
func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Package transport provides the WebSocket channel the live-reload client
// listens on, and the close-code rules that drive reconnection.
package transport

import (
	"context"
	"errors"
	"strconv"

	"github.com/gorilla/websocket"
)

// Close codes with meaning to the client.
const (
	// CloseNormal is reserved for an intentional, client-initiated shutdown.
	CloseNormal = websocket.CloseNormalClosure
	// CloseGoingAway is sent by the dev server when it shuts down.
	CloseGoingAway = websocket.CloseGoingAway
	// CloseAbnormal stands in for every closure without a close frame,
	// including failed dials and network errors.
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// Conn is one established channel to the server.
type Conn interface {
	// Receive blocks until the next text message arrives. When the channel
	// ends it returns an error; CloseCode classifies it.
	Receive() (string, error)

	// Close starts a closing handshake with the given code. Receive keeps
	// running until the handshake completes or times out.
	Close(code int) error
}

// Dialer opens channels to a server endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseCode maps the error that ended a channel to a close code.
// Anything that is not a close frame counts as an abnormal closure.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// IsIntentional reports whether code marks a client-initiated shutdown.
func IsIntentional(code int) bool {
	return code == CloseNormal
}

// CloseCodeName describes a close code for logs, e.g. "1001 going away".
func CloseCodeName(code int) string {
	var name string
	switch code {
	case websocket.CloseNormalClosure:
		name = "normal closure"
	case websocket.CloseGoingAway:
		name = "going away"
	case websocket.CloseProtocolError:
		name = "protocol error"
	case websocket.CloseNoStatusReceived:
		name = "no status"
	case websocket.CloseAbnormalClosure:
		name = "abnormal closure"
	case websocket.CloseMessageTooBig:
		name = "message too big"
	case websocket.CloseInternalServerErr:
		name = "internal error"
	case websocket.CloseServiceRestart:
		name = "service restart"
	default:
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code) + " " + name
}

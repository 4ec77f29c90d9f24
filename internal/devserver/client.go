package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// closeWait bounds how long a client may take to answer going-away.
	closeWait = 2 * time.Second
)

// client is one connected page.
type client struct {
	id   string
	ip   string
	conn *websocket.Conn
	sub  *notify.Subscription

	done     chan struct{} // Closed when the read side ends
	doneOnce sync.Once
}

// readPump consumes control frames until the connection ends and returns
// the close code the page sent.
func (c *client) readPump(maxMessageSize int64) int {
	defer c.doneOnce.Do(func() { close(c.done) })

	if maxMessageSize > 0 {
		c.conn.SetReadLimit(maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Pages never send commands; anything they do send is discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code
			}
			logger.Debug("Client read error", "client", c.id, "error", err)
			return websocket.CloseAbnormalClosure
		}
	}
}

// writePump forwards published commands to the page and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sub.C:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				logger.Debug("Client write failed", "client", c.id, "error", err)
				return
			}
			logger.Debug("Sent command", "client", c.id, "data", msg)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// goAway tells the page the server is going away and gives it closeWait
// to answer before the read side gives up.
func (c *client) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logger.Debug("Failed to send close", "client", c.id, "error", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(closeWait))
}

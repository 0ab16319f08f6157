package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes on a WebSocket connection. Gorilla allows one
// concurrent writer and one concurrent reader.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap adopts an upgraded connection.
func Wrap(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg, currentStatus string) error {
	return c.WriteTyped(ErrorResponse{
		Event:         EventError,
		Code:          code,
		Error:         errMsg,
		CurrentStatus: currentStatus,
	})
}

// WriteClose sends a close frame with the given code and reason.
func (c *Conn) WriteClose(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// ReadMessage reads one frame, extending the read deadline first.
func (c *Conn) ReadMessage() (int, []byte, error) {
	c.SetReadDeadline(time.Now().Add(readWait))
	return c.Conn.ReadMessage()
}

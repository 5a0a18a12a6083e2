package ws

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
)

const closeGracePeriod = time.Second

// Conn adapts a gorilla connection to session.Connection. gorilla allows one
// concurrent writer, so writes are serialized; frames, cursor updates and
// capture chunks come from different goroutines.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	metrics      *monitoring.Metrics

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps ws. metrics may be nil.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration, metrics *monitoring.Metrics) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
}

// SendJSON writes v as one text message.
func (c *Conn) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.write(websocket.TextMessage, data, "text")
}

// SendBinary writes data as one binary message.
func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data, "binary")
}

// write is a no-op once the connection is closed, including when Close
// lands while the write is in progress.
func (c *Conn) write(messageType int, data []byte, kind string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return nil
	}

	// A Close racing this write tears the socket down underneath it; the
	// resulting error is treated like a write after close.
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			if c.closed.Load() {
				return nil
			}
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		if c.closed.Load() {
			return nil
		}
		return fmt.Errorf("write %s message: %w", kind, err)
	}

	c.metrics.RecordWSMessage("out", kind)
	return nil
}

// Close sends a close frame and closes the socket. It does not wait for a
// write in progress; gorilla allows WriteControl and Close concurrently
// with other methods.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.ws.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

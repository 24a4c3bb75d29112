package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// deviceConn wraps one WebSocket link as a registry.Conn. gorilla/websocket
// allows a single concurrent writer, so all writes funnel through writeMu.
type deviceConn struct {
	ws *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newDeviceConn(ws *websocket.Conn, writeTimeout time.Duration) *deviceConn {
	return &deviceConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Send writes one text frame. It blocks only on the transport write, bounded
// by the write timeout.
func (c *deviceConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Ready reports whether the link can still accept writes
func (c *deviceConn) Ready() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close tears the link down; safe to call more than once
func (c *deviceConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr identifies the peer for log lines
func (c *deviceConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// ping sends a control ping to keep intermediaries from idling the link out
func (c *deviceConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

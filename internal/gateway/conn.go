package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/Cheese-matchd/internal/metrics"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send queue full")
)

// wsConn is the registry handle of one websocket. Send only enqueues; a single
// writer goroutine owns the socket writes.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	out    chan []byte
	closed bool

	done chan struct{}
}

func newConn(ws *websocket.Conn, buffer int, writeTimeout time.Duration) *wsConn {
	if buffer <= 0 {
		buffer = 32
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

// Send enqueues frame. A full queue drops the frame and closes the connection.
func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.FramesDropped.WithLabelValues("closed").Inc()
		return ErrConnClosed
	}
	select {
	case c.out <- frame:
		return nil
	default:
		metrics.FramesDropped.WithLabelValues("slow_consumer").Inc()
		go func() { _ = c.ws.Close(websocket.StatusPolicyViolation, "send queue full") }()
		return ErrSlowConsumer
	}
}

func (c *wsConn) writeLoop() {
	defer close(c.done)
	for frame := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		err := c.ws.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			obslog.L().Debug("gateway_write_failed", zap.Error(err))
			_ = c.ws.Close(websocket.StatusInternalError, "write failed")
			c.discard()
			return
		}
	}
}

// discard drains queued frames after the socket broke.
func (c *wsConn) discard() {
	for range c.out {
		metrics.FramesDropped.WithLabelValues("closed").Inc()
	}
}

// shutdown stops accepting frames and waits for the writer to flush or give up.
func (c *wsConn) shutdown(wait time.Duration) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	c.mu.Unlock()
	select {
	case <-c.done:
	case <-time.After(wait):
	}
}

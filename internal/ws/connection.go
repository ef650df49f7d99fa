package ws

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// connection is one dial attempt and, once open, its socket. state is guarded
// by the owning Manager's mutex; writes are serialized by writeMu so that
// application frames and pong replies never interleave.
type connection struct {
	attempt uint64
	state   ConnState
	cancel  context.CancelFunc // aborts an in-flight dial

	conn    net.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

// writeText sends a masked client text frame.
func (c *connection) writeText(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// closeTimeout bounds the whole goodbye on teardown, independent of the
// configured per-frame write timeout.
const closeTimeout = 500 * time.Millisecond

// sayGoodbye writes an optional leave text frame followed by a
// normal-closure close frame, both under a single closeTimeout deadline.
func (c *connection) sayGoodbye(leave []byte) error {
	// Cut short any write already holding writeMu.
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))

	if leave != nil {
		if err := wsutil.WriteClientMessage(c.conn, ws.OpText, leave); err != nil {
			return err
		}
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpClose,
		ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
}

// lockedWriter routes control-frame replies written by wsutil through the
// connection's write mutex.
type lockedWriter struct{ c *connection }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

// readLoop reads text frames until the connection fails or is closed. Pings
// are answered inside wsutil; unknown frame types are counted and skipped.
func (m *Manager) readLoop(c *connection) {
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, lockedWriter{c}}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			m.logger.Info("connection ended", zap.Uint64("attempt", c.attempt), zap.Error(err))
			if m.finish(c) {
				m.handler.OnClosed(c.attempt)
			}
			return
		}

		frame, err := protocol.ParseServerFrame(data)
		if err != nil {
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
			m.logger.Debug("ignoring frame", zap.Uint64("attempt", c.attempt), zap.Error(err))
			continue
		}
		metrics.FramesReceived.WithLabelValues(frame.FrameType()).Inc()

		if !m.isCurrent(c) {
			continue
		}
		m.handler.OnFrame(c.attempt, frame)
	}
}

func (m *Manager) isCurrent(c *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == c && c.state == StateOpen
}

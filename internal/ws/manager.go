// Package ws manages the single WebSocket connection a chat session holds to
// the matching service: dialing it, reading and decoding frames, serializing
// writes, and tearing it down. A connection is never reused; every attempt
// dials a fresh one and is identified by a monotonically increasing attempt id.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// ConnState is the lifecycle state of the managed connection.
type ConnState int

const (
	StateAbsent ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives connection callbacks. Calls for one attempt are made from a
// single goroutine, in wire order. Graceful and error closes are both reported
// through OnClosed.
type Handler interface {
	OnOpen(attempt uint64)
	OnFrame(attempt uint64, f protocol.Frame)
	OnClosed(attempt uint64)
}

// Config holds tunable parameters for the connection manager.
type Config struct {
	ServiceURL   string        // base URL of the matching service, e.g. "https://chat.example"
	DialTimeout  time.Duration // timeout for dial plus WebSocket handshake
	WriteTimeout time.Duration // deadline for a single frame write
}

// DefaultConfig returns a Config pointing at a local matching service.
func DefaultConfig() Config {
	return Config{
		ServiceURL:   "http://localhost:8000",
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Endpoint derives the chat WebSocket URL for sessionID from the service base
// URL. A secure base (https) yields a secure WebSocket (wss).
func Endpoint(serviceURL, sessionID string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("ws: invalid service url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("ws: unsupported service url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ws: service url %q has no host", serviceURL)
	}
	return u.JoinPath("ws", sessionID).String(), nil
}

// Manager owns at most one live connection at a time.
type Manager struct {
	config  Config
	handler Handler
	logger  *zap.Logger
	dialer  ws.Dialer

	mu       sync.Mutex
	current  *connection
	attempts uint64
}

// NewManager creates a Manager. SetHandler must be called before Open.
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:  config,
		handler: noopHandler{},
		logger:  logger.Named("ws"),
		dialer:  ws.Dialer{Timeout: config.DialTimeout},
	}
}

// SetHandler assigns the callback receiver. It supports the wiring order
// where the session is created after the manager it depends on.
func (m *Manager) SetHandler(h Handler) {
	if h == nil {
		h = noopHandler{}
	}
	m.handler = h
}

// State returns the state of the current connection.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return StateAbsent
	}
	return m.current.state
}

// Open starts a connection attempt for sessionID and returns its attempt id.
// If the current connection is already open it is kept and its id returned.
// Otherwise any previous connection is destroyed and a new one is dialed in
// the background; the outcome is reported via OnOpen or OnClosed.
func (m *Manager) Open(sessionID string) uint64 {
	m.mu.Lock()
	if c := m.current; c != nil && c.state == StateOpen {
		m.mu.Unlock()
		return c.attempt
	}
	old := m.current
	m.attempts++
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout())
	c := &connection{attempt: m.attempts, state: StateConnecting, cancel: cancel}
	m.current = c
	m.mu.Unlock()

	if old != nil {
		m.shutdown(old, false)
	}

	go m.dial(ctx, c, sessionID)
	return c.attempt
}

// Send encodes f and writes it if the current connection is open. Otherwise
// the frame is dropped: there is no queueing and no retry.
func (m *Manager) Send(f protocol.Frame) {
	m.mu.Lock()
	c := m.current
	open := c != nil && c.state == StateOpen
	m.mu.Unlock()

	if !open {
		metrics.FramesDropped.WithLabelValues(f.FrameType()).Inc()
		m.logger.Debug("frame dropped, connection not open", zap.String("type", f.FrameType()))
		return
	}

	if err := m.write(c, f); err != nil {
		m.logger.Warn("write failed", zap.Uint64("attempt", c.attempt),
			zap.String("type", f.FrameType()), zap.Error(err))
		// The read loop notices the closed socket and reports OnClosed.
		_ = c.conn.Close()
	}
}

// Close sends a best-effort leave frame on an open connection and tears it
// down. No OnClosed callback is made for a connection closed this way. It is
// safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()

	if c != nil {
		m.shutdown(c, true)
	}
}

func (m *Manager) dialTimeout() time.Duration {
	if m.config.DialTimeout > 0 {
		return m.config.DialTimeout
	}
	return DefaultConfig().DialTimeout
}

// dial establishes the connection for c and then runs its read loop.
func (m *Manager) dial(ctx context.Context, c *connection, sessionID string) {
	defer c.cancel()

	start := time.Now()
	endpoint, err := Endpoint(m.config.ServiceURL, sessionID)
	var (
		conn   net.Conn
		reader io.Reader
	)
	if err == nil {
		var br *bufio.Reader
		conn, br, _, err = m.dialer.Dial(ctx, endpoint)
		if err == nil {
			reader = handshakeReader(conn, br)
		}
	}
	if err != nil {
		metrics.Dials.WithLabelValues("failed").Inc()
		m.logger.Warn("dial failed", zap.Uint64("attempt", c.attempt), zap.Error(err))
		if m.finish(c) {
			m.handler.OnClosed(c.attempt)
		}
		return
	}

	m.mu.Lock()
	if m.current != c || c.state != StateConnecting {
		// Replaced or closed while dialing.
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.reader = reader
	c.state = StateOpen
	m.mu.Unlock()

	metrics.Dials.WithLabelValues("open").Inc()
	m.logger.Info("connection open", zap.Uint64("attempt", c.attempt),
		zap.String("endpoint", endpoint), zap.Duration("took", time.Since(start)))

	m.handler.OnOpen(c.attempt)
	m.readLoop(c)
}

// handshakeReader returns the reader for frames following the handshake.
// The server may send frames together with the handshake response; those
// bytes sit in br and are copied out so br can go back to the dialer's pool.
func handshakeReader(conn io.Reader, br *bufio.Reader) io.Reader {
	if br == nil {
		return conn
	}
	defer ws.PutReader(br)
	n := br.Buffered()
	if n == 0 {
		return conn
	}
	buf := make([]byte, n)
	// Buffered bytes are returned without touching the underlying reader.
	if _, err := io.ReadFull(br, buf); err != nil {
		return conn
	}
	return io.MultiReader(bytes.NewReader(buf), conn)
}

// finish marks c closed and closes its socket. It reports whether c was still
// the current connection, i.e. whether the handler should hear about it.
func (m *Manager) finish(c *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return m.current == c
}

// shutdown tears c down without notifying the handler. When sayLeave is set
// and c is open, a leave frame and a close frame are written first.
func (m *Manager) shutdown(c *connection, sayLeave bool) {
	m.mu.Lock()
	prev := c.state
	c.state = StateClosed
	m.mu.Unlock()

	switch prev {
	case StateConnecting:
		c.cancel()
	case StateOpen:
		var leave []byte
		if sayLeave {
			leave, _ = protocol.EncodeFrame(protocol.Leave())
		}
		if err := c.sayGoodbye(leave); err != nil {
			m.logger.Debug("goodbye not delivered", zap.Uint64("attempt", c.attempt), zap.Error(err))
		} else if leave != nil {
			metrics.FramesSent.WithLabelValues(protocol.Leave().FrameType()).Inc()
		}
		_ = c.conn.Close()
		m.logger.Info("connection closed", zap.Uint64("attempt", c.attempt))
	}
}

func (m *Manager) write(c *connection, f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := c.writeText(data, m.config.WriteTimeout); err != nil {
		return err
	}
	metrics.FramesSent.WithLabelValues(f.FrameType()).Inc()
	return nil
}

type noopHandler struct{}

func (noopHandler) OnOpen(uint64)                  {}
func (noopHandler) OnFrame(uint64, protocol.Frame) {}
func (noopHandler) OnClosed(uint64)                {}

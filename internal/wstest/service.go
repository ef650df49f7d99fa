// Package wstest runs an in-process stand-in for the matching service's chat
// WebSocket endpoint, for tests of the connection manager and the session.
// Each accepted connection is exposed as a Peer that the test drives by hand.
package wstest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/chat-client/internal/protocol"
)

// DefaultTimeout bounds every blocking helper in this package.
const DefaultTimeout = 2 * time.Second

// Service is a fake matching service listening on a local httptest server.
type Service struct {
	server   *httptest.Server
	accepted chan *Peer

	mu    sync.Mutex
	peers []*Peer
}

// Peer is the server side of one accepted client connection.
type Peer struct {
	SessionID string

	conn     net.Conn
	writeMu  sync.Mutex
	received chan map[string]interface{}
	done     chan struct{}
}

// NewService starts a Service that accepts upgrades on /ws/<session_id>. It
// is shut down when the test finishes.
func NewService(t testing.TB) *Service {
	t.Helper()
	s := &Service{accepted: make(chan *Peer, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(s.Close)
	return s
}

// URL returns the http base URL of the service.
func (s *Service) URL() string { return s.server.URL }

// Close closes every peer and stops the listener.
func (s *Service) Close() {
	s.mu.Lock()
	peers := append([]*Peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
	s.server.Close()
}

// Accept waits for the next client connection.
func (s *Service) Accept(t testing.TB) *Peer {
	t.Helper()
	select {
	case p := <-s.accepted:
		return p
	case <-time.After(DefaultTimeout):
		t.Fatal("wstest: no connection accepted")
		return nil
	}
}

// ExpectNoConnection fails the test if a client connects within d.
func (s *Service) ExpectNoConnection(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case p := <-s.accepted:
		t.Fatalf("wstest: unexpected connection for session %q", p.SessionID)
	case <-time.After(d):
	}
}

func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/ws/") {
		http.NotFound(w, r)
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	p := &Peer{
		SessionID: strings.TrimPrefix(r.URL.Path, "/ws/"),
		conn:      conn,
		received:  make(chan map[string]interface{}, 64),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()

	go p.readLoop()
	s.accepted <- p
}

func (p *Peer) readLoop() {
	defer close(p.done)
	for {
		data, err := wsutil.ReadClientText(p.conn)
		if err != nil {
			_ = p.conn.Close()
			return
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		p.received <- m
	}
}

// Send writes a frame to the client.
func (p *Peer) Send(t testing.TB, f protocol.Frame) {
	t.Helper()
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		t.Fatalf("wstest: encode %s: %v", f.FrameType(), err)
	}
	p.SendRaw(t, data)
}

// SendRaw writes an arbitrary text frame to the client.
func (p *Peer) SendRaw(t testing.TB, data []byte) {
	t.Helper()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := wsutil.WriteServerMessage(p.conn, ws.OpText, data); err != nil {
		t.Fatalf("wstest: write: %v", err)
	}
}

// Next returns the next frame received from the client.
func (p *Peer) Next(t testing.TB) map[string]interface{} {
	t.Helper()
	select {
	case m := <-p.received:
		return m
	case <-time.After(DefaultTimeout):
		t.Fatal("wstest: no frame received")
		return nil
	}
}

// ExpectType reads the next frame and checks its type.
func (p *Peer) ExpectType(t testing.TB, want string) map[string]interface{} {
	t.Helper()
	m := p.Next(t)
	if m["type"] != want {
		t.Fatalf("wstest: expected frame type %q, got %v", want, m)
	}
	return m
}

// ExpectSilence fails the test if the client sends anything within d.
func (p *Peer) ExpectSilence(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case m := <-p.received:
		t.Fatalf("wstest: unexpected frame %v", m)
	case <-time.After(d):
	}
}

// Drop closes the socket without a close handshake, like a network failure.
func (p *Peer) Drop() { _ = p.conn.Close() }

// CloseGracefully sends a close frame and then closes the socket.
func (p *Peer) CloseGracefully() {
	p.writeMu.Lock()
	_ = wsutil.WriteServerMessage(p.conn, ws.OpClose,
		ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	p.writeMu.Unlock()
	_ = p.conn.Close()
}

// WaitClosed waits until the client side of the connection has gone away.
func (p *Peer) WaitClosed(t testing.TB) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(DefaultTimeout):
		t.Fatal("wstest: connection still open")
	}
}

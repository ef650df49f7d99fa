package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/whisper/chat-client/internal/session"
)

// newTestClient connects to a local NATS server. Tests that call it are
// skipped when none is running on localhost:4222.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestMirrorOverNATS(t *testing.T) {
	c := newTestClient(t)

	got := make(chan Event, 4)
	if err := c.SubscribeSession("test_mirror", func(data []byte) {
		var ev Event
		if err := json.Unmarshal(data, &ev); err == nil {
			got <- ev
		}
	}); err != nil {
		t.Fatalf("SubscribeSession() error: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	m := NewMirror("test_mirror", nil, c, nil)
	m.Present(session.PlayCue{Cue: session.CueMatched})

	select {
	case ev := <-got:
		if ev.Kind != KindCue || ev.Cue != "matched" || ev.Session != "test_mirror" {
			t.Errorf("received %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	if err := c.UnsubscribeSession("test_mirror"); err != nil {
		t.Errorf("UnsubscribeSession() error: %v", err)
	}
	if err := c.UnsubscribeSession("test_mirror"); err == nil {
		t.Error("expected error for second unsubscribe")
	}
}

func TestSessionSubject(t *testing.T) {
	if got := SessionSubject("abc"); got != "strangerchat.session.abc" {
		t.Errorf("SessionSubject() = %q", got)
	}
}

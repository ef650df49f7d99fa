package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/clock"
	"github.com/whisper/chat-client/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeTransport records what the session asks of the connection and lets
// the test drive callbacks for the current attempt.
type fakeTransport struct {
	sess    *Session
	attempt uint64
	open    bool
	opens   int
	closes  int
	sent    []protocol.Frame
}

func (f *fakeTransport) Open(string) uint64 {
	if f.open {
		return f.attempt
	}
	f.attempt++
	f.opens++
	return f.attempt
}

func (f *fakeTransport) Send(fr protocol.Frame) {
	if !f.open {
		return
	}
	f.sent = append(f.sent, fr)
}

func (f *fakeTransport) Close() {
	f.closes++
	if f.open {
		f.sent = append(f.sent, protocol.Leave())
	}
	f.open = false
}

func (f *fakeTransport) accept() {
	f.open = true
	f.sess.OnOpen(f.attempt)
}

func (f *fakeTransport) deliver(fr protocol.Frame) {
	f.sess.OnFrame(f.attempt, fr)
}

func (f *fakeTransport) drop() {
	f.open = false
	f.sess.OnClosed(f.attempt)
}

func (f *fakeTransport) sentOfType(typ string) int {
	n := 0
	for _, fr := range f.sent {
		if fr.FrameType() == typ {
			n++
		}
	}
	return n
}

type recordingPresenter struct {
	got []Presentation
}

func (p *recordingPresenter) Present(in Presentation) { p.got = append(p.got, in) }

func (p *recordingPresenter) reset() { p.got = nil }

func (p *recordingPresenter) messages() []chat.Message {
	var out []chat.Message
	for _, in := range p.got {
		if am, ok := in.(AppendMessage); ok {
			out = append(out, am.Message)
		}
	}
	return out
}

func (p *recordingPresenter) typingChanges() []bool {
	var out []bool
	for _, in := range p.got {
		if tv, ok := in.(SetTypingVisible); ok {
			out = append(out, tv.Visible)
		}
	}
	return out
}

func (p *recordingPresenter) notices() []Notice {
	var out []Notice
	for _, in := range p.got {
		if n, ok := in.(ShowNotice); ok {
			out = append(out, n.Notice)
		}
	}
	return out
}

func (p *recordingPresenter) count(match func(Presentation) bool) int {
	n := 0
	for _, in := range p.got {
		if match(in) {
			n++
		}
	}
	return n
}

// flush runs every queued event on the calling goroutine, standing in for
// Run so that tests stay deterministic.
func (s *Session) flush() {
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		default:
			return
		}
	}
}

type harness struct {
	t   *testing.T
	s   *Session
	tr  *fakeTransport
	pr  *recordingPresenter
	clk *clock.Fake
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	tr := &fakeTransport{}
	pr := &recordingPresenter{}
	cfg := DefaultConfig()
	cfg.Clock = clk
	s := New("sess-1", tr, pr, cfg)
	tr.sess = s
	return &harness{t: t, s: s, tr: tr, pr: pr, clk: clk}
}

func (h *harness) do(fn func()) {
	fn()
	h.s.flush()
}

func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
	h.s.flush()
}

func (h *harness) expectState(want State) {
	h.t.Helper()
	if got := h.s.Snapshot().State; got != want {
		h.t.Fatalf("state = %s, want %s", got, want)
	}
}

// matched drives a fresh session to Matched with partner p1.
func (h *harness) matched() {
	h.t.Helper()
	h.do(h.s.Start)
	h.do(h.tr.accept)
	h.do(func() { h.tr.deliver(protocol.MatchedFrame{Partner: "p1"}) })
	h.expectState(Matched)
	h.pr.reset()
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestScenarioMatchAndSend(t *testing.T) {
	h := newHarness(t)

	h.do(h.s.Start)
	h.expectState(Connecting)
	if h.tr.opens != 1 {
		t.Fatalf("expected one dial, got %d", h.tr.opens)
	}

	h.do(h.tr.accept)
	h.expectState(Waiting)

	h.do(func() { h.tr.deliver(protocol.MatchedFrame{Partner: "p1"}) })
	h.expectState(Matched)
	if p := h.s.Snapshot().Partner; p != "p1" {
		t.Fatalf("partner = %q, want p1", p)
	}

	h.do(func() { h.s.Send("hi") })

	if len(h.tr.sent) != 1 || h.tr.sent[0] != protocol.Message("hi") {
		t.Fatalf("expected one message frame, got %#v", h.tr.sent)
	}
	msgs := h.pr.messages()
	if len(msgs) != 1 || msgs[0].Text != "hi" || msgs[0].Origin != chat.OriginSelf {
		t.Fatalf("expected local echo of hi, got %+v", msgs)
	}
	if !msgs[0].At.Equal(epoch) {
		t.Errorf("message time = %v, want %v", msgs[0].At, epoch)
	}
}

func TestScenarioPartnerLeftThenRequestNew(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(func() { h.tr.deliver(protocol.LeftFrame{}) })
	h.expectState(Ended)
	if h.pr.count(func(p Presentation) bool { _, ok := p.(OfferNewPartner); return ok }) != 1 {
		t.Error("expected new-partner action to be offered")
	}

	h.do(func() { h.s.Send("hi") })
	if n := h.tr.sentOfType(protocol.TypeMessage); n != 0 {
		t.Fatalf("send after partner left transmitted %d frames", n)
	}

	h.do(h.s.RequestNew)
	h.expectState(Waiting)
	if n := h.tr.sentOfType(protocol.TypeNew); n != 1 {
		t.Fatalf("expected one new frame, got %d", n)
	}
	if h.tr.opens != 1 {
		t.Error("request-new must reuse the open connection")
	}

	h.do(func() { h.tr.deliver(protocol.WaitingFrame{}) })
	h.expectState(Waiting)
}

func TestScenarioConnectionLostDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(h.tr.drop)
	h.expectState(Ended)
	if snap := h.s.Snapshot(); snap.Partner != "" || snap.Connected {
		t.Fatalf("unexpected model after drop: %+v", snap)
	}
	notices := h.pr.notices()
	if len(notices) == 0 || notices[len(notices)-1] != NoticeConnectionLost {
		t.Errorf("expected connection lost notice, got %v", notices)
	}

	h.advance(time.Minute)
	h.do(h.s.Start)
	if h.tr.opens != 1 {
		t.Fatalf("expected no reconnection, got %d dials", h.tr.opens)
	}
	h.expectState(Ended)

	h.do(h.s.Leave)
	h.expectState(Idle)
	h.do(h.s.Start)
	h.expectState(Connecting)
	if h.tr.opens != 2 {
		t.Fatalf("expected start from idle to dial again, got %d dials", h.tr.opens)
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestSendIgnoredOutsideMatched(t *testing.T) {
	h := newHarness(t)

	h.do(func() { h.s.Send("idle") })
	h.do(h.s.Start)
	h.do(func() { h.s.Send("connecting") })
	h.do(h.tr.accept)
	h.do(func() { h.s.Send("waiting") })

	if len(h.tr.sent) != 0 {
		t.Fatalf("expected nothing transmitted, got %#v", h.tr.sent)
	}
	if msgs := h.pr.messages(); len(msgs) != 0 {
		t.Fatalf("expected no local echo, got %+v", msgs)
	}
}

func TestWaitingFrameIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.do(h.s.Start)
	h.do(h.tr.accept)
	h.pr.reset()

	for i := 0; i < 3; i++ {
		h.do(func() { h.tr.deliver(protocol.WaitingFrame{}) })
	}

	h.expectState(Waiting)
	if h.clk.Pending() != 0 {
		t.Errorf("waiting frames armed %d timers", h.clk.Pending())
	}
	if len(h.tr.sent) != 0 {
		t.Errorf("waiting frames caused outbound traffic: %#v", h.tr.sent)
	}
	clears := h.pr.count(func(p Presentation) bool { _, ok := p.(ClearTranscript); return ok })
	if clears != 3 {
		t.Errorf("expected the transcript reset on each waiting frame, got %d clears", clears)
	}
	for _, n := range h.pr.notices() {
		if n != NoticeWaiting {
			t.Errorf("unexpected notice %v", n)
		}
	}
}

func TestTypingRateLimit(t *testing.T) {
	h := newHarness(t)
	h.matched()

	for i := 0; i < 10; i++ {
		h.do(h.s.InputChanged)
		h.advance(20 * time.Millisecond)
	}

	if n := h.tr.sentOfType(protocol.TypeTyping); n != 1 {
		t.Fatalf("10 inputs in 200ms sent %d typing frames, want 1", n)
	}

	h.advance(DefaultTypingWindow)
	h.do(h.s.InputChanged)
	if n := h.tr.sentOfType(protocol.TypeTyping); n != 2 {
		t.Fatalf("expected a second typing frame after the window, got %d", n)
	}
}

func TestTypingCueDecaysOnce(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })
	h.advance(time.Second)
	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })

	// The second frame restarts the decay; the first deadline must not hide the cue.
	h.advance(2 * time.Second)
	if got := h.pr.typingChanges(); len(got) != 1 || !got[0] {
		t.Fatalf("typing cue changes = %v, want [true]", got)
	}

	h.advance(time.Second)
	h.advance(10 * time.Second)
	if got := h.pr.typingChanges(); len(got) != 2 || got[1] {
		t.Fatalf("typing cue changes = %v, want [true false]", got)
	}
	if h.s.Snapshot().PartnerTyping {
		t.Error("model still reports partner typing")
	}
}

func TestMessageClearsTypingCue(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })
	h.do(func() { h.tr.deliver(protocol.MessageFrame{Text: "hey"}) })
	h.advance(5 * time.Second)

	if got := h.pr.typingChanges(); len(got) != 2 || got[1] {
		t.Fatalf("typing cue changes = %v, want [true false]", got)
	}
	msgs := h.pr.messages()
	if len(msgs) != 1 || msgs[0].Origin != chat.OriginPartner || msgs[0].Text != "hey" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestTypingTimersDoNotLeakAcrossMatches(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })
	h.do(h.s.InputChanged)
	h.do(func() { h.tr.deliver(protocol.LeftFrame{}) })
	if h.clk.Pending() != 0 {
		t.Fatalf("timers still armed after leaving Matched: %d", h.clk.Pending())
	}

	h.do(h.s.RequestNew)
	h.do(func() { h.tr.deliver(protocol.MatchedFrame{Partner: "p2"}) })
	h.expectState(Matched)
	h.pr.reset()

	h.advance(10 * time.Second)
	if got := h.pr.typingChanges(); len(got) != 0 {
		t.Fatalf("timer from the previous match touched the typing cue: %v", got)
	}

	// The outbound window was reset along with the match.
	h.do(h.s.InputChanged)
	if n := h.tr.sentOfType(protocol.TypeTyping); n != 2 {
		t.Fatalf("expected a typing frame for the new partner, got %d total", n)
	}
}

func TestLeaveReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.matched()
	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })

	h.do(h.s.Leave)

	if snap := h.s.Snapshot(); snap != (Model{State: Idle}) {
		t.Fatalf("model after leave = %+v", snap)
	}
	if h.tr.closes != 1 || h.tr.sentOfType(protocol.TypeLeave) != 1 {
		t.Fatalf("expected close with leave frame, closes=%d sent=%#v", h.tr.closes, h.tr.sent)
	}
	if h.clk.Pending() != 0 {
		t.Errorf("timers still armed after leave: %d", h.clk.Pending())
	}
	last := h.pr.got[len(h.pr.got)-1]
	if last != (ShowScreen{Screen: ScreenStart}) {
		t.Errorf("last presentation = %#v, want start screen", last)
	}
}

// ---------------------------------------------------------------------------
// Staleness
// ---------------------------------------------------------------------------

func TestStaleAttemptIgnored(t *testing.T) {
	h := newHarness(t)

	h.do(h.s.Start)
	stale := h.tr.attempt
	h.do(h.s.Leave)
	h.do(h.s.Start)
	h.expectState(Connecting)

	h.do(func() { h.s.OnOpen(stale) })
	h.expectState(Connecting)
	h.do(func() { h.s.OnClosed(stale) })
	h.expectState(Connecting)

	h.do(h.tr.accept)
	h.expectState(Waiting)
	h.do(func() { h.s.OnFrame(stale, protocol.MatchedFrame{Partner: "ghost"}) })
	h.expectState(Waiting)
}

func TestReplacedTimerFireIsDropped(t *testing.T) {
	h := newHarness(t)
	h.matched()

	h.do(func() { h.tr.deliver(protocol.TypingFrame{}) })

	// Let the decay fire but keep its event queued, then restart the decay
	// ahead of it.
	h.clk.Advance(DefaultTypingDecay)
	h.s.handle(transportEvent{attempt: h.tr.attempt, ev: FrameReceived{Frame: protocol.TypingFrame{}}})
	h.s.flush()

	if !h.s.Snapshot().PartnerTyping {
		t.Fatal("superseded decay timer hid the typing cue")
	}
	h.advance(DefaultTypingDecay)
	if h.s.Snapshot().PartnerTyping {
		t.Fatal("current decay timer did not hide the typing cue")
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestLogLinesCarrySessionOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clk := clock.NewFake(epoch)
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.Clock = clk
	// Same shape as the process logger built by logging.New.
	cfg.Logger = zap.New(core).With(zap.String("session", "sess-log"))
	s := New("sess-log", tr, &recordingPresenter{}, cfg)
	tr.sess = s

	s.Start()
	s.flush()
	tr.accept()
	s.flush()

	entries := logs.All()
	if len(entries) == 0 {
		t.Fatal("expected state change log lines")
	}
	for _, e := range entries {
		n := 0
		for _, f := range e.Context {
			if f.Key == "session" {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%q has %d session fields, want 1", e.Message, n)
		}
	}
}

func TestRunTeardown(t *testing.T) {
	clk := clock.NewFake(epoch)
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.Clock = clk
	s := New("sess-run", tr, nil, cfg)
	tr.sess = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().State != Connecting {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the loop to process start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if tr.closes != 1 {
		t.Errorf("expected connection closed on teardown, closes=%d", tr.closes)
	}

	// Posting after teardown must not block.
	s.Leave()
	s.OnClosed(tr.attempt)
}

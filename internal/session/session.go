package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/clock"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/protocol"
)

// eventQueueSize bounds the number of events waiting for the loop. Posting to
// a full queue blocks the poster, which keeps transport ordering intact.
const eventQueueSize = 64

// Transport is the connection manager as seen by the session. Open returns an
// attempt id that is echoed back on every callback for that connection.
type Transport interface {
	Open(sessionID string) uint64
	Send(f protocol.Frame)
	Close()
}

// Presenter executes presentation intents. Present is always called from the
// session loop goroutine.
type Presenter interface {
	Present(p Presentation)
}

// PresenterFunc adapts a function to the Presenter interface.
type PresenterFunc func(p Presentation)

// Present calls f(p).
func (f PresenterFunc) Present(p Presentation) { f(p) }

// Config holds tunable parameters for a Session.
type Config struct {
	TypingWindow time.Duration // minimum gap between outbound typing frames
	TypingDecay  time.Duration // how long the partner typing cue stays up
	Clock        clock.Clock
	Logger       *zap.Logger // expected to carry the session field already, as logging.New does
}

// DefaultConfig returns a Config with the standard typing timings, the real
// clock and a no-op logger.
func DefaultConfig() Config {
	return Config{
		TypingWindow: DefaultTypingWindow,
		TypingDecay:  DefaultTypingDecay,
		Clock:        clock.Real(),
		Logger:       zap.NewNop(),
	}
}

// Session owns one visitor's chat lifecycle. All transitions run on the
// goroutine executing Run; every other method only posts an event.
type Session struct {
	id        string
	machine   Machine
	transport Transport
	presenter Presenter
	clock     clock.Clock
	logger    *zap.Logger

	mu    sync.RWMutex // guards model for Snapshot readers
	model Model

	// Loop-owned state.
	attempt      uint64
	timers       map[TimerKind]timerSlot
	timerGen     uint64
	waitingSince time.Time

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

type timerSlot struct {
	timer clock.Timer
	gen   uint64
}

// transportEvent tags a transport callback with its connection attempt.
type transportEvent struct {
	attempt uint64
	ev      Event
}

// timerEvent tags a timer expiry with the generation it was armed with.
type timerEvent struct {
	kind TimerKind
	gen  uint64
}

func (transportEvent) isEvent() {}
func (timerEvent) isEvent()     {}

// New creates an idle Session for the given session identifier.
func New(id string, transport Transport, presenter Presenter, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{
		id:        id,
		machine:   NewMachine(cfg.TypingWindow, cfg.TypingDecay),
		transport: transport,
		presenter: presenter,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		timers:    make(map[TimerKind]timerSlot),
		events:    make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current model.
func (s *Session) Snapshot() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Run processes events until ctx is cancelled, then tears the session down:
// timers are stopped and the connection is closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Start begins a new chat attempt. Ignored unless the session is idle.
func (s *Session) Start() { s.post(StartRequested{}) }

// Send sends text to the partner. Ignored unless matched.
func (s *Session) Send(text string) { s.post(SendRequested{Text: text, At: s.clock.Now()}) }

// InputChanged reports local typing activity.
func (s *Session) InputChanged() { s.post(InputChanged{}) }

// RequestNew asks for a different partner.
func (s *Session) RequestNew() { s.post(NewPartnerRequested{}) }

// Leave ends the attempt and returns to the start screen.
func (s *Session) Leave() { s.post(LeaveRequested{}) }

// ---------------------------------------------------------------------------
// Transport callbacks
// ---------------------------------------------------------------------------

// OnOpen is called by the transport when attempt reaches the open state.
func (s *Session) OnOpen(attempt uint64) {
	s.post(transportEvent{attempt: attempt, ev: TransportOpened{}})
}

// OnFrame is called by the transport for every decoded inbound frame.
func (s *Session) OnFrame(attempt uint64, f protocol.Frame) {
	s.post(transportEvent{attempt: attempt, ev: FrameReceived{Frame: f, At: s.clock.Now()}})
}

// OnClosed is called by the transport when attempt ends for any reason.
func (s *Session) OnClosed(attempt uint64) {
	s.post(transportEvent{attempt: attempt, ev: TransportClosed{}})
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) handle(ev Event) {
	switch e := ev.(type) {
	case transportEvent:
		if e.attempt != s.attempt {
			s.logger.Debug("dropping event from stale connection",
				zap.Uint64("attempt", e.attempt), zap.Uint64("current", s.attempt))
			return
		}
		ev = e.ev
	case timerEvent:
		slot, ok := s.timers[e.kind]
		if !ok || slot.gen != e.gen {
			return
		}
		delete(s.timers, e.kind)
		ev = TimerFired{Kind: e.kind}
	}

	s.mu.RLock()
	prev := s.model
	s.mu.RUnlock()

	if _, ok := ev.(InputChanged); ok && prev.State == Matched && prev.TypingWindow {
		metrics.TypingSuppressed.Inc()
	}

	next, intents := s.machine.Step(prev, ev)

	s.mu.Lock()
	s.model = next
	s.mu.Unlock()

	if next.State != prev.State {
		s.observeTransition(prev.State, next.State)
	}

	for _, in := range intents {
		s.execute(in)
	}
}

func (s *Session) execute(in Intent) {
	switch in := in.(type) {
	case OpenConnection:
		s.attempt = s.transport.Open(s.id)
	case CloseConnection:
		s.transport.Close()
	case SendFrame:
		s.transport.Send(in.Frame)
	case StartTimer:
		s.startTimer(in.Kind, in.After)
	case StopTimer:
		s.stopTimer(in.Kind)
	case Presentation:
		if s.presenter != nil {
			s.presenter.Present(in)
		}
	}
}

func (s *Session) observeTransition(from, to State) {
	s.logger.Info("session state changed",
		zap.Stringer("from", from), zap.Stringer("to", to))
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()

	now := s.clock.Now()
	switch {
	case to == Waiting:
		s.waitingSince = now
	case from == Waiting && to == Matched && !s.waitingSince.IsZero():
		metrics.MatchWait.Observe(now.Sub(s.waitingSince).Seconds())
		s.waitingSince = time.Time{}
	}
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

// startTimer arms the timer of the given kind, replacing any running one.
func (s *Session) startTimer(kind TimerKind, d time.Duration) {
	s.stopTimer(kind)
	s.timerGen++
	gen := s.timerGen
	t := s.clock.AfterFunc(d, func() {
		s.post(timerEvent{kind: kind, gen: gen})
	})
	s.timers[kind] = timerSlot{timer: t, gen: gen}
}

func (s *Session) stopTimer(kind TimerKind) {
	if slot, ok := s.timers[kind]; ok {
		slot.timer.Stop()
		delete(s.timers, kind)
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		for kind := range s.timers {
			s.stopTimer(kind)
		}
		s.transport.Close()
		s.logger.Info("session torn down")
	})
}

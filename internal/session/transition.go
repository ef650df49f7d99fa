package session

import (
	"time"

	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/protocol"
)

// Default typing timings.
const (
	DefaultTypingWindow = 700 * time.Millisecond
	DefaultTypingDecay  = 2500 * time.Millisecond
)

// Model is the complete state the transition function works on.
type Model struct {
	State   State
	Partner string // non-empty iff State == Matched

	Connected     bool // transport is open
	PartnerTyping bool // typing cue is visible
	TypingWindow  bool // an outbound typing frame went out less than one window ago
}

// Machine is the pure transition function, parameterised by typing timings.
type Machine struct {
	TypingWindow time.Duration
	TypingDecay  time.Duration
}

// NewMachine returns a Machine with the given timings; zero values fall back
// to the defaults.
func NewMachine(window, decay time.Duration) Machine {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if decay <= 0 {
		decay = DefaultTypingDecay
	}
	return Machine{TypingWindow: window, TypingDecay: decay}
}

// Step applies ev to m and returns the next model together with the intents
// to execute, in order. Events that are not valid in the current state
// return m unchanged and no intents.
func (mc Machine) Step(m Model, ev Event) (Model, []Intent) {
	switch ev := ev.(type) {
	case StartRequested:
		return mc.start(m)
	case SendRequested:
		return mc.send(m, ev)
	case InputChanged:
		return mc.inputChanged(m)
	case NewPartnerRequested:
		return mc.requestNew(m)
	case LeaveRequested:
		return mc.leave(m)
	case TransportOpened:
		return mc.opened(m)
	case TransportClosed:
		return mc.closed(m)
	case FrameReceived:
		return mc.frame(m, ev)
	case TimerFired:
		return mc.timer(m, ev)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

func (mc Machine) start(m Model) (Model, []Intent) {
	if m.State != Idle {
		return m, nil
	}
	m.State = Connecting
	return m, []Intent{
		ShowScreen{Screen: ScreenChat},
		ClearTranscript{},
		SetInputEnabled{Enabled: false},
		OpenConnection{},
	}
}

func (mc Machine) send(m Model, ev SendRequested) (Model, []Intent) {
	if m.State != Matched {
		return m, nil
	}
	text, err := chat.PrepareOutbound(ev.Text)
	if err != nil {
		return m, nil
	}
	return m, []Intent{
		SendFrame{Frame: protocol.Message(text)},
		AppendMessage{Message: chat.Message{Text: text, Origin: chat.OriginSelf, At: ev.At}},
	}
}

func (mc Machine) inputChanged(m Model) (Model, []Intent) {
	if m.State != Matched || m.TypingWindow {
		return m, nil
	}
	m.TypingWindow = true
	return m, []Intent{
		SendFrame{Frame: protocol.Typing()},
		StartTimer{Kind: TimerTypingWindow, After: mc.TypingWindow},
	}
}

func (mc Machine) requestNew(m Model) (Model, []Intent) {
	switch m.State {
	case Waiting, Matched, Ended:
	default:
		return m, nil
	}

	m, out := exitState(m, nil)
	m.Partner = ""
	out = append(out,
		ClearTranscript{},
		ShowNotice{Notice: NoticeSearchingNew},
		SetInputEnabled{Enabled: false},
	)

	if m.Connected {
		m.State = Waiting
		out = append(out, SendFrame{Frame: protocol.New()})
		return m, out
	}

	// The previous connection is gone; asking for a new partner is an
	// explicit user action, so it may dial a fresh one.
	m.State = Connecting
	out = append(out, OpenConnection{})
	return m, out
}

func (mc Machine) leave(m Model) (Model, []Intent) {
	if m.State == Idle {
		return m, nil
	}
	_, out := exitState(m, nil)
	out = append(out,
		CloseConnection{},
		ClearTranscript{},
		SetInputEnabled{Enabled: false},
		ShowScreen{Screen: ScreenStart},
	)
	return Model{State: Idle}, out
}

// ---------------------------------------------------------------------------
// Transport callbacks
// ---------------------------------------------------------------------------

func (mc Machine) opened(m Model) (Model, []Intent) {
	if m.State != Connecting {
		return m, nil
	}
	m.Connected = true
	m.State = Waiting
	return m, []Intent{
		ClearTranscript{},
		ShowNotice{Notice: NoticeSearching},
		SetInputEnabled{Enabled: false},
	}
}

func (mc Machine) closed(m Model) (Model, []Intent) {
	if m.State == Idle || (m.State == Ended && !m.Connected) {
		return m, nil
	}
	m, out := exitState(m, nil)
	m.State = Ended
	m.Partner = ""
	m.Connected = false
	out = append(out,
		ShowNotice{Notice: NoticeConnectionLost},
		SetInputEnabled{Enabled: false},
		PlayCue{Cue: CueDisconnected},
	)
	return m, out
}

func (mc Machine) frame(m Model, ev FrameReceived) (Model, []Intent) {
	switch f := ev.Frame.(type) {
	case protocol.MatchedFrame:
		if m.State != Waiting || f.Partner == "" {
			return m, nil
		}
		m, out := exitState(m, nil)
		m.State = Matched
		m.Partner = f.Partner
		out = append(out,
			ClearTranscript{},
			ShowNotice{Notice: NoticePartnerFound},
			SetInputEnabled{Enabled: true},
			PlayCue{Cue: CueMatched},
		)
		return m, out

	case protocol.WaitingFrame:
		if m.State != Waiting {
			return m, nil
		}
		return m, []Intent{
			ClearTranscript{},
			ShowNotice{Notice: NoticeWaiting},
			SetInputEnabled{Enabled: false},
		}

	case protocol.MessageFrame:
		if m.State != Matched {
			return m, nil
		}
		var out []Intent
		if m.PartnerTyping {
			m.PartnerTyping = false
			out = append(out, StopTimer{Kind: TimerTypingDecay}, SetTypingVisible{Visible: false})
		}
		origin := chat.OriginPartner
		if f.From == "me" {
			origin = chat.OriginSelf
		}
		out = append(out,
			AppendMessage{Message: chat.Message{Text: f.Text, Origin: origin, At: ev.At}},
			PlayCue{Cue: CueMessage},
		)
		return m, out

	case protocol.TypingFrame:
		if m.State != Matched {
			return m, nil
		}
		var out []Intent
		if !m.PartnerTyping {
			m.PartnerTyping = true
			out = append(out, SetTypingVisible{Visible: true})
		}
		out = append(out, StartTimer{Kind: TimerTypingDecay, After: mc.TypingDecay})
		return m, out

	case protocol.LeftFrame:
		if m.State != Matched {
			return m, nil
		}
		m, out := exitState(m, nil)
		m.State = Ended
		m.Partner = ""
		out = append(out,
			ShowNotice{Notice: NoticePartnerLeft},
			SetInputEnabled{Enabled: false},
			OfferNewPartner{},
			PlayCue{Cue: CuePartnerLeft},
		)
		return m, out
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

func (mc Machine) timer(m Model, ev TimerFired) (Model, []Intent) {
	switch ev.Kind {
	case TimerTypingDecay:
		if !m.PartnerTyping {
			return m, nil
		}
		m.PartnerTyping = false
		return m, []Intent{SetTypingVisible{Visible: false}}
	case TimerTypingWindow:
		m.TypingWindow = false
		return m, nil
	}
	return m, nil
}

// exitState cancels both session timers and hides the typing cue. It runs on
// every state change so no timer armed in one state can act in the next.
func exitState(m Model, out []Intent) (Model, []Intent) {
	if m.PartnerTyping {
		out = append(out, SetTypingVisible{Visible: false})
	}
	out = append(out,
		StopTimer{Kind: TimerTypingDecay},
		StopTimer{Kind: TimerTypingWindow},
	)
	m.PartnerTyping = false
	m.TypingWindow = false
	return m, out
}

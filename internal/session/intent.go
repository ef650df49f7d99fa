package session

import (
	"time"

	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/protocol"
)

// Intent is a side effect requested by the state machine.
type Intent interface {
	isIntent()
}

// Presentation is an Intent meant for the presentation layer. The Session
// executes every other intent itself.
type Presentation interface {
	Intent
	isPresentation()
}

// TimerKind names one of the two single-instance session timers.
type TimerKind int

const (
	// TimerTypingDecay hides the partner typing cue when it expires.
	TimerTypingDecay TimerKind = iota
	// TimerTypingWindow closes the outbound typing rate-limit window.
	TimerTypingWindow
)

func (k TimerKind) String() string {
	switch k {
	case TimerTypingDecay:
		return "typing_decay"
	case TimerTypingWindow:
		return "typing_window"
	default:
		return "unknown"
	}
}

// Screen is a top-level view of the presentation layer.
type Screen int

const (
	ScreenStart Screen = iota
	ScreenChat
)

func (s Screen) String() string {
	switch s {
	case ScreenStart:
		return "start"
	case ScreenChat:
		return "chat"
	default:
		return "unknown"
	}
}

// Notice is a system line shown in the transcript.
type Notice int

const (
	NoticeSearching Notice = iota
	NoticeWaiting
	NoticeSearchingNew
	NoticePartnerFound
	NoticePartnerLeft
	NoticeConnectionLost
)

func (n Notice) String() string {
	switch n {
	case NoticeSearching:
		return "Looking for a partner..."
	case NoticeWaiting:
		return "Waiting for a partner..."
	case NoticeSearchingNew:
		return "Looking for a new partner..."
	case NoticePartnerFound:
		return "Partner found!"
	case NoticePartnerLeft:
		return "Your partner left the chat."
	case NoticeConnectionLost:
		return "Connection lost."
	default:
		return ""
	}
}

// Cue is an audible or visual alert for a notable event.
type Cue int

const (
	CueMatched Cue = iota
	CueMessage
	CuePartnerLeft
	CueDisconnected
)

func (c Cue) String() string {
	switch c {
	case CueMatched:
		return "matched"
	case CueMessage:
		return "message"
	case CuePartnerLeft:
		return "partner_left"
	case CueDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection intents.
type (
	OpenConnection  struct{}
	CloseConnection struct{}
	SendFrame       struct{ Frame protocol.Frame }
)

// Timer intents. Starting a timer replaces any running timer of that kind.
type (
	StartTimer struct {
		Kind  TimerKind
		After time.Duration
	}
	StopTimer struct{ Kind TimerKind }
)

// Presentation intents.
type (
	ShowScreen       struct{ Screen Screen }
	ShowNotice       struct{ Notice Notice }
	AppendMessage    struct{ Message chat.Message }
	ClearTranscript  struct{}
	SetInputEnabled  struct{ Enabled bool }
	SetTypingVisible struct{ Visible bool }
	OfferNewPartner  struct{}
	PlayCue          struct{ Cue Cue }
)

func (OpenConnection) isIntent()   {}
func (CloseConnection) isIntent()  {}
func (SendFrame) isIntent()        {}
func (StartTimer) isIntent()       {}
func (StopTimer) isIntent()        {}
func (ShowScreen) isIntent()       {}
func (ShowNotice) isIntent()       {}
func (AppendMessage) isIntent()    {}
func (ClearTranscript) isIntent()  {}
func (SetInputEnabled) isIntent()  {}
func (SetTypingVisible) isIntent() {}
func (OfferNewPartner) isIntent()  {}
func (PlayCue) isIntent()          {}

func (ShowScreen) isPresentation()       {}
func (ShowNotice) isPresentation()       {}
func (AppendMessage) isPresentation()    {}
func (ClearTranscript) isPresentation()  {}
func (SetInputEnabled) isPresentation()  {}
func (SetTypingVisible) isPresentation() {}
func (OfferNewPartner) isPresentation()  {}
func (PlayCue) isPresentation()          {}

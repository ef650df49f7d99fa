package session

import (
	"time"

	"github.com/whisper/chat-client/internal/protocol"
)

// Event is an input to the state machine: a user action, a transport
// callback or a timer expiry.
type Event interface {
	isEvent()
}

// User actions.
type (
	// StartRequested asks for a new chat attempt from the start screen.
	StartRequested struct{}

	// SendRequested asks to send Text to the partner.
	SendRequested struct {
		Text string
		At   time.Time
	}

	// InputChanged reports an edit in the local message input.
	InputChanged struct{}

	// NewPartnerRequested asks to be re-queued for a different partner.
	NewPartnerRequested struct{}

	// LeaveRequested ends the attempt and returns to the start screen.
	LeaveRequested struct{}
)

// Transport callbacks.
type (
	// TransportOpened reports the connection reached the open state.
	TransportOpened struct{}

	// TransportClosed reports the connection ended, gracefully or not.
	TransportClosed struct{}

	// FrameReceived carries one decoded inbound frame.
	FrameReceived struct {
		Frame protocol.Frame
		At    time.Time
	}
)

// TimerFired reports expiry of the session timer of the given kind.
type TimerFired struct {
	Kind TimerKind
}

func (StartRequested) isEvent()      {}
func (SendRequested) isEvent()       {}
func (InputChanged) isEvent()        {}
func (NewPartnerRequested) isEvent() {}
func (LeaveRequested) isEvent()      {}
func (TransportOpened) isEvent()     {}
func (TransportClosed) isEvent()     {}
func (FrameReceived) isEvent()       {}
func (TimerFired) isEvent()          {}

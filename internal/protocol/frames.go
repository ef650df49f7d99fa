// Package protocol defines the frames exchanged with the matching service over
// the chat WebSocket. Every frame is a JSON object carrying a "type"
// discriminator plus type-specific fields. There are no sequence numbers or
// acknowledgements; ordering is whatever the transport delivers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Server -> Client frame types.
const (
	TypeMatched = "matched"
	TypeWaiting = "waiting"
	TypeLeft    = "left"
)

// Frame types used in both directions.
const (
	TypeMessage = "message"
	TypeTyping  = "typing"
)

// Client -> Server frame types.
const (
	TypeNew   = "new"
	TypeLeave = "leave"
)

// FromStranger is the "from" value the service puts on relayed messages.
const FromStranger = "stranger"

// ErrUnknownType is returned by ParseServerFrame for a well-formed frame whose
// type this client does not understand. Callers are expected to ignore such
// frames rather than treat them as fatal.
var ErrUnknownType = errors.New("protocol: unknown frame type")

// Frame is implemented by every concrete frame struct.
type Frame interface {
	FrameType() string
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into the right struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Server -> Client frames
// ---------------------------------------------------------------------------

// MatchedFrame announces that a partner has been paired with this session.
type MatchedFrame struct {
	Partner string `json:"partner"`
}

// WaitingFrame says the session is queued without a partner.
type WaitingFrame struct{}

// LeftFrame says the partner ended the chat.
type LeftFrame struct{}

// ---------------------------------------------------------------------------
// Bidirectional frames
// ---------------------------------------------------------------------------

// MessageFrame carries chat text. From is only set on inbound frames.
type MessageFrame struct {
	Text string `json:"text"`
	From string `json:"from,omitempty"`
}

// TypingFrame is the ephemeral "partner is typing" signal.
type TypingFrame struct{}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// NewFrame asks the service to re-queue this session for a different partner.
type NewFrame struct{}

// LeaveFrame voluntarily ends the current attempt.
type LeaveFrame struct{}

func (MatchedFrame) FrameType() string { return TypeMatched }
func (WaitingFrame) FrameType() string { return TypeWaiting }
func (LeftFrame) FrameType() string    { return TypeLeft }
func (MessageFrame) FrameType() string { return TypeMessage }
func (TypingFrame) FrameType() string  { return TypeTyping }
func (NewFrame) FrameType() string     { return TypeNew }
func (LeaveFrame) FrameType() string   { return TypeLeave }

// Message builds an outbound chat frame.
func Message(text string) MessageFrame { return MessageFrame{Text: text} }

// Typing builds an outbound typing frame.
func Typing() TypingFrame { return TypingFrame{} }

// New builds an outbound re-queue request.
func New() NewFrame { return NewFrame{} }

// Leave builds an outbound leave notice.
func Leave() LeaveFrame { return LeaveFrame{} }

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerFrame parses raw WebSocket bytes into a typed inbound frame.
// Unknown types yield ErrUnknownType wrapped with the offending type name so
// the caller can log it and move on.
func ParseServerFrame(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		frame Frame
		err   error
	)

	switch env.Type {
	case TypeMatched:
		var f MatchedFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeWaiting:
		frame = WaitingFrame{}
	case TypeMessage:
		var f MessageFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeTyping:
		frame = TypingFrame{}
	case TypeLeft:
		frame = LeftFrame{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return frame, nil
}

// EncodeFrame marshals a frame to JSON with its "type" key injected next to
// the frame's own fields.
func EncodeFrame(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{}, 1)
	}

	m["type"] = f.FrameType()

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal frame: %w", err)
	}
	return out, nil
}

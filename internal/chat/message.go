// Package chat holds the client-side message model: what a line of the
// transcript is and how outbound text is prepared before it goes on the wire.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextChars is the longest message the matching service relays; longer
// text is cut server-side, so the client cuts it first to keep the local echo
// identical to what the partner sees.
const MaxTextChars = 500

// ErrEmpty is returned for text that is blank after trimming.
var ErrEmpty = errors.New("chat: message text is empty")

// ErrInvalidUTF8 is returned for text that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("chat: message contains invalid UTF-8")

// Origin says who wrote a message.
type Origin int

const (
	OriginSelf Origin = iota
	OriginPartner
)

func (o Origin) String() string {
	switch o {
	case OriginSelf:
		return "self"
	case OriginPartner:
		return "partner"
	default:
		return "unknown"
	}
}

// Message is one chat line. It lives only in the rendered transcript.
type Message struct {
	Text   string
	Origin Origin
	At     time.Time
}

// PrepareOutbound trims text and checks it can be sent. Text longer than
// MaxTextChars is truncated on a rune boundary.
func PrepareOutbound(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if !utf8.ValidString(text) {
		return "", ErrInvalidUTF8
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		runes := []rune(text)
		text = string(runes[:MaxTextChars])
	}
	return text, nil
}

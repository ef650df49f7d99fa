package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/session"
)

// Publisher is the part of NATSClient the Mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event kinds, one per presentation intent.
const (
	KindScreen   = "screen"
	KindNotice   = "notice"
	KindMessage  = "message"
	KindClear    = "clear"
	KindInput    = "input"
	KindTyping   = "typing"
	KindOfferNew = "offer_new"
	KindCue      = "cue"
)

// Event is the JSON document published for every mirrored presentation.
type Event struct {
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`

	Screen string `json:"screen,omitempty"`
	Notice string `json:"notice,omitempty"`
	Text   string `json:"text,omitempty"`
	Origin string `json:"origin,omitempty"`
	On     *bool  `json:"on,omitempty"` // input enabled / typing visible
	Cue    string `json:"cue,omitempty"`
}

// NewEvent converts a presentation intent into an Event.
func NewEvent(sessionID string, p session.Presentation, at time.Time) (Event, error) {
	ev := Event{Session: sessionID, At: at}
	switch p := p.(type) {
	case session.ShowScreen:
		ev.Kind = KindScreen
		ev.Screen = p.Screen.String()
	case session.ShowNotice:
		ev.Kind = KindNotice
		ev.Notice = p.Notice.String()
	case session.AppendMessage:
		ev.Kind = KindMessage
		ev.Text = p.Message.Text
		ev.Origin = p.Message.Origin.String()
		if !p.Message.At.IsZero() {
			ev.At = p.Message.At
		}
	case session.ClearTranscript:
		ev.Kind = KindClear
	case session.SetInputEnabled:
		ev.Kind = KindInput
		ev.On = &p.Enabled
	case session.SetTypingVisible:
		ev.Kind = KindTyping
		ev.On = &p.Visible
	case session.OfferNewPartner:
		ev.Kind = KindOfferNew
	case session.PlayCue:
		ev.Kind = KindCue
		ev.Cue = p.Cue.String()
	default:
		return Event{}, fmt.Errorf("messaging: unsupported presentation %T", p)
	}
	return ev, nil
}

// Mirror is a session.Presenter that forwards every presentation to the
// wrapped presenter and publishes it as an Event. Publishing is best-effort.
type Mirror struct {
	sessionID string
	subject   string
	next      session.Presenter
	pub       Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewMirror wraps next. next may be nil when only the mirror is wanted.
func NewMirror(sessionID string, next session.Presenter, pub Publisher, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		sessionID: sessionID,
		subject:   SessionSubject(sessionID),
		next:      next,
		pub:       pub,
		now:       time.Now,
		logger:    logger.Named("mirror"),
	}
}

// Present implements session.Presenter.
func (m *Mirror) Present(p session.Presentation) {
	if m.next != nil {
		m.next.Present(p)
	}

	ev, err := NewEvent(m.sessionID, p, m.now())
	if err != nil {
		m.logger.Debug("skipping presentation", zap.Error(err))
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("encode event", zap.Error(err))
		return
	}
	if err := m.pub.Publish(m.subject, data); err != nil {
		m.logger.Warn("publish event", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

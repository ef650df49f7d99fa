package chat

import "time"

// MaxTranscriptLines is the number of recent lines a Transcript retains.
const MaxTranscriptLines = 200

// LineKind distinguishes chat messages from system notices.
type LineKind int

const (
	LineMessage LineKind = iota
	LineNotice
)

// Line is one rendered transcript entry.
type Line struct {
	Kind    LineKind
	Message Message // set for LineMessage
	Notice  string  // set for LineNotice
	At      time.Time
}

// Transcript keeps the last MaxTranscriptLines lines in a ring buffer. It is
// owned by a single presenter goroutine and is not goroutine-safe.
type Transcript struct {
	items []Line
	pos   int
	count int
}

// NewTranscript creates an empty Transcript.
func NewTranscript() *Transcript {
	return &Transcript{items: make([]Line, MaxTranscriptLines)}
}

// AddMessage appends a chat message.
func (t *Transcript) AddMessage(m Message) {
	t.add(Line{Kind: LineMessage, Message: m, At: m.At})
}

// AddNotice appends a system notice.
func (t *Transcript) AddNotice(text string, at time.Time) {
	t.add(Line{Kind: LineNotice, Notice: text, At: at})
}

func (t *Transcript) add(l Line) {
	t.items[t.pos] = l
	t.pos = (t.pos + 1) % MaxTranscriptLines
	if t.count < MaxTranscriptLines {
		t.count++
	}
}

// Lines returns the retained lines oldest first.
func (t *Transcript) Lines() []Line {
	result := make([]Line, t.count)
	// The oldest line is at position (pos - count) mod MaxTranscriptLines.
	start := (t.pos - t.count + MaxTranscriptLines) % MaxTranscriptLines
	for i := 0; i < t.count; i++ {
		result[i] = t.items[(start+i)%MaxTranscriptLines]
	}
	return result
}

// Len returns the number of retained lines.
func (t *Transcript) Len() int { return t.count }

// Clear drops every line.
func (t *Transcript) Clear() {
	t.pos = 0
	t.count = 0
}

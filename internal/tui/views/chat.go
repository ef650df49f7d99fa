package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whisper/chat-client/internal/chat"
)

const typingText = "[gray::i]Stranger is typing...[-::-]"

// ChatView shows the transcript, the typing line, a status line and the
// composer.
type ChatView struct {
	*tview.Flex
	transcript *tview.TextView
	typing     *tview.TextView
	status     *tview.TextView
	Composer   *tview.InputField

	enabled bool
	online  int
	hint    string
	flash   string
	onSend  func(text string)
	onInput func()
}

// NewChatView creates the chat screen.
func NewChatView() *ChatView {
	transcript := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	transcript.SetBorder(true)
	transcript.SetTitle(" Stranger ")

	typing := tview.NewTextView().SetDynamicColors(true)
	status := tview.NewTextView().SetDynamicColors(true)
	status.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(transcript, 0, 1, false).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 1, 0, true).
		AddItem(status, 1, 0, false)

	cv := &ChatView{
		Flex:       flex,
		transcript: transcript,
		typing:     typing,
		status:     status,
		Composer:   composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && cv.onSend != nil {
			text := composer.GetText()
			if strings.TrimSpace(text) != "" {
				cv.onSend(text)
				composer.SetText("")
			}
		}
	})
	composer.SetChangedFunc(func(text string) {
		// Clearing the field after a send is not typing.
		if text != "" && cv.onInput != nil {
			cv.onInput()
		}
	})

	cv.renderStatus()
	return cv
}

// SetOnSend sets the callback for Enter in the composer.
func (cv *ChatView) SetOnSend(fn func(text string)) { cv.onSend = fn }

// SetOnInput sets the callback for edits in the composer.
func (cv *ChatView) SetOnInput(fn func()) { cv.onInput = fn }

// Render redraws the transcript from t and scrolls to the end.
func (cv *ChatView) Render(t *chat.Transcript) {
	cv.transcript.Clear()
	for _, l := range t.Lines() {
		fmt.Fprintln(cv.transcript, formatLine(l))
	}
	cv.transcript.ScrollToEnd()
}

func formatLine(l chat.Line) string {
	if l.Kind == chat.LineNotice {
		return fmt.Sprintf("[gray]%s  %s[-]", l.At.Format("15:04"), tview.Escape(l.Notice))
	}
	who := "[green]Stranger[-]"
	if l.Message.Origin == chat.OriginSelf {
		who = "[yellow]You[-]"
	}
	return fmt.Sprintf("[gray]%s[-] %s: %s", l.At.Format("15:04"), who, tview.Escape(l.Message.Text))
}

// SetInputEnabled enables or disables the composer.
func (cv *ChatView) SetInputEnabled(enabled bool) {
	cv.enabled = enabled
	cv.Composer.SetDisabled(!enabled)
	if !enabled {
		cv.Composer.SetText("")
	}
}

// InputEnabled reports whether the composer accepts text.
func (cv *ChatView) InputEnabled() bool {
	return cv.enabled
}

// SetTypingVisible shows or hides the partner typing line.
func (cv *ChatView) SetTypingVisible(visible bool) {
	cv.typing.Clear()
	if visible {
		fmt.Fprint(cv.typing, typingText)
	}
}

// TypingVisible reports whether the typing line is shown.
func (cv *ChatView) TypingVisible() bool {
	return cv.typing.GetText(false) != ""
}

// SetHint sets the persistent action hint, such as the new-partner offer.
func (cv *ChatView) SetHint(hint string) {
	cv.hint = hint
	cv.renderStatus()
}

// SetFlash sets a short event message in the status line.
func (cv *ChatView) SetFlash(msg string) {
	cv.flash = msg
	cv.renderStatus()
}

// SetOnline updates the online counter.
func (cv *ChatView) SetOnline(n int) {
	cv.online = n
	cv.renderStatus()
}

// Status returns the plain text of the status line.
func (cv *ChatView) Status() string {
	return cv.status.GetText(true)
}

// TranscriptText returns the plain text of the transcript.
func (cv *ChatView) TranscriptText() string {
	return cv.transcript.GetText(true)
}

func (cv *ChatView) renderStatus() {
	cv.status.Clear()
	fmt.Fprintf(cv.status, " online: %d", cv.online)
	if cv.flash != "" {
		fmt.Fprintf(cv.status, " | [yellow]%s[-]", tview.Escape(cv.flash))
	}
	if cv.hint != "" {
		fmt.Fprintf(cv.status, " | [::b]%s[::-]", tview.Escape(cv.hint))
	}
	fmt.Fprint(cv.status, " | Ctrl-N new  Esc leave")
}

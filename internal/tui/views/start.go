package views

import (
	"fmt"

	"github.com/rivo/tview"
)

// StartPage is the landing screen: title, online counter and start hint.
type StartPage struct {
	*tview.TextView
	online int
	known  bool
}

// NewStartPage creates the start screen.
func NewStartPage() *StartPage {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetTitle(" strangerchat ")

	sp := &StartPage{TextView: tv}
	sp.render()
	return sp
}

// SetOnline updates the online counter.
func (sp *StartPage) SetOnline(n int) {
	sp.online = n
	sp.known = true
	sp.render()
}

func (sp *StartPage) render() {
	sp.Clear()
	online := "online: ..."
	if sp.known {
		online = fmt.Sprintf("online: %d", sp.online)
	}
	fmt.Fprintf(sp, "\n\n[::b]Talk to a random stranger[::-]\n\n[gray]%s[-]\n\n", online)
	fmt.Fprint(sp, "[yellow]Enter[-] start   [yellow]Ctrl-C[-] quit")
}

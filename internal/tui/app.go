// Package tui is the terminal presentation layer: it renders session
// presentations with tview and turns key presses into session actions.
package tui

import (
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whisper/chat-client/internal/chat"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/tui/views"
)

const (
	pageStart = "start"
	pageChat  = "chat"

	offerNewHint = "Ctrl-N: find a new partner"
)

// Actions are the user actions the UI can trigger. *session.Session
// implements it.
type Actions interface {
	Start()
	Send(text string)
	InputChanged()
	RequestNew()
	Leave()
}

// App is the main TUI application shell.
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	start      *views.StartPage
	chatView   *views.ChatView
	transcript *chat.Transcript
	actions    Actions
	now        func() time.Time

	onStartShown func()

	// Updates waiting for the UI goroutine, in presentation order. Callers
	// only append under mu; pump hands them to tview.
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewApp creates the TUI application bound to actions.
func NewApp(actions Actions) *App {
	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		start:      views.NewStartPage(),
		chatView:   views.NewChatView(),
		transcript: chat.NewTranscript(),
		actions:    actions,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}

	a.setupCallbacks()
	a.setupLayout()
	return a
}

// SetActions binds the UI to actions. It must be called before Run.
func (a *App) SetActions(actions Actions) {
	a.actions = actions
}

// SetOnStartShown registers fn to run (on the UI goroutine) whenever the start
// screen is shown again after a chat.
func (a *App) SetOnStartShown(fn func()) {
	a.onStartShown = fn
}

func (a *App) setupCallbacks() {
	a.chatView.SetOnSend(func(text string) { a.actions.Send(text) })
	a.chatView.SetOnInput(func() { a.actions.InputChanged() })
	a.chatView.SetInputEnabled(false)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageStart, a.start, true, true)
	a.pages.AddPage(pageChat, a.chatView, true, false)

	a.app.SetRoot(a.pages, true)
	a.app.SetInputCapture(a.handleKey)
}

// handleKey implements the global bindings. Ctrl-C is left to tview, which
// stops the application.
func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if a.dispatch(event.Key()) {
		return nil
	}
	return event
}

// dispatch runs the action bound to k on the current page and reports
// whether k was consumed.
func (a *App) dispatch(k tcell.Key) bool {
	page, _ := a.pages.GetFrontPage()

	switch page {
	case pageStart:
		if k == tcell.KeyEnter {
			a.actions.Start()
			return true
		}
	case pageChat:
		switch k {
		case tcell.KeyCtrlN:
			a.actions.RequestNew()
			return true
		case tcell.KeyEscape:
			a.actions.Leave()
			return true
		}
	}
	return false
}

// Present implements session.Presenter. It never waits for the UI: the
// change is queued and applied on the UI goroutine in presentation order.
func (a *App) Present(p session.Presentation) {
	a.enqueue(func() { a.apply(p) })
}

// SetOnline updates the online counter on both screens.
func (a *App) SetOnline(n int) {
	a.enqueue(func() {
		a.start.SetOnline(n)
		a.chatView.SetOnline(n)
	})
}

func (a *App) enqueue(fn func()) {
	a.mu.Lock()
	a.pending = append(a.pending, fn)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// pump moves queued updates to the UI goroutine until done is closed.
// QueueUpdateDraw blocks until the update has run, so it is only ever called
// from here.
func (a *App) pump(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-a.wake:
		}

		a.mu.Lock()
		batch := a.pending
		a.pending = nil
		a.mu.Unlock()
		if len(batch) == 0 {
			continue
		}

		a.app.QueueUpdateDraw(func() {
			for _, fn := range batch {
				fn()
			}
		})
	}
}

// apply executes one presentation. It runs on the UI goroutine.
func (a *App) apply(p session.Presentation) {
	switch p := p.(type) {
	case session.ShowScreen:
		a.showScreen(p.Screen)
	case session.ShowNotice:
		a.transcript.AddNotice(p.Notice.String(), a.now())
		a.chatView.Render(a.transcript)
	case session.AppendMessage:
		a.transcript.AddMessage(p.Message)
		a.chatView.Render(a.transcript)
	case session.ClearTranscript:
		a.transcript.Clear()
		a.chatView.Render(a.transcript)
		a.chatView.SetHint("")
		a.chatView.SetFlash("")
	case session.SetInputEnabled:
		a.chatView.SetInputEnabled(p.Enabled)
		if p.Enabled {
			a.app.SetFocus(a.chatView.Composer)
		}
	case session.SetTypingVisible:
		a.chatView.SetTypingVisible(p.Visible)
	case session.OfferNewPartner:
		a.chatView.SetHint(offerNewHint)
	case session.PlayCue:
		a.chatView.SetFlash(cueText(p.Cue))
	}
}

func (a *App) showScreen(s session.Screen) {
	switch s {
	case session.ScreenStart:
		a.pages.SwitchToPage(pageStart)
		a.app.SetFocus(a.start)
		if a.onStartShown != nil {
			a.onStartShown()
		}
	case session.ScreenChat:
		a.pages.SwitchToPage(pageChat)
		a.app.SetFocus(a.chatView.Composer)
	}
}

func cueText(c session.Cue) string {
	switch c {
	case session.CueMatched:
		return "connected to a stranger"
	case session.CueMessage:
		return "new message"
	case session.CuePartnerLeft:
		return "stranger disconnected"
	case session.CueDisconnected:
		return "connection lost"
	default:
		return ""
	}
}

// Run starts the TUI application and blocks until it stops.
func (a *App) Run() error {
	done := make(chan struct{})
	defer close(done)
	go a.pump(done)

	// Updates queued before Run are applied on the first pass.
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return a.app.Run()
}

// Stop shuts down the TUI.
func (a *App) Stop() {
	a.app.Stop()
}

// Package session implements the client-side chat session: a pure transition
// function from (model, event) to (model, intents) and a Session value that
// owns the event loop, the typing timers and the transport handle, and hands
// presentation intents to an external Presenter.
package session

// State is a session lifecycle state.
type State int

const (
	Idle       State = iota // no attempt in progress
	Connecting              // transport requested, awaiting open
	Waiting                 // connected and queued, no partner yet
	Matched                 // partner reference set
	Ended                   // partner left or connection dropped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case Matched:
		return "matched"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

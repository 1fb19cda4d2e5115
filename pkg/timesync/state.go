// ABOUTME: Push session states and the one-shot initialization outcome
// ABOUTME: State names follow the Disconnected -> Connecting -> Connected -> Synced cycle
package timesync

// State is the push session's connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // channel open, no valid sample yet
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSynced:
		return "synced"
	default:
		return "disconnected"
	}
}

// initOutcome is settled exactly once, by the first valid sample or by the
// init deadline, whichever comes first. Only the event loop settles it, or
// Stop when the loop never ran.
type initOutcome struct {
	settled bool
	err     error
	done    chan struct{}
}

func newInitOutcome() *initOutcome {
	return &initOutcome{done: make(chan struct{})}
}

// settle records the outcome; later calls are no-ops and return false
func (o *initOutcome) settle(err error) bool {
	if o.settled {
		return false
	}
	o.settled = true
	o.err = err
	close(o.done)
	return true
}

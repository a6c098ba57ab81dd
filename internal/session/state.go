package session

// State is the lifecycle state of the session.
type State int

const (
	Idle State = iota
	Connecting
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	}
	return "unknown"
}

// Status is what the presentation layer observes.
type Status struct {
	State          State
	Online         bool // channel connected and local media acquired
	Connecting     bool
	AudioAvailable bool
}

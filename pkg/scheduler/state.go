// pkg/scheduler/state.go

package scheduler

// State is where a connection's sync currently is.
type State int

const (
	Idle State = iota
	Authenticating
	Fetching
	Reconciling
	// Error is entered on an authentication or transport failure and left
	// for Idle once the pass has been abandoned.
	Error
)

// States lists every state in declaration order.
var States = []State{Idle, Authenticating, Fetching, Reconciling, Error}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case Fetching:
		return "fetching"
	case Reconciling:
		return "reconciling"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// next reports whether moving from s to t is a legal transition.
func (s State) next(t State) bool {
	switch s {
	case Idle:
		return t == Authenticating
	case Authenticating:
		return t == Fetching || t == Error
	case Fetching:
		return t == Reconciling || t == Fetching || t == Error || t == Idle
	case Reconciling:
		return t == Fetching || t == Error || t == Idle
	case Error:
		return t == Idle
	}
	return false
}

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = s.String()
	}
	return out
}

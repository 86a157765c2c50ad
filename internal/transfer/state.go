package transfer

type State int

const (
	StateIdle State = iota
	StatePreparing
	StateTransferring
	StateCompleting
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateTransferring:
		return "transferring"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether a session in this state is finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

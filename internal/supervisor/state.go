package supervisor

// State is the lifecycle state of the supervised backend.
type State int

const (
	// StateIdle means no process has been started yet.
	StateIdle State = iota
	// StateStarting means the process has been spawned but not confirmed running.
	StateStarting
	// StateRunning means the process is alive.
	StateRunning
	// StateStopping means a shutdown has been requested.
	StateStopping
	// StateStopped means the process exited after a requested shutdown.
	StateStopped
	// StateFailed means the process could not be started or exited on its own.
	StateFailed
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Alive reports whether a process exists in this state.
func (s State) Alive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

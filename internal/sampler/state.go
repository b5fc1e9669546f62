package sampler

// State is the lifecycle state of a Loop.
type State int32

const (
	StateIdle State = iota
	StateAttached
	StateSampling
	// StatePaused marks a loop whose last pass could not read the target,
	// typically while the process is exiting.
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttached:
		return "attached"
	case StateSampling:
		return "sampling"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

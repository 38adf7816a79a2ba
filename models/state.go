package models

// StageState tracks a single stage run. Succeeded and Failed are terminal:
// running the stage again starts a new run with its own state.
type StageState int

const (
	StageIdle StageState = iota
	StageRunning
	StageSucceeded
	StageFailed
)

func (s StageState) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRunning:
		return "running"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run is over and its state is final.
func (s StageState) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

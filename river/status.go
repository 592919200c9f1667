package river

import (
	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Poll loop states
 */
type Phase int

const (
	Idle Phase = iota
	Polling
	Translating
	Writing
	CheckpointCommit
	BackoffWait
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Translating:
		return "translating"
	case Writing:
		return "writing"
	case CheckpointCommit:
		return "checkpoint-commit"
	case BackoffWait:
		return "backoff-wait"
	case Terminated:
		return "terminated"
	}

	return "unknown"
}

/*
 * Coarse state for the readers of a river status
 */
type State string

const (
	Running         State = "running"
	BackingOff      State = "backing-off"
	StateTerminated State = "terminated"
)

/*
 * Snapshot of a river's progress
 */
type Status struct {
	Name       string
	Phase      Phase
	Checkpoint pdk.Checkpoint

	// Consecutive failed cycles, reset by a successful one
	Failures  int
	LastError error

	// Number of completed cycles
	Cycles uint64

	// Totals since the river start
	Applied uint64
	Skipped uint64
}

func (s Status) State() State {
	switch s.Phase {
	case Terminated:
		return StateTerminated
	case BackoffWait:
		return BackingOff
	}

	return Running
}

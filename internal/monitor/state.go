package monitor

import "fmt"

// State is the lifecycle position of one channel pass.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateEvaluating  State = "EVALUATING"
	StateDispatching State = "DISPATCHING"
	StateCommitting  State = "COMMITTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// IsTerminal reports whether the pass is finished.
func (s State) IsTerminal() bool { return s == StateDone || s == StateFailed }

// transition validates from -> to. Items are marked notified inside DISPATCHING, right after
// each send; COMMITTING only records that the pass completed (the has-run flag).
func transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed pass transition: %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateFetching
	case StateFetching:
		return to == StateEvaluating || to == StateFailed
	case StateEvaluating:
		return to == StateDispatching || to == StateFailed
	case StateDispatching:
		// DONE directly only for dry runs, which commit nothing.
		return to == StateCommitting || to == StateDone || to == StateFailed
	case StateCommitting:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

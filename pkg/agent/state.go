package agent

import "fmt"

// State is the Agent Actor's control state. Exactly one of the human and
// the model/tool loop owns the turn at any time.
type State string

const (
	// StateAwaitingUser: the human owns the turn.
	StateAwaitingUser State = "AWAITING_USER"
	// StateRunning: a completion is outstanding at the LLM actor.
	StateRunning State = "RUNNING"
	// StateAwaitingTool: a tool batch is outstanding at the Tool-Call actor.
	StateAwaitingTool State = "AWAITING_TOOL_RESULT"
	// StateTerminating: session wind-down; everything in flight is stale.
	StateTerminating State = "TERMINATING"
)

// validTransitions is the control-flow contract. Terminating is reachable
// from every state.
var validTransitions = map[State][]State{
	StateAwaitingUser: {StateRunning, StateTerminating},
	StateRunning:      {StateAwaitingUser, StateAwaitingTool, StateTerminating},
	StateAwaitingTool: {StateRunning, StateAwaitingUser, StateTerminating},
	StateTerminating:  {},
}

func (a *Actor) transitionTo(next State) error {
	if a.state == next {
		return nil
	}
	for _, allowed := range validTransitions[a.state] {
		if allowed == next {
			a.logger.Debug("state %s -> %s", a.state, next)
			a.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", a.state, next)
}

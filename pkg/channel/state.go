package channel

import "fmt"

// State is the lifecycle position of a channel. Valid transitions are
// enforced; anything else is a programming error surfaced to the caller.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) transitionTo(newState State) (State, error) {
	switch s {
	case StateDisconnected:
		if newState == StateConnecting {
			return newState, nil
		}
	case StateConnecting:
		switch newState {
		case StateOpen, StateDisconnected:
			return newState, nil
		}
	case StateOpen:
		switch newState {
		case StateClosing, StateDisconnected:
			return newState, nil
		}
	case StateClosing:
		if newState == StateDisconnected {
			return newState, nil
		}
	}
	return s, fmt.Errorf("invalid channel state transition from %v to %v", s, newState)
}

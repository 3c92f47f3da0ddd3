// Package session runs one palm reading at a time: camera, detection,
// countdown, capture, prediction, and the view that reflects each step.
package session

// State is a step of a reading session.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateDetecting  State = "detecting"
	StateWaiting    State = "waiting"
	StateCountdown  State = "countdown"
	StateCapturing  State = "capturing"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
	StateError      State = "error"
)

// transitions lists the states reachable from each state. Every
// non-terminal state may also fail into StateError.
var transitions = map[State][]State{
	StateIdle:       {StateAcquiring},
	StateAcquiring:  {StateDetecting, StateWaiting},
	StateDetecting:  {StateCountdown, StateCapturing},
	StateWaiting:    {StateCountdown, StateCapturing},
	StateCountdown:  {StateCapturing},
	StateCapturing:  {StateSubmitting},
	StateSubmitting: {StateDone},
	StateDone:       {StateAcquiring, StateIdle},
	StateError:      {StateAcquiring, StateIdle},
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	if next == StateError && s != StateIdle && !s.Terminal() {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

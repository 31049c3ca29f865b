package lifecycle

import "github.com/armatureio/armature/pkg/domain"

// transitions is the lifecycle state machine. Failed is reachable from any
// state; Unloaded only from Stopped. Stopped, Failed, and Unloaded may
// re-enter Resolved, which is how restarts, retries, and reloads begin a new
// attempt.
var transitions = map[domain.State][]domain.State{
	domain.StateRegistered:   {domain.StateResolved},
	domain.StateResolved:     {domain.StateInitializing},
	domain.StateInitializing: {domain.StateInitialized},
	domain.StateInitialized:  {domain.StateStarting},
	domain.StateStarting:     {domain.StateRunning},
	domain.StateRunning:      {domain.StateStopping},
	domain.StateStopping:     {domain.StateStopped},
	domain.StateStopped:      {domain.StateResolved, domain.StateUnloaded},
	domain.StateFailed:       {domain.StateResolved},
	domain.StateUnloaded:     {domain.StateResolved},
}

// ValidTransition reports whether the state machine permits from -> to.
func ValidTransition(from, to domain.State) bool {
	if to == domain.StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package engine

import "slices"

// Phases in which each user-initiated event may be applied. Events missing
// from this table come from the backend and are checked by Apply itself.
var UserActions = map[EventType][]Phase{
	EvtJoinRequested: {PhaseIdle},
	EvtExitRequested: {PhaseIdle, PhaseSearching, PhaseMatched, PhaseInSession},
	EvtSkipRequested: {PhaseMatched, PhaseInSession},
	EvtContinueChat:  {PhaseMatched, PhaseInSession},
	EvtKeepMatching:  {PhaseMatched, PhaseInSession},
	EvtSendMessage:   {PhaseMatched, PhaseInSession},
	EvtLikeRequested: {PhaseMatched, PhaseInSession},
}

func allowed(phase Phase, evt EventType) bool {
	phases, ok := UserActions[evt]
	if !ok {
		return true
	}
	return slices.Contains(phases, phase)
}

package models

// legalTransitions encodes the graph from spec §4.1: the linear phase
// sequence, plus pause/resume/fail edges available from any non-terminal
// state.
var legalTransitions = buildTransitions()

func buildTransitions() map[RunState]map[RunState]bool {
	t := make(map[RunState]map[RunState]bool)
	add := func(from, to RunState) {
		if t[from] == nil {
			t[from] = make(map[RunState]bool)
		}
		t[from][to] = true
	}

	add(RunStateCreated, RunStateIntake)
	for i := 0; i < len(PhaseOrder)-1; i++ {
		add(PhaseOrder[i], PhaseOrder[i+1])
	}

	nonTerminal := append([]RunState{RunStateCreated}, PhaseOrder...)
	for _, s := range nonTerminal {
		add(s, RunStatePaused)
		add(s, RunStateFailed)
	}
	// Paused resumes into whatever state it was paused from; callers check
	// PausedFromState rather than a single fixed edge, but Paused→Failed and
	// Paused→Cancelled (operator abort) are always legal.
	add(RunStatePaused, RunStateFailed)
	add(RunStatePaused, RunStateCancelled)

	return t
}

// IsLegalTransition reports whether the (from, to) pair is in the legal
// transition graph. Resuming from Paused is validated separately via
// IsLegalResume since the destination depends on where the run was paused.
func IsLegalTransition(from, to RunState) bool {
	return legalTransitions[from][to]
}

// IsLegalResume reports whether resuming a Run paused out of pausedFrom
// back into pausedFrom is legal. Per spec §4.1, Paused→previous is the
// only resume edge.
func IsLegalResume(pausedFrom RunState) bool {
	if pausedFrom == "" {
		return false
	}
	for _, s := range PhaseOrder {
		if s == pausedFrom {
			return true
		}
	}
	return pausedFrom == RunStateCreated
}

// IsTerminal reports whether a run state has no outgoing transitions.
func IsTerminal(s RunState) bool {
	return s == RunStateGA || s == RunStateFailed || s == RunStateCancelled
}

// NextPhase returns the phase after `current` in PhaseOrder, and false if
// `current` is the last phase (the caller should transition to GA).
func NextPhase(current RunState) (RunState, bool) {
	for i, s := range PhaseOrder {
		if s == current {
			if i+1 < len(PhaseOrder) {
				return PhaseOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

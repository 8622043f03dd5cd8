package workflow

import (
	"fmt"

	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// phaseIndex maps a pipeline RunState to its position in models.PhaseOrder,
// or -1 if it isn't a pipeline phase.
func phaseIndex(state models.RunState) int {
	for i, s := range models.PhaseOrder {
		if s == state {
			return i
		}
	}
	return -1
}

// nextPhase returns the RunState that follows state in the pipeline, or
// ok=false if state is the last phase or not a pipeline phase.
func nextPhase(state models.RunState) (models.RunState, bool) {
	idx := phaseIndex(state)
	if idx == -1 || idx == len(models.PhaseOrder)-1 {
		return "", false
	}
	return models.PhaseOrder[idx+1], true
}

// legalTransition implements the run state machine (spec §4.1): a run
// advances one phase at a time, may pause from or be cancelled/failed
// from any in-flight pipeline phase, and resumes back to the phase it was
// paused from. Terminal states (ga, failed, cancelled) have no outgoing
// transitions.
func legalTransition(from, to models.RunState) bool {
	switch from {
	case models.RunStateGA, models.RunStateFailed, models.RunStateCancelled:
		return false
	case models.RunStateCreated:
		return to == models.RunStateIntake || to == models.RunStateCancelled
	case models.RunStatePaused:
		// Resume returns to whatever phase it was paused from; cancellation
		// is always available; Transition itself validates the resume
		// target against PausedFromState, not here.
		return phaseIndex(to) != -1 || to == models.RunStateCancelled
	default:
		if phaseIndex(from) == -1 {
			return false
		}
		if to == models.RunStatePaused || to == models.RunStateFailed || to == models.RunStateCancelled {
			return true
		}
		next, ok := nextPhase(from)
		return ok && to == next
	}
}

// Transition validates and applies a run state change, recording the
// pre-pause state when transitioning into RunStatePaused so Resume knows
// where to return to.
func Transition(run *models.Run, to models.RunState) error {
	if !legalTransition(run.State, to) {
		return fmt.Errorf("%w: %s -> %s", orcherr.ErrIllegalTransition, run.State, to)
	}
	if to == models.RunStatePaused {
		run.PausedFromState = run.State
	}
	run.State = to
	return nil
}

// Resume transitions a paused run back to the phase it was paused from.
func Resume(run *models.Run) error {
	if run.State != models.RunStatePaused {
		return fmt.Errorf("%w: resume requires state paused, got %s", orcherr.ErrIllegalTransition, run.State)
	}
	target := run.PausedFromState
	run.State = target
	run.PausedFromState = ""
	run.PauseReason = ""
	return nil
}

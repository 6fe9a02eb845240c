package activity

import (
	"sync"

	"github.com/trezcool/hatua/core/phase"
)

// Unlockable decides, at any instant, whether the submission form is enabled
// given a phase's configuration and the freshest activity signals.
//
// Rule, first match wins:
//  1. bypass flag set -> unlocked;
//  2. an explicit time threshold -> unlocked iff enough seconds accumulated;
//  3. no threshold -> unlocked iff the video was completed.
func Unlockable(bypass bool, minSecondsRequired, totalSeconds int, videoCompleted bool) bool {
	if bypass {
		return true
	}
	if minSecondsRequired > 0 {
		return totalSeconds >= minSecondsRequired
	}
	return videoCompleted
}

// UnlockEvaluator re-evaluates the unlock decision on every tick and every
// sync, latching open: once a session unlocks it never re-locks, even if a
// later recompute would say otherwise. Re-locking mid-submission would be
// hostile to the student.
type UnlockEvaluator struct {
	bypass     bool
	minSeconds int

	mu       sync.Mutex
	unlocked bool
}

func NewUnlockEvaluator(ph phase.Phase) *UnlockEvaluator {
	return &UnlockEvaluator{
		bypass:     ph.BypassTimeRequirement,
		minSeconds: ph.MinSecondsRequired,
	}
}

// Evaluate recomputes the decision from the freshest signals and returns the
// (possibly latched) unlock state.
func (e *UnlockEvaluator) Evaluate(totalSeconds int, videoCompleted bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unlocked {
		return true
	}
	if Unlockable(e.bypass, e.minSeconds, totalSeconds, videoCompleted) {
		e.unlocked = true
	}
	return e.unlocked
}

// Unlocked reports the latched state without recomputing.
func (e *UnlockEvaluator) Unlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

package activity

import (
	"testing"

	"github.com/trezcool/hatua/core/phase"
)

func TestUnlockable(t *testing.T) {
	tests := []struct {
		name           string
		bypass         bool
		minSeconds     int
		totalSeconds   int
		videoCompleted bool
		want           bool
	}{
		{name: "bypass wins", bypass: true, want: true},
		{name: "bypass wins over unmet threshold", bypass: true, minSeconds: 600, totalSeconds: 0, want: true},
		{name: "threshold not met", minSeconds: 600, totalSeconds: 599, want: false},
		{name: "threshold met exactly", minSeconds: 600, totalSeconds: 600, want: true},
		{name: "threshold exceeded", minSeconds: 600, totalSeconds: 601, want: true},
		{name: "threshold ignores video", minSeconds: 600, totalSeconds: 0, videoCompleted: true, want: false},
		{name: "no threshold, video not done", minSeconds: 0, totalSeconds: 10000, want: false},
		{name: "no threshold, video done", minSeconds: 0, videoCompleted: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unlockable(tt.bypass, tt.minSeconds, tt.totalSeconds, tt.videoCompleted); got != tt.want {
				t.Errorf("Unlockable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnlockEvaluator_latch(t *testing.T) {
	eval := NewUnlockEvaluator(phase.Phase{MinSecondsRequired: 600})

	if eval.Evaluate(599, false) {
		t.Error("Evaluate() unlocked below threshold")
	}
	if eval.Unlocked() {
		t.Error("Unlocked() true before unlocking")
	}
	if !eval.Evaluate(600, false) {
		t.Error("Evaluate() locked at threshold")
	}
	// latched: a later recompute with lower signals must not re-lock
	if !eval.Evaluate(0, false) {
		t.Error("Evaluate() re-locked after unlocking")
	}
	if !eval.Unlocked() {
		t.Error("Unlocked() false after unlocking")
	}
}

func TestUnlockEvaluator_bypass(t *testing.T) {
	eval := NewUnlockEvaluator(phase.Phase{MinSecondsRequired: 600, BypassTimeRequirement: true})
	if !eval.Evaluate(0, false) {
		t.Error("Evaluate() locked despite bypass")
	}
}

func TestUnlockEvaluator_videoFallback(t *testing.T) {
	eval := NewUnlockEvaluator(phase.Phase{})
	if eval.Evaluate(10000, false) {
		t.Error("Evaluate() unlocked without video completion")
	}
	if !eval.Evaluate(0, true) {
		t.Error("Evaluate() locked with video completed")
	}
}

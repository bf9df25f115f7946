package media

import (
	"fmt"
	"math"
)

// FreezeThreshold is the source length (seconds) below which a short clip
// holds its last frame. Looping anything shorter flickers.
const FreezeThreshold = 0.5

type DurationMode string

const (
	ModeTrim   DurationMode = "trim"
	ModeFreeze DurationMode = "freeze"
	ModeLoop   DurationMode = "loop"
)

// DurationPlan says how to turn a source clip into exactly Target seconds.
type DurationPlan struct {
	Mode   DurationMode
	Source float64
	Target float64
	Hold   float64 // ModeFreeze: seconds of held last frame
	Loops  int     // ModeLoop: total plays of the source, ceil(Target/Source)
}

// PlanDuration picks trim, freeze or loop for a source of the given length.
func PlanDuration(source, target float64) (DurationPlan, error) {
	if target <= 0 {
		return DurationPlan{}, fmt.Errorf("target duration must be positive, got %.3f", target)
	}
	if source <= 0 || math.IsNaN(source) || math.IsInf(source, 0) {
		return DurationPlan{}, fmt.Errorf("source duration must be positive, got %.3f", source)
	}

	p := DurationPlan{Source: source, Target: target}
	switch {
	case source >= target:
		p.Mode = ModeTrim
	case source < FreezeThreshold:
		p.Mode = ModeFreeze
		p.Hold = target - source
	default:
		p.Mode = ModeLoop
		p.Loops = int(math.Ceil(target / source))
	}
	return p, nil
}

// FrameInterval is the length of one frame in seconds.
func FrameInterval(fps int) float64 {
	if fps <= 0 {
		return 0
	}
	return 1 / float64(fps)
}

// WithinFrame reports whether actual is within one frame of want.
func WithinFrame(actual, want float64, fps int) bool {
	return math.Abs(actual-want) <= FrameInterval(fps)+1e-6
}

package media

import "math"

// LoopTo returns samples repeated or cut to exactly n samples. An empty
// input yields n samples of silence.
func LoopTo(samples []int16, n int) []int16 {
	if n <= 0 {
		return nil
	}
	out := make([]int16, n)
	if len(samples) == 0 {
		return out
	}
	for off := 0; off < n; off += len(samples) {
		copy(out[off:], samples)
	}
	return out
}

// Mix lays background under narration at the given gain and returns a new
// buffer the length of narration. The background is looped or trimmed to
// fit, and each sum is clamped to the int16 range.
func Mix(narration, background []int16, gain float64) []int16 {
	out := make([]int16, len(narration))
	copy(out, narration)
	if len(background) == 0 || gain <= 0 || len(narration) == 0 {
		return out
	}

	bg := LoopTo(background, len(narration))
	for i := range out {
		v := float64(narration[i]) + float64(bg[i])*gain
		out[i] = clamp16(v)
	}
	return out
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

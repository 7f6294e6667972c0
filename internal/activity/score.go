package activity

import "math"

// MouseActivityScore is a bounded per-minute mouse intensity:
// min(100, round(mouseEvents / (intervalSeconds/60) * 2)).
func MouseActivityScore(mouseEvents, intervalSeconds int) int {
	if intervalSeconds <= 0 || mouseEvents <= 0 {
		return 0
	}
	perMinute := float64(mouseEvents) / (float64(intervalSeconds) / 60)
	return clampScore(math.Round(perMinute * 2))
}

// ProductivityScore blends typing intensity, mouse intensity and the share
// of the interval that was not idle, weighted 40/30/30, in [0, 100].
func ProductivityScore(keystrokes, mouseScore, idleSeconds, intervalSeconds int) int {
	if intervalSeconds <= 0 {
		return 0
	}
	minutes := float64(intervalSeconds) / 60
	keyScore := math.Min(100, math.Max(0, float64(keystrokes)/minutes*2))

	activeRatio := 1 - float64(idleSeconds)/float64(intervalSeconds)
	activeRatio = math.Min(1, math.Max(0, activeRatio))

	score := 0.4*keyScore + 0.3*float64(mouseScore) + 0.3*activeRatio*100
	return clampScore(math.Round(score))
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

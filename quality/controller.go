// Package quality implements the closed-loop adaptive resolution controller:
// given rolling telemetry (inference time, queue wait, client-reported
// latency), it selects the next step on a fixed resolution ladder.
package quality

// Ladder is the descending candidate resolution list, filtered per session
// to entries at or below the configured ceiling.
var Ladder = []int{960, 720, 640, 512, 480, 384, 320}

const (
	inferUpThreshold  = 0.20 // demote if infer_avg_s exceeds this
	inferDownThreshold = 0.08 // promote only if infer_avg_s is below this

	queueUpThreshold   = 0.30
	queueDownThreshold = 0.10

	latencyUpThresholdMs   = 500.0
	latencyDownThresholdMs = 200.0

	// DefaultCooldown is the number of telemetry updates the controller
	// waits between changes.
	DefaultCooldown = 60
)

// Controller holds the mutable state of the ladder: the current resolution
// and the cooldown countdown. It is not safe for concurrent use by itself;
// callers (session.Session) serialize access under their own mutex.
type Controller struct {
	maxRes    int
	steps     []int
	current   int
	cooldown  int
}

// New constructs a controller ceilinged at maxRes. The starting resolution
// is maxRes itself, snapped to the nearest ladder step. The controller starts
// in cooldown: the first DefaultCooldown updates make no change.
func New(maxRes int) *Controller {
	steps := stepsFor(maxRes)
	c := &Controller{maxRes: maxRes, steps: steps, cooldown: DefaultCooldown}
	c.current = nearestStep(steps, maxRes)
	return c
}

func stepsFor(maxRes int) []int {
	var steps []int
	for _, s := range Ladder {
		if s <= maxRes {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		steps = []int{maxRes}
	}
	return steps
}

func nearestStep(steps []int, res int) int {
	best := steps[0]
	bestDiff := abs(best - res)
	for _, s := range steps[1:] {
		if d := abs(s - res); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Current returns the controller's current process resolution.
func (c *Controller) Current() int {
	return c.current
}

// Adjust runs one telemetry update through the controller: a cooldown
// decrement-and-return while cooling down, then a demote-on-any /
// promote-on-all decision, snapping to the ladder. It returns true (and
// the new resolution) when the resolution changed.
func (c *Controller) Adjust(inferAvgS, queueAvgS, latencyMs float64) (newRes int, changed bool) {
	if c.cooldown > 0 {
		c.cooldown--
		return c.current, false
	}

	idx := indexOf(c.steps, nearestStep(c.steps, c.current))

	demote := inferAvgS > inferUpThreshold || queueAvgS > queueUpThreshold || latencyMs > latencyUpThresholdMs
	promote := inferAvgS < inferDownThreshold && queueAvgS < queueDownThreshold && latencyMs < latencyDownThresholdMs

	newIdx := idx
	if demote {
		if idx < len(c.steps)-1 {
			newIdx = idx + 1
		}
	} else if promote {
		if idx > 0 {
			newIdx = idx - 1
		}
	}

	if newIdx == idx {
		return c.current, false
	}

	c.current = c.steps[newIdx]
	c.cooldown = DefaultCooldown
	return c.current, true
}

func indexOf(steps []int, v int) int {
	for i, s := range steps {
		if s == v {
			return i
		}
	}
	return 0
}

// Cooldown exposes the remaining cooldown count (used by tests/telemetry).
func (c *Controller) Cooldown() int {
	return c.cooldown
}

// Steps exposes the filtered ladder for this controller's ceiling.
func (c *Controller) Steps() []int {
	out := make([]int, len(c.steps))
	copy(out, c.steps)
	return out
}

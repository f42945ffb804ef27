package session

import (
	"github.com/sirupsen/logrus"
)

// Window score weights. Parse and payload errors weigh heaviest: they
// mean the wire itself is unhealthy, not just the timing.
const (
	scoreUnderrunWeight   = 25
	scoreMissingWeight    = 18
	scoreParseErrWeight   = 50
	scorePayloadErrWeight = 40
	scoreOverflowWeight   = 2
	scoreDeficitWeight    = 3

	scoreEMAKeep = 0.85
	scoreEMAGain = 0.15

	// goodStreakWindows is how many consecutive clean windows it takes
	// before target buffering is lowered. Recovery is deliberately slow.
	goodStreakWindows = 8

	// adjustCooldownSec suppresses further changes after an adjustment
	// so the new target can prove itself.
	adjustCooldownSec = 2

	maxTargetCeiling  = 32
	maxTargetHeadroom = 8
)

// Window carries one sampler window's observations into the controller:
// counter deltas since the previous window plus the buffer's current
// occupancy and target.
type Window struct {
	UnderrunDelta   uint64
	MissingDelta    uint64
	OverflowDelta   uint64
	ParseErrDelta   uint64
	PayloadErrDelta uint64
	Buffered        int
	Target          int
}

// AdaptiveController retunes the jitter buffer's target occupancy from
// per-second loss and underrun statistics.
//
// Each window is condensed into a health score; an exponential moving
// average smooths it. Consecutive bad windows (or a persistently empty
// buffer) raise the target quickly, a long run of clean windows lowers
// it slowly, and a cooldown after every change prevents oscillation. The
// controller is mutated only by the stats sampler goroutine.
type AdaptiveController struct {
	base int
	min  int
	max  int

	scoreEMA  float64
	lastScore float64

	badStreak     int
	goodStreak    int
	zeroBufStreak int
	cooldown      int

	lastReason string
}

// NewAdaptiveController creates a controller around the base target
// chosen at audio initialization. The adjustable range is derived from
// the base: one frame of slack below, up to eight above, capped at 32,
// but always at least two frames above the minimum (so it exceeds 32 for
// bases above 31). A base below 2 is raised to 2 first.
func NewAdaptiveController(baseTarget int) *AdaptiveController {
	base := baseTarget
	if base < 2 {
		base = 2
	}
	min := base - 1
	if min < 2 {
		min = 2
	}
	max := base + maxTargetHeadroom
	if max > maxTargetCeiling {
		max = maxTargetCeiling
	}
	if max < min+2 {
		max = min + 2
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewAdaptiveController",
		"base_target": base,
		"min_target":  min,
		"max_target":  max,
	}).Debug("Adaptive jitter controller created")

	return &AdaptiveController{
		base:       base,
		min:        min,
		max:        max,
		scoreEMA:   100,
		lastScore:  100,
		lastReason: "init",
	}
}

// Observe processes one window and returns the target the jitter buffer
// should use. changed is false while the controller holds.
func (c *AdaptiveController) Observe(w Window) (target int, reason string, changed bool) {
	low := w.Target / 2
	if low < 1 {
		low = 1
	}

	score := 100.0
	score -= scoreUnderrunWeight * float64(w.UnderrunDelta)
	score -= scoreMissingWeight * float64(w.MissingDelta)
	score -= scoreParseErrWeight * float64(w.ParseErrDelta)
	score -= scorePayloadErrWeight * float64(w.PayloadErrDelta)
	score -= scoreOverflowWeight * float64(w.OverflowDelta)
	if deficit := low - w.Buffered; deficit > 0 {
		score -= float64(deficit * scoreDeficitWeight)
	}
	score = clampScore(score)
	c.lastScore = score
	c.scoreEMA = clampScore(scoreEMAKeep*c.scoreEMA + scoreEMAGain*score)

	badNow := w.UnderrunDelta > 0 || w.MissingDelta > 0 ||
		w.ParseErrDelta > 0 || w.PayloadErrDelta > 0 || c.scoreEMA < 90
	goodNow := !badNow && w.OverflowDelta == 0 && c.scoreEMA > 97 &&
		w.Buffered >= low && w.Buffered > 0

	if w.Buffered == 0 {
		c.zeroBufStreak++
	} else {
		c.zeroBufStreak = 0
	}
	if badNow {
		c.badStreak++
	} else if c.badStreak > 0 {
		c.badStreak--
	}
	if goodNow {
		c.goodStreak++
	} else {
		c.goodStreak = 0
	}

	if c.cooldown > 0 {
		c.cooldown--
		return w.Target, c.lastReason, false
	}

	severe := w.UnderrunDelta >= 2 || w.MissingDelta >= 2 ||
		w.ParseErrDelta > 0 || w.PayloadErrDelta > 0
	raiseByBuffer := c.zeroBufStreak >= 2

	target = w.Target
	switch {
	case (c.badStreak >= 1 || raiseByBuffer) && w.Target < c.max:
		step := 1
		if severe || c.zeroBufStreak >= 3 {
			step = 2
		}
		target = w.Target + step
		reason = "raise"
		if severe {
			reason = "raise-severe"
		}
	case c.goodStreak >= goodStreakWindows && w.Target > c.min:
		step := 1
		if w.Target > c.base+3 {
			step = 2
		}
		target = w.Target - step
		reason = "lower-stable"
	default:
		return w.Target, c.lastReason, false
	}

	if target < c.min {
		target = c.min
	}
	if target > c.max {
		target = c.max
	}

	c.badStreak = 0
	c.goodStreak = 0
	c.zeroBufStreak = 0
	c.cooldown = adjustCooldownSec
	c.lastReason = reason

	logrus.WithFields(logrus.Fields{
		"function":   "AdaptiveController.Observe",
		"old_target": w.Target,
		"new_target": target,
		"reason":     reason,
		"score_ema":  c.scoreEMA,
	}).Info("Jitter target adjusted")

	return target, reason, true
}

// BaseTarget returns the target chosen at audio initialization.
func (c *AdaptiveController) BaseTarget() int { return c.base }

// MinTarget returns the lower bound of the adjustable range.
func (c *AdaptiveController) MinTarget() int { return c.min }

// MaxTarget returns the upper bound of the adjustable range.
func (c *AdaptiveController) MaxTarget() int { return c.max }

// ScoreEMA returns the smoothed health score.
func (c *AdaptiveController) ScoreEMA() float64 { return c.scoreEMA }

// LastWindowScore returns the most recent raw window score.
func (c *AdaptiveController) LastWindowScore() float64 { return c.lastScore }

// LastReason returns the reason of the most recent adjustment, or "init"
// before the first one.
func (c *AdaptiveController) LastReason() string { return c.lastReason }

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

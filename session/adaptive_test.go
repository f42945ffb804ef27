package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanWindow is a healthy window at the given target: full buffer, no
// faults.
func cleanWindow(target int) Window {
	return Window{Buffered: target, Target: target}
}

func TestNewAdaptiveControllerRanges(t *testing.T) {
	tests := []struct {
		name    string
		base    int
		wantMin int
		wantMax int
	}{
		{"typical base 4", 4, 3, 12},
		{"small base 2", 2, 2, 10},
		{"base below floor clamps", 1, 2, 10},
		{"large base hits ceiling", 30, 29, 32},
		{"huge base keeps range open", 40, 39, 41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAdaptiveController(tt.base)
			assert.Equal(t, tt.wantMin, c.MinTarget())
			assert.Equal(t, tt.wantMax, c.MaxTarget())
			assert.GreaterOrEqual(t, c.MaxTarget(), c.MinTarget()+2)
			assert.Equal(t, 100.0, c.ScoreEMA())
			assert.Equal(t, "init", c.LastReason())
		})
	}
}

func TestObserveCleanWindowScoresFull(t *testing.T) {
	c := NewAdaptiveController(4)

	_, _, changed := c.Observe(cleanWindow(4))
	assert.False(t, changed)
	assert.Equal(t, 100.0, c.LastWindowScore())
	assert.Equal(t, 100.0, c.ScoreEMA())
}

func TestObserveScoreWeights(t *testing.T) {
	tests := []struct {
		name string
		w    Window
		want float64
	}{
		{"one underrun", Window{UnderrunDelta: 1, Buffered: 4, Target: 4}, 75},
		{"one missing", Window{MissingDelta: 1, Buffered: 4, Target: 4}, 82},
		{"one parse error", Window{ParseErrDelta: 1, Buffered: 4, Target: 4}, 50},
		{"one payload error", Window{PayloadErrDelta: 1, Buffered: 4, Target: 4}, 60},
		{"overflow is mild", Window{OverflowDelta: 3, Buffered: 4, Target: 4}, 94},
		{"buffer deficit", Window{Buffered: 0, Target: 4}, 94},
		{"floor at zero", Window{UnderrunDelta: 10, Buffered: 4, Target: 4}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAdaptiveController(4)
			c.Observe(tt.w)
			assert.Equal(t, tt.want, c.LastWindowScore())
		})
	}
}

func TestObserveSingleBadWindowRaises(t *testing.T) {
	c := NewAdaptiveController(4)

	target, reason, changed := c.Observe(Window{UnderrunDelta: 1, Buffered: 4, Target: 4})
	require.True(t, changed)
	assert.Equal(t, 5, target)
	assert.Equal(t, "raise", reason)
}

func TestObserveSevereRaisesByTwo(t *testing.T) {
	tests := []struct {
		name string
		w    Window
	}{
		{"two underruns", Window{UnderrunDelta: 2, Buffered: 4, Target: 4}},
		{"two missing", Window{MissingDelta: 2, Buffered: 4, Target: 4}},
		{"any parse error", Window{ParseErrDelta: 1, Buffered: 4, Target: 4}},
		{"any payload error", Window{PayloadErrDelta: 1, Buffered: 4, Target: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAdaptiveController(4)
			target, reason, changed := c.Observe(tt.w)
			require.True(t, changed)
			assert.Equal(t, 6, target)
			assert.Equal(t, "raise-severe", reason)
		})
	}
}

func TestObserveRaiseClampsAtMaxTarget(t *testing.T) {
	c := NewAdaptiveController(4) // max 12

	target, _, changed := c.Observe(Window{MissingDelta: 5, Buffered: 11, Target: 11})
	require.True(t, changed)
	assert.Equal(t, 12, target)

	// At the ceiling no further raise is possible.
	c2 := NewAdaptiveController(4)
	_, _, changed = c2.Observe(Window{MissingDelta: 5, Buffered: 12, Target: 12})
	assert.False(t, changed)
}

func TestObserveCooldownHoldsAfterChange(t *testing.T) {
	c := NewAdaptiveController(4)

	_, _, changed := c.Observe(Window{UnderrunDelta: 1, Buffered: 4, Target: 4})
	require.True(t, changed)

	// Two windows of cooldown hold even under continued trouble.
	_, _, changed = c.Observe(Window{UnderrunDelta: 1, Buffered: 5, Target: 5})
	assert.False(t, changed)
	_, _, changed = c.Observe(Window{UnderrunDelta: 1, Buffered: 5, Target: 5})
	assert.False(t, changed)

	// Cooldown expired; the accumulated bad streak raises again.
	target, _, changed := c.Observe(Window{UnderrunDelta: 1, Buffered: 5, Target: 5})
	require.True(t, changed)
	assert.Equal(t, 6, target)
}

func TestObserveZeroBufferStreakRaises(t *testing.T) {
	c := NewAdaptiveController(4)

	_, _, changed := c.Observe(Window{Buffered: 0, Target: 4})
	assert.False(t, changed, "one empty window is not yet actionable")

	target, reason, changed := c.Observe(Window{Buffered: 0, Target: 4})
	require.True(t, changed)
	assert.Equal(t, 5, target)
	assert.Equal(t, "raise", reason)
}

func TestObserveLongZeroBufferStreakStepsByTwo(t *testing.T) {
	c := NewAdaptiveController(4)

	// A raise puts the controller in cooldown while the buffer stays
	// empty; the streak keeps building underneath.
	_, _, changed := c.Observe(Window{UnderrunDelta: 1, Buffered: 4, Target: 4})
	require.True(t, changed)

	_, _, changed = c.Observe(Window{Buffered: 0, Target: 5})
	assert.False(t, changed)
	_, _, changed = c.Observe(Window{Buffered: 0, Target: 5})
	assert.False(t, changed)

	// Cooldown over, streak at three: the raise doubles its step.
	target, reason, changed := c.Observe(Window{Buffered: 0, Target: 5})
	require.True(t, changed)
	assert.Equal(t, 7, target)
	assert.Equal(t, "raise", reason)
	assert.Equal(t, 0, c.zeroBufStreak)
}

func TestObserveLowersAfterEightGoodWindows(t *testing.T) {
	c := NewAdaptiveController(4)

	for i := 0; i < 7; i++ {
		_, _, changed := c.Observe(cleanWindow(4))
		assert.False(t, changed, "window %d", i)
	}

	target, reason, changed := c.Observe(cleanWindow(4))
	require.True(t, changed)
	assert.Equal(t, 3, target)
	assert.Equal(t, "lower-stable", reason)

	// Streaks were reset and cooldown set; eight more clean windows are
	// needed, and min target stops the descent.
	for i := 0; i < 7; i++ {
		_, _, changed = c.Observe(cleanWindow(3))
		assert.False(t, changed, "window %d", i)
	}
	_, _, changed = c.Observe(cleanWindow(3))
	assert.False(t, changed, "already at min target")
}

func TestObserveLowerStepsByTwoFarAboveBase(t *testing.T) {
	c := NewAdaptiveController(4)

	var target int
	var changed bool
	for i := 0; i < 8; i++ {
		target, _, changed = c.Observe(cleanWindow(9)) // base+5
	}
	require.True(t, changed)
	assert.Equal(t, 7, target)
}

func TestObserveGoodStreakRequiresHealthyBuffer(t *testing.T) {
	c := NewAdaptiveController(4)

	// Half-empty windows never accumulate a good streak: buffered is
	// below the low-water mark.
	for i := 0; i < 20; i++ {
		_, _, changed := c.Observe(Window{Buffered: 1, Target: 4})
		assert.False(t, changed)
	}
	assert.Equal(t, 0, c.goodStreak)
}

func TestObserveBadStreakDecays(t *testing.T) {
	c := NewAdaptiveController(4)

	c.Observe(Window{UnderrunDelta: 1, Buffered: 4, Target: 4}) // raise, streaks reset
	c.Observe(Window{UnderrunDelta: 1, Buffered: 5, Target: 5}) // cooldown holds
	require.Equal(t, 1, c.badStreak)

	// A clean window during cooldown decrements the streak.
	c.Observe(cleanWindow(5))
	assert.Equal(t, 0, c.badStreak)
}

func TestObserveEMAConvergesAndClamps(t *testing.T) {
	c := NewAdaptiveController(4)

	for i := 0; i < 50; i++ {
		c.Observe(Window{UnderrunDelta: 10, Buffered: 4, Target: 4})
	}
	assert.GreaterOrEqual(t, c.ScoreEMA(), 0.0)
	assert.Less(t, c.ScoreEMA(), 1.0, "EMA should converge toward the floor")

	for i := 0; i < 100; i++ {
		c.Observe(cleanWindow(4))
	}
	assert.LessOrEqual(t, c.ScoreEMA(), 100.0)
	assert.Greater(t, c.ScoreEMA(), 99.0)
}

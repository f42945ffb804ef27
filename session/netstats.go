package session

import (
	"math"
	"sync/atomic"
)

// maxNetAgeUs rejects age samples that can only come from badly skewed
// clocks: negative, or more than five seconds old.
const maxNetAgeUs = 5_000_000

// netStats accumulates network timing observations in the receive path.
//
// Age is now minus the sender timestamp; it is only meaningful relative
// to the session minimum, which serves as the one-way-delay baseline
// (clocks are assumed to drift slowly). Path is age above that baseline,
// and jitter is the running sum of inter-arrival age differences. Window
// sums are read-and-reset once per second by the sampler; the baseline
// persists for the session.
type netStats struct {
	ageUsSum    atomic.Int64
	ageCount    atomic.Int64
	pathUsSum   atomic.Int64
	pathCount   atomic.Int64
	jitterUsSum atomic.Int64
	jitterCount atomic.Int64

	minAgeUs  atomic.Int64
	prevAgeUs atomic.Int64
	hasPrev   atomic.Bool
}

func newNetStats() *netStats {
	n := &netStats{}
	n.minAgeUs.Store(math.MaxInt64)
	return n
}

// observe records one age sample in microseconds. Out-of-range samples
// are discarded.
func (n *netStats) observe(ageUs int64) {
	if ageUs < 0 || ageUs > maxNetAgeUs {
		return
	}

	n.ageUsSum.Add(ageUs)
	n.ageCount.Add(1)

	base := n.minAgeUs.Load()
	for ageUs < base && !n.minAgeUs.CompareAndSwap(base, ageUs) {
		base = n.minAgeUs.Load()
	}
	if base > ageUs {
		base = ageUs
	}

	n.pathUsSum.Add(ageUs - base)
	n.pathCount.Add(1)

	if n.hasPrev.Load() {
		prev := n.prevAgeUs.Load()
		diff := ageUs - prev
		if diff < 0 {
			diff = -diff
		}
		n.jitterUsSum.Add(diff)
		n.jitterCount.Add(1)
	}
	n.prevAgeUs.Store(ageUs)
	n.hasPrev.Store(true)
}

// netWindow holds the per-window averages in milliseconds. The ok flags
// are false when the window had no samples.
type netWindow struct {
	ageMs  float64
	ageOK  bool
	pathMs float64
	pathOK bool
	jitMs  float64
	jitOK  bool
}

// window reads and resets the window sums, returning averages. The
// session-minimum baseline is preserved.
func (n *netStats) window() netWindow {
	var w netWindow
	if count := n.ageCount.Swap(0); count > 0 {
		w.ageMs = float64(n.ageUsSum.Swap(0)) / float64(count) / 1000
		w.ageOK = true
	} else {
		n.ageUsSum.Store(0)
	}
	if count := n.pathCount.Swap(0); count > 0 {
		w.pathMs = float64(n.pathUsSum.Swap(0)) / float64(count) / 1000
		w.pathOK = true
	} else {
		n.pathUsSum.Store(0)
	}
	if count := n.jitterCount.Swap(0); count > 0 {
		w.jitMs = float64(n.jitterUsSum.Swap(0)) / float64(count) / 1000
		w.jitOK = true
	} else {
		n.jitterUsSum.Store(0)
	}
	return w
}

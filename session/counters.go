package session

import "sync/atomic"

// counters are the session's shared lock-free statistics. The receiver,
// player, and sampler goroutines touch them without coordination; the
// sampler computes per-window deltas from cumulative values. A fresh
// session starts from a zero value.
type counters struct {
	packets    atomic.Uint64
	bytes      atomic.Uint64
	parseErr   atomic.Uint64
	payloadErr atomic.Uint64
	underrun   atomic.Uint64

	// Packet decode duration samples, microseconds.
	decodeUsSum atomic.Uint64
	decodeCount atomic.Uint64

	// Sink write duration samples, microseconds.
	playoutUsSum atomic.Uint64
	playoutCount atomic.Uint64
}

// counterTotals is a point-in-time copy used for delta computation.
type counterTotals struct {
	packets      uint64
	bytes        uint64
	parseErr     uint64
	payloadErr   uint64
	underrun     uint64
	decodeUsSum  uint64
	decodeCount  uint64
	playoutUsSum uint64
	playoutCount uint64
}

func (c *counters) totals() counterTotals {
	return counterTotals{
		packets:      c.packets.Load(),
		bytes:        c.bytes.Load(),
		parseErr:     c.parseErr.Load(),
		payloadErr:   c.payloadErr.Load(),
		underrun:     c.underrun.Load(),
		decodeUsSum:  c.decodeUsSum.Load(),
		decodeCount:  c.decodeCount.Load(),
		playoutUsSum: c.playoutUsSum.Load(),
		playoutCount: c.playoutCount.Load(),
	}
}

// Package jitter provides playout buffering for a real-time PCM stream.
//
// A playout buffer absorbs network inter-arrival jitter between the
// receive path and the audio output. Two variants are provided:
//
//   - Buffer: a bounded FIFO keyed by arrival order with a prime gate and
//     a low-water pre-wait. This is the default; arrival order is playout
//     order and no reordering is attempted, which keeps latency minimal.
//   - OrderedBuffer: keyed by sequence number. It reorders within the
//     buffered window, drops late duplicates, and conceals gaps with a
//     fade-to-zero repeat of the previous frame. Opt-in for lossy UDP
//     paths that reorder.
//
// The two variants must not be mixed within a session.
package jitter

import (
	"time"

	"github.com/opd-ai/audiocast/protocol"
)

// PlayoutBuffer is the contract shared by both buffer variants.
//
// Push is called from the network receive goroutine, Pop from the player
// goroutine; SetTargetFrames and Snapshot may be called concurrently from
// the stats sampler.
type PlayoutBuffer interface {
	// Push enqueues a frame, dropping buffered data on overflow rather
	// than blocking the caller.
	Push(frame *protocol.Frame)

	// Pop returns the next frame for playout, or nil if none became
	// available within the timeout. A zero timeout never blocks.
	Pop(timeout time.Duration) *protocol.Frame

	// SetTargetFrames updates the desired steady-state occupancy and
	// returns the value after clamping into [2, max-1].
	SetTargetFrames(n int) int

	// TargetFrames returns the current target occupancy.
	TargetFrames() int

	// Snapshot atomically samples counters and occupancy.
	Snapshot() Snapshot

	// Close wakes all waiters; subsequent pops return nil without
	// touching counters.
	Close()
}

var (
	_ PlayoutBuffer = (*Buffer)(nil)
	_ PlayoutBuffer = (*OrderedBuffer)(nil)
)

// Snapshot is a consistent sample of a buffer's counters and occupancy.
type Snapshot struct {
	Pushed          uint64
	Played          uint64
	Missing         uint64
	Late            uint64
	OverflowDropped uint64
	Buffered        int
	TargetFrames    int
	MaxFrames       int
	Primed          bool
}

// clampTarget bounds a requested target occupancy into the valid range
// for a buffer with the given hard cap.
func clampTarget(n, maxFrames int) int {
	if n < 2 {
		n = 2
	}
	if n > maxFrames-1 {
		n = maxFrames - 1
	}
	return n
}

// lowWater is the occupancy at or below which Pop pre-waits for more
// frames before draining the queue.
func lowWater(target int) int {
	lw := target / 2
	if lw < 1 {
		lw = 1
	}
	return lw
}

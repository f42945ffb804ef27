package jitter

import (
	"sync"
	"time"

	"github.com/opd-ai/audiocast/protocol"
)

// Buffer is the default playout buffer: a bounded FIFO in arrival order.
//
// Playout is gated until occupancy first reaches the target ("priming");
// once primed the buffer never unprimes for the session. When occupancy
// drops to the low-water mark, Pop waits out its deadline for more frames
// before draining the queue, which smooths playout under bursty arrival.
// Overflow drops the oldest frame so the producer never blocks.
type Buffer struct {
	mu   sync.Mutex
	wake chan struct{}

	queue  []*protocol.Frame
	target int
	max    int
	primed bool
	closed bool

	pushed   uint64
	played   uint64
	missing  uint64
	overflow uint64
}

// NewBuffer creates a FIFO playout buffer with the given target occupancy
// and hard cap. The target is clamped into [2, maxFrames-1].
func NewBuffer(targetFrames, maxFrames int) *Buffer {
	if maxFrames < 4 {
		maxFrames = 4
	}
	return &Buffer{
		wake:   make(chan struct{}),
		queue:  make([]*protocol.Frame, 0, maxFrames),
		target: clampTarget(targetFrames, maxFrames),
		max:    maxFrames,
	}
}

// Push enqueues a frame at the tail. At capacity the oldest frame is
// dropped first. Sequence numbers ride along in the frame but arrival
// order is playout order.
func (b *Buffer) Push(frame *protocol.Frame) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pushed++
	if len(b.queue) == b.max {
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.overflow++
	}
	b.queue = append(b.queue, frame)
	if !b.primed && len(b.queue) >= b.target {
		b.primed = true
	}
	b.wakeLocked()
	b.mu.Unlock()
}

// Pop returns the next frame, waiting up to timeout.
//
// Before priming it waits for the prime gate and returns nil on expiry
// without counting anything: the stream has simply not started. After
// priming, an expired deadline with an empty queue counts as a missing
// frame (the caller substitutes silence).
func (b *Buffer) Pop(timeout time.Duration) *protocol.Frame {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	for !b.primed && !b.closed {
		if !b.waitLocked(deadline) {
			b.mu.Unlock()
			return nil
		}
	}
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	for len(b.queue) <= lowWater(b.target) && !b.closed {
		if !b.waitLocked(deadline) {
			break
		}
	}
	for len(b.queue) == 0 && !b.closed {
		if !b.waitLocked(deadline) {
			break
		}
	}
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if len(b.queue) == 0 {
		b.missing++
		b.played++
		b.mu.Unlock()
		return nil
	}

	frame := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.played++
	b.mu.Unlock()
	return frame
}

// SetTargetFrames updates the target occupancy, clamped into [2, max-1].
// Lowering the target below current occupancy primes an unprimed buffer.
func (b *Buffer) SetTargetFrames(n int) int {
	b.mu.Lock()
	b.target = clampTarget(n, b.max)
	if !b.primed && len(b.queue) >= b.target {
		b.primed = true
	}
	target := b.target
	b.wakeLocked()
	b.mu.Unlock()
	return target
}

// TargetFrames returns the current target occupancy.
func (b *Buffer) TargetFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// Snapshot atomically samples counters and occupancy. Late is always zero
// in this variant: frames are never reordered, so none can be late.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Pushed:          b.pushed,
		Played:          b.played,
		Missing:         b.missing,
		OverflowDropped: b.overflow,
		Buffered:        len(b.queue),
		TargetFrames:    b.target,
		MaxFrames:       b.max,
		Primed:          b.primed,
	}
}

// Close wakes all waiters and drops buffered frames. Pops after Close
// return nil immediately.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.wakeLocked()
	b.mu.Unlock()
}

// wakeLocked signals every waiter by replacing the broadcast channel.
// Callers must hold mu.
func (b *Buffer) wakeLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// waitLocked blocks until the buffer is woken or the deadline passes.
// It releases mu while blocked and reacquires it before returning.
// Returns false once the deadline has passed.
func (b *Buffer) waitLocked(deadline time.Time) bool {
	wait := time.Until(deadline)
	if wait <= 0 {
		return false
	}
	ch := b.wake
	b.mu.Unlock()
	timer := time.NewTimer(wait)
	select {
	case <-ch:
		timer.Stop()
	case <-timer.C:
	}
	b.mu.Lock()
	return true
}

package jitter

import (
	"sync"
	"time"

	"github.com/opd-ai/audiocast/protocol"
)

// concealDecay scales the previous frame on each consecutive concealment,
// fading a repeated frame to zero instead of repeating it at full level.
const concealDecay = 92 // percent

// OrderedBuffer is the opt-in reordering playout buffer.
//
// Frames are kept sorted by sequence number (wrap-aware), so packets that
// arrive out of order on UDP are played in wire order. Frames behind the
// playout cursor and duplicates are counted late and dropped. A gap at the
// cursor is concealed by replaying the previous frame faded toward zero,
// one synthesized frame per missing sequence number. Overflow trims the
// oldest end of the window so the most recent frames survive.
type OrderedBuffer struct {
	mu   sync.Mutex
	wake chan struct{}

	queue  []*protocol.Frame
	target int
	max    int
	primed bool
	closed bool

	started bool
	nextSeq uint32

	// Previous delivered samples, decayed in place across consecutive
	// concealments.
	prev     []int16
	prevInfo protocol.Frame

	pushed   uint64
	played   uint64
	missing  uint64
	late     uint64
	overflow uint64
}

// NewOrderedBuffer creates a sequence-ordered playout buffer with the
// given target occupancy and hard cap.
func NewOrderedBuffer(targetFrames, maxFrames int) *OrderedBuffer {
	if maxFrames < 4 {
		maxFrames = 4
	}
	return &OrderedBuffer{
		wake:   make(chan struct{}),
		queue:  make([]*protocol.Frame, 0, maxFrames),
		target: clampTarget(targetFrames, maxFrames),
		max:    maxFrames,
	}
}

// seqBefore reports whether a precedes b in wrap-aware sequence order.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Push inserts a frame in sequence order. Frames behind the playout
// cursor and duplicate sequence numbers are counted late and dropped.
func (o *OrderedBuffer) Push(frame *protocol.Frame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.pushed++

	if o.started && seqBefore(frame.Seq, o.nextSeq) {
		o.late++
		o.mu.Unlock()
		return
	}

	// Insert keeping ascending sequence order; a duplicate is late.
	pos := len(o.queue)
	for i, f := range o.queue {
		if f.Seq == frame.Seq {
			o.late++
			o.mu.Unlock()
			return
		}
		if seqBefore(frame.Seq, f.Seq) {
			pos = i
			break
		}
	}
	o.queue = append(o.queue, nil)
	copy(o.queue[pos+1:], o.queue[pos:])
	o.queue[pos] = frame

	// Trim by recent window: the oldest sequence goes first so the
	// freshest audio survives congestion.
	if len(o.queue) > o.max {
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.overflow++
	}

	if !o.primed && len(o.queue) >= o.target {
		o.primed = true
	}
	o.wakeLocked()
	o.mu.Unlock()
}

// Pop returns the next frame in sequence order, waiting up to timeout.
//
// When the sequence at the cursor is missing but later frames are
// buffered, a concealment frame is synthesized from the previous delivery
// and the cursor advances by one; the real frame plays on a later pop.
func (o *OrderedBuffer) Pop(timeout time.Duration) *protocol.Frame {
	deadline := time.Now().Add(timeout)

	o.mu.Lock()
	for !o.primed && !o.closed {
		if !o.waitLocked(deadline) {
			o.mu.Unlock()
			return nil
		}
	}
	if o.closed {
		o.mu.Unlock()
		return nil
	}

	for len(o.queue) <= lowWater(o.target) && !o.closed {
		if !o.waitLocked(deadline) {
			break
		}
	}
	for len(o.queue) == 0 && !o.closed {
		if !o.waitLocked(deadline) {
			break
		}
	}
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	if len(o.queue) == 0 {
		o.missing++
		o.played++
		o.mu.Unlock()
		return nil
	}

	head := o.queue[0]
	if !o.started {
		o.started = true
		o.nextSeq = head.Seq
	}

	if head.Seq != o.nextSeq {
		frame := o.concealLocked()
		o.nextSeq++
		o.missing++
		o.played++
		o.mu.Unlock()
		return frame
	}

	o.queue[0] = nil
	o.queue = o.queue[1:]
	o.nextSeq++
	o.rememberLocked(head)
	o.played++
	o.mu.Unlock()
	return head
}

// rememberLocked copies the delivered samples for later concealment.
func (o *OrderedBuffer) rememberLocked(f *protocol.Frame) {
	if cap(o.prev) < len(f.Samples) {
		o.prev = make([]int16, len(f.Samples))
	}
	o.prev = o.prev[:len(f.Samples)]
	copy(o.prev, f.Samples)
	o.prevInfo = protocol.Frame{
		SampleRate:        f.SampleRate,
		Channels:          f.Channels,
		SendTimeUs:        f.SendTimeUs,
		SamplesPerChannel: f.SamplesPerChannel,
	}
}

// concealLocked synthesizes a fade-to-zero frame for the missing
// sequence. The retained samples decay in place so a run of losses fades
// smoothly instead of looping one frame at full level.
func (o *OrderedBuffer) concealLocked() *protocol.Frame {
	if o.prev == nil {
		return nil
	}
	for i, s := range o.prev {
		o.prev[i] = int16(int32(s) * concealDecay / 100)
	}
	samples := make([]int16, len(o.prev))
	copy(samples, o.prev)
	return &protocol.Frame{
		SampleRate:        o.prevInfo.SampleRate,
		Channels:          o.prevInfo.Channels,
		Seq:               o.nextSeq,
		SendTimeUs:        o.prevInfo.SendTimeUs,
		SamplesPerChannel: o.prevInfo.SamplesPerChannel,
		Samples:           samples,
	}
}

// SetTargetFrames updates the target occupancy, clamped into [2, max-1].
func (o *OrderedBuffer) SetTargetFrames(n int) int {
	o.mu.Lock()
	o.target = clampTarget(n, o.max)
	if !o.primed && len(o.queue) >= o.target {
		o.primed = true
	}
	target := o.target
	o.wakeLocked()
	o.mu.Unlock()
	return target
}

// TargetFrames returns the current target occupancy.
func (o *OrderedBuffer) TargetFrames() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

// Snapshot atomically samples counters and occupancy.
func (o *OrderedBuffer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Pushed:          o.pushed,
		Played:          o.played,
		Missing:         o.missing,
		Late:            o.late,
		OverflowDropped: o.overflow,
		Buffered:        len(o.queue),
		TargetFrames:    o.target,
		MaxFrames:       o.max,
		Primed:          o.primed,
	}
}

// Close wakes all waiters and drops buffered frames.
func (o *OrderedBuffer) Close() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.prev = nil
	o.wakeLocked()
	o.mu.Unlock()
}

func (o *OrderedBuffer) wakeLocked() {
	close(o.wake)
	o.wake = make(chan struct{})
}

func (o *OrderedBuffer) waitLocked(deadline time.Time) bool {
	wait := time.Until(deadline)
	if wait <= 0 {
		return false
	}
	ch := o.wake
	o.mu.Unlock()
	timer := time.NewTimer(wait)
	select {
	case <-ch:
		timer.Stop()
	case <-timer.C:
	}
	o.mu.Lock()
	return true
}

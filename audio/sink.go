// Package audio provides audio sink implementations for the receiver
// core. Real device drivers are out of scope; the paced writer sink
// honors the blocking-write contract against any io.Writer, which is
// enough for file capture, pipes into external players, and tests.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiocast/session"
)

// PacedWriterSink writes interleaved PCM16LE frames to an io.Writer and
// blocks each write until the frame's playout deadline, emulating a
// device that consumes audio in real time. The playout pipeline relies
// on that blocking behavior for pacing.
type PacedWriterSink struct {
	w     io.Writer
	frame time.Duration
	next  time.Time
	buf   []byte
}

// NewPacedWriterSink creates a sink for the given stream format. The
// writer is closed by Close when it implements io.Closer.
func NewPacedWriterSink(w io.Writer, spec session.SinkSpec) (*PacedWriterSink, error) {
	if spec.SampleRate <= 0 || spec.FrameSamples() <= 0 {
		return nil, fmt.Errorf("invalid sink format %d Hz, %d samples", spec.SampleRate, spec.FrameSamples())
	}

	frame := time.Duration(spec.SamplesPerChannel) * time.Second / time.Duration(spec.SampleRate)

	logrus.WithFields(logrus.Fields{
		"function":    "NewPacedWriterSink",
		"sample_rate": spec.SampleRate,
		"channels":    spec.Channels,
		"frame":       frame,
	}).Info("Paced writer sink opened")

	return &PacedWriterSink{
		w:     w,
		frame: frame,
		buf:   make([]byte, spec.FrameSamples()*2),
	}, nil
}

// WriteFrame serializes the frame and blocks until its playout slot.
func (p *PacedWriterSink) WriteFrame(samples []int16) error {
	if len(samples)*2 > len(p.buf) {
		p.buf = make([]byte, len(samples)*2)
	}
	for i, s := range samples {
		binary.LittleEndian.PutUint16(p.buf[i*2:], uint16(s))
	}
	if _, err := p.w.Write(p.buf[:len(samples)*2]); err != nil {
		return fmt.Errorf("sink write: %w", err)
	}

	now := time.Now()
	if p.next.IsZero() || now.After(p.next.Add(p.frame)) {
		// First frame, or playout fell behind; restart the cadence.
		p.next = now
	}
	p.next = p.next.Add(p.frame)
	time.Sleep(time.Until(p.next))
	return nil
}

// Close releases the underlying writer when it is closable.
func (p *PacedWriterSink) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

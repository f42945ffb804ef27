package session

// SinkSpec describes the stream format an audio sink must accept. It is
// derived from the first valid packet of the session.
type SinkSpec struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels is 1 or 2.
	Channels int
	// SamplesPerChannel is the fixed per-frame sample count.
	SamplesPerChannel int
	// BufferBytes is the requested minimum device buffer size.
	BufferBytes int
}

// FrameSamples returns the interleaved sample count of one frame.
func (s SinkSpec) FrameSamples() int {
	return s.SamplesPerChannel * s.Channels
}

// Sink is the audio output contract: a blocking write of one interleaved
// PCM16 frame of the fixed sample count. The write is the playout pacing
// mechanism. Implementations live outside the receiver core; the audio
// package provides a paced writer sink for file and pipe output.
type Sink interface {
	// WriteFrame blocks until the frame has been accepted by the output.
	WriteFrame(samples []int16) error

	// Close stops and releases the output.
	Close() error
}

// SinkFactory opens a sink for a freshly learned stream format. Failure
// is fatal to the session.
type SinkFactory func(spec SinkSpec) (Sink, error)

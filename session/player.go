package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// minPopTimeoutMs floors the playout pop deadline for very short frames.
const minPopTimeoutMs = 10

// runPlayer drains the playout buffer into the audio sink. It is started
// by lazy audio initialization, never before: the sink format is unknown
// until the first packet arrives.
//
// A nil pop is an underrun and a frame of the wrong size is a payload
// fault; both substitute the precomputed silence frame so the sink keeps
// its cadence. The blocking sink write is the pacing mechanism.
func (s *session) runPlayer() error {
	popTimeoutMs := s.frameMs * 2
	if popTimeoutMs < minPopTimeoutMs {
		popTimeoutMs = minPopTimeoutMs
	}
	popTimeout := time.Duration(popTimeoutMs) * time.Millisecond

	logrus.WithFields(logrus.Fields{
		"function":       "session.runPlayer",
		"frame_ms":       s.frameMs,
		"pop_timeout_ms": popTimeoutMs,
	}).Info("Player started")

	for s.running.Load() {
		frame := s.buffer.Pop(popTimeout)
		if !s.running.Load() {
			break
		}

		samples := s.silence
		switch {
		case frame == nil:
			s.ctr.underrun.Add(1)
		case len(frame.Samples) != s.expectedSamples:
			s.ctr.payloadErr.Add(1)
		default:
			samples = frame.Samples
		}

		start := time.Now()
		if err := s.sink.WriteFrame(samples); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.runPlayer",
				"error":    err.Error(),
			}).Error("Audio sink write failed, ending session")
			s.terminate()
			return fmt.Errorf("audio sink write: %w", err)
		}
		s.ctr.playoutUsSum.Add(uint64(time.Since(start).Microseconds()))
		s.ctr.playoutCount.Add(1)
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.runPlayer",
	}).Debug("Player stopped")
	return nil
}

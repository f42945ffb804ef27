package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/audiocast/jitter"
	"github.com/opd-ai/audiocast/protocol"
)

// session is one receive pipeline: the network receiver, the player, and
// the stats sampler sharing a playout buffer and atomic counters. The
// supervisor owns construction and teardown; workers only ever signal
// termination (flip running, close sockets, wake the buffer) and leave
// joining to the supervisor, which breaks the teardown cycle between the
// receiver's fatal-error path and Stop.
type session struct {
	cfg Config

	ctr counters
	net *netStats

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group

	// Audio pipeline state, written once by the receiver goroutine at
	// lazy initialization and published through the initialized flag.
	mu              sync.Mutex
	buffer          jitter.PlayoutBuffer
	ctrl            *AdaptiveController
	sink            Sink
	silence         []int16
	frameMs         int
	expectedSamples int
	initialized     atomic.Bool

	udpConn  net.PacketConn
	listener net.Listener
	client   net.Conn

	stopOnce sync.Once
}

func newSession(cfg Config) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:    cfg,
		net:    newNetStats(),
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
	}
	s.running.Store(true)
	return s
}

// handlePacket is the shared ingest path for both transports. overhead
// is per-packet wire framing not present in data (the TCP length prefix).
func (s *session) handlePacket(data []byte, overhead int) {
	s.ctr.packets.Add(1)
	s.ctr.bytes.Add(uint64(len(data) + overhead))

	start := time.Now()
	frame, err := protocol.Parse(data)
	if err != nil {
		s.ctr.parseErr.Add(1)
		if logrus.IsLevelEnabled(logrus.TraceLevel) {
			logrus.WithFields(logrus.Fields{
				"function": "session.handlePacket",
				"bytes":    len(data),
				"error":    err.Error(),
			}).Trace("Packet rejected")
		}
		return
	}
	s.ctr.decodeUsSum.Add(uint64(time.Since(start).Microseconds()))
	s.ctr.decodeCount.Add(1)

	if !s.initialized.Load() {
		if err := s.initAudio(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.handlePacket",
				"error":    err.Error(),
			}).Error("Audio initialization failed, ending session")
			s.terminate()
			return
		}
	}

	if frame.PayloadSamples() != s.expectedSamples {
		s.ctr.payloadErr.Add(1)
		return
	}

	s.net.observe(time.Now().UnixMicro() - frame.SendTimeUs)
	s.buffer.Push(frame)
}

// initAudio builds the playout pipeline from the first valid frame: the
// frame cadence and sample format come off the wire, the buffer target
// from the configured jitter budget, and the player starts only after
// the sink is open.
func (s *session) initAudio(f *protocol.Frame) error {
	frameMs := f.FrameMs()
	base := s.cfg.JitterMs / frameMs
	if base < 2 {
		base = 2
	}
	ctrl := NewAdaptiveController(base)

	maxFrames := base + 16
	if m := ctrl.MaxTarget() + 4; m > maxFrames {
		maxFrames = m
	}

	expected := f.PayloadSamples()
	spec := SinkSpec{
		SampleRate:        int(f.SampleRate),
		Channels:          int(f.Channels),
		SamplesPerChannel: f.SamplesPerChannel,
		BufferBytes:       expected * 2 * (maxFrames + 2),
	}
	sink, err := s.cfg.SinkFactory(spec)
	if err != nil {
		return fmt.Errorf("failed to open audio sink: %w", err)
	}

	var buf jitter.PlayoutBuffer
	if s.cfg.Reorder {
		buf = jitter.NewOrderedBuffer(base, maxFrames)
	} else {
		buf = jitter.NewBuffer(base, maxFrames)
	}

	s.mu.Lock()
	s.buffer = buf
	s.ctrl = ctrl
	s.sink = sink
	s.silence = make([]int16, expected)
	s.frameMs = frameMs
	s.expectedSamples = expected
	s.mu.Unlock()
	s.initialized.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":      "session.initAudio",
		"sample_rate":   f.SampleRate,
		"channels":      f.Channels,
		"frame_ms":      frameMs,
		"target_frames": base,
		"max_frames":    maxFrames,
		"reorder":       s.cfg.Reorder,
	}).Info("Audio pipeline initialized from first packet")

	fmt.Fprintf(s.cfg.Telemetry,
		"audio init rate=%d channels=%d frameMs=%d targetFrames=%d maxFrames=%d\n",
		f.SampleRate, f.Channels, frameMs, base, maxFrames)

	s.group.Go(s.runPlayer)
	return nil
}

// terminate signals session shutdown from any goroutine: flips the
// running flag, cancels the context, closes sockets so blocked reads
// return, and wakes playout waiters. It never joins; the supervisor does.
func (s *session) terminate() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.cancel()

		s.mu.Lock()
		if s.udpConn != nil {
			s.udpConn.Close()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		if s.client != nil {
			s.client.Close()
		}
		if s.buffer != nil {
			s.buffer.Close()
		}
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "session.terminate",
		}).Debug("Session termination signalled")
	})
}

// releaseAudio closes the sink and clears the pipeline. Called by the
// supervisor after all workers have been joined.
func (s *session) releaseAudio() {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.buffer = nil
	s.silence = nil
	s.mu.Unlock()

	if sink != nil {
		if err := sink.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.releaseAudio",
				"error":    err.Error(),
			}).Warn("Audio sink close failed")
		}
	}
}

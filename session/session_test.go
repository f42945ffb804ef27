package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiocast/protocol"
)

// fakeSink records frames; an optional write delay emulates a blocking
// audio device.
type fakeSink struct {
	mu     sync.Mutex
	spec   SinkSpec
	frames int
	delay  time.Duration
	closed bool
}

func (f *fakeSink) WriteFrame(samples []int16) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// sinkRecorder hands out fake sinks and remembers them.
type sinkRecorder struct {
	mu    sync.Mutex
	delay time.Duration
	sinks []*fakeSink
}

func (r *sinkRecorder) factory(spec SinkSpec) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &fakeSink{spec: spec, delay: r.delay}
	r.sinks = append(r.sinks, s)
	return s, nil
}

func (r *sinkRecorder) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

func (r *sinkRecorder) last() *fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sinks) == 0 {
		return nil
	}
	return r.sinks[len(r.sinks)-1]
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// encodePacket builds a wire packet for a mono 48 kHz 5 ms frame.
func encodePacket(t *testing.T, seq uint32) []byte {
	t.Helper()
	packet, err := protocol.Encode(&protocol.Frame{
		SampleRate:        48000,
		Channels:          1,
		Seq:               seq,
		SendTimeUs:        time.Now().UnixMicro(),
		SamplesPerChannel: 240,
		Samples:           make([]int16, 240),
	})
	require.NoError(t, err)
	return packet
}

// waitUDPBound blocks until the supervisor's session has bound its UDP
// socket. Start returns before the receiver goroutine binds, and a
// datagram sent before then is dropped.
func waitUDPBound(t *testing.T, sup *Supervisor) {
	t.Helper()
	s := sup.sess
	require.NotNil(t, s)
	eventually(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.udpConn != nil
	}, "UDP receiver did not bind")
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), msg)
}

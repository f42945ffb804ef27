package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiocast/protocol"
)

const (
	// udpRecvBufferBytes is the requested kernel receive buffer; large
	// enough to ride out scheduling hiccups at high packet rates.
	udpRecvBufferBytes = 256 * 1024

	// udpReadBufferBytes bounds a single datagram; well above any frame
	// a 1-20 ms send cadence produces.
	udpReadBufferBytes = 8 * 1024

	// recvTimeout is the socket read deadline; it bounds how long the
	// receive loop can go without observing shutdown.
	recvTimeout = 500 * time.Millisecond

	// acceptTimeout bounds the TCP accept wait for the same reason.
	acceptTimeout = 800 * time.Millisecond

	// tcpReadTimeout is the per-read deadline on an accepted stream.
	tcpReadTimeout = 2 * time.Second

	// tcpLenPrefixBytes is the wire overhead per TCP-framed packet.
	tcpLenPrefixBytes = 2
)

// runUDP owns the datagram socket for the session lifetime. Transient
// receive errors are absorbed into the parse error counter; a bind
// failure is fatal and signals termination before returning.
func (s *session) runUDP() error {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "session.runUDP",
			"port":     s.cfg.Port,
			"error":    err.Error(),
		}).Error("UDP bind failed")
		s.terminate()
		return fmt.Errorf("failed to bind UDP port %d: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.udpConn = conn
	s.mu.Unlock()
	if !s.running.Load() {
		// Lost the race with a concurrent stop; terminate already ran.
		conn.Close()
		return nil
	}

	if udp, ok := conn.(*net.UDPConn); ok {
		if err := udp.SetReadBuffer(udpRecvBufferBytes); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.runUDP",
				"error":    err.Error(),
			}).Warn("Could not enlarge UDP receive buffer")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.runUDP",
		"addr":     conn.LocalAddr().String(),
	}).Info("UDP receiver listening")

	buf := make([]byte, udpReadBufferBytes)
	for s.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			logrus.WithFields(logrus.Fields{
				"function": "session.runUDP",
				"error":    err.Error(),
			}).Warn("UDP receive error")
			s.ctr.parseErr.Add(1)
			continue
		}
		s.handlePacket(buf[:n], 0)
	}
	return nil
}

// runTCP owns the listening socket, accepting one forwarded client at a
// time. Each packet is framed by a 2-byte little-endian length prefix.
func (s *session) runTCP() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "session.runTCP",
			"port":     s.cfg.Port,
			"error":    err.Error(),
		}).Error("TCP listen failed")
		s.terminate()
		return fmt.Errorf("failed to listen on TCP port %d: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	if !s.running.Load() {
		ln.Close()
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.runTCP",
		"addr":     ln.Addr().String(),
	}).Info("TCP receiver listening")

	tcpLn, _ := ln.(*net.TCPListener)
	for s.running.Load() {
		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			logrus.WithFields(logrus.Fields{
				"function": "session.runTCP",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}
		s.serveStream(conn)
	}
	return nil
}

// serveStream drains length-prefixed packets from one client until it
// disconnects, misframes, or the session stops. The next client is then
// accepted by runTCP.
func (s *session) serveStream(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.client = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.serveStream",
		"remote":   conn.RemoteAddr().String(),
	}).Info("Stream client connected")

	prefix := make([]byte, tcpLenPrefixBytes)
	scratch := make([]byte, 4096)
	for s.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
		if _, err := io.ReadFull(conn, prefix); err != nil {
			if err != io.EOF {
				logrus.WithFields(logrus.Fields{
					"function": "session.serveStream",
					"error":    err.Error(),
				}).Debug("Stream ended")
			}
			return
		}

		length := int(binary.LittleEndian.Uint16(prefix))
		if length < 1 || length > protocol.MaxPayloadBytes {
			s.ctr.parseErr.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "session.serveStream",
				"length":   length,
			}).Warn("Invalid length prefix, dropping client")
			return
		}

		if length > len(scratch) {
			scratch = make([]byte, length)
		}
		if _, err := io.ReadFull(conn, scratch[:length]); err != nil {
			s.ctr.parseErr.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "session.serveStream",
				"length":   length,
				"error":    err.Error(),
			}).Warn("Short packet read, dropping client")
			return
		}

		s.handlePacket(scratch[:length], tcpLenPrefixBytes)
	}
}

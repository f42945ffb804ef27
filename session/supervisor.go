package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Supervisor owns at most one active receive session and is the only
// component that joins session goroutines.
//
// Start and Stop are idempotent: a Start while running is ignored, a
// Stop without a session is a no-op, and Start after Stop begins a fresh
// session with zeroed counters. A session that dies on its own (bind
// failure, sink failure) is reaped by the supervisor's monitor goroutine,
// which releases the audio sink on every exit path.
type Supervisor struct {
	mu   sync.Mutex
	sess *session
	done chan struct{}
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Start launches a session with the given configuration. It returns nil
// immediately when a session is already running.
func (sv *Supervisor) Start(cfg Config) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.sess != nil {
		if sv.sess.running.Load() {
			logrus.WithFields(logrus.Fields{
				"function": "Supervisor.Start",
				"port":     cfg.Port,
			}).Info("Session already running, start ignored")
			return nil
		}
		// The previous session terminated on its own; reap it first.
		<-sv.done
		sv.sess = nil
		sv.done = nil
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Supervisor.Start",
		"port":      cfg.Port,
		"jitter_ms": cfg.JitterMs,
		"transport": cfg.Transport,
		"reorder":   cfg.Reorder,
	}).Info("Starting receive session")

	s := newSession(cfg)
	switch cfg.Transport {
	case TransportTCP:
		s.group.Go(s.runTCP)
	default:
		s.group.Go(s.runUDP)
	}
	s.group.Go(s.runSampler)

	done := make(chan struct{})
	sv.sess = s
	sv.done = done
	go sv.monitor(s, done)
	return nil
}

// monitor joins the session's goroutines and releases resources once
// they are all gone, whether the session was stopped or died on its own.
func (sv *Supervisor) monitor(s *session, done chan struct{}) {
	err := s.group.Wait()
	s.terminate()
	s.releaseAudio()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.monitor",
			"error":    err.Error(),
		}).Error("Session ended with error")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.monitor",
		}).Info("Session ended")
	}
	close(done)
}

// Stop terminates the active session, waits for all of its goroutines,
// and releases the audio sink. It is a no-op when nothing is running.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	s, done := sv.sess, sv.done
	sv.sess = nil
	sv.done = nil
	sv.mu.Unlock()
	if s == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Supervisor.Stop",
	}).Info("Stopping receive session")

	s.terminate()
	<-done
}

// Running reports whether a session is currently active.
func (sv *Supervisor) Running() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sess != nil && sv.sess.running.Load()
}

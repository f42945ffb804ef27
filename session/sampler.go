package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiocast/jitter"
)

// sampleInterval is the telemetry and adaptation window.
const sampleInterval = time.Second

// runSampler publishes one telemetry record per second and drives the
// adaptive controller. It is the only goroutine that mutates controller
// state or retunes the buffer target.
func (s *session) runSampler() error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	var prevTotals counterTotals
	var prevBuf jitter.Snapshot

	for {
		select {
		case <-s.ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "session.runSampler",
			}).Debug("Sampler stopped")
			return nil
		case <-ticker.C:
		}
		s.sampleWindow(&prevTotals, &prevBuf)
	}
}

// sampleWindow processes one second of counters: deltas, controller
// observation, target commit, and the telemetry record.
func (s *session) sampleWindow(prevTotals *counterTotals, prevBuf *jitter.Snapshot) {
	totals := s.ctr.totals()
	netWin := s.net.window()

	initialized := s.initialized.Load()
	var buf jitter.Snapshot
	if initialized {
		buf = s.buffer.Snapshot()
	}

	pps := totals.packets - prevTotals.packets
	kbps := float64(totals.bytes-prevTotals.bytes) * 8 / 1000
	parseErrDelta := totals.parseErr - prevTotals.parseErr
	payloadErrDelta := totals.payloadErr - prevTotals.payloadErr
	underrunDelta := totals.underrun - prevTotals.underrun
	missingDelta := buf.Missing - prevBuf.Missing
	lateDelta := buf.Late - prevBuf.Late
	overflowDelta := buf.OverflowDropped - prevBuf.OverflowDropped

	decodeMs, decodeOK := avgMs(totals.decodeUsSum-prevTotals.decodeUsSum,
		totals.decodeCount-prevTotals.decodeCount)
	playoutMs, playoutOK := avgMs(totals.playoutUsSum-prevTotals.playoutUsSum,
		totals.playoutCount-prevTotals.playoutCount)

	bufferMs := 0
	if initialized {
		bufferMs = buf.Buffered * s.frameMs
	}

	delay := "n/a"
	if netWin.ageOK {
		delay = fmt.Sprintf("%.1f", netWin.ageMs)
	}

	fmt.Fprintf(s.cfg.Telemetry,
		"stats rx=%d pps %.1f kbps delay=%s ms buffer=%d ms loss=%d late=%d over=%d underrun=%d parseErr=%d payloadErr=%d\n",
		pps, kbps, delay, bufferMs, missingDelta, lateDelta, overflowDelta,
		underrunDelta, parseErrDelta, payloadErrDelta)

	if initialized {
		target, _, changed := s.ctrl.Observe(Window{
			UnderrunDelta:   underrunDelta,
			MissingDelta:    missingDelta,
			OverflowDelta:   overflowDelta,
			ParseErrDelta:   parseErrDelta,
			PayloadErrDelta: payloadErrDelta,
			Buffered:        buf.Buffered,
			Target:          buf.TargetFrames,
		})
		if changed {
			target = s.buffer.SetTargetFrames(target)
		}

		fmt.Fprintf(s.cfg.Telemetry,
			"autojitter target=%d (%dms) base=%d (%dms) score=%.1f win=%.1f reason=%s\n",
			target, target*s.frameMs,
			s.ctrl.BaseTarget(), s.ctrl.BaseTarget()*s.frameMs,
			s.ctrl.ScoreEMA(), s.ctrl.LastWindowScore(), s.ctrl.LastReason())

		e2eMs, e2eOK := estimateE2E(netWin, decodeMs, decodeOK, float64(bufferMs))
		fmt.Fprintf(s.cfg.Telemetry,
			"perf netAge=%sms netPath=%sms netJit=%sms decode=%sms playout=%sms e2e=%sms\n",
			fmtMs(netWin.ageMs, netWin.ageOK),
			fmtMs(netWin.pathMs, netWin.pathOK),
			fmtMs(netWin.jitMs, netWin.jitOK),
			fmtMs(decodeMs, decodeOK),
			fmtMs(playoutMs, playoutOK),
			fmtMs(e2eMs, e2eOK))
	}

	*prevTotals = totals
	*prevBuf = buf
}

// estimateE2E approximates end-to-end latency as network path (falling
// back to raw age when the baseline is unavailable) plus decode time plus
// buffered audio.
func estimateE2E(netWin netWindow, decodeMs float64, decodeOK bool, bufferMs float64) (float64, bool) {
	netMs := 0.0
	netOK := false
	switch {
	case netWin.pathOK:
		netMs, netOK = netWin.pathMs, true
	case netWin.ageOK:
		netMs, netOK = netWin.ageMs, true
	}
	if !netOK && !decodeOK {
		return 0, false
	}
	e2e := netMs + bufferMs
	if decodeOK {
		e2e += decodeMs
	}
	return e2e, true
}

func avgMs(usSum, count uint64) (float64, bool) {
	if count == 0 {
		return 0, false
	}
	return float64(usSum) / float64(count) / 1000, true
}

func fmtMs(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", v)
}

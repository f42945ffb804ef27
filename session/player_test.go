package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlayerSubstitutesSilenceForWrongSizeFrames(t *testing.T) {
	s, _ := initializedTestSession(t)

	bad := streamFrame(0)
	bad.SamplesPerChannel = 120
	bad.Samples = make([]int16, 120)

	// Prime with the undersized frame in the mix; the player must count
	// it as a payload fault and keep the sink fed with silence.
	s.buffer.Push(bad)
	for seq := uint32(1); seq < 4; seq++ {
		s.buffer.Push(streamFrame(seq))
	}

	eventually(t, 2*time.Second, func() bool {
		return s.ctr.payloadErr.Load() == 1
	}, "undersized frame was not counted")
}

func TestPlayerCountsUnderrunsWhileStarved(t *testing.T) {
	s, _ := initializedTestSession(t)

	// Prime, drain, and starve: every expired pop is an underrun.
	for seq := uint32(0); seq < 4; seq++ {
		s.buffer.Push(streamFrame(seq))
	}

	eventually(t, 2*time.Second, func() bool {
		return s.ctr.underrun.Load() >= 3
	}, "starvation did not register as underruns")

	snap := s.buffer.Snapshot()
	assert.True(t, snap.Primed)
	assert.GreaterOrEqual(t, snap.Missing, uint64(3))
}

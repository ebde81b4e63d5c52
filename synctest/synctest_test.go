package synctest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallstop/fortress"
	"github.com/wallstop/fortress/synctest"
)

// recordState is the minimal host state: a running sum of every input
// ever applied. Saving/loading it exactly is enough to make replay
// byte-for-byte reproducible, which is what the rollback check verifies.
type recordState struct {
	total uint64
}

// recordingHost is a deterministic host: SaveState's checksum is a pure
// function of the saved state, so a correct rollback+replay always
// reproduces it exactly.
type recordingHost struct {
	running uint64
}

func (h *recordingHost) SaveState(frame int32) (recordState, uint64, uint64) {
	return recordState{total: h.running}, h.running, 0
}

func (h *recordingHost) LoadState(frame int32, s recordState) {
	h.running = s.total
}

func (h *recordingHost) AdvanceFrame(inputs []fortress.InputWithStatus[uint8]) {
	for _, in := range inputs {
		h.running += uint64(in.Input)
	}
}

func newSession(t *testing.T, checkDistance int) *synctest.Session[uint8, recordState] {
	t.Helper()
	cfg := synctest.Config{
		NumPlayers:    2,
		CheckDistance: checkDistance,
		InputQueue:    fortress.DefaultInputQueueConfig(),
	}
	s, err := synctest.New[uint8, recordState](cfg, 0)
	require.NoError(t, err)
	return s
}

func TestSyncTestDeterministicRunProducesNoMismatch(t *testing.T) {
	s := newSession(t, 4)
	host := &recordingHost{}

	for i := 0; i < 40; i++ {
		s.AddLocalInput(0, uint8(i%7))
		s.AddLocalInput(1, uint8((i*3)%5))
		require.NoError(t, s.AdvanceFrame(host))
	}
	assert.Equal(t, int32(40), s.CurrentFrame().Int32())
}

// driftingHost's checksum depends on a counter that advances on every
// SaveState call and is never restored by LoadState, simulating a
// simulation step that is not actually deterministic.
type driftingHost struct {
	recordingHost
	calls uint64
}

func (h *driftingHost) SaveState(frame int32) (recordState, uint64, uint64) {
	h.calls++
	return recordState{total: h.running}, h.running, h.calls
}

func TestSyncTestNonDeterministicHostReportsMismatch(t *testing.T) {
	s := newSession(t, 2)
	host := &driftingHost{}

	var sawMismatch bool
	for i := 0; i < 10 && !sawMismatch; i++ {
		s.AddLocalInput(0, 1)
		s.AddLocalInput(1, 1)
		err := s.AdvanceFrame(host)
		if err != nil {
			sawMismatch = true
			var ferr *fortress.Error
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, fortress.ErrMismatchedChecksum, ferr.Kind)
		}
	}
	assert.True(t, sawMismatch, "drifting host should eventually desync")
}

func TestSyncTestConfigValidation(t *testing.T) {
	_, err := synctest.New[uint8, recordState](synctest.Config{NumPlayers: 0, CheckDistance: 4, InputQueue: fortress.DefaultInputQueueConfig()}, 0)
	assert.Error(t, err)

	_, err = synctest.New[uint8, recordState](synctest.Config{NumPlayers: 2, CheckDistance: 0, InputQueue: fortress.DefaultInputQueueConfig()}, 0)
	assert.Error(t, err)
}

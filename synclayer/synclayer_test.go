package synclayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallstop/fortress/frameinfo"
)

func connected(n int) []frameinfo.ConnectStatus {
	cs := make([]frameinfo.ConnectStatus, n)
	for i := range cs {
		cs[i].LastFrame = 1 << 30
	}
	return cs
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	l := New[int, string](2, 8, 16, 0)
	l.AddLocalInput(0, 1)
	l.AddLocalInput(1, 2)
	_ = l.SaveCurrentState()
	cell := l.ring.CellFor(0)
	cell.Save(0, "frame0-state", true, 0, 0, false)

	l.AdvanceFrame()
	l.AdvanceFrame()
	require.Equal(t, int32(2), l.CurrentFrame())

	req, err := l.LoadFrame(0)
	require.NoError(t, err)
	state, ok := req.Cell.Load()
	require.True(t, ok)
	assert.Equal(t, "frame0-state", state)
	assert.Equal(t, int32(0), l.CurrentFrame())
}

func TestLoadFrameRejectsFuture(t *testing.T) {
	l := New[int, string](2, 8, 16, 0)
	_, err := l.LoadFrame(l.CurrentFrame())
	assert.Error(t, err)
}

func TestLoadFrameRejectsBeyondMaxPrediction(t *testing.T) {
	l := New[int, string](2, 4, 16, 0)
	for i := 0; i < 10; i++ {
		l.AdvanceFrame()
	}
	_, err := l.LoadFrame(0) // current=10, max_prediction=4: out of window
	assert.Error(t, err)
}

func TestSynchronizedInputsReportsDisconnected(t *testing.T) {
	l := New[int, string](2, 8, 16, -1)
	cs := connected(2)
	cs[1] = frameinfo.ConnectStatus{Disconnected: true, LastFrame: -1}
	out := l.SynchronizedInputs(cs, -1)
	require.Len(t, out, 2)
	assert.Equal(t, StatusDisconnected, out[1].Status)
	assert.Equal(t, -1, out[1].Input)
}

func TestSynchronizedInputsTagsPredicted(t *testing.T) {
	l := New[int, string](1, 8, 16, 0)
	cs := connected(1)
	out := l.SynchronizedInputs(cs, 0)
	require.Len(t, out, 1)
	assert.Equal(t, StatusPredicted, out[0].Status)
}

func TestSetLastConfirmedFrameClampsToCurrentFrame(t *testing.T) {
	l := New[int, string](1, 8, 16, 0)
	l.SetLastConfirmedFrame(100, false)
	assert.Equal(t, l.CurrentFrame(), l.LastConfirmedFrame())
}

func TestCheckSimulationConsistencyNullWhenClean(t *testing.T) {
	l := New[int, string](2, 8, 16, 0)
	assert.Equal(t, nullFrame, l.CheckSimulationConsistency())
}

package inputqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallstop/fortress/frameinfo"
)

func TestLocalInsertAppliesFrameDelay(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.SetFrameDelay(2))
	effective := q.AddLocalInput(7, 0)
	assert.Equal(t, int32(2), effective)
	assert.Equal(t, int32(2), q.LastAddedFrame())
}

func TestLocalInsertRejectsNonAdvancingFrame(t *testing.T) {
	q := New[int](16, 0)
	first := q.AddLocalInput(1, 0)
	require.Equal(t, int32(0), first)
	second := q.AddLocalInput(2, 0)
	assert.Equal(t, nullFrame, second)
}

func TestRemoteInsertRejectsStaleFrame(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 5, Input: 1}))
	ok := q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 5, Input: 2})
	assert.False(t, ok)
}

func TestInputSynthesizesPredictionPastLastAdded(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 0, Input: 9}))
	pred := q.Input(1)
	assert.Equal(t, 9, pred.Input)
	assert.True(t, q.IsPredicted(1))
}

func TestInputReturnsDefaultBeforeAnyInsert(t *testing.T) {
	q := New[int](16, 42)
	pred := q.Input(0)
	assert.Equal(t, 42, pred.Input)
}

func TestMispredictionDetectedOnContradiction(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 0, Input: 1}))
	// Frame 1 not yet known: a caller peeking ahead triggers a prediction.
	_ = q.Input(1)
	// The real input arrives and contradicts the predicted copy-forward.
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 1, Input: 2}))
	assert.Equal(t, int32(1), q.FirstIncorrectFrame())
}

func TestPredictionValidatedWhenNoContradiction(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 0, Input: 5}))
	_ = q.Input(1) // predicts 5
	// Confirmed input matches the prediction exactly.
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 1, Input: 5}))
	assert.Equal(t, nullFrame, q.FirstIncorrectFrame())
}

func TestResetPredictionClearsState(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 0, Input: 1}))
	_ = q.Input(1)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 1, Input: 2}))
	require.NotEqual(t, nullFrame, q.FirstIncorrectFrame())
	q.ResetPrediction()
	assert.Equal(t, nullFrame, q.FirstIncorrectFrame())
}

func TestDiscardConfirmedFramesAdvancesWindow(t *testing.T) {
	q := New[int](16, 0)
	for f := int32(0); f < 5; f++ {
		require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: f, Input: int(f)}))
	}
	q.DiscardConfirmedFrames(3)
	assert.Equal(t, int32(4), q.FirstFrame())
	_, ok := q.ConfirmedInput(3)
	assert.False(t, ok)
	got, ok := q.ConfirmedInput(4)
	require.True(t, ok)
	assert.Equal(t, 4, got.Input)
}

func TestDiscardNeverRemovesLastAddedFrame(t *testing.T) {
	q := New[int](16, 0)
	require.True(t, q.AddRemoteInput(frameinfo.PlayerInput[int]{Frame: 0, Input: 1}))
	q.DiscardConfirmedFrames(10) // past LastAddedFrame entirely
	_, ok := q.ConfirmedInput(0)
	assert.True(t, ok, "the input at LastAddedFrame must survive any discard")
}

func TestSetFrameDelayRejectsOutOfRange(t *testing.T) {
	q := New[int](8, 0)
	assert.False(t, q.SetFrameDelay(8))
	assert.False(t, q.SetFrameDelay(-1))
	assert.True(t, q.SetFrameDelay(7))
}

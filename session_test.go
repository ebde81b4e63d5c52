package fortress_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallstop/fortress"
	"github.com/wallstop/fortress/peer"
	"github.com/wallstop/fortress/transport"
)

type testInput struct{ Buttons uint8 }

func encodeTestInput(i testInput) []byte { return []byte{i.Buttons} }
func decodeTestInput(b []byte) testInput { return testInput{Buttons: b[0]} }

type testState struct{ Frame int32 }

func newTestSession(t *testing.T, local, remote fortress.PlayerHandle, remoteAddr string, trans transport.Transport[string]) *fortress.Session[testInput, testState, string] {
	t.Helper()
	cfg := fortress.SessionConfig{
		NumPlayers:    2,
		MaxPrediction: 0,
		InputDelay:    0,
		InputQueue:    fortress.DefaultInputQueueConfig(),
		Sync:          fortress.LANSyncConfig(),
		Protocol:      fortress.DefaultProtocolConfig(),
		Spectator:     fortress.DefaultSpectatorConfig(),
		FPS:           60,
	}
	s, err := fortress.NewSession[testInput, testState](cfg, trans, testInput{}, encodeTestInput, decodeTestInput)
	require.NoError(t, err)
	require.NoError(t, s.AddLocalPlayer(local))
	require.NoError(t, s.AddRemotePlayer(remote, remoteAddr))
	return s
}

func newConnectedPair(t *testing.T) (*fortress.Session[testInput, testState, string], *fortress.Session[testInput, testState, string]) {
	t.Helper()
	la := transport.NewLoopback[string]("a")
	lb := transport.NewLoopback[string]("b")
	transport.Connect(la, lb)
	a := newTestSession(t, 0, 1, "b", la)
	b := newTestSession(t, 1, 0, "a", lb)
	return a, b
}

func syncUntilRunning(t *testing.T, ctx context.Context, now time.Time, a, b *fortress.Session[testInput, testState, string]) {
	t.Helper()
	require.NoError(t, a.Synchronize(now))
	require.NoError(t, b.Synchronize(now))
	for i := 0; i < 100 && (!a.IsSynchronized() || !b.IsSynchronized()); i++ {
		require.NoError(t, a.PollRemoteClients(ctx, now))
		require.NoError(t, b.PollRemoteClients(ctx, now))
	}
	require.True(t, a.IsSynchronized())
	require.True(t, b.IsSynchronized())
}

func containsAdvance(reqs []fortress.FortressRequest[testInput, testState]) bool {
	for _, r := range reqs {
		if r.Kind == fortress.RequestAdvanceFrame {
			return true
		}
	}
	return false
}

// driveFrame buffers one frame of local input on each side and pumps
// both sessions' AdvanceFrame/PollRemoteClients loops until both have
// confirmed and advanced past the frame, the way a lockstep host would.
func driveFrame(t *testing.T, ctx context.Context, now time.Time, a, b *fortress.Session[testInput, testState, string], inputA, inputB testInput) {
	t.Helper()
	require.NoError(t, a.AddLocalInput(0, inputA))
	require.NoError(t, b.AddLocalInput(1, inputB))

	var aDone, bDone bool
	for i := 0; i < 200 && !(aDone && bDone); i++ {
		if !aDone {
			reqs, err := a.AdvanceFrame(ctx, now)
			require.NoError(t, err)
			aDone = containsAdvance(reqs)
		}
		if !bDone {
			reqs, err := b.AdvanceFrame(ctx, now)
			require.NoError(t, err)
			bDone = containsAdvance(reqs)
		}
	}
	require.True(t, aDone, "a never advanced")
	require.True(t, bDone, "b never advanced")
}

func TestSessionSynchronizeReachesRunning(t *testing.T) {
	a, b := newConnectedPair(t)
	now := time.Now()
	syncUntilRunning(t, context.Background(), now, a, b)

	health, err := a.SyncHealth(1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), a.CurrentFrame().Int32())
	_ = health
}

func TestSessionInputRoundTripAdvancesBothPeers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	a, b := newConnectedPair(t)
	syncUntilRunning(t, ctx, now, a, b)

	driveFrame(t, ctx, now, a, b, testInput{Buttons: 1}, testInput{Buttons: 2})
	assert.Equal(t, int32(1), a.CurrentFrame().Int32())
	assert.Equal(t, int32(1), b.CurrentFrame().Int32())

	driveFrame(t, ctx, now, a, b, testInput{Buttons: 3}, testInput{Buttons: 4})
	assert.Equal(t, int32(2), a.CurrentFrame().Int32())
	assert.Equal(t, int32(2), b.CurrentFrame().Int32())
}

func TestSessionDisconnectPlayerMarksLocalConnectStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	a, b := newConnectedPair(t)
	syncUntilRunning(t, ctx, now, a, b)
	_ = b

	require.NoError(t, a.DisconnectPlayer(1, now))
	health, err := a.SyncHealth(1)
	require.NoError(t, err)
	assert.Equal(t, peer.StateDisconnected, health.State)

	err = a.DisconnectPlayer(1, now)
	require.NoError(t, err)
}

func TestSessionDisconnectPlayerRejectsLocalHandle(t *testing.T) {
	a, _ := newConnectedPair(t)
	err := a.DisconnectPlayer(0, time.Now())
	assert.Error(t, err)
}

func TestNewSessionRejectsMissingCodecs(t *testing.T) {
	cfg := fortress.SessionConfig{
		NumPlayers:    2,
		MaxPrediction: 0,
		InputDelay:    0,
		InputQueue:    fortress.DefaultInputQueueConfig(),
		Sync:          fortress.LANSyncConfig(),
		Protocol:      fortress.DefaultProtocolConfig(),
		Spectator:     fortress.DefaultSpectatorConfig(),
		FPS:           60,
	}
	trans := transport.NewLoopback[string]("a")
	_, err := fortress.NewSession[testInput, testState](cfg, trans, testInput{}, nil, nil)
	assert.Error(t, err)
}

func TestNewSessionRejectsInvalidNumPlayers(t *testing.T) {
	cfg := fortress.SessionConfig{
		NumPlayers:    0,
		InputQueue:    fortress.DefaultInputQueueConfig(),
		Sync:          fortress.LANSyncConfig(),
		Protocol:      fortress.DefaultProtocolConfig(),
		Spectator:     fortress.DefaultSpectatorConfig(),
	}
	trans := transport.NewLoopback[string]("a")
	_, err := fortress.NewSession[testInput, testState](cfg, trans, testInput{}, encodeTestInput, decodeTestInput)
	assert.Error(t, err)
}

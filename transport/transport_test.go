package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackDeliversBetweenConnectedPeers(t *testing.T) {
	a := NewLoopback("a")
	b := NewLoopback("b")
	Connect(a, b)

	require.NoError(t, a.SendTo(context.Background(), "b", []byte("hello")))

	gotB, err := b.ReceiveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, gotB, 1)
	assert.Equal(t, "a", gotB[0].From)
	assert.Equal(t, []byte("hello"), gotB[0].Payload)

	gotA, err := a.ReceiveAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotA)
}

func TestLoopbackDropsToUnknownPeer(t *testing.T) {
	a := NewLoopback("a")
	require.NoError(t, a.SendTo(context.Background(), "nowhere", []byte("x")))
}

func TestLoopbackClosedDropsSilently(t *testing.T) {
	a := NewLoopback("a")
	b := NewLoopback("b")
	Connect(a, b)
	require.NoError(t, b.Close())
	require.NoError(t, a.SendTo(context.Background(), "b", []byte("x")))

	got, err := b.ReceiveAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

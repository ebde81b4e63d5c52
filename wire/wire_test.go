package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallstop/fortress"
)

func TestSyncRequestRoundTrip(t *testing.T) {
	m := Message{Magic: 0xBEEF, Tag: TagSyncRequest, SyncRequest: SyncRequest{Random: 12345}}
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestInputRoundTripWithConnectStatus(t *testing.T) {
	m := Message{
		Magic: 7,
		Tag:   TagInput,
		Input: Input{
			StartFrame:          10,
			AckFrame:            9,
			DisconnectRequested: false,
			PeerConnectStatus: []ConnectStatusWire{
				{Disconnected: false, LastFrame: 9},
				{Disconnected: true, LastFrame: 4},
			},
			EncodedBytes: []byte{0x01, 0x02, 0x03},
		},
	}
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestQualityReportRoundTrip(t *testing.T) {
	m := Message{Magic: 1, Tag: TagQualityReport, QualityReport: QualityReport{FrameAdvantage: -7, PingMs: 123456789}}
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestKeepAliveRoundTrip(t *testing.T) {
	m := Message{Magic: 42, Tag: TagKeepAlive}
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestChecksumReportRoundTrip(t *testing.T) {
	m := Message{Magic: 9, Tag: TagChecksumReport, ChecksumReport: ChecksumReport{Frame: 10, ChecksumHi: 0xAAAA, ChecksumLo: 0xBBBB}}
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fortress.ErrSerialization))
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	encoded := Encode(Message{Magic: 1, Tag: TagKeepAlive})
	encoded[2] = 0xFF
	_, err := Decode(encoded)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fortress.ErrSerialization))
}

func TestDecodeRejectsTruncatedInputBody(t *testing.T) {
	encoded := Encode(Message{Magic: 1, Tag: TagInput, Input: Input{StartFrame: 1, AckFrame: 1}})
	truncated := encoded[:len(encoded)-2]
	_, err := Decode(truncated)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fortress.ErrSerialization))
}

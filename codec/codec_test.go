package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRLERoundTripGolden(t *testing.T) {
	// Scenario F from the testable-properties section: this exact input
	// must round-trip and the encoded form must be shorter.
	data := []byte{0, 0, 0, 0, 255, 255, 1, 2, 3, 4, 0, 0}
	encoded := EncodeRLE(data)
	assert.Less(t, len(encoded), len(data))

	decoded, err := DecodeRLE(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestRLERoundTripEmpty(t *testing.T) {
	encoded := EncodeRLE(nil)
	decoded, err := DecodeRLE(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestRLECompressesLongRuns(t *testing.T) {
	data := make([]byte, 1000)
	encoded := EncodeRLE(data)
	assert.Less(t, len(encoded), 10)
	decoded, err := DecodeRLE(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestRLEZerosAndOnesDistinguished(t *testing.T) {
	zeros := make([]byte, 5)
	ones := make([]byte, 5)
	for i := range ones {
		ones[i] = 0xFF
	}
	assert.NotEqual(t, EncodeRLE(zeros), EncodeRLE(ones))
}

func TestRLEHeaderEncodingExact(t *testing.T) {
	// 4 contiguous zeros: value = 4<<2 | 1 = 17
	enc := EncodeRLE([]byte{0, 0, 0, 0})
	require.Len(t, enc, 1)
	assert.EqualValues(t, 17, enc[0])

	// 4 contiguous 0xFF: value = 4<<2 | 3 = 19
	enc2 := EncodeRLE([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.Len(t, enc2, 1)
	assert.EqualValues(t, 19, enc2[0])

	// 3 non-contiguous bytes: value = 3<<1 = 6
	enc3 := EncodeRLE([]byte{1, 2, 3})
	require.Len(t, enc3, 4)
	assert.EqualValues(t, 6, enc3[0])
	assert.Equal(t, []byte{1, 2, 3}, enc3[1:])
}

func TestRLERoundTripRandomPatterns(t *testing.T) {
	patterns := [][]byte{
		{0, 0, 0, 1, 0, 0, 0},
		{255, 255, 0, 0, 255, 255},
		{1, 0, 0, 0, 0, 0, 0, 0, 1},
		{128, 64, 32, 16, 8, 4, 2, 1},
	}
	for _, p := range patterns {
		enc := EncodeRLE(p)
		dec, err := DecodeRLE(enc)
		require.NoError(t, err)
		assert.Equal(t, p, dec)
	}
}

func TestDecodeRLERejectsTruncated(t *testing.T) {
	// Claims 50 bytes of payload (100 >> 1) but none follow.
	_, err := DecodeRLE([]byte{100})
	assert.Error(t, err)
}

func TestXORDeltaRoundTrip(t *testing.T) {
	reference := []byte{1, 2, 3, 4}
	records := [][]byte{
		{1, 2, 3, 5},
		{1, 2, 4, 4},
		{1, 3, 3, 4},
	}
	xorStream := XORDelta(reference, records, 4)
	back, err := XORUndelta(reference, xorStream, 4)
	require.NoError(t, err)
	assert.Equal(t, records, back)
}

func TestEncodeDecodeInputBatchRoundTrip(t *testing.T) {
	reference := []byte{0, 0, 0, 0}
	records := [][]byte{
		{0, 0, 0, 1},
		{0, 0, 0, 1},
		{1, 0, 0, 1},
	}
	encoded := EncodeInputBatch(reference, records, 4)
	decoded, err := DecodeInputBatch(reference, encoded, 4)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

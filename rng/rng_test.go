package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPCG32Deterministic(t *testing.T) {
	a := Seed(12345)
	b := Seed(12345)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, a.NextUint32(), b.NextUint32())
	}
}

func TestPCG32Golden(t *testing.T) {
	r := Seed(0)
	expected := []uint32{0x348a463f, 0x4f205a1b, 0x2946c488, 0x805e36de, 0x79f994a9}
	for _, want := range expected {
		assert.Equal(t, want, r.NextUint32())
	}
}

func TestGenRangeUint32WithinBounds(t *testing.T) {
	r := Seed(42)
	for i := 0; i < 1000; i++ {
		v := r.GenRangeUint32(10, 20)
		assert.GreaterOrEqual(t, v, uint32(10))
		assert.Less(t, v, uint32(20))
	}
}

func TestGenBoolEdgeCases(t *testing.T) {
	r := Seed(42)
	for i := 0; i < 100; i++ {
		assert.False(t, r.GenBool(0.0))
		assert.True(t, r.GenBool(1.0))
	}
}

func TestFillBytesOddLength(t *testing.T) {
	r := Seed(42)
	for _, length := range []int{0, 1, 3, 4, 5, 9, 17} {
		buf := make([]byte, length)
		r.FillBytes(buf)
		if length >= 4 {
			allZero := true
			for _, b := range buf {
				if b != 0 {
					allZero = false
					break
				}
			}
			assert.False(t, allZero)
		}
	}
}

func TestNextNonzeroUint16IsNeverZero(t *testing.T) {
	r := Seed(7)
	for i := 0; i < 10000; i++ {
		assert.NotEqual(t, uint16(0), r.NextNonzeroUint16())
	}
}

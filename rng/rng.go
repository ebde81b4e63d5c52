// Package rng implements a seedable PCG32 generator used for
// protocol magic numbers and sync challenge tokens. Determinism matters
// for replay and testing, not for security — this is not a
// cryptographic RNG.
package rng

import "time"

const (
	pcgMultiplier      = uint64(6364136223846793005)
	pcgDefaultIncrement = uint64(1442695040888963407)
)

// PCG32 is the PCG-XSH-RR variant with 64 bits of state producing
// 32-bit output.
type PCG32 struct {
	state uint64
	inc   uint64
}

// New builds a generator from the given (state, stream) pair. stream is
// folded into an odd increment, per the PCG seeding procedure.
func New(state, stream uint64) *PCG32 {
	inc := (stream << 1) | 1
	p := &PCG32{state: 0, inc: inc}
	p.state = p.state*pcgMultiplier + p.inc
	p.state += state
	p.state = p.state*pcgMultiplier + p.inc
	return p
}

// Seed builds a generator from a single 64-bit seed, passing
// pcgDefaultIncrement to New as the stream selector.
func Seed(seed uint64) *PCG32 {
	return New(seed, pcgDefaultIncrement)
}

// FromEntropy seeds from the wall-clock time in nanoseconds, for sessions
// that don't need reproducible protocol tokens. No other entropy source
// is mixed in.
func FromEntropy() *PCG32 {
	return Seed(uint64(time.Now().UnixNano()))
}

// NextUint32 returns the next 32-bit value and advances the state.
func (p *PCG32) NextUint32() uint32 {
	old := p.state
	p.state = old*pcgMultiplier + p.inc
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return rotateRight32(xorshifted, rot)
}

func rotateRight32(x uint32, r uint32) uint32 {
	r &= 31
	if r == 0 {
		return x
	}
	return (x >> r) | (x << (32 - r))
}

// NextUint64 combines two 32-bit draws into one 64-bit value.
func (p *PCG32) NextUint64() uint64 {
	high := uint64(p.NextUint32())
	low := uint64(p.NextUint32())
	return (high << 32) | low
}

// GenRangeUint32 returns a value uniformly distributed in [lo, hi) using
// rejection sampling to avoid modulo bias. Panics if hi <= lo, mirroring
// the host-facing contract that callers supply a non-empty range.
func (p *PCG32) GenRangeUint32(lo, hi uint32) uint32 {
	if hi <= lo {
		panic("rng: GenRangeUint32 requires a non-empty range")
	}
	span := hi - lo
	threshold := (-span) % span
	for {
		r := p.NextUint32()
		if r >= threshold {
			return lo + r%span
		}
	}
}

// GenBool returns true with probability p, clamped to [0, 1].
func (p *PCG32) GenBool(probability float64) bool {
	if probability < 0 {
		probability = 0
	} else if probability > 1 {
		probability = 1
	}
	threshold := uint32(probability * float64(^uint32(0)))
	return p.NextUint32() < threshold
}

// FillBytes writes pseudo-random bytes into dest.
func (p *PCG32) FillBytes(dest []byte) {
	i := 0
	for ; i+4 <= len(dest); i += 4 {
		v := p.NextUint32()
		dest[i] = byte(v)
		dest[i+1] = byte(v >> 8)
		dest[i+2] = byte(v >> 16)
		dest[i+3] = byte(v >> 24)
	}
	if i < len(dest) {
		v := p.NextUint32()
		for j := 0; i < len(dest); i, j = i+1, j+1 {
			dest[i] = byte(v >> (8 * j))
		}
	}
}

// NextNonzeroUint16 draws a nonzero u16, used for peer-FSM outbound
// magic so two sessions sharing an address pair across restarts cannot
// be confused with each other.
func (p *PCG32) NextNonzeroUint16() uint16 {
	for {
		v := uint16(p.NextUint32())
		if v != 0 {
			return v
		}
	}
}

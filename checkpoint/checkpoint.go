// Package checkpoint implements a fixed-size circular buffer of
// per-frame state cells. The host writes into a cell via a save request
// and reads back via the same cell on a load request; cells are shared
// ownership handles so the core can read a checksum while the host
// writes/reads the state.
package checkpoint

import "sync"

const nullFrame = int32(-1)

// slot is the mutex-protected record a Cell wraps. Contention is by
// construction momentary: the host touches Data/Checksum, the core
// touches Frame/Checksum during the desync pass, and both operations are
// a handful of field reads/writes, never a blocking call.
type slot[S any] struct {
	mu       sync.Mutex
	frame    int32
	data     S
	hasData  bool
	checksum [2]uint64 // hi, lo
	hasSum   bool
}

// Cell is an Arc<Mutex>-style shared handle to a single state slot. Save
// and Load may be called from different goroutines; multiple Cell values
// produced by the same Ring.CellFor call
// alias the same underlying slot.
type Cell[S any] struct {
	s *slot[S]
}

// Save atomically writes frame/state/checksum into the cell. Returns
// false (and does nothing) if frame is null — saving with no frame is a
// caller error, not a panic.
func (c Cell[S]) Save(frame int32, data S, hasData bool, checksumHi, checksumLo uint64, hasChecksum bool) bool {
	if frame == nullFrame {
		return false
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.frame = frame
	c.s.data = data
	c.s.hasData = hasData
	c.s.checksum = [2]uint64{checksumHi, checksumLo}
	c.s.hasSum = hasChecksum
	return true
}

// Load returns the cell's stored state and whether one was ever saved.
func (c Cell[S]) Load() (S, bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.data, c.s.hasData
}

// Frame returns the frame last saved into this cell, or NullFrame if
// never written.
func (c Cell[S]) Frame() int32 {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.frame
}

// Checksum returns the checksum last saved into this cell, if any.
func (c Cell[S]) Checksum() (hi, lo uint64, ok bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.checksum[0], c.s.checksum[1], c.s.hasSum
}

// IsZero reports whether this Cell is the zero value (no slot behind it).
func (c Cell[S]) IsZero() bool {
	return c.s == nil
}

// Ring is a vector of maxPrediction+1 cells, indexed frame mod
// capacity. A cell retains its last write until overwritten; reading a
// cell whose frame was never set returns the null frame.
type Ring[S any] struct {
	capacity int32
	slots    []*slot[S]
}

// New builds a Ring with the given capacity (maxPrediction+1). capacity
// must be positive.
func New[S any](capacity int) *Ring[S] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[S]{capacity: int32(capacity), slots: make([]*slot[S], capacity)}
	for i := range r.slots {
		r.slots[i] = &slot[S]{frame: nullFrame}
	}
	return r
}

// Capacity returns the ring's slot count.
func (r *Ring[S]) Capacity() int {
	return int(r.capacity)
}

// CellFor returns the shared Cell for frame, which must be >= 0.
// Callers (the sync layer) are responsible for rejecting negative
// frames before calling this; CellFor itself indexes unconditionally.
func (r *Ring[S]) CellFor(frame int32) Cell[S] {
	idx := frame % r.capacity
	if idx < 0 {
		idx += r.capacity
	}
	return Cell[S]{s: r.slots[idx]}
}

// Package inputqueue implements a per-player fixed-capacity circular
// buffer of inputs with copy-forward prediction and misprediction
// detection.
package inputqueue

import (
	"reflect"

	"github.com/wallstop/fortress/frameinfo"
)

const nullFrame = int32(-1)

// prediction tracks an in-flight speculative run, from the first frame
// the queue had to synthesize an input for.
type prediction struct {
	active bool
	start  int32
}

// Queue is a per-player input history, generic over the host's opaque
// input type I.
type Queue[I any] struct {
	capacity int32

	buf []frameinfo.PlayerInput[I]

	firstFrame        int32
	lastAddedFrame    int32
	frameDelay        int32
	lastUserAddedFrame int32

	prediction          prediction
	firstIncorrectFrame int32

	defaultInput I
}

// New builds a Queue with the given capacity (the InputQueueLength
// config option; must be >= 2).
func New[I any](capacity int, defaultInput I) *Queue[I] {
	if capacity < 2 {
		capacity = 2
	}
	return &Queue[I]{
		capacity:             int32(capacity),
		buf:                  make([]frameinfo.PlayerInput[I], capacity),
		firstFrame:           0,
		lastAddedFrame:       nullFrame,
		lastUserAddedFrame:   nullFrame,
		firstIncorrectFrame:  nullFrame,
		defaultInput:         defaultInput,
	}
}

// Capacity returns the queue's slot count.
func (q *Queue[I]) Capacity() int { return int(q.capacity) }

// FirstFrame returns the oldest frame still addressable (not yet
// discarded).
func (q *Queue[I]) FirstFrame() int32 { return q.firstFrame }

// LastAddedFrame returns the frame of the most recently inserted input,
// or NullFrame if the queue has never received one.
func (q *Queue[I]) LastAddedFrame() int32 { return q.lastAddedFrame }

// FirstIncorrectFrame reports the earliest frame whose prediction was
// contradicted by a later-arriving confirmed input, or NullFrame.
func (q *Queue[I]) FirstIncorrectFrame() int32 { return q.firstIncorrectFrame }

// FrameDelay returns the currently configured local-insert delay.
func (q *Queue[I]) FrameDelay() int32 { return q.frameDelay }

// SetFrameDelay sets the local-insert delay. Requires n < capacity.
func (q *Queue[I]) SetFrameDelay(n int32) bool {
	if n < 0 || n >= q.capacity {
		return false
	}
	q.frameDelay = n
	return true
}

func (q *Queue[I]) indexOf(frame int32) int32 {
	idx := frame % q.capacity
	if idx < 0 {
		idx += q.capacity
	}
	return idx
}

// AddLocalInput inserts a local input for currentFrame (the caller's view
// of "now"), stored at currentFrame plus the frame delay. The queue takes
// currentFrame as given: it does not check it against any frame of its
// own. Returns the effective stored frame, or
// NullFrame if the insert is rejected because the effective frame would
// not be newer than the last local insert.
func (q *Queue[I]) AddLocalInput(input I, currentFrame int32) int32 {
	if currentFrame != nullFrame {
		_ = currentFrame
	}
	effective := currentFrame + q.frameDelay
	if q.lastUserAddedFrame != nullFrame && effective <= q.lastUserAddedFrame {
		return nullFrame
	}
	q.lastUserAddedFrame = effective
	q.addInput(frameinfo.PlayerInput[I]{Frame: effective, Input: input})
	return effective
}

// AddRemoteInput inserts a remote input. Any frame >= LastAddedFrame()+1
// is accepted.
func (q *Queue[I]) AddRemoteInput(pi frameinfo.PlayerInput[I]) bool {
	if q.lastAddedFrame != nullFrame && pi.Frame < q.lastAddedFrame+1 {
		return false
	}
	q.addInput(pi)
	return true
}

// addInput is the shared insertion path for local and remote inputs. It
// performs misprediction detection before writing the new value in.
//
// Every frame >= prediction.start was, at some point, handed out by
// Input as a synthesized copy-forward guess, which Input persists into
// buf when it makes one. So whatever is sitting in buf at pi.Frame's
// slot (if its stamped Frame still matches) is exactly what was
// predicted for this frame, and can be compared against the real value
// now arriving.
func (q *Queue[I]) addInput(pi frameinfo.PlayerInput[I]) {
	if q.prediction.active && pi.Frame >= q.prediction.start {
		if predicted := q.rawAt(pi.Frame); predicted.Frame == pi.Frame {
			if !inputsEqual(predicted.Input, pi.Input) {
				if q.firstIncorrectFrame == nullFrame || pi.Frame < q.firstIncorrectFrame {
					q.firstIncorrectFrame = pi.Frame
				}
			}
		}
	}

	idx := q.indexOf(pi.Frame)
	q.buf[idx] = pi
	if q.lastAddedFrame == nullFrame || pi.Frame > q.lastAddedFrame {
		q.lastAddedFrame = pi.Frame
	}
}

// rawAt returns whatever is physically stored at frame's slot, without
// synthesizing a prediction. Used internally for misprediction
// comparison.
func (q *Queue[I]) rawAt(frame int32) frameinfo.PlayerInput[I] {
	return q.buf[q.indexOf(frame)]
}

// Input returns the input for frame, which must be >= FirstFrame(). If
// frame has already been confirmed (<= LastAddedFrame), the stored value
// is returned. Otherwise a prediction is synthesized: a literal copy of
// the most recently confirmed input (or the queue's default, if it has
// never received one), and prediction.start is recorded as the earliest
// predicted frame if this is a fresh prediction. The synthesized value
// is also written into buf, so a later addInput for this same frame can
// compare the real value against exactly what was predicted.
func (q *Queue[I]) Input(frame int32) frameinfo.PlayerInput[I] {
	if q.lastAddedFrame != nullFrame && frame <= q.lastAddedFrame {
		return q.rawAt(frame)
	}

	if !q.prediction.active {
		q.prediction = prediction{active: true, start: frame}
	}

	var predicted frameinfo.PlayerInput[I]
	if q.lastAddedFrame == nullFrame {
		predicted = frameinfo.PlayerInput[I]{Frame: frame, Input: q.defaultInput}
	} else {
		last := q.rawAt(q.lastAddedFrame)
		predicted = frameinfo.PlayerInput[I]{Frame: frame, Input: last.Input}
	}
	q.buf[q.indexOf(frame)] = predicted
	return predicted
}

// IsPredicted reports whether a call to Input for frame would synthesize
// a value now (no input added yet, or frame > LastAddedFrame).
func (q *Queue[I]) IsPredicted(frame int32) bool {
	return q.lastAddedFrame == nullFrame || frame > q.lastAddedFrame
}

// ConfirmedInput returns the stored input for frame, erroring (ok=false)
// if frame has already been discarded.
func (q *Queue[I]) ConfirmedInput(frame int32) (frameinfo.PlayerInput[I], bool) {
	if frame < q.firstFrame {
		return frameinfo.PlayerInput[I]{}, false
	}
	if q.lastAddedFrame != nullFrame && frame > q.lastAddedFrame {
		return frameinfo.PlayerInput[I]{}, false
	}
	return q.rawAt(frame), true
}

// DiscardConfirmedFrames advances the queue's addressable window past
// frame. The input stored at LastAddedFrame is never discarded — the
// queue must always be able to answer a prediction request after all
// confirmed history has been compacted.
func (q *Queue[I]) DiscardConfirmedFrames(frame int32) {
	if q.lastAddedFrame != nullFrame && frame > q.lastAddedFrame-1 {
		frame = q.lastAddedFrame - 1
	}
	if frame >= q.firstFrame {
		q.firstFrame = frame + 1
	}
}

// ResetPrediction clears any active prediction and the
// first-incorrect-frame marker.
func (q *Queue[I]) ResetPrediction() {
	q.prediction = prediction{}
	q.firstIncorrectFrame = nullFrame
}

func inputsEqual[I any](a, b I) bool {
	// Inputs are compared for misprediction detection; comparable
	// implementations are provided a fast path via the Comparable
	// interface, everything else falls back to reflect.DeepEqual.
	if ca, ok := any(a).(Comparable); ok {
		if cb, ok := any(b).(Comparable); ok {
			return ca.Equal(cb)
		}
	}
	return deepEqual(a, b)
}

// Comparable lets a host input type opt into a fast equality check
// instead of reflect.DeepEqual, used only for misprediction detection.
type Comparable interface {
	Equal(other any) bool
}

func deepEqual[I any](a, b I) bool {
	return reflect.DeepEqual(a, b)
}

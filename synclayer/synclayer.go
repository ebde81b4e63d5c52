// Package synclayer implements the composition of per-player input
// queues and the checkpoint ring into save/load/advance requests.
package synclayer

import (
	"errors"
	"fmt"

	"github.com/wallstop/fortress/checkpoint"
	"github.com/wallstop/fortress/frameinfo"
	"github.com/wallstop/fortress/inputqueue"
)

const nullFrame = int32(-1)

// ErrInvalidFrame is the sentinel synclayer wraps for every
// load/query-out-of-window failure. The root package's session.go
// translates this into fortress.ErrInvalidFrame via errors.Is.
var ErrInvalidFrame = errors.New("synclayer: invalid frame")

// InputStatus mirrors the root package's InputStatus. Kept local (not
// imported) so the dependency graph stays a clean DAG: root depends on
// synclayer, not the reverse.
type InputStatus int

const (
	StatusConfirmed InputStatus = iota
	StatusPredicted
	StatusDisconnected
)

// SaveRequest is returned by SaveCurrentState.
type SaveRequest[S any] struct {
	Cell  checkpoint.Cell[S]
	Frame int32
}

// LoadRequest is returned by LoadFrame.
type LoadRequest[S any] struct {
	Cell  checkpoint.Cell[S]
	Frame int32
}

// InputWithStatus pairs a player's input with how it was obtained.
type InputWithStatus[I any] struct {
	Input  I
	Status InputStatus
}

// Layer composes per-player input queues with the checkpoint ring.
type Layer[I any, S any] struct {
	maxPrediction int32

	currentFrame       int32
	lastConfirmedFrame int32
	lastSavedFrame     int32

	queues []*inputqueue.Queue[I]
	ring   *checkpoint.Ring[S]
}

// New builds a Layer for numPlayers participants. maxPrediction is the
// checkpoint ring's capacity minus one (0 enables lockstep).
func New[I any, S any](numPlayers int, maxPrediction int, queueLength int, defaultInput I) *Layer[I, S] {
	queues := make([]*inputqueue.Queue[I], numPlayers)
	for i := range queues {
		queues[i] = inputqueue.New[I](queueLength, defaultInput)
	}
	return &Layer[I, S]{
		maxPrediction:      int32(maxPrediction),
		currentFrame:       0,
		lastConfirmedFrame: nullFrame,
		lastSavedFrame:     nullFrame,
		queues:             queues,
		ring:               checkpoint.New[S](maxPrediction + 1),
	}
}

// CurrentFrame, LastConfirmedFrame, LastSavedFrame are the layer's
// clocks, exposed to the orchestrator.
func (l *Layer[I, S]) CurrentFrame() int32       { return l.currentFrame }
func (l *Layer[I, S]) LastConfirmedFrame() int32 { return l.lastConfirmedFrame }
func (l *Layer[I, S]) LastSavedFrame() int32     { return l.lastSavedFrame }
func (l *Layer[I, S]) MaxPrediction() int32      { return l.maxPrediction }

// AdvanceFrame increments current_frame.
func (l *Layer[I, S]) AdvanceFrame() {
	l.currentFrame++
}

// SetCurrentFrame forcibly sets current_frame, used when replaying after
// a rollback load.
func (l *Layer[I, S]) SetCurrentFrame(frame int32) {
	l.currentFrame = frame
}

// SaveCurrentState allocates the cell for current_frame and returns a
// save request for the host to fulfill.
func (l *Layer[I, S]) SaveCurrentState() SaveRequest[S] {
	cell := l.ring.CellFor(l.currentFrame)
	l.lastSavedFrame = l.currentFrame
	return SaveRequest[S]{Cell: cell, Frame: l.currentFrame}
}

// LoadFrame validates and performs a rollback load, setting
// current_frame = frame on success.
func (l *Layer[I, S]) LoadFrame(frame int32) (LoadRequest[S], error) {
	if frame == nullFrame {
		return LoadRequest[S]{}, errInvalidFrame("cannot load the null frame")
	}
	if frame >= l.currentFrame {
		return LoadRequest[S]{}, errInvalidFrame("load_frame(%d) must target a frame strictly in the past of current_frame=%d", frame, l.currentFrame)
	}
	if l.currentFrame-frame > l.maxPrediction {
		return LoadRequest[S]{}, errInvalidFrame("load_frame(%d) exceeds max_prediction window (current_frame=%d, max_prediction=%d)", frame, l.currentFrame, l.maxPrediction)
	}
	cell := l.ring.CellFor(frame)
	if cell.Frame() != frame {
		return LoadRequest[S]{}, errInvalidFrame("no state saved for frame %d (ring holds frame %d)", frame, cell.Frame())
	}
	l.currentFrame = frame
	return LoadRequest[S]{Cell: cell, Frame: frame}, nil
}

// AddLocalInput forwards a local insert to handle's queue, applying the
// queue's configured frame delay, and returns the effective stored
// frame (NullFrame on rejection).
func (l *Layer[I, S]) AddLocalInput(handle int, input I) int32 {
	return l.queues[handle].AddLocalInput(input, l.currentFrame)
}

// AddRemoteInput forwards a remote insert to handle's queue.
func (l *Layer[I, S]) AddRemoteInput(handle int, pi frameinfo.PlayerInput[I]) bool {
	return l.queues[handle].AddRemoteInput(pi)
}

// SetFrameDelay sets handle's local-insert delay.
func (l *Layer[I, S]) SetFrameDelay(handle int, delay int32) bool {
	return l.queues[handle].SetFrameDelay(delay)
}

// SynchronizedInputs returns one entry per player for current_frame,
// honoring connect status: a disconnected player whose last_frame is
// behind current_frame reports (default, Disconnected); otherwise the
// queue's answer is tagged Predicted or Confirmed.
func (l *Layer[I, S]) SynchronizedInputs(connectStatus []frameinfo.ConnectStatus, defaultInput I) []InputWithStatus[I] {
	out := make([]InputWithStatus[I], len(l.queues))
	for i, q := range l.queues {
		if i < len(connectStatus) {
			cs := connectStatus[i]
			if cs.Disconnected && cs.LastFrame < l.currentFrame {
				out[i] = InputWithStatus[I]{Input: defaultInput, Status: StatusDisconnected}
				continue
			}
		}
		predicted := q.IsPredicted(l.currentFrame)
		pi := q.Input(l.currentFrame)
		status := StatusConfirmed
		if predicted {
			status = StatusPredicted
		}
		out[i] = InputWithStatus[I]{Input: pi.Input, Status: status}
	}
	return out
}

// ConfirmedInputs is like SynchronizedInputs but restricted to frames
// already known to be <= last_confirmed_frame; every returned entry is
// Confirmed (or Disconnected).
func (l *Layer[I, S]) ConfirmedInputs(frame int32, connectStatus []frameinfo.ConnectStatus, defaultInput I) ([]InputWithStatus[I], error) {
	if l.lastConfirmedFrame != nullFrame && frame > l.lastConfirmedFrame {
		return nil, errInvalidFrame("confirmed_inputs(%d) requested past last_confirmed_frame=%d", frame, l.lastConfirmedFrame)
	}
	out := make([]InputWithStatus[I], len(l.queues))
	for i, q := range l.queues {
		if i < len(connectStatus) {
			cs := connectStatus[i]
			if cs.Disconnected && cs.LastFrame < frame {
				out[i] = InputWithStatus[I]{Input: defaultInput, Status: StatusDisconnected}
				continue
			}
		}
		pi, ok := q.ConfirmedInput(frame)
		if !ok {
			return nil, errInvalidFrame("confirmed_input(%d) unavailable for player %d", frame, i)
		}
		out[i] = InputWithStatus[I]{Input: pi.Input, Status: StatusConfirmed}
	}
	return out, nil
}

// SetLastConfirmedFrame clamps frame against every queue's
// first_incorrect_frame, against last_saved_frame in sparse mode, and
// against current_frame, then discards confirmed history on every queue
// up to frame-1.
func (l *Layer[I, S]) SetLastConfirmedFrame(frame int32, sparse bool) {
	if firstBad := l.CheckSimulationConsistency(); firstBad != nullFrame && frame > firstBad-1 {
		frame = firstBad - 1
	}
	if sparse && l.lastSavedFrame != nullFrame && frame > l.lastSavedFrame {
		frame = l.lastSavedFrame
	}
	if frame > l.currentFrame {
		frame = l.currentFrame
	}
	l.lastConfirmedFrame = frame
	for _, q := range l.queues {
		q.DiscardConfirmedFrames(frame - 1)
	}
}

// CheckSimulationConsistency returns the minimum first_incorrect_frame
// across all queues, or NullFrame if no queue has one.
func (l *Layer[I, S]) CheckSimulationConsistency() int32 {
	min := int32(nullFrame)
	for _, q := range l.queues {
		fi := q.FirstIncorrectFrame()
		if fi == nullFrame {
			continue
		}
		if min == nullFrame || fi < min {
			min = fi
		}
	}
	return min
}

// ResetPredictions clears every queue's active prediction, used when the
// orchestrator rewinds for a rollback replay.
func (l *Layer[I, S]) ResetPredictions() {
	for _, q := range l.queues {
		q.ResetPrediction()
	}
}

// RingCellFor exposes the checkpoint cell for frame, used by the
// orchestrator's desync pass to read back a checksum saved by the host.
func (l *Layer[I, S]) RingCellFor(frame int32) checkpoint.Cell[S] {
	return l.ring.CellFor(frame)
}

func errInvalidFrame(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFrame, fmt.Sprintf(format, args...))
}

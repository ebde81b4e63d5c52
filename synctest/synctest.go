// Package synctest implements a single-process determinism harness:
// every player's input is local, and every CheckDistance frames the
// session rolls back, replays the same recorded inputs, and compares
// the host's freshly recomputed checksum against the one it reported
// the first time that frame was simulated. A mismatch means the
// host's simulation step is not deterministic, which would silently
// desync a real P2P match.
//
// Unlike Session, synctest drives the host through a synchronous Host
// callback rather than a FortressRequest queue: the rollback check
// needs to read back a just-computed checksum within the same tick,
// which the request/fulfill-later contract can't give it.
package synctest

import (
	"github.com/wallstop/fortress"
	"github.com/wallstop/fortress/frameinfo"
	"github.com/wallstop/fortress/synclayer"
)

// Config tunes a SyncTest run.
type Config struct {
	NumPlayers    int
	CheckDistance int
	InputQueue    fortress.InputQueueConfig
}

// Validate checks the numeric bounds.
func (c Config) Validate() error {
	if c.NumPlayers < 1 {
		return &fortress.Error{Kind: fortress.ErrInvalidRequest, Msg: "synctest: NumPlayers must be >= 1"}
	}
	if c.CheckDistance < 1 {
		return &fortress.Error{Kind: fortress.ErrInvalidRequest, Msg: "synctest: CheckDistance must be >= 1"}
	}
	return c.InputQueue.Validate()
}

// Host is the synchronous game hook a SyncTest run drives. SaveState
// must return a checksum for frame's just-simulated state; LoadState
// restores state previously returned by SaveState for frame.
type Host[I any, S any] interface {
	SaveState(frame int32) (state S, checksumHi, checksumLo uint64)
	LoadState(frame int32, state S)
	AdvanceFrame(inputs []fortress.InputWithStatus[I])
}

// Session is the single-process determinism harness.
type Session[I any, S any] struct {
	cfg Config

	layer         *synclayer.Layer[I, S]
	defaultInput  I
	connectStatus []frameinfo.ConnectStatus
}

// New builds a SyncTest session.
func New[I any, S any](cfg Config, defaultInput I) (*Session[I, S], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session[I, S]{
		cfg:           cfg,
		layer:         synclayer.New[I, S](cfg.NumPlayers, cfg.CheckDistance, cfg.InputQueue.QueueLength, defaultInput),
		defaultInput:  defaultInput,
		connectStatus: make([]frameinfo.ConnectStatus, cfg.NumPlayers),
	}, nil
}

// AddLocalInput buffers handle's input for the current frame. Every
// player in a SyncTest session is "local": there is no remote side.
func (s *Session[I, S]) AddLocalInput(handle int, input I) {
	s.layer.AddLocalInput(handle, input)
}

// CurrentFrame exposes the layer's clock.
func (s *Session[I, S]) CurrentFrame() fortress.Frame {
	return fortress.NewFrame(s.layer.CurrentFrame())
}

// AdvanceFrame is the SyncTest work tick: simulate the current frame,
// save its checksum, then every CheckDistance frames roll back that
// far, replay the same inputs, and verify the host reproduces the
// identical checksum. Returns fortress.ErrMismatchedChecksum the first
// time it doesn't.
func (s *Session[I, S]) AdvanceFrame(host Host[I, S]) error {
	cur := s.layer.CurrentFrame()

	save := s.layer.SaveCurrentState()
	state, hi, lo := host.SaveState(cur)
	save.Cell.Save(cur, state, true, hi, lo, true)

	synced := s.layer.SynchronizedInputs(s.connectStatus, s.defaultInput)
	host.AdvanceFrame(toRootInputs(synced))
	s.layer.AdvanceFrame()
	s.layer.SetLastConfirmedFrame(cur, false)

	if cur < int32(s.cfg.CheckDistance) || cur%int32(s.cfg.CheckDistance) != 0 {
		return nil
	}

	// The layer's clock now reads cur+1; checksum that state and roll
	// back CheckDistance frames from it, which stays inside the
	// prediction window.
	next := s.layer.CurrentFrame()
	_, hi, lo = host.SaveState(next)
	target := next - int32(s.cfg.CheckDistance)
	load, err := s.layer.LoadFrame(target)
	if err != nil {
		return nil
	}
	loadedState, ok := load.Cell.Load()
	if !ok {
		return nil
	}
	host.LoadState(target, loadedState)
	s.layer.ResetPredictions()

	for s.layer.CurrentFrame() < next {
		replaySynced := s.layer.SynchronizedInputs(s.connectStatus, s.defaultInput)
		host.AdvanceFrame(toRootInputs(replaySynced))
		s.layer.AdvanceFrame()
	}

	_, replayHi, replayLo := host.SaveState(next)
	if replayHi != hi || replayLo != lo {
		return &fortress.Error{Kind: fortress.ErrMismatchedChecksum, Msg: fortress.NewFrame(next).String() + ": replayed state checksum does not match the original simulation"}
	}
	return nil
}

func toRootInputs[I any](in []synclayer.InputWithStatus[I]) []fortress.InputWithStatus[I] {
	out := make([]fortress.InputWithStatus[I], len(in))
	for i, v := range in {
		out[i] = fortress.InputWithStatus[I]{Input: v.Input, Status: fortress.InputStatus(v.Status)}
	}
	return out
}
